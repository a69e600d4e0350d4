package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	pgrepo "github.com/ivankudzin/skillmarket/internal/repo/postgres"
)

const defaultMaxBatchSize = 100

const (
	EventPurchaseFinalized     = "purchase_finalized"
	EventGuestAccessIssued     = "guest_access_issued"
	EventPurchaseWriteDeferred = "purchase_write_deferred"
	EventPurchasesLinked       = "purchases_linked"
)

var ErrValidation = errors.New("validation error")

type Store interface {
	InsertBatch(ctx context.Context, userID *string, events []pgrepo.EventWriteRecord) error
}

type Config struct {
	MaxBatchSize int
}

type Service struct {
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

type BatchEvent struct {
	Name  string
	TS    int64
	Props map[string]any
}

func NewService(store Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) IngestBatch(ctx context.Context, userID *string, events []BatchEvent) error {
	if s.store == nil {
		return fmt.Errorf("analytics store is nil")
	}
	if len(events) == 0 || len(events) > s.cfg.MaxBatchSize {
		return ErrValidation
	}

	now := s.now().UTC()
	rows := make([]pgrepo.EventWriteRecord, 0, len(events))
	for _, event := range events {
		name := strings.TrimSpace(event.Name)
		if name == "" {
			return ErrValidation
		}

		rows = append(rows, pgrepo.EventWriteRecord{
			Name:       name,
			OccurredAt: parseTS(event.TS, now),
			Props:      cloneProps(event.Props),
		})
	}

	if err := s.store.InsertBatch(ctx, userID, rows); err != nil {
		return fmt.Errorf("insert events batch: %w", err)
	}

	return nil
}

// Track records a single audit event. Failures are logged and swallowed so
// auditing never changes the outcome of the operation being audited.
func (s *Service) Track(ctx context.Context, userID *string, name string, props map[string]any) {
	if s == nil {
		return
	}
	err := s.IngestBatch(ctx, userID, []BatchEvent{{
		Name:  name,
		TS:    s.now().UTC().UnixMilli(),
		Props: props,
	}})
	if err != nil {
		s.logger.Warn("audit event dropped", zap.String("event", name), zap.Error(err))
	}
}

func parseTS(ts int64, fallback time.Time) time.Time {
	if ts <= 0 {
		return fallback
	}
	if ts >= 1_000_000_000_000 {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}

func cloneProps(props map[string]any) map[string]any {
	if len(props) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(props))
	for key, value := range props {
		out[key] = value
	}
	return out
}
