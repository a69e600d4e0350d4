package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/skillmarket/internal/domain/enums"
	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/services/purchases"
)

type Queue interface {
	Push(ctx context.Context, entry purchases.PendingWrite) error
	PopBatch(ctx context.Context, n int) ([]purchases.PendingWrite, int, error)
}

type Recorder interface {
	Settle(ctx context.Context, in purchases.RecordInput) (model.Purchase, bool, bool, error)
	FindByTransactionID(ctx context.Context, transactionID string) (model.Purchase, error)
}

type Config struct {
	BatchSize   int
	MaxAttempts int
}

// Stats summarises one pass over the queue.
type Stats struct {
	Recorded int
	Upgraded int
	Skipped  int
	Requeued int
	Dropped  int
}

// Job replays purchase writes that failed during finalization.
type Job struct {
	queue       Queue
	ledger      Recorder
	batchSize   int
	maxAttempts int
	now         func() time.Time
	logger      *zap.Logger
}

func New(queue Queue, ledger Recorder, cfg Config, logger *zap.Logger) *Job {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		queue:       queue,
		ledger:      ledger,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
		logger:      logger,
	}
}

// Run drains one batch. Entries that fail again go back to the tail of the
// queue until they run out of attempts.
func (j *Job) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	if j.queue == nil || j.ledger == nil {
		return stats, nil
	}

	entries, skipped, err := j.queue.PopBatch(ctx, j.batchSize)
	if err != nil {
		return stats, fmt.Errorf("pop reconcile batch: %w", err)
	}
	if skipped > 0 {
		j.logger.Error("dropped undecodable reconcile entries", zap.Int("count", skipped))
		stats.Dropped += skipped
	}

	for _, entry := range entries {
		if done, err := j.alreadyRecorded(ctx, entry.Input); err == nil && done {
			stats.Skipped++
			j.logger.Info("deferred purchase already recorded",
				zap.String("checkout_id", entry.Input.CheckoutID),
				zap.String("transaction_id", entry.Input.TransactionID),
			)
			continue
		}

		_, created, upgraded, err := j.ledger.Settle(ctx, entry.Input)
		if err == nil {
			stats.Recorded++
			if upgraded {
				stats.Upgraded++
			}
			j.logger.Info("deferred purchase recorded",
				zap.String("checkout_id", entry.Input.CheckoutID),
				zap.Bool("created", created),
				zap.Bool("upgraded", upgraded),
				zap.Int("attempts", entry.Attempts+1),
			)
			continue
		}

		entry.Attempts++
		entry.LastError = err.Error()
		if errors.Is(err, purchases.ErrValidation) || entry.Attempts >= j.maxAttempts {
			stats.Dropped++
			j.logger.Error("deferred purchase dropped",
				zap.String("skill_id", entry.Input.SkillID),
				zap.String("checkout_id", entry.Input.CheckoutID),
				zap.String("customer_email", entry.Input.CustomerEmail),
				zap.Int("attempts", entry.Attempts),
				zap.Time("enqueued_at", entry.EnqueuedAt),
				zap.Error(err),
			)
			continue
		}

		if pushErr := j.queue.Push(ctx, entry); pushErr != nil {
			stats.Dropped++
			j.logger.Error("requeue deferred purchase failed",
				zap.String("checkout_id", entry.Input.CheckoutID),
				zap.Error(pushErr),
			)
			continue
		}
		stats.Requeued++
	}

	if len(entries) > 0 {
		j.logger.Info("reconcile pass completed",
			zap.Int("recorded", stats.Recorded),
			zap.Int("upgraded", stats.Upgraded),
			zap.Int("skipped", stats.Skipped),
			zap.Int("requeued", stats.Requeued),
			zap.Int("dropped", stats.Dropped),
		)
	}
	return stats, nil
}

// alreadyRecorded reports whether the entry's transaction is stored as a
// completed purchase. Lookup errors fall through to the idempotent write.
func (j *Job) alreadyRecorded(ctx context.Context, in purchases.RecordInput) (bool, error) {
	if in.TransactionID == "" || in.Status != enums.PurchaseStatusCompleted {
		return false, nil
	}
	existing, err := j.ledger.FindByTransactionID(ctx, in.TransactionID)
	if err != nil {
		if errors.Is(err, purchases.ErrNotFound) {
			return false, nil
		}
		j.logger.Warn("transaction lookup failed", zap.String("transaction_id", in.TransactionID), zap.Error(err))
		return false, err
	}
	return existing.Status == enums.PurchaseStatusCompleted, nil
}

// Loop runs the job every interval until ctx is done. Pass errors are logged
// and the loop keeps going.
func (j *Job) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Warn("reconcile pass failed", zap.Error(err))
			}
		}
	}
}
