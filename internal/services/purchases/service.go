package purchases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ivankudzin/skillmarket/internal/domain/enums"
	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/pkg/validate"
	pgrepo "github.com/ivankudzin/skillmarket/internal/repo/postgres"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream provider error")
)

type PurchaseStore interface {
	Create(ctx context.Context, in pgrepo.PurchaseCreate) (pgrepo.PurchaseRecord, bool, error)
	UpdateByID(ctx context.Context, id string, in pgrepo.PurchaseUpdate) (pgrepo.PurchaseRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]pgrepo.PurchaseRecord, error)
	ListByEmail(ctx context.Context, email string) ([]pgrepo.PurchaseRecord, error)
	FindByTransactionID(ctx context.Context, transactionID string) (pgrepo.PurchaseRecord, error)
	LinkByEmailToOwner(ctx context.Context, email, ownerID string) (int64, error)
	HasCompleted(ctx context.Context, ownerID, email, skillID string) (bool, error)
}

// RecordInput describes a purchase row to write. It is also the payload of a
// deferred write, hence the JSON tags.
type RecordInput struct {
	ID             string               `json:"id"`
	UserID         string               `json:"user_id,omitempty"`
	SkillID        string               `json:"skill_id"`
	CreemProductID string               `json:"creem_product_id"`
	CheckoutID     string               `json:"checkout_id,omitempty"`
	TransactionID  string               `json:"transaction_id,omitempty"`
	CustomerEmail  string               `json:"customer_email,omitempty"`
	Status         enums.PurchaseStatus `json:"status"`
}

type UpdateInput struct {
	Status        *enums.PurchaseStatus
	UserID        *string
	TransactionID *string
	CustomerEmail *string
}

// PendingWrite is a purchase write that failed and waits for the
// reconciliation job.
type PendingWrite struct {
	Input      RecordInput `json:"input"`
	Attempts   int         `json:"attempts"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	LastError  string      `json:"last_error,omitempty"`
}

type Service struct {
	store PurchaseStore
	now   func() time.Time
}

func NewService(store PurchaseStore) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

// Record writes a purchase. Writes are idempotent on the checkout id: when the
// checkout was already recorded the stored row comes back with created false.
func (s *Service) Record(ctx context.Context, in RecordInput) (model.Purchase, bool, error) {
	if s.store == nil {
		return model.Purchase{}, false, fmt.Errorf("purchase store is nil")
	}

	create, err := normalizeRecordInput(in)
	if err != nil {
		return model.Purchase{}, false, err
	}

	record, created, err := s.store.Create(ctx, create)
	if err != nil {
		return model.Purchase{}, false, fmt.Errorf("record purchase: %w", err)
	}

	return toModel(record), created, nil
}

// Settle records in like Record. When the checkout is already stored as
// pending and in is completed, the stored row is completed instead; upgraded
// reports that case.
func (s *Service) Settle(ctx context.Context, in RecordInput) (purchase model.Purchase, created, upgraded bool, err error) {
	purchase, created, err = s.Record(ctx, in)
	if err != nil || created {
		return purchase, created, false, err
	}
	if in.Status != enums.PurchaseStatusCompleted || purchase.Status != enums.PurchaseStatusPending {
		return purchase, false, false, nil
	}

	completed := enums.PurchaseStatusCompleted
	patch := UpdateInput{Status: &completed}
	if txID := strings.TrimSpace(in.TransactionID); txID != "" {
		patch.TransactionID = &txID
	}
	purchase, err = s.Update(ctx, purchase.ID, patch)
	if err != nil {
		return model.Purchase{}, false, false, fmt.Errorf("complete pending purchase: %w", err)
	}
	return purchase, false, true, nil
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (model.Purchase, error) {
	if s.store == nil {
		return model.Purchase{}, fmt.Errorf("purchase store is nil")
	}
	if !validate.Required(id) {
		return model.Purchase{}, ErrValidation
	}

	update := pgrepo.PurchaseUpdate{
		UserID:             in.UserID,
		CreemTransactionID: in.TransactionID,
		CustomerEmail:      in.CustomerEmail,
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return model.Purchase{}, ErrValidation
		}
		status := string(*in.Status)
		update.Status = &status
	}
	if in.UserID != nil && !validate.UUID(*in.UserID) {
		return model.Purchase{}, ErrValidation
	}

	record, err := s.store.UpdateByID(ctx, id, update)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPurchaseNotFound) {
			return model.Purchase{}, ErrNotFound
		}
		return model.Purchase{}, fmt.Errorf("update purchase: %w", err)
	}

	return toModel(record), nil
}

// ListForUser returns the user's purchases: rows they own plus rows paid with
// their email that are not linked yet. Each skill appears once, newest row
// first.
func (s *Service) ListForUser(ctx context.Context, userID, email string) ([]model.Purchase, error) {
	if s.store == nil {
		return nil, fmt.Errorf("purchase store is nil")
	}
	if strings.TrimSpace(userID) == "" && strings.TrimSpace(email) == "" {
		return nil, ErrValidation
	}
	if strings.TrimSpace(userID) == "" {
		return s.ListByEmail(ctx, email)
	}

	owned, err := s.store.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned purchases: %w", err)
	}
	byEmail, err := s.store.ListByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list purchases by email: %w", err)
	}

	merged := append(append([]pgrepo.PurchaseRecord(nil), owned...), byEmail...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	seen := make(map[string]struct{}, len(merged))
	out := make([]model.Purchase, 0, len(merged))
	for _, record := range merged {
		if _, dup := seen[record.SkillID]; dup {
			continue
		}
		seen[record.SkillID] = struct{}{}
		out = append(out, toModel(record))
	}

	return out, nil
}

func (s *Service) ListByEmail(ctx context.Context, email string) ([]model.Purchase, error) {
	if s.store == nil {
		return nil, fmt.Errorf("purchase store is nil")
	}
	if strings.TrimSpace(email) == "" {
		return nil, ErrValidation
	}

	records, err := s.store.ListByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list purchases by email: %w", err)
	}

	out := make([]model.Purchase, 0, len(records))
	for _, record := range records {
		out = append(out, toModel(record))
	}
	return out, nil
}

func (s *Service) FindByTransactionID(ctx context.Context, transactionID string) (model.Purchase, error) {
	if s.store == nil {
		return model.Purchase{}, fmt.Errorf("purchase store is nil")
	}
	if strings.TrimSpace(transactionID) == "" {
		return model.Purchase{}, ErrValidation
	}

	record, err := s.store.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPurchaseNotFound) {
			return model.Purchase{}, ErrNotFound
		}
		return model.Purchase{}, fmt.Errorf("find purchase by transaction: %w", err)
	}

	return toModel(record), nil
}

// LinkToUser attaches unowned purchases paid with email to userID and returns
// how many rows changed.
func (s *Service) LinkToUser(ctx context.Context, userID, email string) (int64, error) {
	if s.store == nil {
		return 0, fmt.Errorf("purchase store is nil")
	}
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)
	if !validate.Email(email) || !validate.UUID(userID) {
		return 0, ErrValidation
	}

	n, err := s.store.LinkByEmailToOwner(ctx, email, userID)
	if err != nil {
		return 0, fmt.Errorf("link purchases: %w", err)
	}
	return n, nil
}

func (s *Service) HasPurchased(ctx context.Context, userID, email, skillID string) (bool, error) {
	if s.store == nil {
		return false, fmt.Errorf("purchase store is nil")
	}
	if strings.TrimSpace(skillID) == "" || (strings.TrimSpace(userID) == "" && strings.TrimSpace(email) == "") {
		return false, ErrValidation
	}

	ok, err := s.store.HasCompleted(ctx, userID, email, skillID)
	if err != nil {
		return false, fmt.Errorf("check purchase: %w", err)
	}
	return ok, nil
}

func normalizeRecordInput(in RecordInput) (pgrepo.PurchaseCreate, error) {
	skillID := strings.TrimSpace(in.SkillID)
	if skillID == "" {
		return pgrepo.PurchaseCreate{}, ErrValidation
	}

	status := in.Status
	if status == "" {
		status = enums.PurchaseStatusPending
	}
	if !status.Valid() {
		return pgrepo.PurchaseCreate{}, ErrValidation
	}

	id := strings.TrimSpace(in.ID)
	if id != "" && !validate.UUID(id) {
		return pgrepo.PurchaseCreate{}, ErrValidation
	}

	create := pgrepo.PurchaseCreate{
		ID:                 id,
		SkillID:            skillID,
		CreemProductID:     strings.TrimSpace(in.CreemProductID),
		CreemCheckoutID:    optional(in.CheckoutID),
		CreemTransactionID: optional(in.TransactionID),
		CustomerEmail:      optional(in.CustomerEmail),
		Status:             string(status),
	}
	if owner := optional(in.UserID); owner != nil {
		if !validate.UUID(*owner) {
			return pgrepo.PurchaseCreate{}, ErrValidation
		}
		create.UserID = owner
	}

	return create, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func toModel(record pgrepo.PurchaseRecord) model.Purchase {
	return model.Purchase{
		ID:                 record.ID,
		UserID:             record.UserID,
		SkillID:            record.SkillID,
		CreemProductID:     record.CreemProductID,
		CreemCheckoutID:    record.CreemCheckoutID,
		CreemTransactionID: record.CreemTransactionID,
		CustomerEmail:      record.CustomerEmail,
		Status:             enums.PurchaseStatus(record.Status),
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
}
