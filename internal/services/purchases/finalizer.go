package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/skillmarket/internal/domain/enums"
	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/creem"
	"github.com/ivankudzin/skillmarket/internal/services/analytics"
	"github.com/ivankudzin/skillmarket/internal/services/auth"
	"github.com/ivankudzin/skillmarket/internal/services/catalog"
	"github.com/ivankudzin/skillmarket/internal/services/identity"
)

const (
	WarningCustomerLookupFailed = "customer_lookup_failed"
	WarningBuyerEmailUnknown    = "buyer_email_unknown"
	WarningAutoLoginFailed      = "auto_login_failed"
	WarningGuestAccessFailed    = "guest_access_unavailable"
	WarningWriteDeferred        = "purchase_write_deferred"
	WarningReconcileEnqueue     = "reconcile_enqueue_failed"
)

type CatalogReader interface {
	Get(ctx context.Context, id string) (model.Skill, error)
}

type CheckoutProvider interface {
	GetCheckout(ctx context.Context, checkoutID string) (creem.Checkout, error)
	GetCustomer(ctx context.Context, customerID, email string) (creem.Customer, error)
}

type GuestResolver interface {
	ResolveGuestAccess(ctx context.Context, email string) identity.GuestAccess
	AutoLoginAfterPurchase(ctx context.Context, email string) identity.AutoLogin
}

type ReconcileQueue interface {
	Push(ctx context.Context, entry PendingWrite) error
}

type AuditTracker interface {
	Track(ctx context.Context, userID *string, name string, props map[string]any)
}

type FinalizerDependencies struct {
	Catalog          CatalogReader
	Checkouts        CheckoutProvider
	Guests           GuestResolver
	Ledger           *Service
	Queue            ReconcileQueue
	Audit            AuditTracker
	DefaultProductID string
	AutoLogin        bool
	Logger           *zap.Logger
}

type FinalizeInput struct {
	SkillID    string
	CheckoutID string
	Viewer     *auth.Identity
}

// FinalizeResult describes what the buyer gets back. Purchase is nil when the
// write was deferred to the reconciliation queue.
type FinalizeResult struct {
	Skill         model.Skill
	Purchase      *model.Purchase
	Access        *model.AccessArtifact
	CustomerEmail string
	Outcome       enums.FinalizeOutcome
	Created       bool
	Warnings      []string
}

// Finalizer turns a paid checkout into a purchase row and, for buyers who were
// not signed in, an access artifact.
type Finalizer struct {
	catalog          CatalogReader
	checkouts        CheckoutProvider
	guests           GuestResolver
	ledger           *Service
	queue            ReconcileQueue
	audit            AuditTracker
	defaultProductID string
	autoLogin        bool
	logger           *zap.Logger
	now              func() time.Time
}

func NewFinalizer(deps FinalizerDependencies) *Finalizer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Finalizer{
		catalog:          deps.Catalog,
		checkouts:        deps.Checkouts,
		guests:           deps.Guests,
		ledger:           deps.Ledger,
		queue:            deps.Queue,
		audit:            deps.Audit,
		defaultProductID: strings.TrimSpace(deps.DefaultProductID),
		autoLogin:        deps.AutoLogin,
		logger:           logger,
		now:              time.Now,
	}
}

func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error) {
	if f.catalog == nil || f.checkouts == nil || f.ledger == nil {
		return FinalizeResult{}, fmt.Errorf("finalizer dependencies are not configured")
	}

	skillID := strings.TrimSpace(in.SkillID)
	if skillID == "" {
		return FinalizeResult{}, ErrValidation
	}
	skill, err := f.catalog.Get(ctx, skillID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrValidation) {
			return FinalizeResult{}, ErrNotFound
		}
		return FinalizeResult{}, fmt.Errorf("load skill: %w", err)
	}

	checkoutID := strings.TrimSpace(in.CheckoutID)
	if checkoutID == "" {
		return FinalizeResult{}, ErrValidation
	}
	checkout, err := f.checkouts.GetCheckout(ctx, checkoutID)
	if err != nil {
		if errors.Is(err, creem.ErrNotFound) {
			return FinalizeResult{}, ErrNotFound
		}
		return FinalizeResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := f.matchCheckout(skill, checkout); err != nil {
		return FinalizeResult{}, err
	}
	paid := checkout.Paid()

	result := FinalizeResult{Skill: skill}
	viewer := in.Viewer
	if viewer != nil && strings.TrimSpace(viewer.UserID) == "" {
		viewer = nil
	}

	result.CustomerEmail = f.buyerEmail(ctx, viewer, checkout, &result)

	input := RecordInput{
		ID:             uuid.NewString(),
		SkillID:        skill.ID,
		CreemProductID: f.productID(skill, checkout),
		CheckoutID:     checkout.ID,
		CustomerEmail:  result.CustomerEmail,
		Status:         enums.PurchaseStatusCompleted,
	}
	if !paid {
		input.Status = enums.PurchaseStatusPending
	}
	if input.CheckoutID == "" {
		input.CheckoutID = checkoutID
	}
	if checkout.Order != nil {
		input.TransactionID = checkout.Order.Transaction
	}
	var ownerID *string
	if viewer != nil {
		input.UserID = viewer.UserID
		ownerID = &viewer.UserID
	}

	purchase, created, upgraded, err := f.ledger.Settle(ctx, input)
	if err != nil {
		if paid {
			result.Access = f.grantAccess(ctx, viewer, &result)
		}
		f.deferWrite(ctx, input, err, &result)
		f.track(ctx, ownerID, analytics.EventPurchaseWriteDeferred, map[string]any{
			"skill_id":    skill.ID,
			"checkout_id": input.CheckoutID,
		})
		return result, nil
	}
	if purchase.SkillID != skill.ID {
		return FinalizeResult{}, fmt.Errorf("%w: checkout %s belongs to skill %s", ErrValidation, input.CheckoutID, purchase.SkillID)
	}

	// A checkout seen before payment completes is stored as pending and
	// completed by the first finalize that sees it paid.
	fresh := created || upgraded

	result.Purchase = &purchase
	result.Created = created

	if !paid {
		result.Outcome = enums.FinalizeOutcomeAwaitingPayment
		return result, nil
	}

	// Access is handed out once per checkout. Anyone can replay the success
	// URL, so repeats only report the stored row.
	if fresh || viewer != nil {
		result.Access = f.grantAccess(ctx, viewer, &result)
	}

	result.Outcome = enums.FinalizeOutcomeCompleted
	if len(result.Warnings) > 0 {
		result.Outcome = enums.FinalizeOutcomeDegraded
	}

	f.track(ctx, ownerID, analytics.EventPurchaseFinalized, map[string]any{
		"purchase_id": purchase.ID,
		"skill_id":    skill.ID,
		"checkout_id": input.CheckoutID,
		"created":     created,
		"guest":       viewer == nil,
	})

	return result, nil
}

// matchCheckout rejects checkouts opened for a different skill, by metadata
// when present and by product otherwise.
func (f *Finalizer) matchCheckout(skill model.Skill, checkout creem.Checkout) error {
	if stamped := strings.TrimSpace(checkout.Metadata[creem.MetadataSkillID]); stamped != "" && stamped != skill.ID {
		return fmt.Errorf("%w: checkout %s was opened for skill %s", ErrValidation, checkout.ID, stamped)
	}

	expected := skill.CreemProductID
	if expected == "" {
		expected = f.defaultProductID
	}
	if checkout.ProductID != "" && expected != "" && checkout.ProductID != expected {
		return fmt.Errorf("%w: checkout %s is for product %s, skill %s sells %s", ErrValidation, checkout.ID, checkout.ProductID, skill.ID, expected)
	}
	return nil
}

func (f *Finalizer) grantAccess(ctx context.Context, viewer *auth.Identity, result *FinalizeResult) *model.AccessArtifact {
	switch {
	case viewer != nil:
		return &model.AccessArtifact{Kind: enums.AccessKindSession}
	case result.CustomerEmail != "":
		return f.guestAccess(ctx, result.CustomerEmail, result)
	default:
		result.Warnings = append(result.Warnings, WarningBuyerEmailUnknown)
		return nil
	}
}

func (f *Finalizer) buyerEmail(ctx context.Context, viewer *auth.Identity, checkout creem.Checkout, result *FinalizeResult) string {
	if viewer != nil && strings.TrimSpace(viewer.Email) != "" {
		return strings.TrimSpace(viewer.Email)
	}
	if checkout.Customer.Email != "" {
		return checkout.Customer.Email
	}
	if checkout.Customer.ID == "" {
		return ""
	}

	customer, err := f.checkouts.GetCustomer(ctx, checkout.Customer.ID, "")
	if err != nil {
		f.logger.Warn("customer lookup failed",
			zap.String("checkout_id", checkout.ID),
			zap.String("customer_id", checkout.Customer.ID),
			zap.Error(err),
		)
		result.Warnings = append(result.Warnings, WarningCustomerLookupFailed)
		return ""
	}
	return strings.TrimSpace(customer.Email)
}

func (f *Finalizer) guestAccess(ctx context.Context, email string, result *FinalizeResult) *model.AccessArtifact {
	if f.guests == nil {
		result.Warnings = append(result.Warnings, WarningGuestAccessFailed)
		return nil
	}

	if f.autoLogin {
		login := f.guests.AutoLoginAfterPurchase(ctx, email)
		if login.Established && login.Session != nil {
			f.track(ctx, &login.Session.User.ID, analytics.EventGuestAccessIssued, map[string]any{
				"kind": string(enums.AccessKindSession),
			})
			return &model.AccessArtifact{Kind: enums.AccessKindSession, Session: login.Session}
		}
		if login.Err != nil {
			f.logger.Warn("auto login after purchase failed", zap.Error(login.Err))
			result.Warnings = append(result.Warnings, WarningAutoLoginFailed)
		}
	}

	access := f.guests.ResolveGuestAccess(ctx, email)
	if access.Err != nil || access.Artifact == nil {
		f.logger.Warn("guest access unavailable", zap.Error(access.Err))
		result.Warnings = append(result.Warnings, WarningGuestAccessFailed)
		return nil
	}

	f.track(ctx, nil, analytics.EventGuestAccessIssued, map[string]any{
		"kind":     string(access.Artifact.Kind),
		"strategy": access.Strategy,
	})
	return access.Artifact
}

func (f *Finalizer) deferWrite(ctx context.Context, input RecordInput, cause error, result *FinalizeResult) {
	f.logger.Error("purchase write failed, deferring",
		zap.String("skill_id", input.SkillID),
		zap.String("checkout_id", input.CheckoutID),
		zap.Error(cause),
	)
	result.Outcome = enums.FinalizeOutcomePendingReconciliation
	result.Warnings = append(result.Warnings, WarningWriteDeferred)

	if f.queue == nil {
		result.Warnings = append(result.Warnings, WarningReconcileEnqueue)
		return
	}
	err := f.queue.Push(ctx, PendingWrite{
		Input:      input,
		EnqueuedAt: f.now().UTC(),
		LastError:  cause.Error(),
	})
	if err != nil {
		f.logger.Error("enqueue purchase reconcile failed", zap.String("checkout_id", input.CheckoutID), zap.Error(err))
		result.Warnings = append(result.Warnings, WarningReconcileEnqueue)
	}
}

func (f *Finalizer) productID(skill model.Skill, checkout creem.Checkout) string {
	if checkout.ProductID != "" {
		return checkout.ProductID
	}
	if skill.CreemProductID != "" {
		return skill.CreemProductID
	}
	return f.defaultProductID
}

func (f *Finalizer) track(ctx context.Context, userID *string, name string, props map[string]any) {
	if f.audit == nil {
		return
	}
	f.audit.Track(ctx, userID, name, props)
}
