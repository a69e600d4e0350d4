package purchases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ivankudzin/skillmarket/internal/domain/enums"
	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/creem"
	"github.com/ivankudzin/skillmarket/internal/services/analytics"
	"github.com/ivankudzin/skillmarket/internal/services/auth"
	"github.com/ivankudzin/skillmarket/internal/services/catalog"
	"github.com/ivankudzin/skillmarket/internal/services/identity"
)

type catalogStub struct {
	skills map[string]model.Skill
}

func (c catalogStub) Get(_ context.Context, id string) (model.Skill, error) {
	skill, ok := c.skills[id]
	if !ok {
		return model.Skill{}, catalog.ErrNotFound
	}
	return skill, nil
}

type checkoutStub struct {
	checkouts     map[string]creem.Checkout
	customers     map[string]creem.Customer
	err           error
	checkoutCalls int
	customerCalls int
}

func (c *checkoutStub) GetCheckout(_ context.Context, id string) (creem.Checkout, error) {
	c.checkoutCalls++
	if c.err != nil {
		return creem.Checkout{}, c.err
	}
	checkout, ok := c.checkouts[id]
	if !ok {
		return creem.Checkout{}, creem.ErrNotFound
	}
	return checkout, nil
}

func (c *checkoutStub) GetCustomer(_ context.Context, customerID, _ string) (creem.Customer, error) {
	c.customerCalls++
	customer, ok := c.customers[customerID]
	if !ok {
		return creem.Customer{}, creem.ErrNotFound
	}
	return customer, nil
}

type guestStub struct {
	access     identity.GuestAccess
	login      identity.AutoLogin
	guestCalls int
	loginCalls int
	emails     []string
}

func (g *guestStub) ResolveGuestAccess(_ context.Context, email string) identity.GuestAccess {
	g.guestCalls++
	g.emails = append(g.emails, email)
	return g.access
}

func (g *guestStub) AutoLoginAfterPurchase(_ context.Context, email string) identity.AutoLogin {
	g.loginCalls++
	g.emails = append(g.emails, email)
	return g.login
}

type queueStub struct {
	entries []PendingWrite
	err     error
}

func (q *queueStub) Push(_ context.Context, entry PendingWrite) error {
	if q.err != nil {
		return q.err
	}
	q.entries = append(q.entries, entry)
	return nil
}

type auditStub struct {
	mu     sync.Mutex
	events []string
}

func (a *auditStub) Track(_ context.Context, _ *string, name string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, name)
}

func (a *auditStub) has(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, event := range a.events {
		if event == name {
			return true
		}
	}
	return false
}

type finalizerFixture struct {
	finalizer *Finalizer
	store     *purchaseStoreStub
	checkouts *checkoutStub
	guests    *guestStub
	queue     *queueStub
	audit     *auditStub
}

func newFinalizerFixture(autoLogin bool) *finalizerFixture {
	store := newPurchaseStoreStub()
	checkouts := &checkoutStub{
		checkouts: map[string]creem.Checkout{
			"ch_paid": {
				ID:        "ch_paid",
				Status:    "completed",
				ProductID: "prod_skill",
				Customer:  creem.CustomerRef{ID: "cust_1", Email: "buyer@example.com"},
				Order:     &creem.Order{ID: "ord_1", Transaction: "tran_1", Status: "paid"},
				Metadata:  map[string]string{creem.MetadataSkillID: "s1"},
			},
			"ch_open": {
				ID:        "ch_open",
				Status:    "pending",
				ProductID: "prod_skill",
				Customer:  creem.CustomerRef{ID: "cust_1", Email: "buyer@example.com"},
				Metadata:  map[string]string{creem.MetadataSkillID: "s1"},
			},
			"ch_other_product": {
				ID:        "ch_other_product",
				Status:    "completed",
				ProductID: "prod_s2",
				Customer:  creem.CustomerRef{Email: "buyer@example.com"},
			},
			"ch_other_skill": {
				ID:       "ch_other_skill",
				Status:   "completed",
				Customer: creem.CustomerRef{Email: "buyer@example.com"},
				Metadata: map[string]string{creem.MetadataSkillID: "s2"},
			},
			"ch_bare": {
				ID:       "ch_bare",
				Status:   "completed",
				Customer: creem.CustomerRef{ID: "cust_2"},
			},
			"ch_anon": {
				ID:     "ch_anon",
				Status: "completed",
			},
		},
		customers: map[string]creem.Customer{
			"cust_2": {ID: "cust_2", Email: "looked-up@example.com"},
		},
	}
	guests := &guestStub{
		access: identity.GuestAccess{
			Artifact: &model.AccessArtifact{Kind: enums.AccessKindMagicLink, URL: "http://localhost:3002/auth/confirm?token_hash=abc&type=magiclink&next=/"},
			Strategy: "action_link_params",
		},
	}
	queue := &queueStub{}
	audit := &auditStub{}

	finalizer := NewFinalizer(FinalizerDependencies{
		Catalog: catalogStub{skills: map[string]model.Skill{
			"s1": {ID: "s1", Name: "Refactor helper", CreemProductID: "prod_skill"},
			"s2": {ID: "s2", Name: "Test writer", CreemProductID: "prod_s2"},
		}},
		Checkouts:        checkouts,
		Guests:           guests,
		Ledger:           NewService(store),
		Queue:            queue,
		Audit:            audit,
		DefaultProductID: "prod_default",
		AutoLogin:        autoLogin,
	})
	finalizer.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	return &finalizerFixture{
		finalizer: finalizer,
		store:     store,
		checkouts: checkouts,
		guests:    guests,
		queue:     queue,
		audit:     audit,
	}
}

func TestFinalizeGuestGetsMagicLink(t *testing.T) {
	fx := newFinalizerFixture(false)

	result, err := fx.finalizer.Finalize(context.Background(), FinalizeInput{SkillID: "s1", CheckoutID: "ch_paid"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if result.Outcome != enums.FinalizeOutcomeCompleted || !result.Created {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Access == nil || result.Access.Kind != enums.AccessKindMagicLink {
		t.Fatalf("expected magic link artifact, got %+v", result.Access)
	}
	if result.CustomerEmail != "buyer@example.com" {
		t.Fatalf("unexpected customer email: %s", result.CustomerEmail)
	}
	if fx.guests.guestCalls != 1 || fx.guests.loginCalls != 0 {
		t.Fatalf("unexpected resolver calls: guest=%d login=%d", fx.guests.guestCalls, fx.guests.loginCalls)
	}

	p := result.Purchase
	if p == nil {
		t.Fatalf("expected stored purchase")
	}
	if p.UserID != nil {
		t.Fatalf("guest purchase must stay unowned")
	}
	if p.Status != enums.PurchaseStatusCompleted || p.CreemProductID != "prod_skill" {
		t.Fatalf("unexpected purchase: %+v", p)
	}
	if p.CreemTransactionID == nil || *p.CreemTransactionID != "tran_1" {
		t.Fatalf("transaction id was not recorded: %+v", p.CreemTransactionID)
	}
	if !fx.audit.has(analytics.EventPurchaseFinalized) || !fx.audit.has(analytics.EventGuestAccessIssued) {
		t.Fatalf("missing audit events: %v", fx.audit.events)
	}
}

func TestFinalizeSignedInViewerSkipsResolver(t *testing.T) {
	fx := newFinalizerFixture(true)
	viewer := &auth.Identity{UserID: ownerA, Email: "member@example.com", SID: "sid"}

	result, err := fx.finalizer.Finalize(context.Background(), FinalizeInput{SkillID: "s1", CheckoutID: "ch_paid", Viewer: viewer})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if fx.guests.guestCalls != 0 || fx.guests.loginCalls != 0 {
		t.Fatalf("resolver must not run for a signed-in viewer")
	}
	if result.Access == nil || result.Access.Kind != enums.AccessKindSession || result.Access.Session != nil {
		t.Fatalf("expected bare session artifact, got %+v", result.Access)
	}
	if result.Purchase == nil || result.Purchase.UserID == nil || *result.Purchase.UserID != ownerA {
		t.Fatalf("purchase must be owned by the viewer: %+v", result.Purchase)
	}
	if result.CustomerEmail != "member@example.com" {
		t.Fatalf("viewer email should win, got %s", result.CustomerEmail)
	}
}

func TestFinalizeTwiceKeepsOneRow(t *testing.T) {
	fx := newFinalizerFixture(false)
	ctx := context.Background()
	in := FinalizeInput{SkillID: "s1", CheckoutID: "ch_paid"}

	first, err := fx.finalizer.Finalize(ctx, in)
	if err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	second, err := fx.finalizer.Finalize(ctx, in)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}

	if !first.Created || second.Created {
		t.Fatalf("unexpected created flags: first=%v second=%v", first.Created, second.Created)
	}
	if first.Purchase.ID != second.Purchase.ID {
		t.Fatalf("second finalize returned a different row")
	}
	if fx.store.count() != 1 {
		t.Fatalf("expected one purchase row, got %d", fx.store.count())
	}
	if second.Access != nil || second.Outcome != enums.FinalizeOutcomeCompleted {
		t.Fatalf("replayed success URL must not hand out access again: %+v", second)
	}
	if fx.guests.guestCalls != 1 {
		t.Fatalf("expected one magic link for the checkout, got %d", fx.guests.guestCalls)
	}
}

func TestFinalizeTwiceIssuesOneAutoLogin(t *testing.T) {
	fx := newFinalizerFixture(true)
	fx.guests.login = identity.AutoLogin{Established: true, Session: &model.ProviderSession{
		AccessToken: "at",
		User:        model.Account{ID: ownerB, Email: "buyer@example.com"},
	}}
	ctx := context.Background()
	in := FinalizeInput{SkillID: "s1", CheckoutID: "ch_paid"}

	if _, err := fx.finalizer.Finalize(ctx, in); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	second, err := fx.finalizer.Finalize(ctx, in)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if second.Access != nil || fx.guests.loginCalls != 1 || fx.guests.guestCalls != 0 {
		t.Fatalf("auto login must run once per checkout: access=%+v logins=%d links=%d", second.Access, fx.guests.loginCalls, fx.guests.guestCalls)
	}
}

func TestFinalizeUnpaidCheckoutRecordsPending(t *testing.T) {
	fx := newFinalizerFixture(false)
	ctx := context.Background()

	result, err := fx.finalizer.Finalize(ctx, FinalizeInput{SkillID: "s1", CheckoutID: "ch_open"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if result.Outcome != enums.FinalizeOutcomeAwaitingPayment || result.Access != nil {
		t.Fatalf("unpaid checkout must not grant access: %+v", result)
	}
	if result.Purchase == nil || result.Purchase.Status != enums.PurchaseStatusPending {
		t.Fatalf("expected pending purchase, got %+v", result.Purchase)
	}
	if fx.guests.guestCalls != 0 || fx.guests.loginCalls != 0 {
		t.Fatalf("resolver must not run before payment")
	}
	owned, err := fx.finalizer.ledger.HasPurchased(ctx, "", "buyer@example.com", "s1")
	if err != nil || owned {
		t.Fatalf("pending purchase must not unlock the skill: owned=%v err=%v", owned, err)
	}

	paid := fx.checkouts.checkouts["ch_open"]
	paid.Status = "completed"
	paid.Order = &creem.Order{ID: "ord_2", Transaction: "tran_2", Status: "paid"}
	fx.checkouts.checkouts["ch_open"] = paid

	result, err = fx.finalizer.Finalize(ctx, FinalizeInput{SkillID: "s1", CheckoutID: "ch_open"})
	if err != nil {
		t.Fatalf("finalize after payment: %v", err)
	}
	if result.Outcome != enums.FinalizeOutcomeCompleted || result.Created {
		t.Fatalf("unexpected result after payment: %+v", result)
	}
	if result.Purchase.Status != enums.PurchaseStatusCompleted || *result.Purchase.CreemTransactionID != "tran_2" {
		t.Fatalf("pending row should be completed in place: %+v", result.Purchase)
	}
	if result.Access == nil || fx.guests.guestCalls != 1 {
		t.Fatalf("buyer should get access once the checkout is paid: %+v", result.Access)
	}
	if fx.store.count() != 1 {
		t.Fatalf("expected one purchase row, got %d", fx.store.count())
	}
}

func TestFinalizeRejectsCheckoutForAnotherSkill(t *testing.T) {
	fx := newFinalizerFixture(false)
	ctx := context.Background()

	for _, checkoutID := range []string{"ch_other_product", "ch_other_skill"} {
		if _, err := fx.finalizer.Finalize(ctx, FinalizeInput{SkillID: "s1", CheckoutID: checkoutID}); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", checkoutID, err)
		}
	}
	if fx.store.count() != 0 || fx.guests.guestCalls != 0 {
		t.Fatalf("mismatched checkout must not record or grant anything")
	}

	if _, err := fx.finalizer.Finalize(ctx, FinalizeInput{SkillID: "s2", CheckoutID: "ch_anon"}); err != nil {
		t.Fatalf("finalize s2: %v", err)
	}
	if _, err := fx.finalizer.Finalize(ctx, FinalizeInput{SkillID: "s1", CheckoutID: "ch_anon"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("checkout stored under s2 must not finalize s1, got %v", err)
	}
}

func TestFinalizeLooksUpCustomerByID(t *testing.T) {
	fx := newFinalizerFixture(false)

	result, err := fx.finalizer.Finalize(context.Background(), FinalizeInput{SkillID: "s1", CheckoutID: "ch_bare"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if fx.checkouts.customerCalls != 1 {
		t.Fatalf("expected one customer lookup, got %d", fx.checkouts.customerCalls)
	}
	if result.CustomerEmail != "looked-up@example.com" {
		t.Fatalf("unexpected email: %s", result.CustomerEmail)
	}
	if len(fx.guests.emails) != 1 || fx.guests.emails[0] != "looked-up@example.com" {
		t.Fatalf("resolver got unexpected emails: %v", fx.guests.emails)
	}
	if result.Purchase.CreemProductID != "prod_skill" {
		t.Fatalf("product id should fall back to the skill's: %s", result.Purchase.CreemProductID)
	}
}

func TestFinalizeWithoutBuyerEmailIsDegraded(t *testing.T) {
	fx := newFinalizerFixture(false)

	result, err := fx.finalizer.Finalize(context.Background(), FinalizeInput{SkillID: "s1", CheckoutID: "ch_anon"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if result.Outcome != enums.FinalizeOutcomeDegraded {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if result.Access != nil || fx.guests.guestCalls != 0 {
		t.Fatalf("no artifact can be issued without an email")
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != WarningBuyerEmailUnknown {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
	if result.Purchase == nil {
		t.Fatalf("purchase must still be recorded")
	}
}

func TestFinalizeGuestAccessFailureStillRecords(t *testing.T) {
	fx := newFinalizerFixture(false)
	fx.guests.access = identity.GuestAccess{Err: identity.ErrAdminUnavailable}

	result, err := fx.finalizer.Finalize(context.Background(), FinalizeInput{SkillID: "s1", CheckoutID: "ch_paid"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if result.Outcome != enums.FinalizeOutcomeDegraded || result.Access != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Purchase == nil || !result.Created {
		t.Fatalf("purchase must be recorded even without access")
	}
}

func TestFinalizeAutoLoginIssuesSession(t *testing.T) {
	fx := newFinalizerFixture(true)
	session := &model.ProviderSession{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		User:         model.Account{ID: ownerB, Email: "buyer@example.com"},
	}
	fx.guests.login = identity.AutoLogin{Established: true, Session: session}

	result, err := fx.finalizer.Finalize(context.Background(), FinalizeInput{SkillID: "s1", CheckoutID: "ch_paid"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if result.Access == nil || result.Access.Kind != enums.AccessKindSession || result.Access.Session != session {
		t.Fatalf("expected session artifact, got %+v", result.Access)
	}
	if fx.guests.guestCalls != 0 {
		t.Fatalf("magic link should not be generated after a successful auto login")
	}
	if result.Outcome != enums.FinalizeOutcomeCompleted {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
}

func TestFinalizeAutoLoginFailureFallsBackToLink(t *testing.T) {
	fx := newFinalizerFixture(true)
	fx.guests.login = identity.AutoLogin{Err: errors.New("provider down")}

	result, err := fx.finalizer.Finalize(context.Background(), FinalizeInput{SkillID: "s1", CheckoutID: "ch_paid"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if result.Access == nil || result.Access.Kind != enums.AccessKindMagicLink {
		t.Fatalf("expected magic link fallback, got %+v", result.Access)
	}
	if result.Outcome != enums.FinalizeOutcomeDegraded {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
}

func TestFinalizeDefersFailedWrite(t *testing.T) {
	fx := newFinalizerFixture(false)
	fx.store.createErr = errStoreDown

	result, err := fx.finalizer.Finalize(context.Background(), FinalizeInput{SkillID: "s1", CheckoutID: "ch_paid"})
	if err != nil {
		t.Fatalf("finalize should not fail on a write error: %v", err)
	}

	if result.Outcome != enums.FinalizeOutcomePendingReconciliation || result.Purchase != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Access == nil {
		t.Fatalf("buyer should still receive access while the write is pending")
	}
	if len(fx.queue.entries) != 1 {
		t.Fatalf("expected one queued write, got %d", len(fx.queue.entries))
	}
	entry := fx.queue.entries[0]
	if entry.Input.CheckoutID != "ch_paid" || entry.Input.Status != enums.PurchaseStatusCompleted || entry.Attempts != 0 {
		t.Fatalf("unexpected queued entry: %+v", entry)
	}
	if entry.LastError == "" {
		t.Fatalf("queued entry should carry the failure")
	}
	if !fx.audit.has(analytics.EventPurchaseWriteDeferred) {
		t.Fatalf("deferred write was not audited")
	}
}

func TestFinalizeRejectsBadInput(t *testing.T) {
	fx := newFinalizerFixture(false)
	ctx := context.Background()

	if _, err := fx.finalizer.Finalize(ctx, FinalizeInput{SkillID: "", CheckoutID: "ch_paid"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing skill id, got %v", err)
	}
	if _, err := fx.finalizer.Finalize(ctx, FinalizeInput{SkillID: "missing", CheckoutID: "ch_paid"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown skill, got %v", err)
	}
	if fx.checkouts.checkoutCalls != 0 {
		t.Fatalf("provider must not be called for an unknown skill")
	}
	if _, err := fx.finalizer.Finalize(ctx, FinalizeInput{SkillID: "s1", CheckoutID: " "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing checkout id, got %v", err)
	}
	if _, err := fx.finalizer.Finalize(ctx, FinalizeInput{SkillID: "s1", CheckoutID: "ch_unknown"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown checkout, got %v", err)
	}

	fx.checkouts.err = errors.New("timeout")
	if _, err := fx.finalizer.Finalize(ctx, FinalizeInput{SkillID: "s1", CheckoutID: "ch_paid"}); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if fx.store.count() != 0 {
		t.Fatalf("no purchase should be written on failed finalization")
	}
}
