package handlers

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/creem"
	"github.com/ivankudzin/skillmarket/internal/infra/supabase"
	pgrepo "github.com/ivankudzin/skillmarket/internal/repo/postgres"
	redrepo "github.com/ivankudzin/skillmarket/internal/repo/redis"
	authsvc "github.com/ivankudzin/skillmarket/internal/services/auth"
	catalogsvc "github.com/ivankudzin/skillmarket/internal/services/catalog"
	checkoutsvc "github.com/ivankudzin/skillmarket/internal/services/checkout"
	deliverysvc "github.com/ivankudzin/skillmarket/internal/services/delivery"
	identitysvc "github.com/ivankudzin/skillmarket/internal/services/identity"
	purchasesvc "github.com/ivankudzin/skillmarket/internal/services/purchases"
	ratesvc "github.com/ivankudzin/skillmarket/internal/services/rate"
	txsvc "github.com/ivankudzin/skillmarket/internal/services/transactions"
)

const (
	buyerID    = "9d2b7c1a-3e4f-4a5b-8c6d-7e8f9a0b1c2d"
	memberID   = "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
	buyerEmail = "buyer@example.com"
)

type skillStoreStub map[string]pgrepo.SkillRecord

func (s skillStoreStub) List(_ context.Context, category string) ([]pgrepo.SkillRecord, error) {
	out := make([]pgrepo.SkillRecord, 0, len(s))
	for _, id := range []string{"s1", "s2"} {
		rec, ok := s[id]
		if !ok || (category != "" && rec.Category != category) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s skillStoreStub) FindByID(_ context.Context, id string) (pgrepo.SkillRecord, error) {
	rec, ok := s[id]
	if !ok {
		return pgrepo.SkillRecord{}, pgrepo.ErrSkillNotFound
	}
	return rec, nil
}

type purchaseStoreStub struct {
	mu   sync.Mutex
	rows []pgrepo.PurchaseRecord
}

func (s *purchaseStoreStub) Create(_ context.Context, in pgrepo.PurchaseCreate) (pgrepo.PurchaseRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if in.CreemCheckoutID != nil && row.CreemCheckoutID != nil && *row.CreemCheckoutID == *in.CreemCheckoutID {
			return row, false, nil
		}
	}
	now := time.Now().UTC()
	row := pgrepo.PurchaseRecord{
		ID:                 in.ID,
		UserID:             in.UserID,
		SkillID:            in.SkillID,
		CreemProductID:     in.CreemProductID,
		CreemCheckoutID:    in.CreemCheckoutID,
		CreemTransactionID: in.CreemTransactionID,
		CustomerEmail:      in.CustomerEmail,
		Status:             in.Status,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.rows = append(s.rows, row)
	return row, true, nil
}

func (s *purchaseStoreStub) UpdateByID(_ context.Context, id string, in pgrepo.PurchaseUpdate) (pgrepo.PurchaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.rows {
		if row.ID != id {
			continue
		}
		if in.Status != nil {
			row.Status = *in.Status
		}
		if in.CreemTransactionID != nil {
			row.CreemTransactionID = in.CreemTransactionID
		}
		row.UpdatedAt = time.Now().UTC()
		s.rows[i] = row
		return row, nil
	}
	return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
}

func (s *purchaseStoreStub) ListByOwner(_ context.Context, ownerID string) ([]pgrepo.PurchaseRecord, error) {
	return s.filter(func(row pgrepo.PurchaseRecord) bool {
		return row.UserID != nil && *row.UserID == ownerID
	}), nil
}

func (s *purchaseStoreStub) ListByEmail(_ context.Context, email string) ([]pgrepo.PurchaseRecord, error) {
	return s.filter(func(row pgrepo.PurchaseRecord) bool {
		return email != "" && row.CustomerEmail != nil && strings.EqualFold(*row.CustomerEmail, email)
	}), nil
}

func (s *purchaseStoreStub) FindByTransactionID(context.Context, string) (pgrepo.PurchaseRecord, error) {
	return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
}

func (s *purchaseStoreStub) LinkByEmailToOwner(_ context.Context, email, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i, row := range s.rows {
		if row.UserID == nil && row.CustomerEmail != nil && strings.EqualFold(*row.CustomerEmail, email) {
			owner := ownerID
			s.rows[i].UserID = &owner
			n++
		}
	}
	return n, nil
}

func (s *purchaseStoreStub) HasCompleted(_ context.Context, ownerID, email, skillID string) (bool, error) {
	rows := s.filter(func(row pgrepo.PurchaseRecord) bool {
		if row.SkillID != skillID || row.Status != "completed" {
			return false
		}
		if row.UserID != nil && *row.UserID == ownerID {
			return true
		}
		return email != "" && row.CustomerEmail != nil && strings.EqualFold(*row.CustomerEmail, email)
	})
	return len(rows) > 0, nil
}

func (s *purchaseStoreStub) filter(keep func(pgrepo.PurchaseRecord) bool) []pgrepo.PurchaseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []pgrepo.PurchaseRecord{}
	for _, row := range s.rows {
		if keep(row) {
			out = append(out, row)
		}
	}
	return out
}

// creemStub plays the payment provider.
type creemStub struct {
	checkouts    map[string]creem.Checkout
	createCalls  int
	lastCreate   creem.CreateCheckoutRequest
	transactions creem.TransactionPage
}

func (c *creemStub) CreateCheckout(_ context.Context, req creem.CreateCheckoutRequest) (creem.Checkout, error) {
	c.createCalls++
	c.lastCreate = req
	return creem.Checkout{ID: "ch_new", CheckoutURL: "https://pay.example.com/ch_new?product=" + req.ProductID}, nil
}

func (c *creemStub) GetCheckout(_ context.Context, id string) (creem.Checkout, error) {
	checkout, ok := c.checkouts[id]
	if !ok {
		return creem.Checkout{}, creem.ErrNotFound
	}
	return checkout, nil
}

func (c *creemStub) GetCustomer(_ context.Context, customerID, email string) (creem.Customer, error) {
	if customerID == "cust_1" || strings.EqualFold(email, buyerEmail) {
		return creem.Customer{ID: "cust_1", Email: buyerEmail}, nil
	}
	return creem.Customer{}, creem.ErrNotFound
}

func (c *creemStub) SearchTransactions(_ context.Context, _ string, _, _ int) (creem.TransactionPage, error) {
	return c.transactions, nil
}

// supabaseStub plays the identity provider for both the resolver and the
// session layer.
type supabaseStub struct {
	admin bool
}

func (s *supabaseStub) HasAdmin() bool { return s.admin }

func (s *supabaseStub) FindUserByEmail(context.Context, string) (model.Account, bool, error) {
	return model.Account{}, false, nil
}

func (s *supabaseStub) CreateUser(_ context.Context, email string, _ bool) (model.Account, error) {
	return model.Account{ID: buyerID, Email: email, EmailConfirmed: true}, nil
}

func (s *supabaseStub) GenerateLink(context.Context, string, string, string) (map[string]any, error) {
	return map[string]any{
		"properties": map[string]any{"hashed_token": "hash-1"},
	}, nil
}

func (s *supabaseStub) VerifyOTP(_ context.Context, _, tokenHash string) (model.ProviderSession, error) {
	if tokenHash != "hash-1" {
		return model.ProviderSession{}, supabase.ErrInvalidToken
	}
	return model.ProviderSession{
		AccessToken:  "provider-access",
		RefreshToken: "provider-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         model.Account{ID: buyerID, Email: buyerEmail},
	}, nil
}

func (s *supabaseStub) SignInWithOTP(context.Context, string, string) error { return nil }

func (s *supabaseStub) GetUser(context.Context, string) (model.Account, error) {
	return model.Account{}, supabase.ErrInvalidToken
}

func (s *supabaseStub) ExchangeCode(context.Context, string, string) (model.ProviderSession, error) {
	return model.ProviderSession{}, supabase.ErrInvalidToken
}

func (s *supabaseStub) RefreshSession(context.Context, string) (model.ProviderSession, error) {
	return model.ProviderSession{}, supabase.ErrInvalidToken
}

func (s *supabaseStub) Logout(context.Context, string) error { return nil }

type testEnv struct {
	creem     *creemStub
	purchases *purchaseStoreStub
	sessions  *redrepo.SessionRepo

	skills       *SkillsHandler
	checkout     *CheckoutHandler
	purchase     *PurchaseHandler
	transactions *TransactionsHandler
	auth         *AuthHandler
}

func newTestEnv(t *testing.T, autoLogin bool) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	prodS1 := "prod_s1"
	skillStore := skillStoreStub{
		"s1": {ID: "s1", Name: "Linter", Category: "dev", URL: "https://github.com/acme/linter", CreemProductID: &prodS1},
		"s2": {ID: "s2", Name: "Pack", Category: "ops", URL: "s3://skills/pack.zip"},
	}
	creemFake := &creemStub{
		checkouts: map[string]creem.Checkout{
			"ch_paid": {
				ID:        "ch_paid",
				Status:    "completed",
				ProductID: "prod_s1",
				Customer:  creem.CustomerRef{ID: "cust_1", Email: buyerEmail},
				Order:     &creem.Order{ID: "ord_1", Transaction: "tran_1"},
				Metadata:  map[string]string{creem.MetadataSkillID: "s1"},
			},
			"ch_open": {
				ID:        "ch_open",
				Status:    "pending",
				ProductID: "prod_s1",
				Customer:  creem.CustomerRef{ID: "cust_1", Email: buyerEmail},
				Metadata:  map[string]string{creem.MetadataSkillID: "s1"},
			},
		},
		transactions: creem.TransactionPage{
			Items:      []creem.Transaction{{ID: "tran_1", Amount: 900, Currency: "USD", Status: "paid"}},
			Pagination: creem.Pagination{TotalRecords: 1, TotalPages: 1, CurrentPage: 1},
		},
	}
	provider := &supabaseStub{admin: true}
	store := &purchaseStoreStub{}
	sessions := redrepo.NewSessionRepo(client)

	catalog := catalogsvc.NewService(catalogsvc.Dependencies{Skills: skillStore})
	ledger := purchasesvc.NewService(store)
	auth := authsvc.NewService(authsvc.Dependencies{
		Sessions:   sessions,
		Provider:   provider,
		Linker:     ledger,
		SessionTTL: 24 * time.Hour,
	})
	finalizer := purchasesvc.NewFinalizer(purchasesvc.FinalizerDependencies{
		Catalog:   catalog,
		Checkouts: creemFake,
		Guests:    identitysvc.NewService(identitysvc.Dependencies{Provider: provider, SiteURL: "https://shop.example.com"}),
		Ledger:    ledger,
		AutoLogin: autoLogin,
	})
	checkout := checkoutsvc.NewService(checkoutsvc.Dependencies{
		Catalog:  catalog,
		Provider: creemFake,
		Limiter:  ratesvc.NewLimiter(redrepo.NewRateRepo(client), 2, 0),
	})
	cookies := CookieConfig{Secure: true}

	return &testEnv{
		creem:     creemFake,
		purchases: store,
		sessions:  sessions,

		skills:       NewSkillsHandler(catalog, ledger, deliverysvc.NewService(nil, time.Minute), nil),
		checkout:     NewCheckoutHandler(checkout, "https://shop.example.com", []string{"https://preview.shop.example.com/"}, nil),
		purchase:     NewPurchaseHandler(PurchaseHandlerDependencies{Finalizer: finalizer, Purchases: ledger, Auth: auth, Cookies: cookies}),
		transactions: NewTransactionsHandler(txsvc.NewService(creemFake), nil),
		auth:         NewAuthHandler(auth, cookies, nil),
	}
}
