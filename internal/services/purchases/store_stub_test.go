package purchases

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	pgrepo "github.com/ivankudzin/skillmarket/internal/repo/postgres"
)

// purchaseStoreStub mimics the Postgres repo, including the unique index on
// checkout id and the owner-is-null guard on linking.
type purchaseStoreStub struct {
	mu        sync.Mutex
	rows      []pgrepo.PurchaseRecord
	clock     time.Time
	createErr error
}

func newPurchaseStoreStub() *purchaseStoreStub {
	return &purchaseStoreStub{clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *purchaseStoreStub) tick() time.Time {
	s.clock = s.clock.Add(time.Minute)
	return s.clock
}

func (s *purchaseStoreStub) Create(_ context.Context, in pgrepo.PurchaseCreate) (pgrepo.PurchaseRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return pgrepo.PurchaseRecord{}, false, s.createErr
	}
	if in.CreemCheckoutID != nil {
		for _, row := range s.rows {
			if row.CreemCheckoutID != nil && *row.CreemCheckoutID == *in.CreemCheckoutID {
				return row, false, nil
			}
		}
	}

	now := s.tick()
	id := in.ID
	if id == "" {
		id = "generated-" + now.Format("150405")
	}
	row := pgrepo.PurchaseRecord{
		ID:                 id,
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
		if in.UserID != nil {
			row.UserID = in.UserID
		}
		if in.CreemTransactionID != nil {
			row.CreemTransactionID = in.CreemTransactionID
		}
		if in.CustomerEmail != nil {
			row.CustomerEmail = in.CustomerEmail
		}
		row.UpdatedAt = s.tick()
		s.rows[i] = row
		return row, nil
	}
	return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
}

func (s *purchaseStoreStub) ListByOwner(_ context.Context, ownerID string) ([]pgrepo.PurchaseRecord, error) {
	return s.filter(func(row pgrepo.PurchaseRecord) bool {
		return ownerID != "" && row.UserID != nil && *row.UserID == ownerID
	}), nil
}

func (s *purchaseStoreStub) ListByEmail(_ context.Context, email string) ([]pgrepo.PurchaseRecord, error) {
	return s.filter(func(row pgrepo.PurchaseRecord) bool {
		return email != "" && row.CustomerEmail != nil && strings.EqualFold(*row.CustomerEmail, email)
	}), nil
}

func (s *purchaseStoreStub) FindByTransactionID(_ context.Context, transactionID string) (pgrepo.PurchaseRecord, error) {
	rows := s.filter(func(row pgrepo.PurchaseRecord) bool {
		return row.CreemTransactionID != nil && *row.CreemTransactionID == transactionID
	})
	if len(rows) == 0 {
		return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
	}
	return rows[0], nil
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

	out := make([]pgrepo.PurchaseRecord, 0)
	for i := len(s.rows) - 1; i >= 0; i-- {
		if keep(s.rows[i]) {
			out = append(out, s.rows[i])
		}
	}
	return out
}

func (s *purchaseStoreStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

var errStoreDown = errors.New("connection refused")
