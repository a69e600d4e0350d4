package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/creem"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 50
	maxPageSize     = 100
)

var (
	ErrValidation = errors.New("validation error")
	ErrUpstream   = errors.New("upstream provider error")
)

type Provider interface {
	GetCustomer(ctx context.Context, customerID, email string) (creem.Customer, error)
	SearchTransactions(ctx context.Context, customerID string, page, size int) (creem.TransactionPage, error)
}

type Service struct {
	provider Provider
}

func NewService(provider Provider) *Service {
	return &Service{provider: provider}
}

// ListForEmail returns the provider-side payment history of the customer
// registered under email. A buyer unknown to the provider has no history.
func (s *Service) ListForEmail(ctx context.Context, email string, page, size int) (model.TransactionPage, error) {
	if s.provider == nil {
		return model.TransactionPage{}, fmt.Errorf("transactions provider is nil")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return model.TransactionPage{}, ErrValidation
	}
	if page <= 0 {
		page = DefaultPage
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	customer, err := s.provider.GetCustomer(ctx, "", email)
	if err != nil {
		if errors.Is(err, creem.ErrNotFound) {
			return emptyPage(size), nil
		}
		return model.TransactionPage{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	res, err := s.provider.SearchTransactions(ctx, customer.ID, page, size)
	if err != nil {
		return model.TransactionPage{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	out := model.TransactionPage{
		Items:      make([]model.Transaction, 0, len(res.Items)),
		PageNumber: res.Pagination.CurrentPage,
		PageSize:   size,
		TotalPages: res.Pagination.TotalPages,
		TotalItems: res.Pagination.TotalRecords,
	}
	if out.PageNumber <= 0 {
		out.PageNumber = page
	}
	for _, item := range res.Items {
		out.Items = append(out.Items, toModel(item))
	}

	return out, nil
}

func emptyPage(size int) model.TransactionPage {
	return model.TransactionPage{
		Items:      []model.Transaction{},
		PageNumber: 1,
		PageSize:   size,
	}
}

func toModel(tx creem.Transaction) model.Transaction {
	out := model.Transaction{
		ID:       tx.ID,
		Amount:   tx.Amount,
		Currency: tx.Currency,
		Status:   tx.Status,
		Type:     tx.Type,
		OrderID:  tx.Order,
	}
	if tx.CreatedAt > 0 {
		out.CreatedAt = time.UnixMilli(tx.CreatedAt).UTC()
	}
	return out
}
