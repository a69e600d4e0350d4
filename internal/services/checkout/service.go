package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/creem"
	"github.com/ivankudzin/skillmarket/internal/services/catalog"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("skill not found")
	ErrRateLimited = errors.New("rate limited")
	ErrUpstream    = errors.New("upstream provider error")
)

type CatalogReader interface {
	Get(ctx context.Context, id string) (model.Skill, error)
}

type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req creem.CreateCheckoutRequest) (creem.Checkout, error)
}

type RateLimiter interface {
	AllowCheckout(ctx context.Context, clientKey string) (int64, bool, error)
}

type Dependencies struct {
	Catalog          CatalogReader
	Provider         CheckoutCreator
	Limiter          RateLimiter
	DefaultProductID string
	Logger           *zap.Logger
}

type StartInput struct {
	SkillID   string
	Origin    string
	ClientKey string
}

type StartResult struct {
	CheckoutURL string
	CheckoutID  string
}

// RateLimitError carries the wait hint for a rejected attempt. It matches
// ErrRateLimited with errors.Is.
type RateLimitError struct {
	RetryAfterSec int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSec)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

type Service struct {
	catalog          CatalogReader
	provider         CheckoutCreator
	limiter          RateLimiter
	defaultProductID string
	logger           *zap.Logger
	newRequestID     func() string
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		catalog:          deps.Catalog,
		provider:         deps.Provider,
		limiter:          deps.Limiter,
		defaultProductID: strings.TrimSpace(deps.DefaultProductID),
		logger:           logger,
		newRequestID:     uuid.NewString,
	}
}

// StartCheckout opens a hosted checkout for one skill. The provider is only
// called once the skill is known and the client is within its budget.
func (s *Service) StartCheckout(ctx context.Context, in StartInput) (StartResult, error) {
	if s.catalog == nil || s.provider == nil {
		return StartResult{}, fmt.Errorf("checkout dependencies are not configured")
	}

	skillID := strings.TrimSpace(in.SkillID)
	if skillID == "" {
		return StartResult{}, ErrValidation
	}

	skill, err := s.catalog.Get(ctx, skillID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrValidation) {
			return StartResult{}, ErrNotFound
		}
		return StartResult{}, fmt.Errorf("load skill: %w", err)
	}

	if s.limiter != nil && strings.TrimSpace(in.ClientKey) != "" {
		retryAfter, allowed, err := s.limiter.AllowCheckout(ctx, in.ClientKey)
		if err != nil {
			// A broken limiter must not block sales.
			s.logger.Warn("checkout rate check failed", zap.Error(err))
		} else if !allowed {
			return StartResult{}, &RateLimitError{RetryAfterSec: retryAfter}
		}
	}

	productID := skill.CreemProductID
	if productID == "" {
		productID = s.defaultProductID
	}
	if productID == "" {
		return StartResult{}, fmt.Errorf("%w: no product configured for skill %s", ErrUpstream, skill.ID)
	}

	checkout, err := s.provider.CreateCheckout(ctx, creem.CreateCheckoutRequest{
		ProductID:  productID,
		SuccessURL: successURL(in.Origin, skill.ID),
		RequestID:  s.newRequestID(),
		Metadata:   map[string]string{creem.MetadataSkillID: skill.ID},
	})
	if err != nil {
		s.logger.Error("create checkout failed",
			zap.String("skill_id", skill.ID),
			zap.String("product_id", productID),
			zap.Error(err),
		)
		return StartResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if checkout.CheckoutURL == "" {
		return StartResult{}, fmt.Errorf("%w: checkout url missing", ErrUpstream)
	}

	return StartResult{
		CheckoutURL: checkout.CheckoutURL,
		CheckoutID:  checkout.ID,
	}, nil
}

func successURL(origin, skillID string) string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	return origin + "/purchase-success?skillId=" + url.QueryEscape(skillID)
}
