package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/supabase"
)

const (
	MinSessionTTL = time.Hour
	MaxSessionTTL = 90 * 24 * time.Hour

	// accessRefreshSkew refreshes provider tokens slightly before they expire.
	accessRefreshSkew = 30 * time.Second
)

type SessionStore interface {
	Create(ctx context.Context, session SessionRecord) error
	Get(ctx context.Context, sid string) (SessionRecord, error)
	UpdateTokens(ctx context.Context, sid, accessToken, refreshToken string, accessExpiresAt time.Time) error
	Delete(ctx context.Context, sid string) error
}

type IdentityProvider interface {
	GetUser(ctx context.Context, accessToken string) (model.Account, error)
	VerifyOTP(ctx context.Context, otpType, tokenHash string) (model.ProviderSession, error)
	ExchangeCode(ctx context.Context, code, verifier string) (model.ProviderSession, error)
	RefreshSession(ctx context.Context, refreshToken string) (model.ProviderSession, error)
	Logout(ctx context.Context, accessToken string) error
}

// PurchaseLinker attaches guest purchases to an account once its owner signs in.
type PurchaseLinker interface {
	LinkToUser(ctx context.Context, userID, email string) (int64, error)
}

type Dependencies struct {
	Sessions   SessionStore
	Provider   IdentityProvider
	Linker     PurchaseLinker
	JWT        *JWTManager
	SessionTTL time.Duration
	Logger     *zap.Logger
}

type Service struct {
	sessions   SessionStore
	provider   IdentityProvider
	linker     PurchaseLinker
	jwt        *JWTManager
	sessionTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(deps Dependencies) *Service {
	ttl := deps.SessionTTL
	if ttl < MinSessionTTL {
		ttl = MinSessionTTL
	}
	if ttl > MaxSessionTTL {
		ttl = MaxSessionTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		sessions:   deps.Sessions,
		provider:   deps.Provider,
		linker:     deps.Linker,
		jwt:        deps.JWT,
		sessionTTL: ttl,
		logger:     logger,
		now:        time.Now,
	}
}

// Establish stores a web session for a provider session and links purchases
// the account owner made as a guest. A failed link is logged, not returned.
func (s *Service) Establish(ctx context.Context, ps model.ProviderSession) (SessionRecord, error) {
	if strings.TrimSpace(ps.User.ID) == "" || strings.TrimSpace(ps.AccessToken) == "" {
		return SessionRecord{}, ErrInvalidInput
	}
	if s.sessions == nil {
		return SessionRecord{}, fmt.Errorf("session store is not configured")
	}

	sid, err := newSessionID()
	if err != nil {
		return SessionRecord{}, fmt.Errorf("generate session id: %w", err)
	}

	now := s.now().UTC()
	record := SessionRecord{
		SID:             sid,
		UserID:          ps.User.ID,
		Email:           strings.TrimSpace(ps.User.Email),
		AccessToken:     ps.AccessToken,
		RefreshToken:    ps.RefreshToken,
		AccessExpiresAt: ps.ExpiresAt.UTC(),
		ExpiresAt:       now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, record); err != nil {
		return SessionRecord{}, fmt.Errorf("create session: %w", err)
	}

	s.linkPurchases(ctx, record.UserID, record.Email)

	return record, nil
}

func (s *Service) Current(ctx context.Context, sid string) (Identity, error) {
	if strings.TrimSpace(sid) == "" || s.sessions == nil {
		return Identity{}, ErrUnauthorized
	}

	record, err := s.sessions.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Identity{}, ErrUnauthorized
		}
		return Identity{}, fmt.Errorf("get session: %w", err)
	}

	now := s.now().UTC()
	if now.After(record.ExpiresAt) {
		_ = s.sessions.Delete(ctx, sid)
		return Identity{}, ErrUnauthorized
	}

	if !record.AccessExpiresAt.IsZero() && now.Add(accessRefreshSkew).After(record.AccessExpiresAt) {
		if err := s.refresh(ctx, &record); err != nil {
			return Identity{}, err
		}
	}

	return Identity{UserID: record.UserID, Email: record.Email, SID: record.SID}, nil
}

// FromAccessToken authenticates a bearer token. With a JWT secret configured
// the token is checked locally, otherwise the provider is asked.
func (s *Service) FromAccessToken(ctx context.Context, accessToken string) (Identity, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Identity{}, ErrUnauthorized
	}

	if s.jwt.Enabled() {
		claims, err := s.jwt.ParseAccessToken(accessToken)
		if err != nil {
			return Identity{}, ErrUnauthorized
		}
		return Identity{UserID: claims.UserID, Email: claims.Email}, nil
	}

	if s.provider == nil {
		return Identity{}, ErrUnauthorized
	}
	account, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		if errors.Is(err, supabase.ErrInvalidToken) {
			return Identity{}, ErrUnauthorized
		}
		return Identity{}, fmt.Errorf("get provider user: %w", err)
	}

	return Identity{UserID: account.ID, Email: account.Email}, nil
}

func (s *Service) VerifyOTP(ctx context.Context, otpType, tokenHash string) (SessionRecord, error) {
	if strings.TrimSpace(otpType) == "" || strings.TrimSpace(tokenHash) == "" {
		return SessionRecord{}, ErrInvalidInput
	}
	if s.provider == nil {
		return SessionRecord{}, fmt.Errorf("identity provider is not configured")
	}

	ps, err := s.provider.VerifyOTP(ctx, otpType, tokenHash)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("verify otp: %w", err)
	}

	return s.Establish(ctx, ps)
}

func (s *Service) ExchangeCode(ctx context.Context, code, verifier string) (SessionRecord, error) {
	if strings.TrimSpace(code) == "" {
		return SessionRecord{}, ErrInvalidInput
	}
	if s.provider == nil {
		return SessionRecord{}, fmt.Errorf("identity provider is not configured")
	}

	ps, err := s.provider.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("exchange code: %w", err)
	}

	return s.Establish(ctx, ps)
}

func (s *Service) Logout(ctx context.Context, sid string) error {
	if strings.TrimSpace(sid) == "" {
		return ErrInvalidInput
	}
	if s.sessions == nil {
		return nil
	}

	record, err := s.sessions.Get(ctx, sid)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("get session: %w", err)
	}
	if err == nil && s.provider != nil {
		if logoutErr := s.provider.Logout(ctx, record.AccessToken); logoutErr != nil {
			s.logger.Warn("provider logout failed", zap.String("user_id", record.UserID), zap.Error(logoutErr))
		}
	}

	if err := s.sessions.Delete(ctx, sid); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Service) refresh(ctx context.Context, record *SessionRecord) error {
	if s.provider == nil || record.RefreshToken == "" {
		_ = s.sessions.Delete(ctx, record.SID)
		return ErrUnauthorized
	}

	ps, err := s.provider.RefreshSession(ctx, record.RefreshToken)
	if err != nil {
		if errors.Is(err, supabase.ErrInvalidToken) {
			_ = s.sessions.Delete(ctx, record.SID)
			return ErrUnauthorized
		}
		return fmt.Errorf("refresh provider session: %w", err)
	}

	if err := s.sessions.UpdateTokens(ctx, record.SID, ps.AccessToken, ps.RefreshToken, ps.ExpiresAt); err != nil {
		return fmt.Errorf("store refreshed tokens: %w", err)
	}
	record.AccessToken = ps.AccessToken
	record.RefreshToken = ps.RefreshToken
	record.AccessExpiresAt = ps.ExpiresAt
	return nil
}

func (s *Service) linkPurchases(ctx context.Context, userID, email string) {
	if s.linker == nil || email == "" {
		return
	}

	linked, err := s.linker.LinkToUser(ctx, userID, email)
	if err != nil {
		s.logger.Warn("link guest purchases failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if linked > 0 {
		s.logger.Info("guest purchases linked", zap.String("user_id", userID), zap.Int64("count", linked))
	}
}
