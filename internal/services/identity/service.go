package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ivankudzin/skillmarket/internal/domain/enums"
	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/supabase"
	"github.com/ivankudzin/skillmarket/internal/pkg/validate"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrAdminUnavailable = errors.New("identity admin credentials are not configured")
	ErrNoCredential     = errors.New("no usable credential in generated link")
	ErrNoSession        = errors.New("token verification produced no session")
)

type Provider interface {
	HasAdmin() bool
	FindUserByEmail(ctx context.Context, email string) (model.Account, bool, error)
	CreateUser(ctx context.Context, email string, confirmed bool) (model.Account, error)
	GenerateLink(ctx context.Context, linkType, email, redirectTo string) (map[string]any, error)
	VerifyOTP(ctx context.Context, otpType, tokenHash string) (model.ProviderSession, error)
	SignInWithOTP(ctx context.Context, email, redirectTo string) error
}

// GuestAccess is the outcome of resolving access for a buyer. Artifact is nil
// whenever Err is set.
type GuestAccess struct {
	Artifact *model.AccessArtifact
	Strategy string
	Err      error
}

// AutoLogin reports whether a live session was produced for the buyer.
// EmailSent is true when the fallback emailed a sign-in link instead.
type AutoLogin struct {
	Established bool
	Session     *model.ProviderSession
	EmailSent   bool
	Err         error
}

type Dependencies struct {
	Provider Provider
	SiteURL  string
	Logger   *zap.Logger
}

type Service struct {
	provider Provider
	siteURL  string
	logger   *zap.Logger
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	site := strings.TrimRight(strings.TrimSpace(deps.SiteURL), "/")
	if site == "" {
		site = "http://localhost:3002"
	}

	return &Service{
		provider: deps.Provider,
		siteURL:  site,
		logger:   logger,
	}
}

// ResolveGuestAccess makes sure an account exists for email and returns a
// single-use confirmation link into this application. It never returns a Go
// error; failures are carried in GuestAccess.Err.
func (s *Service) ResolveGuestAccess(ctx context.Context, email string) GuestAccess {
	email = strings.TrimSpace(email)
	if !validate.Email(email) {
		return GuestAccess{Err: ErrInvalidInput}
	}
	if s.provider == nil || !s.provider.HasAdmin() {
		return GuestAccess{Err: ErrAdminUnavailable}
	}

	if err := s.ensureAccount(ctx, email); err != nil {
		return GuestAccess{Err: err}
	}

	payload, err := s.provider.GenerateLink(ctx, defaultLinkType, email, s.siteURL+"/auth/confirm?next=/")
	if err != nil {
		return GuestAccess{Err: fmt.Errorf("generate magic link: %w", err)}
	}

	cred, strategy, ok := extractCredential(payload)
	if !ok {
		return GuestAccess{Err: ErrNoCredential}
	}

	link := cred.Passthrough
	if link == "" {
		link = s.confirmURL(cred.TokenHash, cred.Type)
	}

	return GuestAccess{
		Artifact: &model.AccessArtifact{Kind: enums.AccessKindMagicLink, URL: link},
		Strategy: strategy,
	}
}

// AutoLoginAfterPurchase redeems a generated link server side so the buyer is
// signed in immediately. Without admin credentials it emails a sign-in link
// and reports no session.
func (s *Service) AutoLoginAfterPurchase(ctx context.Context, email string) AutoLogin {
	email = strings.TrimSpace(email)
	if !validate.Email(email) {
		return AutoLogin{Err: ErrInvalidInput}
	}
	if s.provider == nil {
		return AutoLogin{Err: ErrAdminUnavailable}
	}

	if !s.provider.HasAdmin() {
		if err := s.provider.SignInWithOTP(ctx, email, s.siteURL+"/"); err != nil {
			return AutoLogin{Err: fmt.Errorf("send sign-in email: %w", err)}
		}
		return AutoLogin{EmailSent: true}
	}

	if err := s.ensureAccount(ctx, email); err != nil {
		return AutoLogin{Err: err}
	}

	payload, err := s.provider.GenerateLink(ctx, defaultLinkType, email, s.siteURL+"/")
	if err != nil {
		return AutoLogin{Err: fmt.Errorf("generate login link: %w", err)}
	}

	cred, _, ok := extractCredential(payload)
	if !ok || cred.TokenHash == "" {
		return AutoLogin{Err: ErrNoCredential}
	}

	session, err := s.provider.VerifyOTP(ctx, cred.Type, cred.TokenHash)
	if err != nil {
		return AutoLogin{Err: fmt.Errorf("verify login token: %w", err)}
	}
	if session.AccessToken == "" {
		return AutoLogin{Err: ErrNoSession}
	}

	return AutoLogin{Established: true, Session: &session}
}

func (s *Service) ensureAccount(ctx context.Context, email string) error {
	_, found, err := s.provider.FindUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("look up account: %w", err)
	}
	if found {
		return nil
	}

	// Two buyers finishing at once, or an address past the scan window, both
	// surface as a conflict on create. Either way the account is there.
	account, err := s.provider.CreateUser(ctx, email, true)
	if errors.Is(err, supabase.ErrUserExists) {
		s.logger.Info("guest account already registered")
		return nil
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	s.logger.Info("guest account created", zap.String("user_id", account.ID))
	return nil
}

func (s *Service) confirmURL(tokenHash, linkType string) string {
	return fmt.Sprintf("%s/auth/confirm?token_hash=%s&type=%s&next=/",
		s.siteURL, url.QueryEscape(tokenHash), url.QueryEscape(linkType))
}
