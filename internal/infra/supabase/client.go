package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/httpclient"
)

var (
	ErrNotConfigured   = errors.New("supabase url or anon key is not configured")
	ErrAdminNotAllowed = errors.New("supabase service role key is not configured")
	ErrInvalidToken    = errors.New("supabase rejected the token")
	ErrUserExists      = errors.New("supabase user already exists")
)

type Config struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
}

// Client wraps the Supabase Auth (GoTrue) REST API. Public calls use the anon
// key; admin calls require the service role key.
type Client struct {
	http           *http.Client
	baseURL        string
	anonKey        string
	serviceRoleKey string
	now            func() time.Time
}

func NewClient(httpClient *http.Client, cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	return &Client{
		http:           httpClient,
		baseURL:        base,
		anonKey:        strings.TrimSpace(cfg.AnonKey),
		serviceRoleKey: strings.TrimSpace(cfg.ServiceRoleKey),
		now:            time.Now,
	}
}

// HasAdmin reports whether privileged admin endpoints can be called.
func (c *Client) HasAdmin() bool {
	return c != nil && c.baseURL != "" && c.serviceRoleKey != ""
}

type userPayload struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
}

func (u userPayload) toAccount() model.Account {
	return model.Account{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil,
	}
}

type sessionPayload struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         userPayload `json:"user"`
}

func (c *Client) toSession(p sessionPayload) (model.ProviderSession, error) {
	if p.AccessToken == "" {
		return model.ProviderSession{}, fmt.Errorf("no session in provider response")
	}

	expiresAt := time.Unix(p.ExpiresAt, 0).UTC()
	if p.ExpiresAt == 0 {
		expiresAt = c.now().UTC().Add(time.Duration(p.ExpiresIn) * time.Second)
	}

	return model.ProviderSession{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         p.User.toAccount(),
	}, nil
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (model.Account, error) {
	if strings.TrimSpace(accessToken) == "" {
		return model.Account{}, ErrInvalidToken
	}

	var user userPayload
	if err := c.public(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &user); err != nil {
		return model.Account{}, fmt.Errorf("get user: %w", err)
	}
	if user.ID == "" {
		return model.Account{}, ErrInvalidToken
	}

	return user.toAccount(), nil
}

func (c *Client) VerifyOTP(ctx context.Context, otpType, tokenHash string) (model.ProviderSession, error) {
	if strings.TrimSpace(tokenHash) == "" || strings.TrimSpace(otpType) == "" {
		return model.ProviderSession{}, ErrInvalidToken
	}

	body := map[string]string{"type": otpType, "token_hash": tokenHash}
	var payload sessionPayload
	if err := c.public(ctx, http.MethodPost, "/auth/v1/verify", nil, "", body, &payload); err != nil {
		return model.ProviderSession{}, fmt.Errorf("verify otp: %w", err)
	}

	return c.toSession(payload)
}

func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (model.ProviderSession, error) {
	if strings.TrimSpace(code) == "" {
		return model.ProviderSession{}, ErrInvalidToken
	}

	body := map[string]string{"auth_code": code, "code_verifier": verifier}
	query := url.Values{"grant_type": {"pkce"}}
	var payload sessionPayload
	if err := c.public(ctx, http.MethodPost, "/auth/v1/token", query, "", body, &payload); err != nil {
		return model.ProviderSession{}, fmt.Errorf("exchange code: %w", err)
	}

	return c.toSession(payload)
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (model.ProviderSession, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return model.ProviderSession{}, ErrInvalidToken
	}

	body := map[string]string{"refresh_token": refreshToken}
	query := url.Values{"grant_type": {"refresh_token"}}
	var payload sessionPayload
	if err := c.public(ctx, http.MethodPost, "/auth/v1/token", query, "", body, &payload); err != nil {
		return model.ProviderSession{}, fmt.Errorf("refresh session: %w", err)
	}

	return c.toSession(payload)
}

// SignInWithOTP asks the provider to email a sign-in link to the address.
func (c *Client) SignInWithOTP(ctx context.Context, email, redirectTo string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("email is required")
	}

	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	body := map[string]any{"email": email, "create_user": true}
	if err := c.public(ctx, http.MethodPost, "/auth/v1/otp", query, "", body, nil); err != nil {
		return fmt.Errorf("sign in with otp: %w", err)
	}

	return nil
}

func (c *Client) Logout(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return nil
	}
	if err := c.public(ctx, http.MethodPost, "/auth/v1/logout", nil, accessToken, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) public(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	if c == nil || c.baseURL == "" || c.anonKey == "" {
		return ErrNotConfigured
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	return c.send(ctx, method, path, query, c.anonKey, bearer, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, apiKey, bearer string, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	headers := map[string]string{
		"apikey":        apiKey,
		"Authorization": "Bearer " + bearer,
	}

	err := httpclient.DoJSON(ctx, c.http, method, target, headers, body, out)
	if httpclient.IsStatus(err, http.StatusUnauthorized) || httpclient.IsStatus(err, http.StatusForbidden) {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return err
}
