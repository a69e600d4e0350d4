package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/httpclient"
)

const adminUsersPerPage = 200

// maxAdminUserPages bounds the user scan so a huge tenant cannot stall a
// request indefinitely.
const maxAdminUserPages = 50

type adminUsersPage struct {
	Users []userPayload `json:"users"`
}

// FindUserByEmail scans the admin user list page by page. The boolean is
// false when no account carries the address.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (model.Account, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.Account{}, false, fmt.Errorf("email is required")
	}

	for page := 1; page <= maxAdminUserPages; page++ {
		query := url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(adminUsersPerPage)},
		}

		var out adminUsersPage
		if err := c.admin(ctx, http.MethodGet, "/auth/v1/admin/users", query, nil, &out); err != nil {
			return model.Account{}, false, fmt.Errorf("list users page %d: %w", page, err)
		}

		for _, user := range out.Users {
			if strings.EqualFold(strings.TrimSpace(user.Email), email) {
				return user.toAccount(), true, nil
			}
		}

		if len(out.Users) < adminUsersPerPage {
			break
		}
	}

	return model.Account{}, false, nil
}

// CreateUser registers an account. With confirmed set the email is marked
// verified and no confirmation mail is sent.
func (c *Client) CreateUser(ctx context.Context, email string, confirmed bool) (model.Account, error) {
	if strings.TrimSpace(email) == "" {
		return model.Account{}, fmt.Errorf("email is required")
	}

	body := map[string]any{
		"email":         strings.TrimSpace(email),
		"email_confirm": confirmed,
		"user_metadata": map[string]any{},
	}

	var user userPayload
	if err := c.admin(ctx, http.MethodPost, "/auth/v1/admin/users", nil, body, &user); err != nil {
		if userExists(err) {
			return model.Account{}, fmt.Errorf("create user: %w: %v", ErrUserExists, err)
		}
		return model.Account{}, fmt.Errorf("create user: %w", err)
	}
	if user.ID == "" {
		return model.Account{}, fmt.Errorf("create user: empty response")
	}

	return user.toAccount(), nil
}

// userExists recognises the conflict the admin API answers with when the
// address is already registered: 409 on some versions, 422 with an
// email_exists code on others.
func userExists(err error) bool {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.Status {
	case http.StatusConflict:
		return true
	case http.StatusUnprocessableEntity:
		body := strings.ToLower(statusErr.Body)
		return strings.Contains(body, "email_exists") || strings.Contains(body, "already been registered")
	default:
		return false
	}
}

// GenerateLink returns the raw provider payload. Its shape differs between
// provider versions, so callers pick the fields they understand.
func (c *Client) GenerateLink(ctx context.Context, linkType, email, redirectTo string) (map[string]any, error) {
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("email is required")
	}
	if linkType == "" {
		linkType = "magiclink"
	}

	body := map[string]any{
		"type":  linkType,
		"email": strings.TrimSpace(email),
	}
	if redirectTo != "" {
		body["redirect_to"] = redirectTo
		body["options"] = map[string]any{"redirectTo": redirectTo}
	}

	out := map[string]any{}
	if err := c.admin(ctx, http.MethodPost, "/auth/v1/admin/generate_link", nil, body, &out); err != nil {
		return nil, fmt.Errorf("generate link: %w", err)
	}

	return out, nil
}

func (c *Client) admin(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if !c.HasAdmin() {
		return ErrAdminNotAllowed
	}
	return c.send(ctx, method, path, query, c.serviceRoleKey, c.serviceRoleKey, body, out)
}
