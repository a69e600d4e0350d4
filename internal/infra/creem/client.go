package creem

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ivankudzin/skillmarket/internal/infra/httpclient"
)

var (
	ErrNotConfigured = errors.New("creem api key is not configured")
	ErrNotFound      = errors.New("creem resource not found")
)

// Client talks to the Creem REST API. A single attempt is made per call.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewClient(httpClient *http.Client, baseURL, apiKey string) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
	}
}

func (c *Client) CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (Checkout, error) {
	if strings.TrimSpace(req.ProductID) == "" {
		return Checkout{}, fmt.Errorf("creem product id is required")
	}

	var payload checkoutPayload
	if err := c.do(ctx, http.MethodPost, "/v1/checkouts", nil, req, &payload); err != nil {
		return Checkout{}, fmt.Errorf("create checkout: %w", err)
	}
	if payload.ID == "" || payload.CheckoutURL == "" {
		return Checkout{}, fmt.Errorf("create checkout: incomplete response")
	}

	return payload.toCheckout(), nil
}

func (c *Client) GetCheckout(ctx context.Context, checkoutID string) (Checkout, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return Checkout{}, fmt.Errorf("checkout id is required")
	}

	var payload checkoutPayload
	query := url.Values{"checkout_id": {checkoutID}}
	if err := c.do(ctx, http.MethodGet, "/v1/checkouts", query, nil, &payload); err != nil {
		return Checkout{}, fmt.Errorf("get checkout %s: %w", checkoutID, err)
	}

	return payload.toCheckout(), nil
}

// GetCustomer looks a customer up by id, or by email when id is empty.
func (c *Client) GetCustomer(ctx context.Context, customerID, email string) (Customer, error) {
	query := url.Values{}
	switch {
	case strings.TrimSpace(customerID) != "":
		query.Set("customer_id", strings.TrimSpace(customerID))
	case strings.TrimSpace(email) != "":
		query.Set("email", strings.TrimSpace(email))
	default:
		return Customer{}, fmt.Errorf("customer id or email is required")
	}

	var customer Customer
	if err := c.do(ctx, http.MethodGet, "/v1/customers", query, nil, &customer); err != nil {
		return Customer{}, fmt.Errorf("get customer: %w", err)
	}
	if customer.ID == "" {
		return Customer{}, ErrNotFound
	}

	return customer, nil
}

func (c *Client) SearchTransactions(ctx context.Context, customerID string, page, size int) (TransactionPage, error) {
	query := url.Values{}
	if strings.TrimSpace(customerID) != "" {
		query.Set("customer_id", strings.TrimSpace(customerID))
	}
	if page > 0 {
		query.Set("page_number", strconv.Itoa(page))
	}
	if size > 0 {
		query.Set("page_size", strconv.Itoa(size))
	}

	var out TransactionPage
	if err := c.do(ctx, http.MethodGet, "/v1/transactions/search", query, nil, &out); err != nil {
		return TransactionPage{}, fmt.Errorf("search transactions: %w", err)
	}
	if out.Items == nil {
		out.Items = []Transaction{}
	}

	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil || c.apiKey == "" {
		return ErrNotConfigured
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	err := httpclient.DoJSON(ctx, c.http, method, target, map[string]string{"x-api-key": c.apiKey}, body, out)
	if httpclient.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
