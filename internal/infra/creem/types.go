package creem

import (
	"encoding/json"
	"strings"
)

// MetadataSkillID is the metadata key that ties a checkout to the skill it
// was opened for.
const MetadataSkillID = "skill_id"

type CreateCheckoutRequest struct {
	ProductID  string            `json:"product_id"`
	SuccessURL string            `json:"success_url,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type Checkout struct {
	ID          string
	Status      string
	CheckoutURL string
	ProductID   string
	Customer    CustomerRef
	Order       *Order
	Metadata    map[string]string
}

// Paid reports whether the buyer actually paid: the checkout is completed or
// its order is paid.
func (c Checkout) Paid() bool {
	if strings.EqualFold(strings.TrimSpace(c.Status), "completed") {
		return true
	}
	return c.Order != nil && strings.EqualFold(strings.TrimSpace(c.Order.Status), "paid")
}

// CustomerRef is either a bare customer id or an expanded customer object.
// Email is empty when the provider only sent the id.
type CustomerRef struct {
	ID    string
	Email string
}

type Order struct {
	ID          string `json:"id"`
	Transaction string `json:"transaction"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Transaction struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Type      string `json:"type"`
	Order     string `json:"order"`
	Customer  string `json:"customer"`
	CreatedAt int64  `json:"created_at"`
}

type TransactionPage struct {
	Items      []Transaction `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

type Pagination struct {
	TotalRecords int `json:"total_records"`
	TotalPages   int `json:"total_pages"`
	CurrentPage  int `json:"current_page"`
}

type checkoutPayload struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	CheckoutURL string          `json:"checkout_url"`
	Product     json.RawMessage `json:"product"`
	Customer    json.RawMessage `json:"customer"`
	Order       *Order          `json:"order"`
	Metadata    map[string]any  `json:"metadata"`
}

func (p checkoutPayload) toCheckout() Checkout {
	out := Checkout{
		ID:          p.ID,
		Status:      p.Status,
		CheckoutURL: p.CheckoutURL,
		Order:       p.Order,
	}
	for key, value := range p.Metadata {
		if v, ok := value.(string); ok {
			if out.Metadata == nil {
				out.Metadata = map[string]string{}
			}
			out.Metadata[key] = v
		}
	}
	out.ProductID = decodeRefID(p.Product)

	customer := decodeRef(p.Customer)
	out.Customer = CustomerRef{ID: customer.ID, Email: customer.Email}

	return out
}

type ref struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func decodeRef(raw json.RawMessage) ref {
	if len(raw) == 0 || string(raw) == "null" {
		return ref{}
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return ref{ID: strings.TrimSpace(id)}
	}

	var obj ref
	if err := json.Unmarshal(raw, &obj); err == nil {
		obj.ID = strings.TrimSpace(obj.ID)
		obj.Email = strings.TrimSpace(obj.Email)
		return obj
	}

	return ref{}
}

func decodeRefID(raw json.RawMessage) string {
	return decodeRef(raw).ID
}
