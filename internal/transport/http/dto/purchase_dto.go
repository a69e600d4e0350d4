package dto

import "time"

type PurchaseResponse struct {
	ID            string    `json:"id"`
	SkillID       string    `json:"skill_id"`
	Status        string    `json:"status"`
	CheckoutID    *string   `json:"checkout_id,omitempty"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	CustomerEmail *string   `json:"customer_email,omitempty"`
	Linked        bool      `json:"linked"`
	CreatedAt     time.Time `json:"created_at"`
}

type PurchaseListResponse struct {
	Items []PurchaseResponse `json:"items"`
}

// AccessResponse never carries provider tokens. A session artifact is turned
// into the session cookie before the response is written.
type AccessResponse struct {
	Kind string `json:"kind"`
	URL  string `json:"url,omitempty"`
}

type FinalizeResponse struct {
	OK            bool              `json:"ok"`
	Outcome       string            `json:"outcome"`
	Skill         SkillResponse     `json:"skill"`
	Purchase      *PurchaseResponse `json:"purchase,omitempty"`
	Access        *AccessResponse   `json:"access,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Created       bool              `json:"created"`
	Warnings      []string          `json:"warnings"`
}
