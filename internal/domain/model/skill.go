package model

import "time"

type Skill struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Category       string    `json:"category"`
	Author         string    `json:"author"`
	Price          *float64  `json:"price,omitempty"`
	URL            string    `json:"url"`
	Tags           []string  `json:"tags"`
	CreemProductID string    `json:"creem_product_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
