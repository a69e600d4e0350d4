package model

import (
	"time"

	"github.com/ivankudzin/skillmarket/internal/domain/enums"
)

type Purchase struct {
	ID                 string               `json:"id"`
	UserID             *string              `json:"user_id"`
	SkillID            string               `json:"skill_id"`
	CreemProductID     string               `json:"creem_product_id"`
	CreemCheckoutID    *string              `json:"creem_checkout_id"`
	CreemTransactionID *string              `json:"creem_transaction_id"`
	CustomerEmail      *string              `json:"customer_email"`
	Status             enums.PurchaseStatus `json:"status"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}
