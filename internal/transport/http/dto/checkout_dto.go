package dto

type CheckoutRequest struct {
	SkillID string `json:"skillId"`
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	CheckoutID  string `json:"checkoutId"`
}
