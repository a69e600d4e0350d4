package dto

import "time"

type SkillResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Author      string    `json:"author"`
	Price       *float64  `json:"price"`
	URL         string    `json:"url,omitempty"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
}

type SkillListResponse struct {
	Items []SkillResponse `json:"items"`
}

type SkillAccessResponse struct {
	URL string `json:"url"`
}
