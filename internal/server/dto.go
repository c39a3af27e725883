package server

import (
	"tutelliv/internal/domain"
	"tutelliv/internal/engine"
	"tutelliv/internal/estimate"
)

type LoginRequest struct {
	Email    string `json:"email" example:"mjpm@example.com"`
	Password string `json:"password" example:"mjpm123"`
}

type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type" example:"bearer"`
	User        domain.User `json:"user"`
}

type BeneficiaryRequest struct {
	ID         int    `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Address    string `json:"address"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
	PhotoURL   string `json:"photo_url,omitempty"`
	IsActive   *bool  `json:"is_active,omitempty"`
}

func (r BeneficiaryRequest) toDomain(id int) domain.Beneficiary {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return domain.Beneficiary{
		ID:         id,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Address:    r.Address,
		City:       r.City,
		PostalCode: r.PostalCode,
		Phone:      r.Phone,
		PhotoURL:   r.PhotoURL,
		IsActive:   active,
	}
}

// MissionRequest accepts both the current multi-category shape and the older
// single category/comment fields.
type MissionRequest struct {
	BeneficiaryID      int               `json:"beneficiary_id"`
	Categories         []string          `json:"categories,omitempty"`
	CommentsByCategory map[string]string `json:"comments_by_category,omitempty"`
	GeneralComment     string            `json:"general_comment,omitempty"`
	Category           string            `json:"category,omitempty"`
	Comment            string            `json:"comment,omitempty"`
	Status             string            `json:"status,omitempty" enum:",pending,in_progress,delivered"`
}

func (r MissionRequest) options() engine.MissionCreateOptions {
	opts := engine.MissionCreateOptions{
		BeneficiaryID:      r.BeneficiaryID,
		Categories:         r.Categories,
		CommentsByCategory: r.CommentsByCategory,
		GeneralComment:     r.GeneralComment,
		Status:             r.Status,
	}
	if len(opts.Categories) == 0 && r.Category != "" {
		opts.Categories = []string{r.Category}
	}
	if opts.GeneralComment == "" && r.Comment != "" {
		opts.GeneralComment = r.Comment
	}
	return opts
}

type InvoiceCreateRequest struct {
	MissionID       string                        `json:"mission_id"`
	Amount          float64                       `json:"amount,omitempty"`
	Status          string                        `json:"status,omitempty" enum:",editing,pending,paid"`
	Note            string                        `json:"note,omitempty"`
	LinesByCategory map[string]domain.InvoiceLine `json:"lines_by_category,omitempty"`
	DeliveryFee     *float64                      `json:"delivery_fee,omitempty"`
}

// InvoiceUpdateRequest is partial: absent fields keep their stored value.
type InvoiceUpdateRequest struct {
	Amount          *float64                      `json:"amount,omitempty"`
	Status          *string                       `json:"status,omitempty"`
	Note            *string                       `json:"note,omitempty"`
	LinesByCategory map[string]domain.InvoiceLine `json:"lines_by_category,omitempty"`
	DeliveryFee     *float64                      `json:"delivery_fee,omitempty"`
}

type EstimateRequest struct {
	Items []estimate.Item `json:"items"`
}

type EventsResponse struct {
	Events []domain.JournalEntry `json:"events"`
	NextID int64                 `json:"next_id,omitempty"`
}
