package handler

import (
	"time"

	"github.com/hitoshi/invoiceman/internal/model"
)

// clientResponse は請求先のAPIレスポンス。
type clientResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toClientResponse(c *model.Client) clientResponse {
	return clientResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		Address:   c.Address,
		CreatedAt: c.CreatedAt,
	}
}

// invoiceResponse は請求書のAPIレスポンス。
type invoiceResponse struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"client_id"`
	InvoiceNumber string     `json:"invoice_number"`
	Status        string     `json:"status"`
	Currency      string     `json:"currency"`
	Total         int64      `json:"total"`
	IssueDate     string     `json:"issue_date"`
	DueDate       string     `json:"due_date"`
	Notes         string     `json:"notes,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toInvoiceResponse(inv *model.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:            inv.ID,
		ClientID:      inv.ClientID,
		InvoiceNumber: inv.InvoiceNumber,
		Status:        string(inv.Status),
		Currency:      inv.Currency,
		Total:         inv.Total,
		IssueDate:     inv.IssueDate.Format(time.DateOnly),
		DueDate:       inv.DueDate.Format(time.DateOnly),
		Notes:         inv.Notes,
		SentAt:        inv.SentAt,
		CreatedAt:     inv.CreatedAt,
	}
}

// subscriptionResponse は契約状態のAPIレスポンス。
type subscriptionResponse struct {
	ID                 string     `json:"id"`
	PlanType           string     `json:"plan_type"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toSubscriptionResponse(sub *model.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}
	resp := &subscriptionResponse{
		ID:                 sub.ID,
		PlanType:           string(sub.PlanType),
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		UpdatedAt:          sub.UpdatedAt,
	}
	if sub.CancelAtPeriodEnd != nil {
		resp.CancelAtPeriodEnd = *sub.CancelAtPeriodEnd
	}
	return resp
}
