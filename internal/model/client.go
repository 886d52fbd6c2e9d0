package model

import "time"

// Client はテナントが管理する請求先を表す。
type Client struct {
	ID        string
	UserID    string
	Name      string
	Email     string
	Phone     string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvoiceStatus は請求書の状態を表す。
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice はテナントが発行する請求書を表す。
// 金額は通貨の最小単位（セント等）の整数で保持する。採番と明細計算は呼び出し側の責務。
type Invoice struct {
	ID            string
	UserID        string
	ClientID      string
	InvoiceNumber string
	Status        InvoiceStatus
	Currency      string
	Total         int64
	IssueDate     time.Time
	DueDate       time.Time
	Notes         string
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
