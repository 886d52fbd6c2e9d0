package model

import (
	"fmt"
	"time"
)

// Counter は利用量台帳で計測するリソース種別を表す。
type Counter string

const (
	// CounterClients はクライアント作成数。
	CounterClients Counter = "clients"
	// CounterInvoices は請求書作成数。
	CounterInvoices Counter = "invoices"
	// CounterEmails はメール送信数。
	CounterEmails Counter = "emails"
)

// AllCounters は計測対象の全カウンター。
var AllCounters = []Counter{CounterClients, CounterInvoices, CounterEmails}

// ParseCounter は文字列をCounterに変換する。未知の値の場合はエラーを返す。
func ParseCounter(s string) (Counter, error) {
	switch Counter(s) {
	case CounterClients, CounterInvoices, CounterEmails:
		return Counter(s), nil
	default:
		return "", fmt.Errorf("unknown usage counter: %q", s)
	}
}

// UsageLedger はテナントごとの利用量台帳を表す。
// カウンターは非負整数で、ResetAtを過ぎると論理的に0へリセットされる。
type UsageLedger struct {
	UserID          string
	ClientsCreated  int
	InvoicesCreated int
	EmailsSent      int
	ResetAt         time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Count は指定カウンターの現在値を返す。
// nilの台帳は全カウンター0として扱う。
func (l *UsageLedger) Count(c Counter) int {
	if l == nil {
		return 0
	}
	switch c {
	case CounterClients:
		return l.ClientsCreated
	case CounterInvoices:
		return l.InvoicesCreated
	case CounterEmails:
		return l.EmailsSent
	default:
		return 0
	}
}
