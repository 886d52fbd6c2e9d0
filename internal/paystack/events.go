package paystack

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Webhookイベント名
const (
	EventSubscriptionCreate   = "subscription.create"
	EventSubscriptionDisable  = "subscription.disable"
	EventSubscriptionNotRenew = "subscription.not_renew"
	EventChargeSuccess        = "charge.success"
	EventInvoiceCreate        = "invoice.create"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// ErrMalformedEvent は署名検証後のペイロードが解析できないことを表す。
var ErrMalformedEvent = errors.New("malformed paystack event")

// Event はWebhookで受信するイベントの閉じた直和型。
// 具体型はSubscriptionCreate、SubscriptionDisable、SubscriptionNotRenew、
// ChargeSuccess、InvoiceCreate、InvoicePaymentFailed、Unknownのいずれか。
type Event interface {
	EventName() string
	isEvent()
}

// SubscriptionCreate は定期購読の作成イベント。
type SubscriptionCreate struct {
	SubscriptionCode string        `json:"subscription_code"`
	EmailToken       string        `json:"email_token"`
	Status           string        `json:"status"`
	NextPaymentDate  Time          `json:"next_payment_date"`
	CreatedAt        Time          `json:"createdAt"`
	Customer         Customer      `json:"customer"`
	Plan             PlanRef       `json:"plan"`
	Authorization    Authorization `json:"authorization"`
}

// SubscriptionDisable は定期購読の停止イベント。
type SubscriptionDisable struct {
	SubscriptionCode string   `json:"subscription_code"`
	EmailToken       string   `json:"email_token"`
	Status           string   `json:"status"`
	NextPaymentDate  Time     `json:"next_payment_date"`
	Customer         Customer `json:"customer"`
}

// SubscriptionNotRenew は定期購読が次回更新されないことを通知するイベント。
type SubscriptionNotRenew struct {
	SubscriptionCode string   `json:"subscription_code"`
	EmailToken       string   `json:"email_token"`
	Status           string   `json:"status"`
	NextPaymentDate  Time     `json:"next_payment_date"`
	Customer         Customer `json:"customer"`
}

// ChargeSuccess は課金成功イベント。
// 初回購入と定期課金の両方で送られる。
type ChargeSuccess struct {
	Reference     string          `json:"reference"`
	Status        string          `json:"status"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	PaidAt        Time            `json:"paid_at"`
	Customer      Customer        `json:"customer"`
	Authorization Authorization   `json:"authorization"`
	Plan          PlanRef         `json:"plan"`
	Subscription  SubscriptionRef `json:"subscription"`
}

// HasPlan はプラン購入に伴う課金かを返す。
func (e *ChargeSuccess) HasPlan() bool {
	return e.Plan.PlanCode != "" || e.Subscription.SubscriptionCode != ""
}

// InvoiceCreate は次回請求の請求書作成イベント。
type InvoiceCreate struct {
	InvoiceCode  string          `json:"invoice_code"`
	Amount       int64           `json:"amount"`
	Paid         bool            `json:"paid"`
	PeriodStart  Time            `json:"period_start"`
	PeriodEnd    Time            `json:"period_end"`
	Subscription SubscriptionRef `json:"subscription"`
	Customer     Customer        `json:"customer"`
}

// InvoicePaymentFailed は定期課金の失敗イベント。
type InvoicePaymentFailed struct {
	InvoiceCode  string          `json:"invoice_code"`
	Amount       int64           `json:"amount"`
	Subscription SubscriptionRef `json:"subscription"`
	Customer     Customer        `json:"customer"`
}

// Unknown は処理対象外のイベント。
type Unknown struct {
	Name string
	Data json.RawMessage
}

func (*SubscriptionCreate) EventName() string   { return EventSubscriptionCreate }
func (*SubscriptionDisable) EventName() string  { return EventSubscriptionDisable }
func (*SubscriptionNotRenew) EventName() string { return EventSubscriptionNotRenew }
func (*ChargeSuccess) EventName() string        { return EventChargeSuccess }
func (*InvoiceCreate) EventName() string        { return EventInvoiceCreate }
func (*InvoicePaymentFailed) EventName() string { return EventInvoicePaymentFailed }
func (e *Unknown) EventName() string            { return e.Name }

func (*SubscriptionCreate) isEvent()   {}
func (*SubscriptionDisable) isEvent()  {}
func (*SubscriptionNotRenew) isEvent() {}
func (*ChargeSuccess) isEvent()        {}
func (*InvoiceCreate) isEvent()        {}
func (*InvoicePaymentFailed) isEvent() {}
func (*Unknown) isEvent()              {}

type rawEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseEvent は署名検証済みのWebhookボディをEventへ変換する。
// 未知のイベント名はエラーではなくUnknownを返す。
func ParseEvent(body []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}

	var ev Event
	switch raw.Event {
	case EventSubscriptionCreate:
		ev = &SubscriptionCreate{}
	case EventSubscriptionDisable:
		ev = &SubscriptionDisable{}
	case EventSubscriptionNotRenew:
		ev = &SubscriptionNotRenew{}
	case EventChargeSuccess:
		ev = &ChargeSuccess{}
	case EventInvoiceCreate:
		ev = &InvoiceCreate{}
	case EventInvoicePaymentFailed:
		ev = &InvoicePaymentFailed{}
	default:
		return &Unknown{Name: raw.Event, Data: raw.Data}, nil
	}

	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformedEvent, raw.Event)
	}
	if err := json.Unmarshal(raw.Data, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, raw.Event, err)
	}
	return ev, nil
}
