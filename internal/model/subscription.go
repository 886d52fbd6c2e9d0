package model

import "time"

// SubscriptionStatus は決済プロバイダーとの契約のライフサイクル状態を表す。
type SubscriptionStatus string

const (
	// SubscriptionStatusActive は有効な契約。
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusCancelled は解約済み（期間終了まで利用可能な場合を含む）。
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	// SubscriptionStatusExpired は期間終了により失効した契約。
	SubscriptionStatusExpired SubscriptionStatus = "expired"
	// SubscriptionStatusAttention は支払い失敗などで要対応の契約。
	SubscriptionStatusAttention SubscriptionStatus = "attention"
)

// Valid は状態が既知の値かを返す。
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusCancelled,
		SubscriptionStatusExpired, SubscriptionStatusAttention:
		return true
	}
	return false
}

// Subscription はテナントと決済プロバイダーの契約レコードを表す。
// テナントごとに最大1件で、物理削除はしない（解約は状態の変更で表現する）。
// 任意項目はポインタで保持し、未設定はnil（NULL）とする。
type Subscription struct {
	ID                        string
	UserID                    string
	PlanType                  PlanTier
	ProviderSubscriptionCode  *string
	ProviderCustomerCode      *string
	ProviderAuthorizationCode *string
	ProviderEmailToken        *string
	Status                    SubscriptionStatus
	CurrentPeriodStart        *time.Time
	CurrentPeriodEnd          *time.Time
	CancelAtPeriodEnd         *bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// PeriodEnded は現在の契約期間がnow時点で終了しているかを返す。
// 期間終了日時が未設定の場合は終了済みとみなす。
func (s *Subscription) PeriodEnded(now time.Time) bool {
	if s.CurrentPeriodEnd == nil {
		return true
	}
	return !now.Before(*s.CurrentPeriodEnd)
}
