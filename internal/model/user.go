// Package model はドメインモデルを定義する。
package model

import "time"

// PlanTier はテナントのプラン区分を表す。
// Plan Policyが参照する唯一の正となる値で、最新のサブスクリプション状態と常に整合させる。
type PlanTier string

const (
	// PlanTierFree は無料プラン。作成数に上限がある。
	PlanTierFree PlanTier = "free"
	// PlanTierPro は有料プラン。作成数の上限はない。
	PlanTierPro PlanTier = "pro"
)

// Valid はプラン区分が既知の値かを返す。
func (t PlanTier) Valid() bool {
	return t == PlanTierFree || t == PlanTierPro
}

// User はサービス利用テナント（ユーザー）を表す。
// Subjectは外部IdPのsubject IDで、初回サインイン時にレコードが作成される。
type User struct {
	ID        string
	Subject   string
	Email     string
	Name      string
	PlanTier  PlanTier
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPro はテナントが有料プランかを返す。
func (u *User) IsPro() bool {
	return u.PlanTier == PlanTierPro
}
