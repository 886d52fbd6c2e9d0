// Package user はテナントのプロフィール参照を提供する。
package user

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/usage"
)

// UserFinder はテナントの検索インターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SubscriptionFinder は契約レコードの検索インターフェース。
type SubscriptionFinder interface {
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)
}

// UsageReporter は利用状況レポートの取得インターフェース。
type UsageReporter interface {
	CheckUsageLimits(ctx context.Context, userID string) (*usage.Report, error)
}

// SubscriptionSummary はプロフィールに含める契約の概要。
type SubscriptionSummary struct {
	Status            model.SubscriptionStatus `json:"status"`
	PlanType          model.PlanTier           `json:"plan_type"`
	CurrentPeriodEnd  *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool                     `json:"cancel_at_period_end"`
}

// Profile は /api/me で返すテナントのプロフィール。
type Profile struct {
	ID           string               `json:"id"`
	Email        string               `json:"email"`
	Name         string               `json:"name"`
	PlanTier     model.PlanTier       `json:"plan_tier"`
	Subscription *SubscriptionSummary `json:"subscription"`
	Usage        *usage.Report        `json:"usage"`
}

// Service はユーザー管理のサービス層。
type Service struct {
	users UserFinder
	subs  SubscriptionFinder
	usage UsageReporter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users UserFinder, subs SubscriptionFinder, usage UsageReporter) *Service {
	return &Service{users: users, subs: subs, usage: usage}
}

// GetProfile はテナント、契約の概要、利用状況をまとめて返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}

	profile := &Profile{
		ID:       u.ID,
		Email:    u.Email,
		Name:     u.Name,
		PlanTier: u.PlanTier,
	}

	sub, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("契約の取得に失敗しました: %w", err)
	}
	if sub != nil {
		profile.Subscription = &SubscriptionSummary{
			Status:            sub.Status,
			PlanType:          sub.PlanType,
			CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd != nil && *sub.CancelAtPeriodEnd,
		}
	}

	report, err := s.usage.CheckUsageLimits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("利用状況の取得に失敗しました: %w", err)
	}
	profile.Usage = report

	return profile, nil
}
