// Package billing はテナントの契約レコードとプラン区分を更新する唯一の状態遷移を提供する。
// Webhookと決済検証の両方の経路がApplySubscriptionStateに集約される。
package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/repository"
)

var (
	// ErrTenantNotFound はイベントやリクエストに対応するテナントが存在しないことを表す。
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrStatusRequired は契約レコードを新規作成する際にstatusが指定されていないことを表す。
	ErrStatusRequired = errors.New("status is required to create a subscription record")
)

// DesiredState は契約レコードに適用したい状態。
// nilのフィールドは既存の値を維持する。
type DesiredState struct {
	PlanType          *model.PlanTier
	SubscriptionCode  *string
	CustomerCode      *string
	AuthorizationCode *string
	EmailToken        *string
	Status            *model.SubscriptionStatus
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (d DesiredState) IsEmpty() bool {
	return d == DesiredState{}
}

func (d DesiredState) patch() repository.SubscriptionPatch {
	return repository.SubscriptionPatch{
		PlanType:          d.PlanType,
		SubscriptionCode:  d.SubscriptionCode,
		CustomerCode:      d.CustomerCode,
		AuthorizationCode: d.AuthorizationCode,
		EmailToken:        d.EmailToken,
		Status:            d.Status,
		PeriodStart:       d.PeriodStart,
		PeriodEnd:         d.PeriodEnd,
		CancelAtPeriodEnd: d.CancelAtPeriodEnd,
	}
}

// SubscriptionStore は状態遷移に必要な契約レコードの操作。
type SubscriptionStore interface {
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)
	Create(ctx context.Context, sub *model.Subscription) error
	Patch(ctx context.Context, userID string, patch repository.SubscriptionPatch) error
}

// TenantStore は状態遷移に必要なテナントの操作。
type TenantStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	UpdatePlanTier(ctx context.Context, id string, tier model.PlanTier) error
}

// Applier はApplySubscriptionStateを実行する。
type Applier struct {
	subs   SubscriptionStore
	users  TenantStore
	now    func() time.Time
	logger *slog.Logger
}

// NewApplier はApplierを生成する。
func NewApplier(subs SubscriptionStore, users TenantStore, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{subs: subs, users: users, now: time.Now, logger: logger}
}

// ApplySubscriptionState はテナントの契約レコードにdesiredを適用する。
//
// 契約レコードが存在しなければ作成し、存在すれば指定されたフィールドのみを更新する。
// その後、PlanTypeが指定されている場合に限りテナントのプラン区分を更新する。
// 契約レコードの書き込みを必ず先に行うため、2つの書き込みの間で失敗しても
// 同じdesiredを再適用すれば整合した状態に収束する。
func (a *Applier) ApplySubscriptionState(ctx context.Context, userID string, desired DesiredState) (*model.Subscription, error) {
	existing, err := a.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}

	if existing == nil {
		if err := a.create(ctx, userID, desired); err != nil {
			if !repository.IsUniqueViolation(err) {
				return nil, err
			}
			// 同一テナントへの同時作成に負けた場合は部分更新として適用する
			a.logger.Info("subscription created concurrently, applying as patch",
				slog.String("user_id", userID),
			)
			if err := a.subs.Patch(ctx, userID, desired.patch()); err != nil {
				return nil, fmt.Errorf("failed to patch subscription: %w", err)
			}
		}
	} else if !desired.IsEmpty() {
		if err := a.subs.Patch(ctx, userID, desired.patch()); err != nil {
			return nil, fmt.Errorf("failed to patch subscription: %w", err)
		}
	}

	if desired.PlanType != nil {
		if err := a.users.UpdatePlanTier(ctx, userID, *desired.PlanType); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrTenantNotFound
			}
			return nil, fmt.Errorf("failed to update plan tier: %w", err)
		}
	}

	sub, err := a.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload subscription: %w", err)
	}

	attrs := []any{slog.String("user_id", userID)}
	if sub != nil {
		attrs = append(attrs,
			slog.String("status", string(sub.Status)),
			slog.String("plan_type", string(sub.PlanType)),
		)
	}
	a.logger.Info("subscription state applied", attrs...)
	return sub, nil
}

func (a *Applier) create(ctx context.Context, userID string, desired DesiredState) error {
	if desired.Status == nil {
		return ErrStatusRequired
	}

	planType := model.PlanTierFree
	if desired.PlanType != nil {
		planType = *desired.PlanType
	} else {
		user, err := a.users.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to find tenant: %w", err)
		}
		if user == nil {
			return ErrTenantNotFound
		}
		planType = user.PlanTier
	}

	now := a.now().UTC()
	sub := &model.Subscription{
		ID:                        uuid.New().String(),
		UserID:                    userID,
		PlanType:                  planType,
		ProviderSubscriptionCode:  desired.SubscriptionCode,
		ProviderCustomerCode:      desired.CustomerCode,
		ProviderAuthorizationCode: desired.AuthorizationCode,
		ProviderEmailToken:        desired.EmailToken,
		Status:                    *desired.Status,
		CurrentPeriodStart:        desired.PeriodStart,
		CurrentPeriodEnd:          desired.PeriodEnd,
		CancelAtPeriodEnd:         desired.CancelAtPeriodEnd,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if err := a.subs.Create(ctx, sub); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}
