package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/invoiceman/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した決済契約リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, plan_type, provider_subscription_code, provider_customer_code,
	provider_authorization_code, provider_email_token, status, current_period_start,
	current_period_end, cancel_at_period_end, created_at, updated_at`

// FindByUserID はユーザーの契約を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	return r.findOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
}

// FindBySubscriptionCode はsubscription codeで契約を取得する。
func (r *PostgresSubscriptionRepo) FindBySubscriptionCode(ctx context.Context, code string) (*model.Subscription, error) {
	return r.findOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_subscription_code = $1`, code)
}

// FindByCustomerCode はcustomer codeで契約を取得する。
// 同一顧客に複数の契約が紐づく場合は最も新しく更新されたものを返す。
func (r *PostgresSubscriptionRepo) FindByCustomerCode(ctx context.Context, code string) (*model.Subscription, error) {
	return r.findOne(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE provider_customer_code = $1 ORDER BY updated_at DESC LIMIT 1`,
		code,
	)
}

// ListLapsedUserIDs は解約済みで契約期間がnow以前に終了したテナントのIDを返す。
func (r *PostgresSubscriptionRepo) ListLapsedUserIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM subscriptions
		 WHERE status = $1 AND current_period_end IS NOT NULL AND current_period_end <= $2
		 ORDER BY current_period_end`,
		string(model.SubscriptionStatusCancelled), now,
	)
	if err != nil {
		return nil, fmt.Errorf("期間終了した契約の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("期間終了した契約の読み込みに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("期間終了した契約の読み込みに失敗しました: %w", err)
	}
	return ids, nil
}

func (r *PostgresSubscriptionRepo) findOne(ctx context.Context, query, arg string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var (
		planType, status                        string
		subCode, custCode, authCode, emailToken sql.NullString
		periodStart, periodEnd                  sql.NullTime
		cancelAtPeriodEnd                       sql.NullBool
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&sub.ID, &sub.UserID, &planType, &subCode, &custCode, &authCode, &emailToken,
		&status, &periodStart, &periodEnd, &cancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("契約の取得に失敗しました: %w", err)
	}

	sub.PlanType = model.PlanTier(planType)
	sub.Status = model.SubscriptionStatus(status)
	sub.ProviderSubscriptionCode = nullStringPtr(subCode)
	sub.ProviderCustomerCode = nullStringPtr(custCode)
	sub.ProviderAuthorizationCode = nullStringPtr(authCode)
	sub.ProviderEmailToken = nullStringPtr(emailToken)
	if periodStart.Valid {
		sub.CurrentPeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	if cancelAtPeriodEnd.Valid {
		sub.CancelAtPeriodEnd = &cancelAtPeriodEnd.Bool
	}
	return sub, nil
}

// Create は契約を作成する。未設定の任意項目はNULLで保存する。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.UserID, string(sub.PlanType),
		sub.ProviderSubscriptionCode, sub.ProviderCustomerCode,
		sub.ProviderAuthorizationCode, sub.ProviderEmailToken,
		string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("契約の作成に失敗しました: %w", err)
	}
	return nil
}

// Patch はpatchでnil以外のフィールドのみを更新する。
// COALESCEにより、NULLで渡された項目は既存の値を維持する。
func (r *PostgresSubscriptionRepo) Patch(ctx context.Context, userID string, patch SubscriptionPatch) error {
	var planType, status *string
	if patch.PlanType != nil {
		v := string(*patch.PlanType)
		planType = &v
	}
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET
		   plan_type = COALESCE($2::text, plan_type),
		   provider_subscription_code = COALESCE($3::text, provider_subscription_code),
		   provider_customer_code = COALESCE($4::text, provider_customer_code),
		   provider_authorization_code = COALESCE($5::text, provider_authorization_code),
		   provider_email_token = COALESCE($6::text, provider_email_token),
		   status = COALESCE($7::text, status),
		   current_period_start = COALESCE($8::timestamptz, current_period_start),
		   current_period_end = COALESCE($9::timestamptz, current_period_end),
		   cancel_at_period_end = COALESCE($10::boolean, cancel_at_period_end),
		   updated_at = $11
		 WHERE user_id = $1`,
		userID, planType,
		patch.SubscriptionCode, patch.CustomerCode, patch.AuthorizationCode, patch.EmailToken,
		status, patch.PeriodStart, patch.PeriodEnd, patch.CancelAtPeriodEnd,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("契約の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("契約が見つかりません: user_id=%s: %w", userID, sql.ErrNoRows)
	}
	return nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
