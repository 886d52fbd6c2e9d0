// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/invoiceman/internal/model"
)

// UserRepository はテナント（ユーザー）データの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindBySubject は外部IdPのsubject IDでユーザーを取得する。見つからない場合はnilを返す。
	FindBySubject(ctx context.Context, subject string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	// 決済プロバイダーのコードがまだ保存されていない初回イベントでのみ使用する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile はメールアドレスと表示名を更新する。
	UpdateProfile(ctx context.Context, id, email, name string) error

	// UpdatePlanTier はプラン区分を更新する。
	// ApplySubscriptionState以外から呼び出してはならない。
	UpdatePlanTier(ctx context.Context, id string, tier model.PlanTier) error
}

// UsageRepository は利用量台帳の永続化インターフェース。
type UsageRepository interface {
	// Find は指定ユーザーの台帳を取得する。存在しない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.UsageLedger, error)

	// Increment は指定カウンターを1つ加算する。
	// 台帳が存在しない場合はカウンター1、resetAtを指定値として作成する。
	// 単一のUPSERT文で実行し、同一行への同時加算で更新が失われないようにする。
	Increment(ctx context.Context, userID string, counter model.Counter, now, resetAt time.Time) error

	// ResetIfDue はresetAtがnow以前の場合のみ全カウンターを0にし、resetAtをnextResetAtへ進める。
	// リセットした場合はtrueを返す。
	ResetIfDue(ctx context.Context, userID string, now, nextResetAt time.Time) (bool, error)

	// ResetAllDue はresetAtがnow以前の全台帳をリセットし、件数を返す。
	ResetAllDue(ctx context.Context, now, nextResetAt time.Time) (int64, error)
}

// SubscriptionRepository は決済契約レコードの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByUserID はユーザーの契約を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)

	// FindBySubscriptionCode はプロバイダーのsubscription codeで契約を取得する。
	// 見つからない場合はnilを返す。
	FindBySubscriptionCode(ctx context.Context, code string) (*model.Subscription, error)

	// FindByCustomerCode はプロバイダーのcustomer codeで契約を取得する。
	// 見つからない場合はnilを返す。
	FindByCustomerCode(ctx context.Context, code string) (*model.Subscription, error)

	// Create は契約を作成する。user_idが重複する場合はIsUniqueViolationで判定できるエラーを返す。
	Create(ctx context.Context, sub *model.Subscription) error

	// Patch はpatchでnil以外のフィールドのみを更新する。
	// 対象が存在しない場合はsql.ErrNoRowsをラップしたエラーを返す。
	Patch(ctx context.Context, userID string, patch SubscriptionPatch) error
}

// ClientRepository は請求先データの永続化インターフェース。
type ClientRepository interface {
	// Create は請求先を作成する。
	Create(ctx context.Context, client *model.Client) error

	// FindByID はユーザーが所有する請求先を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Client, error)

	// ListByUserID はユーザーの請求先一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Client, error)
}

// InvoiceRepository は請求書データの永続化インターフェース。
type InvoiceRepository interface {
	// Create は請求書を作成する。
	Create(ctx context.Context, invoice *model.Invoice) error

	// FindByID はユーザーが所有する請求書を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Invoice, error)

	// ListByUserID はユーザーの請求書一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Invoice, error)

	// MarkSent は請求書を送信済みにする。
	MarkSent(ctx context.Context, userID, id string, sentAt time.Time) error
}

// SubscriptionPatch は契約レコードの部分更新内容。
// nilのフィールドは既存の値を維持する。
type SubscriptionPatch struct {
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
