// Package checkout はProプランの決済開始、決済結果の検証、解約と再開を提供する。
// 決済結果の反映はWebhookと同じくApplySubscriptionStateを経由する。
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/invoiceman/internal/billing"
	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/paystack"
)

// Provider は決済フローで使うプロバイダー操作。
type Provider interface {
	InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Transaction, error)
	FetchSubscription(ctx context.Context, idOrCode string) (*paystack.Subscription, error)
	DisableSubscription(ctx context.Context, code, emailToken string) error
	EnableSubscription(ctx context.Context, code, emailToken string) error
}

// UserFinder はテナントの検索。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SubscriptionFinder は契約レコードの検索。
type SubscriptionFinder interface {
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)
}

// StateApplier は契約状態の適用を行う。
type StateApplier interface {
	ApplySubscriptionState(ctx context.Context, userID string, desired billing.DesiredState) (*model.Subscription, error)
}

// InitializeResult は決済開始の結果。
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// VerifyResult は決済検証の結果。
type VerifyResult struct {
	Success      bool                `json:"success"`
	Reference    string              `json:"reference"`
	Amount       int64               `json:"amount"`
	Currency     string              `json:"currency"`
	Subscription *model.Subscription `json:"-"`
}

// Service は決済フローを実行する。
type Service struct {
	provider    Provider
	plans       *PlanResolver
	users       UserFinder
	subs        SubscriptionFinder
	applier     StateApplier
	callbackURL string
	now         func() time.Time
	logger      *slog.Logger
}

// NewService はServiceを生成する。callbackURLは決済ページからの戻り先。
func NewService(provider Provider, plans *PlanResolver, users UserFinder, subs SubscriptionFinder, applier StateApplier, callbackURL string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:    provider,
		plans:       plans,
		users:       users,
		subs:        subs,
		applier:     applier,
		callbackURL: callbackURL,
		now:         time.Now,
		logger:      logger,
	}
}

// Initialize はProプランの決済を開始し、決済ページのURLを返す。
// emailが空の場合はテナントに登録されたメールアドレスを使う。
func (s *Service) Initialize(ctx context.Context, userID, email string) (*InitializeResult, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if email == "" {
		email = user.Email
	}
	if email == "" {
		return nil, model.NewInvalidRequestError("メールアドレスが必要です")
	}

	planCode, err := s.plans.Resolve(ctx)
	if err != nil {
		return nil, providerError(err)
	}

	spec := s.plans.Spec()
	res, err := s.provider.InitializeTransaction(ctx, paystack.InitializeRequest{
		Email:       email,
		Amount:      spec.Amount,
		Currency:    spec.Currency,
		Plan:        planCode,
		CallbackURL: s.callbackURL,
		Metadata: map[string]string{
			"user_id":   user.ID,
			"plan_type": string(model.PlanTierPro),
		},
	})
	if err != nil {
		return nil, providerError(err)
	}

	s.logger.Info("checkout initialized",
		slog.String("user_id", user.ID),
		slog.String("reference", res.Reference),
	)
	return &InitializeResult{
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		Reference:        res.Reference,
	}, nil
}

// Verify は取引参照番号の決済結果を検証し、成功していればProプランを有効化する。
// 取引のメタデータに記録されたテナントがuserIDと一致しない場合は状態を変更しない。
func (s *Service) Verify(ctx context.Context, userID, reference string) (*VerifyResult, error) {
	if userID == "" {
		return nil, model.NewUserNotFoundError()
	}
	return s.verify(ctx, reference, userID)
}

// VerifyCallback は決済ページからのリダイレクトを検証する。
// 認証情報を持たないため、テナントは取引開始時に付与したメタデータから決める。
func (s *Service) VerifyCallback(ctx context.Context, reference string) (*VerifyResult, error) {
	return s.verify(ctx, reference, "")
}

func (s *Service) verify(ctx context.Context, reference, expectUser string) (*VerifyResult, error) {
	if reference == "" {
		return nil, model.NewNoReferenceError()
	}
	if expectUser != "" {
		if _, err := s.findUser(ctx, expectUser); err != nil {
			return nil, err
		}
	}

	tx, err := s.provider.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, providerError(err)
	}
	if !tx.Succeeded() {
		s.logger.Info("checkout payment not successful",
			slog.String("user_id", expectUser),
			slog.String("reference", reference),
			slog.String("status", tx.Status),
		)
		return nil, model.NewPaymentNotSuccessfulError(tx.Status)
	}

	owner := tx.Metadata.UserID
	if owner == "" || (expectUser != "" && owner != expectUser) {
		s.logger.Warn("checkout reference owner mismatch",
			slog.String("user_id", expectUser),
			slog.String("owner", owner),
			slog.String("reference", reference),
		)
		return nil, model.NewReferenceMismatchError()
	}
	if expectUser == "" {
		if _, err := s.findUser(ctx, owner); err != nil {
			return nil, err
		}
	}
	if err := s.checkPlan(ctx, tx); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	existing, err := s.subs.FindByUserID(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}

	paidAt := now
	if p := tx.PaidAt.Ptr(); p != nil {
		paidAt = p.UTC()
	} else if existing != nil && existing.Status == model.SubscriptionStatusActive && !existing.PeriodEnded(now) {
		// 支払日時が不明な取引は、有効な契約期間を延長しない。
		return verifyResult(tx, existing), nil
	}
	if !paidAt.AddDate(0, 1, 0).After(now) {
		s.logger.Info("checkout reference expired",
			slog.String("user_id", owner),
			slog.String("reference", reference),
		)
		return nil, model.NewReferenceExpiredError()
	}
	if existing != nil && existing.CurrentPeriodStart != nil && !paidAt.After(*existing.CurrentPeriodStart) {
		if existing.Status == model.SubscriptionStatusActive {
			return verifyResult(tx, existing), nil
		}
		return nil, model.NewReferenceExpiredError()
	}

	desired := billing.DesiredStateForCheckout(paidAt, billing.ProviderCodes{
		CustomerCode:      tx.Customer.CustomerCode,
		AuthorizationCode: tx.Authorization.AuthorizationCode,
	})
	sub, err := s.applier.ApplySubscriptionState(ctx, owner, desired)
	if err != nil {
		if errors.Is(err, billing.ErrTenantNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("failed to activate subscription: %w", err)
	}
	s.logger.Info("checkout verified",
		slog.String("user_id", owner),
		slog.String("reference", reference),
	)
	return verifyResult(tx, sub), nil
}

// checkPlan は取引がProプランの決済であることを確認する。
// プランコードがあればそれを、なければ金額と通貨を照合する。
func (s *Service) checkPlan(ctx context.Context, tx *paystack.Transaction) error {
	if tx.Metadata.PlanType != "" && tx.Metadata.PlanType != string(model.PlanTierPro) {
		return model.NewInvalidPlanError(tx.Metadata.PlanType)
	}
	if tx.Plan.PlanCode != "" {
		planCode, err := s.plans.Resolve(ctx)
		if err != nil {
			return providerError(err)
		}
		if tx.Plan.PlanCode != planCode {
			return model.NewInvalidPlanError(tx.Plan.PlanCode)
		}
		return nil
	}
	spec := s.plans.Spec()
	if tx.Amount != spec.Amount || !strings.EqualFold(tx.Currency, spec.Currency) {
		return model.NewInvalidPlanError(fmt.Sprintf("%d %s", tx.Amount, tx.Currency))
	}
	return nil
}

func verifyResult(tx *paystack.Transaction, sub *model.Subscription) *VerifyResult {
	return &VerifyResult{
		Success:      true,
		Reference:    tx.Reference,
		Amount:       tx.Amount,
		Currency:     tx.Currency,
		Subscription: sub,
	}
}

// Cancel は定期購読の更新を停止する。
// プラン区分は変更せず、期間終了時のsubscription.disableイベントで無料プランへ戻る。
func (s *Service) Cancel(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.findSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	desired := billing.DesiredStateForNotRenew()
	if sub.ProviderSubscriptionCode != nil {
		token, err := s.emailToken(ctx, sub)
		if err != nil {
			return nil, err
		}
		if err := s.provider.DisableSubscription(ctx, *sub.ProviderSubscriptionCode, token); err != nil {
			return nil, providerError(err)
		}
		desired.EmailToken = &token
	}

	updated, err := s.applier.ApplySubscriptionState(ctx, userID, desired)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	s.logger.Info("subscription cancelled", slog.String("user_id", userID))
	return updated, nil
}

// Resume は解約予約を取り消し、定期購読を再開する。
// 失効済みの契約は再開できない。
func (s *Service) Resume(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.findSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status == model.SubscriptionStatusExpired {
		return nil, model.NewInvalidRequestError("契約期間が終了しているため再開できません")
	}

	desired := billing.DesiredStateForResume()
	if sub.ProviderSubscriptionCode != nil {
		token, err := s.emailToken(ctx, sub)
		if err != nil {
			return nil, err
		}
		if err := s.provider.EnableSubscription(ctx, *sub.ProviderSubscriptionCode, token); err != nil {
			return nil, providerError(err)
		}
		desired.EmailToken = &token
	}

	updated, err := s.applier.ApplySubscriptionState(ctx, userID, desired)
	if err != nil {
		return nil, fmt.Errorf("failed to resume subscription: %w", err)
	}
	s.logger.Info("subscription resumed", slog.String("user_id", userID))
	return updated, nil
}

// GetSubscription はテナントの契約レコードを返す。存在しない場合はnilを返す。
func (s *Service) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

// emailToken は停止・再開に必要なemail tokenを返す。
// 保存されていない場合はプロバイダーから取得する。
func (s *Service) emailToken(ctx context.Context, sub *model.Subscription) (string, error) {
	if sub.ProviderEmailToken != nil && *sub.ProviderEmailToken != "" {
		return *sub.ProviderEmailToken, nil
	}
	fetched, err := s.provider.FetchSubscription(ctx, *sub.ProviderSubscriptionCode)
	if err != nil {
		return "", providerError(err)
	}
	return fetched.EmailToken, nil
}

func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) findSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	if sub == nil {
		return nil, model.NewSubscriptionNotFoundError()
	}
	return sub, nil
}

// providerError はプロバイダー呼び出しの失敗をAPIErrorへ変換する。
func providerError(err error) error {
	var perr *paystack.Error
	msg := err.Error()
	if errors.As(err, &perr) {
		msg = perr.Message
	}
	if errors.Is(err, paystack.ErrRejected) {
		return model.NewProviderRejectedError(msg)
	}
	return model.NewProviderUnavailableError(msg)
}
