// Package webhook は決済プロバイダーから届くWebhookを検証し、契約状態へ反映する。
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/invoiceman/internal/billing"
	"github.com/hitoshi/invoiceman/internal/metrics"
	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/paystack"
)

// SubscriptionLookup はイベントからテナントを特定するための契約レコード検索。
type SubscriptionLookup interface {
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)
	FindBySubscriptionCode(ctx context.Context, code string) (*model.Subscription, error)
	FindByCustomerCode(ctx context.Context, code string) (*model.Subscription, error)
}

// TenantLookup はメールアドレスによるテナント検索。
type TenantLookup interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// StateApplier は契約状態の適用を行う。
type StateApplier interface {
	ApplySubscriptionState(ctx context.Context, userID string, desired billing.DesiredState) (*model.Subscription, error)
}

// Reconciler はWebhookの配信を検証し、イベントをApplySubscriptionStateへ振り分ける。
type Reconciler struct {
	secret  string
	subs    SubscriptionLookup
	users   TenantLookup
	applier StateApplier
	metrics metrics.MetricsCollector
	now     func() time.Time
	logger  *slog.Logger
}

// NewReconciler はReconcilerを生成する。secretはWebhook署名の鍵。
func NewReconciler(secret string, subs SubscriptionLookup, users TenantLookup, applier StateApplier, collector metrics.MetricsCollector, logger *slog.Logger) *Reconciler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		secret:  secret,
		subs:    subs,
		users:   users,
		applier: applier,
		metrics: collector,
		now:     time.Now,
		logger:  logger,
	}
}

// Deliver は1件のWebhook配信を処理する。
// 署名が一致しない場合のみ*model.APIError（SIGNATURE_INVALID）を返し、状態は一切変更しない。
// 署名検証後の失敗（解析不能、テナント不明、保存失敗）はログとメトリクスに残し、nilを返す。
// 同じイベントの再送は冪等に適用される。
func (r *Reconciler) Deliver(ctx context.Context, body []byte, signature string) error {
	if signature == "" {
		r.reject("missing_signature", len(body))
		return model.NewSignatureInvalidError()
	}
	if !paystack.VerifySignature(r.secret, body, signature) {
		r.reject("invalid_signature", len(body))
		return model.NewSignatureInvalidError()
	}

	ev, err := paystack.ParseEvent(body)
	if err != nil {
		r.logger.Error("failed to parse webhook event", slog.String("error", err.Error()))
		r.metrics.RecordWebhookEvent("malformed", metrics.OutcomeFailed)
		return nil
	}

	outcome, err := r.Reconcile(ctx, ev)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, billing.ErrTenantNotFound) {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "webhook event not applied",
			slog.String("event", ev.EventName()),
			slog.String("error", err.Error()),
		)
	}
	r.metrics.RecordWebhookEvent(ev.EventName(), outcome)
	return nil
}

func (r *Reconciler) reject(reason string, size int) {
	r.logger.Warn("webhook signature rejected",
		slog.Bool("security_event", true),
		slog.String("reason", reason),
		slog.Int("body_size", size),
	)
	r.metrics.RecordWebhookRejected(reason)
}

// Reconcile は検証済みのイベントを契約状態へ反映し、処理結果のラベルを返す。
func (r *Reconciler) Reconcile(ctx context.Context, ev paystack.Event) (string, error) {
	now := r.now().UTC()

	switch e := ev.(type) {
	case *paystack.SubscriptionCreate:
		userID, existing, err := r.resolveForActivation(ctx, e.SubscriptionCode, e.Customer.CustomerCode, e.Customer.Email)
		if err != nil {
			return metrics.OutcomeFailed, err
		}
		codes := billing.ProviderCodes{
			SubscriptionCode:  e.SubscriptionCode,
			CustomerCode:      e.Customer.CustomerCode,
			AuthorizationCode: e.Authorization.AuthorizationCode,
			EmailToken:        e.EmailToken,
		}
		if billing.IsReplayedActivation(existing, codes) {
			r.logger.Info("replayed subscription.create ignored",
				slog.String("user_id", userID),
				slog.String("status", string(existing.Status)),
			)
			return metrics.OutcomeNoop, nil
		}
		return r.apply(ctx, ev, userID, billing.DesiredStateForActivation(existing, now, codes, e.CreatedAt.Ptr(), e.NextPaymentDate.Ptr()))

	case *paystack.ChargeSuccess:
		return r.reconcileCharge(ctx, e, now)

	case *paystack.SubscriptionDisable:
		return r.reconcileLifecycle(ctx, ev, e.SubscriptionCode, func(existing *model.Subscription) billing.DesiredState {
			return billing.DesiredStateForDisable(existing, now)
		})

	case *paystack.SubscriptionNotRenew:
		return r.reconcileLifecycle(ctx, ev, e.SubscriptionCode, func(*model.Subscription) billing.DesiredState {
			return billing.DesiredStateForNotRenew()
		})

	case *paystack.InvoicePaymentFailed:
		return r.reconcileLifecycle(ctx, ev, e.Subscription.SubscriptionCode, func(*model.Subscription) billing.DesiredState {
			return billing.DesiredStateForPaymentFailed()
		})

	case *paystack.InvoiceCreate:
		desired := billing.DesiredStateForInvoiceCreate(e.Subscription.NextPaymentDate.Ptr())
		if desired.IsEmpty() {
			r.logger.Info("invoice.create without next payment date",
				slog.String("invoice_code", e.InvoiceCode),
			)
			return metrics.OutcomeNoop, nil
		}
		return r.reconcileLifecycle(ctx, ev, e.Subscription.SubscriptionCode, func(*model.Subscription) billing.DesiredState {
			return desired
		})

	case *paystack.Unknown:
		r.logger.Info("webhook event ignored", slog.String("event", e.Name))
		return metrics.OutcomeIgnored, nil

	default:
		return metrics.OutcomeIgnored, nil
	}
}

// reconcileCharge はcharge.successを処理する。
// 契約レコードがあれば要対応状態からの回復のみを扱い、
// レコードがなくプラン購入に伴う課金であれば初回の有効化として扱う。
func (r *Reconciler) reconcileCharge(ctx context.Context, e *paystack.ChargeSuccess, now time.Time) (string, error) {
	userID, existing, err := r.resolveForActivation(ctx, e.Subscription.SubscriptionCode, e.Customer.CustomerCode, e.Customer.Email)
	if err != nil {
		if errors.Is(err, billing.ErrTenantNotFound) && !e.HasPlan() {
			r.logger.Info("charge.success without plan for unknown tenant",
				slog.String("reference", e.Reference),
			)
			return metrics.OutcomeIgnored, nil
		}
		return metrics.OutcomeFailed, err
	}

	if existing != nil {
		if existing.Status != model.SubscriptionStatusAttention {
			r.logger.Info("charge.success does not change subscription",
				slog.String("user_id", userID),
				slog.String("status", string(existing.Status)),
			)
			return metrics.OutcomeNoop, nil
		}
		return r.apply(ctx, e, userID, billing.DesiredStateForReactivation())
	}

	if !e.HasPlan() {
		r.logger.Info("charge.success without plan ignored",
			slog.String("user_id", userID),
			slog.String("reference", e.Reference),
		)
		return metrics.OutcomeIgnored, nil
	}

	codes := billing.ProviderCodes{
		SubscriptionCode:  e.Subscription.SubscriptionCode,
		CustomerCode:      e.Customer.CustomerCode,
		AuthorizationCode: e.Authorization.AuthorizationCode,
		EmailToken:        e.Subscription.EmailToken,
	}
	return r.apply(ctx, e, userID, billing.DesiredStateForActivation(nil, now, codes, e.PaidAt.Ptr(), e.Subscription.NextPaymentDate.Ptr()))
}

func (r *Reconciler) apply(ctx context.Context, ev paystack.Event, userID string, desired billing.DesiredState) (string, error) {
	if _, err := r.applier.ApplySubscriptionState(ctx, userID, desired); err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("apply %s for user %s: %w", ev.EventName(), userID, err)
	}
	r.logger.Info("webhook event processed",
		slog.String("event", ev.EventName()),
		slog.String("user_id", userID),
	)
	return metrics.OutcomeProcessed, nil
}

// reconcileLifecycle は既存の契約に対するイベント（解約、更新停止、支払い失敗、請求作成）を適用する。
// 対象はsubscription codeの完全一致でのみ特定する。codeが無い、または一致する契約が無い場合は
// 何も変更せずログに残す。customer codeやメールアドレスでは検索しない。
func (r *Reconciler) reconcileLifecycle(ctx context.Context, ev paystack.Event, subscriptionCode string, desiredFor func(existing *model.Subscription) billing.DesiredState) (string, error) {
	if subscriptionCode == "" {
		r.logger.Warn("webhook event without subscription code ignored",
			slog.String("event", ev.EventName()),
		)
		return metrics.OutcomeIgnored, nil
	}

	sub, err := r.subs.FindBySubscriptionCode(ctx, subscriptionCode)
	if err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("find by subscription code: %w", err)
	}
	if sub == nil {
		r.logger.Warn("webhook event for unknown subscription ignored",
			slog.String("event", ev.EventName()),
			slog.String("subscription_code", subscriptionCode),
		)
		return metrics.OutcomeNoop, nil
	}

	return r.apply(ctx, ev, sub.UserID, desiredFor(sub))
}

// resolveForActivation は有効化イベント（subscription.create、charge.success）の対象テナントを特定する。
// subscription code、customer codeの順にインデックス検索し、
// emailが指定された場合に限り最後にメールアドレスで検索する。
func (r *Reconciler) resolveForActivation(ctx context.Context, subscriptionCode, customerCode, email string) (string, *model.Subscription, error) {
	if subscriptionCode != "" {
		sub, err := r.subs.FindBySubscriptionCode(ctx, subscriptionCode)
		if err != nil {
			return "", nil, fmt.Errorf("find by subscription code: %w", err)
		}
		if sub != nil {
			return sub.UserID, sub, nil
		}
	}

	if customerCode != "" {
		sub, err := r.subs.FindByCustomerCode(ctx, customerCode)
		if err != nil {
			return "", nil, fmt.Errorf("find by customer code: %w", err)
		}
		if sub != nil {
			return sub.UserID, sub, nil
		}
	}

	if email != "" {
		user, err := r.users.FindByEmail(ctx, email)
		if err != nil {
			return "", nil, fmt.Errorf("find by email: %w", err)
		}
		if user != nil {
			existing, err := r.subs.FindByUserID(ctx, user.ID)
			if err != nil {
				return "", nil, fmt.Errorf("find subscription: %w", err)
			}
			return user.ID, existing, nil
		}
	}

	return "", nil, billing.ErrTenantNotFound
}
