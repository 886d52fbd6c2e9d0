package billing

import (
	"time"

	"github.com/hitoshi/invoiceman/internal/model"
)

// DefaultPeriod はプロバイダーが次回支払日を返さない場合の契約期間。
const DefaultPeriod = 30 * 24 * time.Hour

// ProviderCodes はプロバイダー側で採番された識別子。空文字は未指定として扱う。
type ProviderCodes struct {
	SubscriptionCode  string
	CustomerCode      string
	AuthorizationCode string
	EmailToken        string
}

func (c ProviderCodes) apply(d *DesiredState) {
	d.SubscriptionCode = optString(c.SubscriptionCode)
	d.CustomerCode = optString(c.CustomerCode)
	d.AuthorizationCode = optString(c.AuthorizationCode)
	d.EmailToken = optString(c.EmailToken)
}

// DesiredStateForActivation はsubscription.createイベント（初回のcharge.successを含む）の適用状態を返す。
// 期間開始はstartedAt、未指定の場合はnowとする。期間終了はnextPaymentDate、未指定の場合は期間開始 + 30日とする。
// 同じsubscription codeの契約に期間開始が記録済みであれば、その期間を引き継ぐ。
func DesiredStateForActivation(existing *model.Subscription, now time.Time, codes ProviderCodes, startedAt, nextPaymentDate *time.Time) DesiredState {
	start := now
	if startedAt != nil && !startedAt.IsZero() {
		start = *startedAt
	}
	end := start.Add(DefaultPeriod)
	if sameSubscription(existing, codes) && existing.CurrentPeriodStart != nil {
		start = *existing.CurrentPeriodStart
		end = start.Add(DefaultPeriod)
		if existing.CurrentPeriodEnd != nil {
			end = *existing.CurrentPeriodEnd
		}
	}
	if nextPaymentDate != nil && !nextPaymentDate.IsZero() {
		end = *nextPaymentDate
	}
	d := DesiredState{
		PlanType:          ptr(model.PlanTierPro),
		Status:            ptr(model.SubscriptionStatusActive),
		PeriodStart:       ptr(start),
		PeriodEnd:         ptr(end),
		CancelAtPeriodEnd: ptr(false),
	}
	codes.apply(&d)
	return d
}

// IsReplayedActivation は有効化イベントが既に記録済みの定期購読に対するもので、
// その後に解約や失効、支払い失敗で状態が進んでいるかを返す。
func IsReplayedActivation(existing *model.Subscription, codes ProviderCodes) bool {
	return sameSubscription(existing, codes) && existing.Status != model.SubscriptionStatusActive
}

func sameSubscription(existing *model.Subscription, codes ProviderCodes) bool {
	return existing != nil && codes.SubscriptionCode != "" &&
		existing.ProviderSubscriptionCode != nil && *existing.ProviderSubscriptionCode == codes.SubscriptionCode
}

// DesiredStateForCheckout は決済検証に成功した場合の適用状態を返す。
// 契約期間は支払日時paidAtから1か月とする。
func DesiredStateForCheckout(paidAt time.Time, codes ProviderCodes) DesiredState {
	d := DesiredState{
		PlanType:          ptr(model.PlanTierPro),
		Status:            ptr(model.SubscriptionStatusActive),
		PeriodStart:       ptr(paidAt),
		PeriodEnd:         ptr(paidAt.AddDate(0, 1, 0)),
		CancelAtPeriodEnd: ptr(false),
	}
	codes.apply(&d)
	return d
}

// DesiredStateForReactivation は要対応状態から支払いが回復した場合の適用状態を返す。
// プラン区分は変更しない。
func DesiredStateForReactivation() DesiredState {
	return DesiredState{Status: ptr(model.SubscriptionStatusActive)}
}

// DesiredStateForDisable はsubscription.disableイベントの適用状態を返す。
// 契約期間が終了している（または終了日時が不明な）場合は失効として無料プランへ戻し、
// 期間が残っている場合は解約済みとして期間終了までプラン区分を維持する。
func DesiredStateForDisable(existing *model.Subscription, now time.Time) DesiredState {
	if existing == nil || existing.PeriodEnded(now) {
		return DesiredState{
			PlanType: ptr(model.PlanTierFree),
			Status:   ptr(model.SubscriptionStatusExpired),
		}
	}
	return DesiredState{
		Status:            ptr(model.SubscriptionStatusCancelled),
		CancelAtPeriodEnd: ptr(true),
	}
}

// DesiredStateForExpiry は解約済み契約の期間が終了した場合の適用状態を返す。
func DesiredStateForExpiry() DesiredState {
	return DesiredState{
		PlanType: ptr(model.PlanTierFree),
		Status:   ptr(model.SubscriptionStatusExpired),
	}
}

// DesiredStateForNotRenew はsubscription.not_renewイベントおよびユーザーによる解約の適用状態を返す。
// 期間終了日時とプラン区分は変更しない。
func DesiredStateForNotRenew() DesiredState {
	return DesiredState{
		Status:            ptr(model.SubscriptionStatusCancelled),
		CancelAtPeriodEnd: ptr(true),
	}
}

// DesiredStateForResume は解約予約を取り消した場合の適用状態を返す。
func DesiredStateForResume() DesiredState {
	return DesiredState{
		Status:            ptr(model.SubscriptionStatusActive),
		CancelAtPeriodEnd: ptr(false),
	}
}

// DesiredStateForPaymentFailed はinvoice.payment_failedイベントの適用状態を返す。
// 直ちにプランを取り消さず、要対応状態にする。
func DesiredStateForPaymentFailed() DesiredState {
	return DesiredState{Status: ptr(model.SubscriptionStatusAttention)}
}

// DesiredStateForInvoiceCreate はinvoice.createイベントの適用状態を返す。
// 次回支払日が含まれる場合のみ期間終了を更新する。
func DesiredStateForInvoiceCreate(nextPaymentDate *time.Time) DesiredState {
	if nextPaymentDate == nil || nextPaymentDate.IsZero() {
		return DesiredState{}
	}
	return DesiredState{PeriodEnd: ptr(*nextPaymentDate)}
}

func ptr[T any](v T) *T {
	return &v
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
