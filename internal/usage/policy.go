package usage

import "github.com/hitoshi/invoiceman/internal/model"

// Limit はカウンターごとの作成上限。
// Unlimitedがtrueの場合は上限なしで、Maxは参照しない。
type Limit struct {
	Max       int
	Unlimited bool
}

// Allows はcountがこの上限の範囲内で、もう1件作成できるかを返す。
func (l Limit) Allows(count int) bool {
	return l.Unlimited || count < l.Max
}

var freeLimits = map[model.Counter]Limit{
	model.CounterClients:  {Max: 3},
	model.CounterInvoices: {Max: 5},
	model.CounterEmails:   {Max: 5},
}

// LimitFor はプラン区分とカウンターに対応する上限を返す。
// 未知のプラン区分は無料プランとして扱う。
func LimitFor(tier model.PlanTier, counter model.Counter) Limit {
	if tier == model.PlanTierPro {
		return Limit{Unlimited: true}
	}
	return freeLimits[counter]
}

// Allows はテナントが指定カウンターの対象をもう1件作成できるかを返す。
// nilの台帳は全カウンター0として扱う。
func Allows(tier model.PlanTier, ledger *model.UsageLedger, counter model.Counter) bool {
	return LimitFor(tier, counter).Allows(ledger.Count(counter))
}

// CanCreateClient はクライアントを作成できるかを返す。
func CanCreateClient(tier model.PlanTier, ledger *model.UsageLedger) bool {
	return Allows(tier, ledger, model.CounterClients)
}

// CanCreateInvoice は請求書を作成できるかを返す。
func CanCreateInvoice(tier model.PlanTier, ledger *model.UsageLedger) bool {
	return Allows(tier, ledger, model.CounterInvoices)
}

// CanSendEmail はメールを送信できるかを返す。
func CanSendEmail(tier model.PlanTier, ledger *model.UsageLedger) bool {
	return Allows(tier, ledger, model.CounterEmails)
}
