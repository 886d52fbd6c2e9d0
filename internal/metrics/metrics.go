// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhookイベント処理結果のラベル値。
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeNoop      = "noop"
	OutcomeFailed    = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// Webhook処理、利用量ガード、決済プロバイダー呼び出しから利用する。
type MetricsCollector interface {
	RecordWebhookEvent(event, outcome string)
	RecordWebhookRejected(reason string)
	RecordQuotaDecision(counter string, allowed bool)
	RecordProviderCall(operation string, statusCode int, duration time.Duration)
	RecordUsageReset(count int64)
	RecordSubscriptionExpiry(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	webhookEvents   *prometheus.CounterVec
	webhookRejected *prometheus.CounterVec
	quotaDecisions  *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	usageResets     prometheus.Counter
	expiries        prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoiceman_webhook_events_total",
			Help: "署名検証済みWebhookイベントのイベント種別・処理結果別の件数",
		}, []string{"event", "outcome"}),
		webhookRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoiceman_webhook_rejected_total",
			Help: "署名検証で拒否したWebhookの件数",
		}, []string{"reason"}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoiceman_quota_decisions_total",
			Help: "利用量ガードの判定結果別の件数",
		}, []string{"counter", "decision"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoiceman_provider_requests_total",
			Help: "決済プロバイダーAPI呼び出しの操作・ステータスコード別の件数",
		}, []string{"operation", "status_code"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoiceman_provider_latency_seconds",
			Help:    "決済プロバイダーAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		usageResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invoiceman_usage_resets_total",
			Help: "定期リセットで0に戻した利用量台帳の合計数",
		}),
		expiries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invoiceman_subscription_expiries_total",
			Help: "期間終了により失効させた解約済み契約の合計数",
		}),
	}

	reg.MustRegister(
		c.webhookEvents,
		c.webhookRejected,
		c.quotaDecisions,
		c.providerCalls,
		c.providerLatency,
		c.usageResets,
		c.expiries,
	)

	return c
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(event, outcome string) {
	c.webhookEvents.WithLabelValues(event, outcome).Inc()
}

// RecordWebhookRejected は署名検証で拒否したWebhookを記録する。
func (c *Collector) RecordWebhookRejected(reason string) {
	c.webhookRejected.WithLabelValues(reason).Inc()
}

// RecordQuotaDecision は利用量ガードの判定結果を記録する。
func (c *Collector) RecordQuotaDecision(counter string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	c.quotaDecisions.WithLabelValues(counter, decision).Inc()
}

// RecordProviderCall は決済プロバイダーAPI呼び出しを記録する。
// statusCodeが0の場合は通信エラーとして扱う。
func (c *Collector) RecordProviderCall(operation string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	c.providerCalls.WithLabelValues(operation, status).Inc()
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordUsageReset はリセットした台帳数を記録する。
func (c *Collector) RecordUsageReset(count int64) {
	c.usageResets.Add(float64(count))
}

// RecordSubscriptionExpiry は失効させた契約数を記録する。
func (c *Collector) RecordSubscriptionExpiry(count int64) {
	c.expiries.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
// メトリクスを必要としないテストやサブコマンドで使用する。
type Nop struct{}

func (Nop) RecordWebhookEvent(string, string)             {}
func (Nop) RecordWebhookRejected(string)                  {}
func (Nop) RecordQuotaDecision(string, bool)              {}
func (Nop) RecordProviderCall(string, int, time.Duration) {}
func (Nop) RecordUsageReset(int64)                        {}
func (Nop) RecordSubscriptionExpiry(int64)                {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
