// Package expiry は期間終了した解約済み契約を失効させるジョブを提供する。
// subscription.disableイベントが届かなかった場合でも、期間終了後に無料プランへ戻す。
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/invoiceman/internal/billing"
	"github.com/hitoshi/invoiceman/internal/metrics"
	"github.com/hitoshi/invoiceman/internal/model"
)

// Lister は期間終了した解約済み契約のテナントを列挙する。
type Lister interface {
	ListLapsedUserIDs(ctx context.Context, now time.Time) ([]string, error)
}

// SubscriptionFinder は契約レコードの検索。
type SubscriptionFinder interface {
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)
}

// StateApplier は契約状態の適用を行う。
type StateApplier interface {
	ApplySubscriptionState(ctx context.Context, userID string, desired billing.DesiredState) (*model.Subscription, error)
}

// Job は失効ジョブ。冪等で、対象がない場合も成功する。
type Job struct {
	lister  Lister
	subs    SubscriptionFinder
	applier StateApplier
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewJob は新しいJobを生成する。
func NewJob(lister Lister, subs SubscriptionFinder, applier StateApplier, collector metrics.MetricsCollector, logger *slog.Logger) *Job {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		lister:  lister,
		subs:    subs,
		applier: applier,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Run は期間終了した解約済み契約を失効させ、件数を返す。
// 1件の失敗で他のテナントの処理は止めない。
func (j *Job) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	now := j.now().UTC()

	ids, err := j.lister.ListLapsedUserIDs(ctx, now)
	if err != nil {
		j.logger.Error("契約失効ジョブの対象取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("失効対象の取得に失敗: %w", err)
	}

	var count, failed int64
	for _, userID := range ids {
		expired, err := j.expire(ctx, userID, now)
		if err != nil {
			failed++
			j.logger.Error("契約の失効に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if expired {
			count++
		}
	}

	j.metrics.RecordSubscriptionExpiry(count)
	j.logger.Info("契約失効ジョブが完了しました",
		slog.Int64("expired_count", count),
		slog.Int64("failed_count", failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	if failed > 0 {
		return count, fmt.Errorf("%d件の契約の失効に失敗しました", failed)
	}
	return count, nil
}

// expire は一覧取得後に再開された契約を失効させないよう、最新の状態を確認してから適用する。
func (j *Job) expire(ctx context.Context, userID string, now time.Time) (bool, error) {
	sub, err := j.subs.FindByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	if sub == nil || sub.Status != model.SubscriptionStatusCancelled || sub.CurrentPeriodEnd == nil || !sub.PeriodEnded(now) {
		return false, nil
	}
	if _, err := j.applier.ApplySubscriptionState(ctx, userID, billing.DesiredStateForExpiry()); err != nil {
		return false, err
	}
	j.logger.Info("subscription expired", slog.String("user_id", userID))
	return true, nil
}

// Start は起動直後に1回実行し、以降interval間隔で実行する。
// ctxがキャンセルされるまでブロックする。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
