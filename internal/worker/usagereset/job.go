// Package usagereset は利用量台帳の定期リセットジョブを提供する。
// リセット日時を過ぎた全テナントの台帳を0に戻し、次回リセット日時を翌月1日に進める。
// リクエスト時の遅延リセットと同じ条件で動くため、どちらが先に実行されても結果は同じになる。
package usagereset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/invoiceman/internal/metrics"
)

// Resetter は期限切れ台帳の一括リセットを行う。usage.Ledgerが満たす。
type Resetter interface {
	ResetAllDue(ctx context.Context) (int64, error)
}

// Job は利用量台帳のリセットジョブ。冪等で、対象がない場合も成功する。
type Job struct {
	ledger  Resetter
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewJob は新しいJobを生成する。
func NewJob(ledger Resetter, collector metrics.MetricsCollector, logger *slog.Logger) *Job {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		ledger:  ledger,
		metrics: collector,
		logger:  logger,
	}
}

// Run はリセット日時を過ぎた台帳をリセットし、件数を返す。
func (j *Job) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	count, err := j.ledger.ResetAllDue(ctx)
	if err != nil {
		j.logger.Error("利用量リセットジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("利用量リセットの実行に失敗: %w", err)
	}

	j.metrics.RecordUsageReset(count)

	duration := time.Since(start)
	j.logger.Info("利用量リセットジョブが完了しました",
		slog.Int64("reset_count", count),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return count, nil
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
