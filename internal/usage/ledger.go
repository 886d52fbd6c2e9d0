// Package usage はテナントごとの利用量台帳とプランごとの作成上限の判定を提供する。
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/repository"
)

// InitialResetPeriod は台帳を新規作成したときの最初のリセットまでの期間。
const InitialResetPeriod = 30 * 24 * time.Hour

// Ledger は利用量台帳の読み書きを行う。
type Ledger struct {
	repo repository.UsageRepository
	now  func() time.Time
}

// LedgerOption はLedgerの設定を変更する。
type LedgerOption func(*Ledger)

// WithClock は現在時刻の取得関数を差し替える。テストで使用する。
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger はLedgerを生成する。
func NewLedger(repo repository.UsageRepository, opts ...LedgerOption) *Ledger {
	l := &Ledger{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get はテナントの台帳を返す。未作成の場合はnil, nilを返す。
// 呼び出し側はnilを全カウンター0として扱う。
func (l *Ledger) Get(ctx context.Context, userID string) (*model.UsageLedger, error) {
	ledger, err := l.repo.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage ledger: %w", err)
	}
	return ledger, nil
}

// Increment は指定カウンターを1つ加算する。
// 台帳が未作成の場合はresetAt = now + 30日で作成する。
func (l *Ledger) Increment(ctx context.Context, userID string, counter model.Counter) error {
	if _, err := model.ParseCounter(string(counter)); err != nil {
		return err
	}
	now := l.now().UTC()
	if err := l.repo.Increment(ctx, userID, counter, now, now.Add(InitialResetPeriod)); err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// ResetIfDue はnow >= resetAtの場合に全カウンターを0にし、resetAtを翌月1日0時(UTC)へ進める。
// 期限前の呼び出しや台帳が未作成の場合は何もしない。
func (l *Ledger) ResetIfDue(ctx context.Context, userID string) (bool, error) {
	now := l.now().UTC()
	reset, err := l.repo.ResetIfDue(ctx, userID, now, NextResetAt(now))
	if err != nil {
		return false, fmt.Errorf("failed to reset usage: %w", err)
	}
	return reset, nil
}

// ResetAllDue は期限を過ぎた全テナントの台帳をリセットし、件数を返す。
func (l *Ledger) ResetAllDue(ctx context.Context) (int64, error) {
	now := l.now().UTC()
	n, err := l.repo.ResetAllDue(ctx, now, NextResetAt(now))
	if err != nil {
		return 0, fmt.Errorf("failed to reset due usage ledgers: %w", err)
	}
	return n, nil
}

// NextResetAt はnowの翌月1日0時(UTC)を返す。
func NextResetAt(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
