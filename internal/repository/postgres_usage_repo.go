package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/invoiceman/internal/model"
)

// counterColumns はカウンターと台帳テーブルの列名の対応。
// 列名をSQLに埋め込むため、この表に存在するカウンターのみを受け付ける。
var counterColumns = map[model.Counter]string{
	model.CounterClients:  "clients_created",
	model.CounterInvoices: "invoices_created",
	model.CounterEmails:   "emails_sent",
}

// PostgresUsageRepo はPostgreSQLを使用した利用量台帳リポジトリ。
type PostgresUsageRepo struct {
	db *sql.DB
}

// NewPostgresUsageRepo はPostgresUsageRepoを生成する。
func NewPostgresUsageRepo(db *sql.DB) *PostgresUsageRepo {
	return &PostgresUsageRepo{db: db}
}

// Find は指定ユーザーの台帳を取得する。存在しない場合はnilを返す。
func (r *PostgresUsageRepo) Find(ctx context.Context, userID string) (*model.UsageLedger, error) {
	ledger := &model.UsageLedger{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, clients_created, invoices_created, emails_sent, reset_at, created_at, updated_at
		 FROM usage_ledgers WHERE user_id = $1`,
		userID,
	).Scan(
		&ledger.UserID, &ledger.ClientsCreated, &ledger.InvoicesCreated, &ledger.EmailsSent,
		&ledger.ResetAt, &ledger.CreatedAt, &ledger.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("利用量台帳の取得に失敗しました: %w", err)
	}
	return ledger, nil
}

// Increment は指定カウンターを1つ加算する。
// INSERT ON CONFLICTの単一文で実行し、行ロックにより同時加算を直列化する。
func (r *PostgresUsageRepo) Increment(ctx context.Context, userID string, counter model.Counter, now, resetAt time.Time) error {
	col, ok := counterColumns[counter]
	if !ok {
		return fmt.Errorf("unknown usage counter: %q", counter)
	}

	query := fmt.Sprintf(
		`INSERT INTO usage_ledgers (user_id, %[1]s, reset_at, created_at, updated_at)
		 VALUES ($1, 1, $2, $3, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET %[1]s = usage_ledgers.%[1]s + 1, updated_at = $3`,
		col,
	)
	if _, err := r.db.ExecContext(ctx, query, userID, resetAt, now); err != nil {
		return fmt.Errorf("利用量の加算に失敗しました: %w", err)
	}
	return nil
}

// ResetIfDue はresetAtがnow以前の場合のみ全カウンターを0にする。
// 条件付きUPDATEのため、期限前の再呼び出しは何も変更しない。
func (r *PostgresUsageRepo) ResetIfDue(ctx context.Context, userID string, now, nextResetAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE usage_ledgers
		 SET clients_created = 0, invoices_created = 0, emails_sent = 0, reset_at = $3, updated_at = $2
		 WHERE user_id = $1 AND reset_at <= $2`,
		userID, now, nextResetAt,
	)
	if err != nil {
		return false, fmt.Errorf("利用量のリセットに失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ResetAllDue はresetAtがnow以前の全台帳をリセットし、件数を返す。
func (r *PostgresUsageRepo) ResetAllDue(ctx context.Context, now, nextResetAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE usage_ledgers
		 SET clients_created = 0, invoices_created = 0, emails_sent = 0, reset_at = $2, updated_at = $1
		 WHERE reset_at <= $1`,
		now, nextResetAt,
	)
	if err != nil {
		return 0, fmt.Errorf("利用量の一括リセットに失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ UsageRepository = (*PostgresUsageRepo)(nil)
