package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/invoiceman/internal/model"
)

// PostgresInvoiceRepo はPostgreSQLを使用した請求書リポジトリ。
type PostgresInvoiceRepo struct {
	db *sql.DB
}

// NewPostgresInvoiceRepo はPostgresInvoiceRepoを生成する。
func NewPostgresInvoiceRepo(db *sql.DB) *PostgresInvoiceRepo {
	return &PostgresInvoiceRepo{db: db}
}

const invoiceColumns = `id, user_id, client_id, invoice_number, status, currency, total,
	issue_date, due_date, notes, sent_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	inv := &model.Invoice{}
	var status string
	var sentAt sql.NullTime
	if err := row.Scan(
		&inv.ID, &inv.UserID, &inv.ClientID, &inv.InvoiceNumber, &status, &inv.Currency, &inv.Total,
		&inv.IssueDate, &inv.DueDate, &inv.Notes, &sentAt, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inv.Status = model.InvoiceStatus(status)
	if sentAt.Valid {
		inv.SentAt = &sentAt.Time
	}
	return inv, nil
}

// Create は請求書を作成する。
func (r *PostgresInvoiceRepo) Create(ctx context.Context, inv *model.Invoice) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inv.ID, inv.UserID, inv.ClientID, inv.InvoiceNumber, string(inv.Status), inv.Currency, inv.Total,
		inv.IssueDate, inv.DueDate, inv.Notes, inv.SentAt, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("請求書の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID はユーザーが所有する請求書を取得する。見つからない場合はnilを返す。
func (r *PostgresInvoiceRepo) FindByID(ctx context.Context, userID, id string) (*model.Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("請求書の取得に失敗しました: %w", err)
	}
	return inv, nil
}

// ListByUserID はユーザーの請求書一覧を発行日の新しい順で返す。
func (r *PostgresInvoiceRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = $1 ORDER BY issue_date DESC, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("請求書一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var invoices []*model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("請求書行の読み取りに失敗しました: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("請求書一覧の走査に失敗しました: %w", err)
	}
	return invoices, nil
}

// MarkSent は請求書を送信済みにする。
func (r *PostgresInvoiceRepo) MarkSent(ctx context.Context, userID, id string, sentAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE invoices SET status = $3, sent_at = $4, updated_at = $4 WHERE id = $1 AND user_id = $2`,
		id, userID, string(model.InvoiceStatusSent), sentAt,
	)
	if err != nil {
		return fmt.Errorf("請求書の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("請求書が見つかりません: %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// compile-time interface check
var _ InvoiceRepository = (*PostgresInvoiceRepo)(nil)
