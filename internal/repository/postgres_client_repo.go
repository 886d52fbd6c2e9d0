package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/invoiceman/internal/model"
)

// PostgresClientRepo はPostgreSQLを使用した請求先リポジトリ。
type PostgresClientRepo struct {
	db *sql.DB
}

// NewPostgresClientRepo はPostgresClientRepoを生成する。
func NewPostgresClientRepo(db *sql.DB) *PostgresClientRepo {
	return &PostgresClientRepo{db: db}
}

// Create は請求先を作成する。
func (r *PostgresClientRepo) Create(ctx context.Context, c *model.Client) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO clients (id, user_id, name, email, phone, address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserID, c.Name, c.Email, c.Phone, c.Address, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("請求先の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID はユーザーが所有する請求先を取得する。見つからない場合はnilを返す。
func (r *PostgresClientRepo) FindByID(ctx context.Context, userID, id string) (*model.Client, error) {
	c := &model.Client{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, email, phone, address, created_at, updated_at
		 FROM clients WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("請求先の取得に失敗しました: %w", err)
	}
	return c, nil
}

// ListByUserID はユーザーの請求先一覧を作成日時順で返す。
func (r *PostgresClientRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, email, phone, address, created_at, updated_at
		 FROM clients WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("請求先一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var clients []*model.Client
	for rows.Next() {
		c := &model.Client{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("請求先行の読み取りに失敗しました: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("請求先一覧の走査に失敗しました: %w", err)
	}
	return clients, nil
}

// compile-time interface check
var _ ClientRepository = (*PostgresClientRepo)(nil)
