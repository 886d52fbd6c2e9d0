// Package client は請求先の管理を提供する。
// 請求先の作成は無料プランの上限判定を通過した場合のみ行う。
package client

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/repository"
	"github.com/hitoshi/invoiceman/internal/usage"
)

// Guard はプランの上限判定付きで書き込みを実行する。
type Guard interface {
	CheckAndConsume(ctx context.Context, userID string, counter model.Counter, guarded usage.GuardedFunc) error
}

// Sanitizer は入力テキストを無害化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// CreateInput は請求先作成の入力。
type CreateInput struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// Service は請求先のサービス層。
type Service struct {
	repo      repository.ClientRepository
	guard     Guard
	sanitizer Sanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.ClientRepository, guard Guard, sanitizer Sanitizer) *Service {
	return &Service{repo: repo, guard: guard, sanitizer: sanitizer, now: time.Now}
}

// Create は請求先を作成する。
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*model.Client, error) {
	name := s.sanitizer.Sanitize(input.Name)
	email := s.sanitizer.Sanitize(input.Email)
	if name == "" {
		return nil, model.NewInvalidRequestError("請求先名は必須です")
	}
	if email == "" {
		return nil, model.NewInvalidRequestError("メールアドレスは必須です")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewInvalidRequestError("メールアドレスの形式が不正です")
	}

	now := s.now().UTC()
	c := &model.Client{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Email:     email,
		Phone:     s.sanitizer.Sanitize(input.Phone),
		Address:   s.sanitizer.Sanitize(input.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.guard.CheckAndConsume(ctx, userID, model.CounterClients, func(ctx context.Context) error {
		return s.repo.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get はテナントが所有する請求先を返す。
func (s *Service) Get(ctx context.Context, userID, id string) (*model.Client, error) {
	c, err := s.repo.FindByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("請求先の取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewClientNotFoundError(id)
	}
	return c, nil
}

// List はテナントの請求先一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Client, error) {
	clients, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("請求先一覧の取得に失敗しました: %w", err)
	}
	return clients, nil
}
