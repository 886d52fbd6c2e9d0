// Package auth はIdPのIDトークン検証と、サインイン時のテナント同期を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/repository"
)

// UserStore はテナント同期に必要なユーザー操作。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindBySubject(ctx context.Context, subject string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	UpdateProfile(ctx context.Context, id, email, name string) error
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users  UserStore
	now    func() time.Time
	logger *slog.Logger
}

// NewService はServiceを生成する。
func NewService(users UserStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, now: time.Now, logger: logger}
}

// Sync は検証済みClaimsに対応するテナントを返す。
// 未登録の場合は無料プランで作成し、登録済みの場合はメールアドレスと表示名を最新化する。
func (s *Service) Sync(ctx context.Context, claims *Claims) (*model.User, error) {
	user, err := s.users.FindBySubject(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by subject: %w", err)
	}

	if user == nil {
		return s.create(ctx, claims)
	}

	if (claims.Email != "" && claims.Email != user.Email) || (claims.Name != "" && claims.Name != user.Name) {
		email, name := user.Email, user.Name
		if claims.Email != "" {
			email = claims.Email
		}
		if claims.Name != "" {
			name = claims.Name
		}
		if err := s.users.UpdateProfile(ctx, user.ID, email, name); err != nil {
			return nil, fmt.Errorf("failed to update profile: %w", err)
		}
		user.Email, user.Name = email, name
	}
	return user, nil
}

func (s *Service) create(ctx context.Context, claims *Claims) (*model.User, error) {
	now := s.now().UTC()
	user := &model.User{
		ID:        uuid.New().String(),
		Subject:   claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		PlanTier:  model.PlanTierFree,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if !repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		// 同じsubjectの初回サインインが同時に行われた
		existing, findErr := s.users.FindBySubject(ctx, claims.Subject)
		if findErr != nil || existing == nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return existing, nil
	}

	s.logger.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// GetCurrentUser はユーザーIDからテナントを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
