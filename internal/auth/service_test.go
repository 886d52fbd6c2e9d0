package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"

	"github.com/hitoshi/invoiceman/internal/model"
)

// --- モック定義 ---

type mockUserStore struct {
	findByIDFn      func(ctx context.Context, id string) (*model.User, error)
	findBySubjectFn func(ctx context.Context, subject string) (*model.User, error)
	createFn        func(ctx context.Context, user *model.User) error
	updateProfileFn func(ctx context.Context, id, email, name string) error
}

func (m *mockUserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserStore) FindBySubject(ctx context.Context, subject string) (*model.User, error) {
	if m.findBySubjectFn != nil {
		return m.findBySubjectFn(ctx, subject)
	}
	return nil, nil
}

func (m *mockUserStore) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserStore) UpdateProfile(ctx context.Context, id, email, name string) error {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, id, email, name)
	}
	return nil
}

// --- Sync のテスト ---

func TestService_Sync_NewUser_CreatesFreeTenant(t *testing.T) {
	var created *model.User
	store := &mockUserStore{
		createFn: func(_ context.Context, user *model.User) error {
			created = user
			return nil
		},
	}
	svc := NewService(store, nil)

	user, err := svc.Sync(context.Background(), &Claims{Subject: "idp|1", Email: "new@example.com", Name: "New"})
	if err != nil {
		t.Fatalf("Sync がエラーを返した: %v", err)
	}
	if created == nil {
		t.Fatal("ユーザーが作成されていない")
	}
	if user.ID == "" || user.ID != created.ID {
		t.Errorf("ID = %q, 作成したユーザーのIDと一致しない", user.ID)
	}
	if user.PlanTier != model.PlanTierFree {
		t.Errorf("PlanTier = %q, want %q", user.PlanTier, model.PlanTierFree)
	}
	if user.Subject != "idp|1" {
		t.Errorf("Subject = %q, want %q", user.Subject, "idp|1")
	}
}

func TestService_Sync_ExistingUser_RefreshesProfile(t *testing.T) {
	existing := &model.User{ID: "user-1", Subject: "idp|1", Email: "old@example.com", Name: "Old", PlanTier: model.PlanTierPro}
	var gotEmail, gotName string
	store := &mockUserStore{
		findBySubjectFn: func(context.Context, string) (*model.User, error) { return existing, nil },
		createFn: func(context.Context, *model.User) error {
			t.Fatal("既存ユーザーで Create が呼ばれた")
			return nil
		},
		updateProfileFn: func(_ context.Context, id, email, name string) error {
			gotEmail, gotName = email, name
			return nil
		},
	}
	svc := NewService(store, nil)

	user, err := svc.Sync(context.Background(), &Claims{Subject: "idp|1", Email: "new@example.com"})
	if err != nil {
		t.Fatalf("Sync がエラーを返した: %v", err)
	}
	if gotEmail != "new@example.com" || gotName != "Old" {
		t.Errorf("UpdateProfile(%q, %q), want (new@example.com, Old)", gotEmail, gotName)
	}
	if user.PlanTier != model.PlanTierPro {
		t.Errorf("PlanTier = %q, 同期でプラン区分を変更してはならない", user.PlanTier)
	}
}

func TestService_Sync_UnchangedProfile_NoUpdate(t *testing.T) {
	existing := &model.User{ID: "user-1", Subject: "idp|1", Email: "a@example.com", Name: "A"}
	store := &mockUserStore{
		findBySubjectFn: func(context.Context, string) (*model.User, error) { return existing, nil },
		updateProfileFn: func(context.Context, string, string, string) error {
			t.Fatal("変更がないのに UpdateProfile が呼ばれた")
			return nil
		},
	}
	svc := NewService(store, nil)

	if _, err := svc.Sync(context.Background(), &Claims{Subject: "idp|1", Email: "a@example.com", Name: "A"}); err != nil {
		t.Fatalf("Sync がエラーを返した: %v", err)
	}
}

func TestService_Sync_ConcurrentFirstSignIn(t *testing.T) {
	calls := 0
	winner := &model.User{ID: "winner", Subject: "idp|1"}
	store := &mockUserStore{
		findBySubjectFn: func(context.Context, string) (*model.User, error) {
			calls++
			if calls == 1 {
				return nil, nil
			}
			return winner, nil
		},
		createFn: func(context.Context, *model.User) error {
			return fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
		},
	}
	svc := NewService(store, nil)

	user, err := svc.Sync(context.Background(), &Claims{Subject: "idp|1"})
	if err != nil {
		t.Fatalf("Sync がエラーを返した: %v", err)
	}
	if user.ID != "winner" {
		t.Errorf("ID = %q, want winner", user.ID)
	}
}

func TestService_Sync_StoreError(t *testing.T) {
	store := &mockUserStore{
		findBySubjectFn: func(context.Context, string) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}
	svc := NewService(store, nil)

	if _, err := svc.Sync(context.Background(), &Claims{Subject: "idp|1"}); err == nil {
		t.Fatal("エラーが返されるべき")
	}
}

// --- GetCurrentUser のテスト ---

func TestService_GetCurrentUser(t *testing.T) {
	store := &mockUserStore{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			if id == "user-1" {
				return &model.User{ID: "user-1"}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(store, nil)

	user, err := svc.GetCurrentUser(context.Background(), "user-1")
	if err != nil || user.ID != "user-1" {
		t.Fatalf("GetCurrentUser() = %v, %v", user, err)
	}

	_, err = svc.GetCurrentUser(context.Background(), "ghost")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("err = %v, want USER_NOT_FOUND", err)
	}
}
