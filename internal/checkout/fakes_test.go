package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/paystack"
	"github.com/hitoshi/invoiceman/internal/repository"
)

// mockProvider は関数フィールドで振る舞いを差し替えるProvider。
type mockProvider struct {
	initializeFn func(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
	verifyFn     func(ctx context.Context, reference string) (*paystack.Transaction, error)
	fetchFn      func(ctx context.Context, code string) (*paystack.Subscription, error)
	disableFn    func(ctx context.Context, code, token string) error
	enableFn     func(ctx context.Context, code, token string) error
	calls        []string
}

func (m *mockProvider) InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error) {
	m.calls = append(m.calls, "initialize")
	return m.initializeFn(ctx, req)
}

func (m *mockProvider) VerifyTransaction(ctx context.Context, reference string) (*paystack.Transaction, error) {
	m.calls = append(m.calls, "verify")
	return m.verifyFn(ctx, reference)
}

func (m *mockProvider) FetchSubscription(ctx context.Context, code string) (*paystack.Subscription, error) {
	m.calls = append(m.calls, "fetch")
	return m.fetchFn(ctx, code)
}

func (m *mockProvider) DisableSubscription(ctx context.Context, code, token string) error {
	m.calls = append(m.calls, "disable")
	if m.disableFn != nil {
		return m.disableFn(ctx, code, token)
	}
	return nil
}

func (m *mockProvider) EnableSubscription(ctx context.Context, code, token string) error {
	m.calls = append(m.calls, "enable")
	if m.enableFn != nil {
		return m.enableFn(ctx, code, token)
	}
	return nil
}

// memStore はテナントと契約レコードを保持するインメモリ実装。
type memStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	subs   map[string]*model.Subscription
	writes int
}

func newMemStore(users ...*model.User) *memStore {
	s := &memStore{users: make(map[string]*model.User), subs: make(map[string]*model.Subscription)}
	for _, u := range users {
		cp := *u
		s.users[u.ID] = &cp
	}
	return s
}

func (s *memStore) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) UpdatePlanTier(_ context.Context, id string, tier model.PlanTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("update: %w", sql.ErrNoRows)
	}
	s.writes++
	u.PlanTier = tier
	return nil
}

func (s *memStore) FindByUserID(_ context.Context, userID string) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (s *memStore) Create(_ context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	cp := *sub
	s.subs[sub.UserID] = &cp
	return nil
}

func (s *memStore) Patch(_ context.Context, userID string, p repository.SubscriptionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return fmt.Errorf("patch: %w", sql.ErrNoRows)
	}
	s.writes++
	if p.PlanType != nil {
		sub.PlanType = *p.PlanType
	}
	if p.CustomerCode != nil {
		sub.ProviderCustomerCode = p.CustomerCode
	}
	if p.AuthorizationCode != nil {
		sub.ProviderAuthorizationCode = p.AuthorizationCode
	}
	if p.EmailToken != nil {
		sub.ProviderEmailToken = p.EmailToken
	}
	if p.Status != nil {
		sub.Status = *p.Status
	}
	if p.PeriodStart != nil {
		sub.CurrentPeriodStart = p.PeriodStart
	}
	if p.PeriodEnd != nil {
		sub.CurrentPeriodEnd = p.PeriodEnd
	}
	if p.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = p.CancelAtPeriodEnd
	}
	return nil
}

func strPtr(s string) *string {
	return &s
}
