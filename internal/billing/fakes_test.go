package billing

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/repository"
)

// memStore は契約レコードとテナントを保持するインメモリ実装。
// 書き込みの順序をcallsに記録する。
type memStore struct {
	mu    sync.Mutex
	subs  map[string]*model.Subscription
	users map[string]*model.User
	calls []string

	createErr      error
	updateTierErr  error
	failNextCreate bool // 同時作成の競合を再現する
}

func newMemStore(users ...*model.User) *memStore {
	s := &memStore{subs: make(map[string]*model.Subscription), users: make(map[string]*model.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
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
	s.calls = append(s.calls, "subscription.create")
	if s.createErr != nil {
		return s.createErr
	}
	if s.failNextCreate {
		s.failNextCreate = false
		// 競合相手が先に作成したレコード
		s.subs[sub.UserID] = &model.Subscription{ID: "other", UserID: sub.UserID, PlanType: model.PlanTierFree, Status: model.SubscriptionStatusAttention}
		return fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	}
	if _, exists := s.subs[sub.UserID]; exists {
		return fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	}
	cp := *sub
	s.subs[sub.UserID] = &cp
	return nil
}

func (s *memStore) Patch(_ context.Context, userID string, p repository.SubscriptionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "subscription.patch")
	sub, ok := s.subs[userID]
	if !ok {
		return fmt.Errorf("patch: %w", sql.ErrNoRows)
	}
	if p.PlanType != nil {
		sub.PlanType = *p.PlanType
	}
	if p.SubscriptionCode != nil {
		sub.ProviderSubscriptionCode = p.SubscriptionCode
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
	s.calls = append(s.calls, "user.plan_tier")
	if s.updateTierErr != nil {
		return s.updateTierErr
	}
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("update: %w", sql.ErrNoRows)
	}
	u.PlanTier = tier
	return nil
}

func (s *memStore) tier(id string) model.PlanTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].PlanTier
}
