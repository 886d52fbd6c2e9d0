package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/hitoshi/invoiceman/internal/metrics"
	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/repository"
)

// memStore はテナントと契約レコードを保持するインメモリ実装。
// billing.Applierとwebhook.Reconcilerの両方のストアを満たす。
type memStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	subs   map[string]*model.Subscription
	writes int

	findErr error
}

func newMemStore(users ...*model.User) *memStore {
	s := &memStore{users: make(map[string]*model.User), subs: make(map[string]*model.Subscription)}
	for _, u := range users {
		cp := *u
		s.users[u.ID] = &cp
	}
	return s
}

func (s *memStore) putSubscription(sub *model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.UserID] = &cp
}

func (s *memStore) subscription(userID string) *model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil
	}
	cp := *sub
	return &cp
}

func (s *memStore) tier(userID string) model.PlanTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID].PlanTier
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

func (s *memStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
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
	return s.subscription(userID), nil
}

func (s *memStore) FindBySubscriptionCode(_ context.Context, code string) (*model.Subscription, error) {
	return s.findBy(func(sub *model.Subscription) *string { return sub.ProviderSubscriptionCode }, code)
}

func (s *memStore) FindByCustomerCode(_ context.Context, code string) (*model.Subscription, error) {
	return s.findBy(func(sub *model.Subscription) *string { return sub.ProviderCustomerCode }, code)
}

func (s *memStore) findBy(field func(*model.Subscription) *string, code string) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, sub := range s.subs {
		if v := field(sub); v != nil && *v == code {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
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

type eventRecord struct {
	event   string
	outcome string
}

type recordingCollector struct {
	metrics.Nop
	events   []eventRecord
	rejected []string
}

func (r *recordingCollector) RecordWebhookEvent(event, outcome string) {
	r.events = append(r.events, eventRecord{event: event, outcome: outcome})
}

func (r *recordingCollector) RecordWebhookRejected(reason string) {
	r.rejected = append(r.rejected, reason)
}

func strPtr(s string) *string {
	return &s
}
