package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/invoiceman/internal/model"
)

// memUsageRepo はUPSERTと条件付きUPDATEの挙動を再現するインメモリ実装。
type memUsageRepo struct {
	mu      sync.Mutex
	ledgers map[string]*model.UsageLedger
	err     error
}

func newMemUsageRepo() *memUsageRepo {
	return &memUsageRepo{ledgers: make(map[string]*model.UsageLedger)}
}

func (r *memUsageRepo) Find(_ context.Context, userID string) (*model.UsageLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	l, ok := r.ledgers[userID]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (r *memUsageRepo) Increment(_ context.Context, userID string, counter model.Counter, now, resetAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	l, ok := r.ledgers[userID]
	if !ok {
		l = &model.UsageLedger{UserID: userID, ResetAt: resetAt, CreatedAt: now}
		r.ledgers[userID] = l
	}
	switch counter {
	case model.CounterClients:
		l.ClientsCreated++
	case model.CounterInvoices:
		l.InvoicesCreated++
	case model.CounterEmails:
		l.EmailsSent++
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
	l.UpdatedAt = now
	return nil
}

func (r *memUsageRepo) ResetIfDue(_ context.Context, userID string, now, next time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	l, ok := r.ledgers[userID]
	if !ok || now.Before(l.ResetAt) {
		return false, nil
	}
	l.ClientsCreated, l.InvoicesCreated, l.EmailsSent = 0, 0, 0
	l.ResetAt = next
	return true, nil
}

func (r *memUsageRepo) ResetAllDue(_ context.Context, now, next time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for _, l := range r.ledgers {
		if !now.Before(l.ResetAt) {
			l.ClientsCreated, l.InvoicesCreated, l.EmailsSent = 0, 0, 0
			l.ResetAt = next
			n++
		}
	}
	return n, nil
}

func (r *memUsageRepo) set(l *model.UsageLedger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[l.UserID] = l
}

// mockUserFinder はテスト用のUserFinder。
type mockUserFinder struct {
	users map[string]*model.User
	err   error
}

func (m *mockUserFinder) FindByID(_ context.Context, id string) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

// fixedClock は可変の固定時刻を返す。
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time { return c.t }
