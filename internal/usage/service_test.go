package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/invoiceman/internal/model"
)

func newTestService(tier model.PlanTier, clock *fixedClock) (*Service, *memUsageRepo) {
	repo := newMemUsageRepo()
	users := &mockUserFinder{users: map[string]*model.User{
		"user-1": {ID: "user-1", PlanTier: tier},
	}}
	ledger := NewLedger(repo, WithClock(clock.Now))
	return NewService(users, ledger, nil, nil), repo
}

func TestCheckAndConsume_FreeTierStopsAtLimit(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	svc, _ := newTestService(model.PlanTierFree, clock)
	ctx := context.Background()

	var created []int
	for i := 0; i < 3; i++ {
		err := svc.CheckAndConsume(ctx, "user-1", model.CounterClients, func(context.Context) error {
			created = append(created, i)
			return nil
		})
		require.NoError(t, err)
	}

	err := svc.CheckAndConsume(ctx, "user-1", model.CounterClients, func(context.Context) error {
		t.Fatal("guarded write must not run once the limit is reached")
		return nil
	})
	require.Error(t, err)

	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.ErrCodeQuotaExceeded, apiErr.Code)
	assert.Contains(t, apiErr.Message, "clients")
	assert.Contains(t, apiErr.Message, "3")
	assert.Len(t, created, 3)
}

func TestCheckAndConsume_ProNeverBlocked(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	svc, repo := newTestService(model.PlanTierPro, clock)
	repo.set(&model.UsageLedger{UserID: "user-1", EmailsSent: 500, ResetAt: clock.t.Add(time.Hour)})

	ran := false
	err := svc.CheckAndConsume(context.Background(), "user-1", model.CounterEmails, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	ledger, _ := repo.Find(context.Background(), "user-1")
	assert.Equal(t, 501, ledger.EmailsSent)
}

func TestCheckAndConsume_GuardedFailureDoesNotCount(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	svc, repo := newTestService(model.PlanTierFree, clock)

	writeErr := errors.New("insert failed")
	err := svc.CheckAndConsume(context.Background(), "user-1", model.CounterInvoices, func(context.Context) error {
		return writeErr
	})
	assert.ErrorIs(t, err, writeErr)

	ledger, _ := repo.Find(context.Background(), "user-1")
	assert.Nil(t, ledger)
}

func TestCheckAndConsume_ResetsDueLedgerBeforeDeciding(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	svc, repo := newTestService(model.PlanTierFree, clock)
	repo.set(&model.UsageLedger{UserID: "user-1", ClientsCreated: 3, ResetAt: clock.t})

	err := svc.CheckAndConsume(context.Background(), "user-1", model.CounterClients, func(context.Context) error { return nil })
	require.NoError(t, err)

	ledger, _ := repo.Find(context.Background(), "user-1")
	assert.Equal(t, 1, ledger.ClientsCreated)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), ledger.ResetAt)
}

func TestCheckAndConsume_UnknownUser(t *testing.T) {
	clock := &fixedClock{t: time.Now()}
	svc, _ := newTestService(model.PlanTierFree, clock)

	err := svc.CheckAndConsume(context.Background(), "ghost", model.CounterClients, func(context.Context) error {
		t.Fatal("guarded write must not run for an unknown user")
		return nil
	})
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.ErrCodeUserNotFound, apiErr.Code)
}

func TestCheckUsageLimits_FreeTier(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	svc, repo := newTestService(model.PlanTierFree, clock)
	resetAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	repo.set(&model.UsageLedger{UserID: "user-1", ClientsCreated: 3, InvoicesCreated: 1, ResetAt: resetAt})

	report, err := svc.CheckUsageLimits(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, report.IsPro)
	assert.False(t, report.CanCreateClient)
	assert.True(t, report.CanCreateInvoice)
	assert.True(t, report.CanSendEmail)
	assert.Equal(t, 3, report.ClientsUsed)
	assert.Equal(t, 3, report.ClientsLimit)
	assert.Equal(t, 5, report.InvoicesLimit)
	require.NotNil(t, report.ResetAt)
	assert.Equal(t, resetAt, *report.ResetAt)
}

func TestCheckUsageLimits_ProReportsUnlimitedAsMinusOne(t *testing.T) {
	clock := &fixedClock{t: time.Now()}
	svc, _ := newTestService(model.PlanTierPro, clock)

	report, err := svc.CheckUsageLimits(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, report.IsPro)
	assert.Equal(t, -1, report.ClientsLimit)
	assert.Equal(t, -1, report.InvoicesLimit)
	assert.Equal(t, -1, report.EmailsLimit)
	assert.Nil(t, report.ResetAt)
}

func TestCheckUsageLimits_DueLedgerReportedAsZero(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)}
	svc, repo := newTestService(model.PlanTierFree, clock)
	repo.set(&model.UsageLedger{UserID: "user-1", ClientsCreated: 3, ResetAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)})

	report, err := svc.CheckUsageLimits(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.ClientsUsed)
	assert.True(t, report.CanCreateClient)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), *report.ResetAt)

	// 読み取りは台帳を書き換えない
	ledger, _ := repo.Find(context.Background(), "user-1")
	assert.Equal(t, 3, ledger.ClientsCreated)
}
