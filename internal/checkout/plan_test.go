package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/invoiceman/internal/paystack"
)

// mockPlanProvider は関数フィールドで振る舞いを差し替えるPlanProvider。
type mockPlanProvider struct {
	listFn   func(ctx context.Context) ([]paystack.Plan, error)
	createFn func(ctx context.Context, req paystack.CreatePlanRequest) (*paystack.Plan, error)
	calls    []string
}

func (m *mockPlanProvider) ListPlans(ctx context.Context) ([]paystack.Plan, error) {
	m.calls = append(m.calls, "list")
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockPlanProvider) CreatePlan(ctx context.Context, req paystack.CreatePlanRequest) (*paystack.Plan, error) {
	m.calls = append(m.calls, "create")
	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return &paystack.Plan{PlanCode: "PLN_created", Name: req.Name, Amount: req.Amount}, nil
}

func newRedisCache(t *testing.T) (*RedisPlanCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisPlanCache(client), mr
}

func TestPlanResolver_UsesExistingPlanAndCaches(t *testing.T) {
	cache, mr := newRedisCache(t)
	provider := &mockPlanProvider{
		listFn: func(context.Context) ([]paystack.Plan, error) {
			return []paystack.Plan{
				{Name: "Pro Plan - Monthly", Amount: 2000, PlanCode: "PLN_wrong_amount"},
				{Name: "Pro Plan - Monthly", Amount: 1000, PlanCode: "PLN_pro"},
			}, nil
		},
	}
	r := NewPlanResolver(provider, cache, DefaultProPlan, nil)

	code, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PLN_pro", code)

	cached, err := mr.Get(DefaultProPlan.cacheKey())
	require.NoError(t, err)
	assert.Equal(t, "PLN_pro", cached)
	assert.Equal(t, PlanCacheTTL, mr.TTL(DefaultProPlan.cacheKey()))

	code, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PLN_pro", code)
	assert.Equal(t, []string{"list"}, provider.calls)
}

func TestPlanResolver_CreatesWhenMissing(t *testing.T) {
	cache, _ := newRedisCache(t)
	var got paystack.CreatePlanRequest
	provider := &mockPlanProvider{
		createFn: func(_ context.Context, req paystack.CreatePlanRequest) (*paystack.Plan, error) {
			got = req
			return &paystack.Plan{PlanCode: "PLN_new"}, nil
		},
	}
	r := NewPlanResolver(provider, cache, DefaultProPlan, nil)

	code, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PLN_new", code)
	assert.Equal(t, []string{"list", "create"}, provider.calls)
	assert.Equal(t, paystack.CreatePlanRequest{Name: "Pro Plan - Monthly", Amount: 1000, Interval: "monthly", Currency: "ZAR"}, got)
}

func TestPlanResolver_CacheHitSkipsProvider(t *testing.T) {
	cache, mr := newRedisCache(t)
	require.NoError(t, mr.Set(DefaultProPlan.cacheKey(), "PLN_cached"))
	provider := &mockPlanProvider{}
	r := NewPlanResolver(provider, cache, DefaultProPlan, nil)

	code, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PLN_cached", code)
	assert.Empty(t, provider.calls)
}

func TestPlanResolver_CacheOutageFallsBackToProvider(t *testing.T) {
	cache, mr := newRedisCache(t)
	mr.Close()
	provider := &mockPlanProvider{
		listFn: func(context.Context) ([]paystack.Plan, error) {
			return []paystack.Plan{{Name: "Pro Plan - Monthly", Amount: 1000, PlanCode: "PLN_pro"}}, nil
		},
	}
	r := NewPlanResolver(provider, cache, DefaultProPlan, nil)

	code, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PLN_pro", code)
}

func TestPlanResolver_ProviderErrorNotCached(t *testing.T) {
	cache, mr := newRedisCache(t)
	provider := &mockPlanProvider{
		listFn: func(context.Context) ([]paystack.Plan, error) {
			return nil, &paystack.Error{Op: "plan.list", Message: "boom"}
		},
	}
	r := NewPlanResolver(provider, cache, DefaultProPlan, nil)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	var perr *paystack.Error
	assert.True(t, errors.As(err, &perr))
	assert.False(t, mr.Exists(DefaultProPlan.cacheKey()))
}

func TestMemoryPlanCache_Expires(t *testing.T) {
	c := NewMemoryPlanCache()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(context.Background(), "k", "v", time.Hour))
	v, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(time.Hour)
	_, ok, err = c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewPlanResolver_DefaultsToMemoryCache(t *testing.T) {
	provider := &mockPlanProvider{
		listFn: func(context.Context) ([]paystack.Plan, error) {
			return []paystack.Plan{{Name: "Pro Plan - Monthly", Amount: 1000, PlanCode: "PLN_pro"}}, nil
		},
	}
	r := NewPlanResolver(provider, nil, DefaultProPlan, nil)

	for i := 0; i < 3; i++ {
		code, err := r.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "PLN_pro", code)
	}
	assert.Equal(t, []string{"list"}, provider.calls)
}
