package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/invoiceman/internal/paystack"
)

// PlanCacheTTL は解決済みプランコードのキャッシュ期間。
const PlanCacheTTL = 24 * time.Hour

// PlanSpec は決済に使うプランの定義。
type PlanSpec struct {
	Name     string
	Amount   int64
	Interval string
	Currency string
}

// DefaultProPlan はProプランの既定値。金額は通貨の最小単位。
var DefaultProPlan = PlanSpec{
	Name:     "Pro Plan - Monthly",
	Amount:   1000,
	Interval: "monthly",
	Currency: "ZAR",
}

func (p PlanSpec) cacheKey() string {
	return fmt.Sprintf("paystack:plan:%s:%d:%s:%s", p.Name, p.Amount, p.Interval, p.Currency)
}

// PlanCache はプランコードのキャッシュ。
type PlanCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisPlanCache はRedisを使うPlanCache。
type RedisPlanCache struct {
	client redis.Cmdable
}

// NewRedisPlanCache はRedisPlanCacheを生成する。
func NewRedisPlanCache(client redis.Cmdable) *RedisPlanCache {
	return &RedisPlanCache{client: client}
}

// Get はキャッシュ済みの値を返す。キーが存在しない場合はfalseを返す。
func (c *RedisPlanCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set は値をttl付きで保存する。
func (c *RedisPlanCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryPlanCache はプロセス内のPlanCache。REDIS_URL未設定時に使う。
type MemoryPlanCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryPlanCache はMemoryPlanCacheを生成する。
func NewMemoryPlanCache() *MemoryPlanCache {
	return &MemoryPlanCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get は期限内の値を返す。
func (c *MemoryPlanCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set は値をttl付きで保存する。
func (c *MemoryPlanCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// PlanProvider はプランの一覧取得と作成を行うプロバイダー操作。
type PlanProvider interface {
	ListPlans(ctx context.Context) ([]paystack.Plan, error)
	CreatePlan(ctx context.Context, req paystack.CreatePlanRequest) (*paystack.Plan, error)
}

// PlanResolver はPlanSpecに対応するプロバイダーのプランコードを解決する。
// キャッシュ、プラン一覧、プラン作成の順に試す。
type PlanResolver struct {
	provider PlanProvider
	cache    PlanCache
	spec     PlanSpec
	logger   *slog.Logger
}

// NewPlanResolver はPlanResolverを生成する。cacheがnilの場合はプロセス内キャッシュを使う。
func NewPlanResolver(provider PlanProvider, cache PlanCache, spec PlanSpec, logger *slog.Logger) *PlanResolver {
	if cache == nil {
		cache = NewMemoryPlanCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanResolver{provider: provider, cache: cache, spec: spec, logger: logger}
}

// Spec は解決対象のプラン定義を返す。
func (r *PlanResolver) Spec() PlanSpec {
	return r.spec
}

// Resolve はプランコードを返す。
// キャッシュの障害は警告としてログに残し、プロバイダーへの問い合わせを続ける。
func (r *PlanResolver) Resolve(ctx context.Context) (string, error) {
	key := r.spec.cacheKey()

	code, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("plan cache read failed", slog.String("error", err.Error()))
	} else if ok && code != "" {
		return code, nil
	}

	plans, err := r.provider.ListPlans(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range plans {
		if p.Name == r.spec.Name && p.Amount == r.spec.Amount {
			r.store(ctx, key, p.PlanCode)
			return p.PlanCode, nil
		}
	}

	created, err := r.provider.CreatePlan(ctx, paystack.CreatePlanRequest{
		Name:     r.spec.Name,
		Amount:   r.spec.Amount,
		Interval: r.spec.Interval,
		Currency: r.spec.Currency,
	})
	if err != nil {
		return "", err
	}
	r.logger.Info("paystack plan created",
		slog.String("plan_code", created.PlanCode),
		slog.String("name", created.Name),
	)
	r.store(ctx, key, created.PlanCode)
	return created.PlanCode, nil
}

func (r *PlanResolver) store(ctx context.Context, key, code string) {
	if err := r.cache.Set(ctx, key, code, PlanCacheTTL); err != nil {
		r.logger.Warn("plan cache write failed", slog.String("error", err.Error()))
	}
}
