package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/invoiceman/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	CheckoutRate    rate.Limit    // 決済開始のレート（req/sec）
	CheckoutBurst   int           // 決済開始のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はAPI全般 120 req/min、決済開始 10 req/min の設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfigPerMinute(120, 10)
}

// RateLimiterConfigPerMinute は1分あたりのリクエスト数からレート制限設定を生成する。
// 0以下の値は1として扱う。
func RateLimiterConfigPerMinute(general, checkout int) RateLimiterConfig {
	general = max(general, 1)
	checkout = max(checkout, 1)
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(general) / 60.0),
		GeneralBurst:    general,
		CheckoutRate:    rate.Limit(float64(checkout) / 60.0),
		CheckoutBurst:   checkout,
		CleanupInterval: 5 * time.Minute,
	}
}

// limiterPool はユーザーIDごとのトークンバケットを保持する。
type limiterPool struct {
	kind  string
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newLimiterPool(kind string, limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{
		kind:    kind,
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*poolEntry),
	}
}

// allow はユーザーのバケットからトークンを1つ消費できるかを返す。
func (p *limiterPool) allow(userID string, now time.Time) bool {
	p.mu.Lock()
	e, ok := p.entries[userID]
	if !ok {
		e = &poolEntry{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.entries[userID] = e
	}
	e.lastAccess = now
	p.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// evictIdle はttlを超えてアクセスのないエントリを削除し、削除件数を返す。
func (p *limiterPool) evictIdle(now time.Time, ttl time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for userID, e := range p.entries {
		if now.Sub(e.lastAccess) > ttl {
			delete(p.entries, userID)
			evicted++
		}
	}
	return evicted
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般と決済開始の2つのバケットは互いに独立している。
type RateLimiter struct {
	cleanupInterval time.Duration
	general         *limiterPool
	checkout        *limiterPool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成し、バックグラウンドのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		cleanupInterval: config.CleanupInterval,
		general:         newLimiterPool("general", config.GeneralRate, config.GeneralBurst),
		checkout:        newLimiterPool("checkout", config.CheckoutRate, config.CheckoutBurst),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// IdentityMiddlewareの後に配置すること。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return limitByUser(rl.general)
}

// CheckoutMiddleware は決済開始専用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) CheckoutMiddleware() func(next http.Handler) http.Handler {
	return limitByUser(rl.checkout)
}

// GeneralLimiterCount は管理中のAPI全般リミッター数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.size()
}

// CheckoutLimiterCount は管理中の決済開始リミッター数を返す。
func (rl *RateLimiter) CheckoutLimiterCount() int {
	return rl.checkout.size()
}

func limitByUser(pool *limiterPool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				writeUnauthorized(w)
				return
			}

			if !pool.allow(userID, time.Now()) {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", pool.kind),
				)
				writeRateLimitResponse(w, pool.limit)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// cleanupLoop は最終アクセスからCleanupIntervalの2倍を過ぎたエントリを定期的に削除する。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	ttl := rl.cleanupInterval * 2
	for {
		select {
		case now := <-ticker.C:
			evicted := rl.general.evictIdle(now, ttl) + rl.checkout.evictIdle(now, ttl)
			if evicted > 0 {
				slog.Debug("rate limiter entries evicted", slog.Int("count", evicted))
			}
		case <-rl.stopCh:
			return
		}
	}
}

// writeRateLimitResponse は429を書き込む。
// Retry-Afterには1トークンが補充されるまでの秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, limit rate.Limit) {
	retryAfter := max(int(math.Ceil(1.0/float64(limit))), 1)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	})
}
