package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/invoiceman/internal/auth"
	"github.com/hitoshi/invoiceman/internal/billing"
	"github.com/hitoshi/invoiceman/internal/checkout"
	"github.com/hitoshi/invoiceman/internal/client"
	"github.com/hitoshi/invoiceman/internal/config"
	"github.com/hitoshi/invoiceman/internal/database"
	"github.com/hitoshi/invoiceman/internal/handler"
	"github.com/hitoshi/invoiceman/internal/invoice"
	"github.com/hitoshi/invoiceman/internal/logger"
	"github.com/hitoshi/invoiceman/internal/mailer"
	"github.com/hitoshi/invoiceman/internal/metrics"
	"github.com/hitoshi/invoiceman/internal/middleware"
	"github.com/hitoshi/invoiceman/internal/paystack"
	"github.com/hitoshi/invoiceman/internal/repository"
	"github.com/hitoshi/invoiceman/internal/security"
	"github.com/hitoshi/invoiceman/internal/usage"
	"github.com/hitoshi/invoiceman/internal/user"
	"github.com/hitoshi/invoiceman/internal/webhook"
	"github.com/hitoshi/invoiceman/internal/worker/expiry"
	"github.com/hitoshi/invoiceman/internal/worker/usagereset"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandResetUsage:
		return runResetUsage(cfg)
	case CommandExpireSubscriptions:
		return runExpireSubscriptions(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	ctx := context.Background()
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// 2. 決済プロバイダー
	httpClient, err := security.NewProviderClient(cfg.PaystackBaseURL, cfg.PaystackTimeout)
	if err != nil {
		return fmt.Errorf("failed to build payment provider client: %w", err)
	}
	paystackClient := paystack.NewClient(
		paystack.InstrumentHTTPClient(httpClient),
		paystack.Config{BaseURL: cfg.PaystackBaseURL, SecretKey: cfg.PaystackSecretKey},
		collector, slog.Default(),
	)

	// 3. プランキャッシュとメール送信
	planCache, closeCache, err := newPlanCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	m, err := newMailer(ctx, cfg)
	if err != nil {
		return err
	}

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitCheckout),
	)
	defer rateLimiter.Stop()

	deps := buildRouterDeps(cfg, db, paystackClient, planCache, m, collector)
	deps.RateLimiter = rateLimiter
	deps.MetricsHandler = metrics.Handler(prometheus.DefaultGatherer)

	router := handler.NewRouter(deps)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// paystackAPI はアプリケーションが使う決済プロバイダーの操作の集合。
type paystackAPI interface {
	checkout.Provider
	checkout.PlanProvider
}

// buildRouterDeps はリポジトリとドメインサービスを組み立て、ルーターの依存関係を返す。
// RateLimiterとMetricsHandlerは呼び出し側で設定する。
func buildRouterDeps(cfg *config.Config, db *sql.DB, provider paystackAPI, planCache checkout.PlanCache, m mailer.Mailer, collector metrics.MetricsCollector) *handler.RouterDeps {
	log := slog.Default()

	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	usageRepo := repository.NewPostgresUsageRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	clientRepo := repository.NewPostgresClientRepo(db)
	invoiceRepo := repository.NewPostgresInvoiceRepo(db)

	// 利用量とプラン
	ledger := usage.NewLedger(usageRepo)
	usageService := usage.NewService(userRepo, ledger, collector, log)
	applier := billing.NewApplier(subRepo, userRepo, log)

	// 決済
	planSpec := checkout.PlanSpec{
		Name:     cfg.ProPlanName,
		Amount:   cfg.ProPlanAmount,
		Interval: cfg.ProPlanInterval,
		Currency: cfg.ProPlanCurrency,
	}
	plans := checkout.NewPlanResolver(provider, planCache, planSpec, log)
	checkoutService := checkout.NewService(provider, plans, userRepo, subRepo, applier, cfg.CallbackURL(), log)
	reconciler := webhook.NewReconciler(cfg.PaystackSecretKey, subRepo, userRepo, applier, collector, log)

	// テナントと業務データ
	sanitizer := security.NewTextSanitizer()
	authService := auth.NewService(userRepo, log)
	userService := user.NewService(userRepo, subRepo, usageService)
	clientService := client.NewService(clientRepo, usageService, sanitizer)
	invoiceService := invoice.NewService(invoiceRepo, clientRepo, usageService, m, sanitizer, log)

	return &handler.RouterDeps{
		TokenVerifier:     auth.NewVerifier(cfg.IdentityJWTSecret, cfg.IdentityJWTIssuer),
		UserSyncer:        authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            log,

		UserService:  userService,
		UsageService: usageService,

		ClientService:  clientService,
		InvoiceService: invoiceService,

		CheckoutService: checkoutService,
		Plan: handler.PlanInfo{
			Name:     planSpec.Name,
			Amount:   planSpec.Amount,
			Currency: planSpec.Currency,
			Interval: planSpec.Interval,
		},
		PublicKey:    cfg.PaystackPublicKey,
		DashboardURL: cfg.DashboardURL(),

		WebhookDeliverer: reconciler,
		WebhookEnv: handler.WebhookEnv{
			PaystackSecretKey: cfg.PaystackSecretKey,
			PaystackPublicKey: cfg.PaystackPublicKey,
			DatabaseURL:       cfg.DatabaseURL,
		},

		DB: db,
	}
}

// newPlanCache はREDIS_URLが設定されていればRedis、なければプロセス内のキャッシュを返す。
// 戻り値の関数で接続を閉じる。
func newPlanCache(cfg *config.Config) (checkout.PlanCache, func(), error) {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL is not set; using in-process plan cache")
		return checkout.NewMemoryPlanCache(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	return checkout.NewRedisPlanCache(rdb), func() { rdb.Close() }, nil
}

// newMailer はSESが設定されていればSES、なければログ出力のみのMailerを返す。
func newMailer(ctx context.Context, cfg *config.Config) (mailer.Mailer, error) {
	if !cfg.SESEnabled() {
		slog.Info("SES is not configured; invoice emails will be logged only")
		return mailer.NewLogMailer(slog.Default()), nil
	}
	m, err := mailer.NewSESMailer(ctx, cfg.SESRegion, cfg.SESSender, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to configure SES mailer: %w", err)
	}
	return m, nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、利用量台帳のリセットジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	resetJob := newUsageResetJob(db, collector)
	expiryJob := newExpiryJob(db, collector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("usage_reset_interval", cfg.UsageResetInterval),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		expiryJob.Start(ctx, cfg.UsageResetInterval)
	}()

	// ブロッキング。シグナル受信でctxがキャンセルされると戻る
	resetJob.Start(ctx, cfg.UsageResetInterval)
	wg.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}

// runResetUsage は期限の来た利用量台帳を1回だけリセットする。
func runResetUsage(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := newUsageResetJob(db, metrics.Nop{}).Run(ctx); err != nil {
		return fmt.Errorf("usage reset failed: %w", err)
	}
	return nil
}

// runExpireSubscriptions は期間終了した解約済み契約を1回だけ失効させる。
func runExpireSubscriptions(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := newExpiryJob(db, metrics.Nop{}).Run(ctx); err != nil {
		return fmt.Errorf("subscription expiry failed: %w", err)
	}
	return nil
}

func newUsageResetJob(db *sql.DB, collector metrics.MetricsCollector) *usagereset.Job {
	ledger := usage.NewLedger(repository.NewPostgresUsageRepo(db))
	return usagereset.NewJob(ledger, collector, slog.Default())
}

func newExpiryJob(db *sql.DB, collector metrics.MetricsCollector) *expiry.Job {
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	applier := billing.NewApplier(subRepo, repository.NewPostgresUserRepo(db), slog.Default())
	return expiry.NewJob(subRepo, subRepo, applier, collector, slog.Default())
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
