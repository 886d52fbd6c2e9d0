package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/invoiceman/internal/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	UserSyncer        middleware.UserSyncer
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// テナント
	UserService  UserServiceInterface
	UsageService UsageServiceInterface

	// 請求先・請求書
	ClientService  ClientServiceInterface
	InvoiceService InvoiceServiceInterface

	// Proプラン契約
	CheckoutService CheckoutServiceInterface
	Plan            PlanInfo
	PublicKey       string
	DashboardURL    string

	// Webhook
	WebhookDeliverer WebhookDeliverer
	WebhookEnv       WebhookEnv

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したhttp.Handlerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	otelhttp → RequestID → Logging → Recovery → SecurityHeaders → CORS
//	  → (/api) IdentityMiddleware → RateLimit(GeneralMiddleware)
//
// Webhook、決済ページからの戻り先、ヘルスチェック、メトリクスは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	userHandler := NewUserHandler(deps.UserService, deps.UsageService)
	clientHandler := NewClientHandler(deps.ClientService)
	invoiceHandler := NewInvoiceHandler(deps.InvoiceService)
	subHandler := NewSubscriptionHandler(deps.CheckoutService, deps.Plan, deps.PublicKey, deps.DashboardURL)
	webhookHandler := NewWebhookHandler(deps.WebhookDeliverer, deps.WebhookEnv)

	// --- 認証不要のルート ---
	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/webhooks/paystack", func(r chi.Router) {
		r.Post("/", webhookHandler.Receive)
		r.Get("/", webhookHandler.Status)
	})

	// 決済ページからのリダイレクトはAuthorizationヘッダーを持たない。
	// テナントは取引のメタデータから決める。
	r.Get("/api/subscription/verify", subHandler.VerifyRedirect)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.TokenVerifier, deps.UserSyncer))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/me", userHandler.Me)
		r.Get("/api/usage", userHandler.Usage)

		r.Route("/api/clients", func(r chi.Router) {
			r.Get("/", clientHandler.List)
			r.Post("/", clientHandler.Create)
			r.Get("/{id}", clientHandler.Get)
		})

		r.Route("/api/invoices", func(r chi.Router) {
			r.Get("/", invoiceHandler.List)
			r.Post("/", invoiceHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", invoiceHandler.Get)
				r.Post("/send", invoiceHandler.Send)
			})
		})

		r.Get("/api/subscription", subHandler.Get)
		// 決済開始は専用レート制限を追加
		r.With(deps.RateLimiter.CheckoutMiddleware()).Post("/api/subscription/initialize", subHandler.Initialize)
		r.Post("/api/subscription/verify", subHandler.Verify)
		r.Post("/api/subscription/cancel", subHandler.Cancel)
		r.Post("/api/subscription/resume", subHandler.Resume)
	})

	return otelhttp.NewHandler(r, "invoiceman",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
