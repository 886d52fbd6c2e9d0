// Package paystack は決済プロバイダーPaystackとの通信を提供する。
// REST APIクライアント、Webhook署名の検証、Webhookイベントの解析を含む。
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/invoiceman/internal/metrics"
)

const (
	// DefaultBaseURL はPaystack APIのベースURL。
	DefaultBaseURL = "https://api.paystack.co"
	// maxResponseSize はレスポンスボディの最大サイズ（1MB）。
	maxResponseSize = 1 << 20
)

var (
	// ErrUnavailable は通信失敗・タイムアウト・5xxなど再試行で解決しうる失敗を表す。
	ErrUnavailable = errors.New("paystack unavailable")
	// ErrRejected はPaystackがリクエストを拒否した（4xxまたはstatus=false）ことを表す。
	ErrRejected = errors.New("paystack rejected request")
)

// Error はPaystack API呼び出しの失敗。
// errors.IsでErrUnavailableまたはErrRejectedと照合できる。
type Error struct {
	Op         string
	StatusCode int
	Message    string
	kind       error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("paystack %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("paystack %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.kind
}

// Config はClientの設定。
type Config struct {
	BaseURL   string
	SecretKey string
}

// Client はPaystack REST APIのクライアント。
// すべてのリクエストにBearer認証でシークレットキーを付与する。
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewClient はClientを生成する。
// httpClientのTimeoutがリクエスト全体の上限となる。
func NewClient(httpClient *http.Client, cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		secretKey:  cfg.SecretKey,
		metrics:    collector,
		logger:     logger,
	}
}

// InstrumentHTTPClient はhttpClientのTransportをOpenTelemetryのトレースで包んだコピーを返す。
func InstrumentHTTPClient(httpClient *http.Client) *http.Client {
	transport := httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	instrumented := *httpClient
	instrumented.Transport = otelhttp.NewTransport(transport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "paystack " + r.Method + " " + r.URL.Path
		}),
	)
	return &instrumented
}

// Plan はPaystackのプラン定義。
type Plan struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	PlanCode string `json:"plan_code"`
	Amount   int64  `json:"amount"`
	Interval string `json:"interval"`
	Currency string `json:"currency"`
}

// CreatePlanRequest はプラン作成のリクエスト。
type CreatePlanRequest struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Interval string `json:"interval"`
	Currency string `json:"currency"`
}

// InitializeRequest は取引開始のリクエスト。
type InitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Plan        string            `json:"plan,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// InitializeResult は取引開始の結果。
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Transaction は取引検証の結果。
type Transaction struct {
	ID            int64               `json:"id"`
	Status        string              `json:"status"`
	Reference     string              `json:"reference"`
	Amount        int64               `json:"amount"`
	Currency      string              `json:"currency"`
	PaidAt        Time                `json:"paid_at"`
	Customer      Customer            `json:"customer"`
	Authorization Authorization       `json:"authorization"`
	Plan          PlanRef             `json:"plan"`
	Metadata      TransactionMetadata `json:"metadata"`
}

// Succeeded は取引が成功したかを返す。
func (t *Transaction) Succeeded() bool {
	return t.Status == "success"
}

// Subscription はPaystack上の定期購読。
type Subscription struct {
	SubscriptionCode string        `json:"subscription_code"`
	EmailToken       string        `json:"email_token"`
	Status           string        `json:"status"`
	Amount           int64         `json:"amount"`
	NextPaymentDate  Time          `json:"next_payment_date"`
	Customer         Customer      `json:"customer"`
	Plan             PlanRef       `json:"plan"`
	Authorization    Authorization `json:"authorization"`
}

// CreateSubscriptionRequest は定期購読作成のリクエスト。
type CreateSubscriptionRequest struct {
	Customer      string `json:"customer"`
	Plan          string `json:"plan"`
	Authorization string `json:"authorization,omitempty"`
	StartDate     string `json:"start_date,omitempty"`
}

// ListPlans はプラン一覧を取得する。
func (c *Client) ListPlans(ctx context.Context) ([]Plan, error) {
	var plans []Plan
	if err := c.do(ctx, "plan.list", http.MethodGet, "/plan?perPage=100", nil, &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

// CreatePlan はプランを作成する。
func (c *Client) CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error) {
	var plan Plan
	if err := c.do(ctx, "plan.create", http.MethodPost, "/plan", req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// InitializeTransaction は取引を開始し、ホスト型決済ページのURLを返す。
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	var result InitializeResult
	if err := c.do(ctx, "transaction.initialize", http.MethodPost, "/transaction/initialize", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// VerifyTransaction は取引参照番号の決済結果をサーバー側で検証する。
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	var tx Transaction
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "transaction.verify", http.MethodGet, path, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// CreateSubscription は顧客とプランの定期購読を作成する。
func (c *Client) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, "subscription.create", http.MethodPost, "/subscription", req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// FetchSubscription は定期購読をIDまたはコードで取得する。
func (c *Client) FetchSubscription(ctx context.Context, idOrCode string) (*Subscription, error) {
	var sub Subscription
	path := "/subscription/" + url.PathEscape(idOrCode)
	if err := c.do(ctx, "subscription.fetch", http.MethodGet, path, nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// DisableSubscription は定期購読を停止する。
func (c *Client) DisableSubscription(ctx context.Context, code, emailToken string) error {
	body := map[string]string{"code": code, "token": emailToken}
	return c.do(ctx, "subscription.disable", http.MethodPost, "/subscription/disable", body, nil)
}

// EnableSubscription は停止した定期購読を再開する。
func (c *Client) EnableSubscription(ctx context.Context, code, emailToken string) error {
	body := map[string]string{"code": code, "token": emailToken}
	return c.do(ctx, "subscription.enable", http.MethodPost, "/subscription/enable", body, nil)
}

// envelope はPaystack APIの共通レスポンス形式。
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, op, method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("paystack %s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("paystack %s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordProviderCall(op, 0, time.Since(start))
		c.logger.Error("paystack request failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return &Error{Op: op, Message: err.Error(), kind: ErrUnavailable}
	}
	defer resp.Body.Close()
	c.metrics.RecordProviderCall(op, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: err.Error(), kind: ErrUnavailable}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 500 {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: messageOr(env.Message, http.StatusText(resp.StatusCode)), kind: ErrUnavailable}
	}
	if resp.StatusCode >= 400 {
		c.logger.Warn("paystack rejected request",
			slog.String("operation", op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", env.Message),
		)
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: messageOr(env.Message, http.StatusText(resp.StatusCode)), kind: ErrRejected}
	}
	if decodeErr != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "malformed response: " + decodeErr.Error(), kind: ErrUnavailable}
	}
	if !env.Status {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: messageOr(env.Message, "status false"), kind: ErrRejected}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "malformed data: " + err.Error(), kind: ErrUnavailable}
	}
	return nil
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
