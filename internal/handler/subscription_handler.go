package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/invoiceman/internal/checkout"
	"github.com/hitoshi/invoiceman/internal/model"
)

// CheckoutServiceInterface はProプランの契約操作に必要なサービスインターフェース。
type CheckoutServiceInterface interface {
	// Initialize は決済を開始し、決済ページのURLを返す。
	Initialize(ctx context.Context, userID, email string) (*checkout.InitializeResult, error)
	// Verify は取引を検証し、成功していればProプランを有効化する。
	Verify(ctx context.Context, userID, reference string) (*checkout.VerifyResult, error)
	// VerifyCallback は認証情報を持たないリダイレクトの取引を検証する。
	VerifyCallback(ctx context.Context, reference string) (*checkout.VerifyResult, error)
	// Cancel は定期購読の更新を停止する。
	Cancel(ctx context.Context, userID string) (*model.Subscription, error)
	// Resume は解約予約を取り消す。
	Resume(ctx context.Context, userID string) (*model.Subscription, error)
	// GetSubscription は契約レコードを返す。存在しない場合はnil。
	GetSubscription(ctx context.Context, userID string) (*model.Subscription, error)
}

// PlanInfo はクライアントに提示するProプランの情報。
type PlanInfo struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Interval string `json:"interval"`
}

// SubscriptionHandler はProプラン契約のHTTPハンドラー。
type SubscriptionHandler struct {
	service      CheckoutServiceInterface
	plan         PlanInfo
	publicKey    string
	dashboardURL string
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
// dashboardURLはGETでの決済検証後のリダイレクト先。
func NewSubscriptionHandler(service CheckoutServiceInterface, plan PlanInfo, publicKey, dashboardURL string) *SubscriptionHandler {
	return &SubscriptionHandler{
		service:      service,
		plan:         plan,
		publicKey:    publicKey,
		dashboardURL: dashboardURL,
	}
}

type initializeRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Reference string `json:"reference"`
}

// subscriptionStateResponse は GET /api/subscription のレスポンス。
type subscriptionStateResponse struct {
	Subscription *subscriptionResponse `json:"subscription"`
	Plan         PlanInfo              `json:"plan"`
	PublicKey    string                `json:"public_key"`
}

type subscriptionActionResponse struct {
	Success      bool                  `json:"success"`
	Subscription *subscriptionResponse `json:"subscription,omitempty"`
}

// Get は現在の契約状態とProプランの情報を返す。
// GET /api/subscription
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, subscriptionStateResponse{
		Subscription: toSubscriptionResponse(sub),
		Plan:         h.plan,
		PublicKey:    h.publicKey,
	})
}

// Initialize はProプランの決済を開始する。ボディは省略できる。
// POST /api/subscription/initialize
func (h *SubscriptionHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req initializeRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	res, err := h.service.Initialize(r.Context(), userID, req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Verify は取引参照番号を検証しJSONで結果を返す。
// POST /api/subscription/verify
func (h *SubscriptionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.Verify(r.Context(), userID, req.Reference)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		*checkout.VerifyResult
		Subscription *subscriptionResponse `json:"subscription,omitempty"`
	}{res, toSubscriptionResponse(res.Subscription)})
}

// VerifyRedirect は決済ページから戻ったブラウザの取引を検証し、ダッシュボードへリダイレクトする。
// 決済プロバイダーからのリダイレクトはAuthorizationヘッダーを持たないため認証を要求しない。
// GET /api/subscription/verify?reference=
func (h *SubscriptionHandler) VerifyRedirect(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		reference = r.URL.Query().Get("trxref")
	}

	_, err := h.service.VerifyCallback(r.Context(), reference)
	if err != nil {
		code := verifyErrorCode(err)
		if code == "verification_failed" {
			slog.Error("subscription verification failed",
				slog.String("reference", reference),
				slog.String("error", err.Error()),
			)
		}
		h.redirect(w, r, "error", code)
		return
	}

	h.redirect(w, r, "success", "subscription_activated")
}

func (h *SubscriptionHandler) redirect(w http.ResponseWriter, r *http.Request, key, value string) {
	q := url.Values{}
	q.Set(key, value)
	http.Redirect(w, r, h.dashboardURL+"?"+q.Encode(), http.StatusFound)
}

// verifyErrorCode はダッシュボードに渡すエラー種別を返す。
func verifyErrorCode(err error) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return "verification_failed"
	}
	switch apiErr.Code {
	case model.ErrCodeNoReference:
		return "no_reference"
	case model.ErrCodePaymentNotSuccessful:
		return "payment_failed"
	case model.ErrCodeUserNotFound:
		return "user_not_found"
	case model.ErrCodeReferenceMismatch:
		return "reference_mismatch"
	case model.ErrCodeReferenceExpired:
		return "reference_expired"
	case model.ErrCodeInvalidPlan:
		return "invalid_plan"
	default:
		return "verification_failed"
	}
}

// Cancel は定期購読の更新を停止する。プランは期間終了まで維持される。
// POST /api/subscription/cancel
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Cancel(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, subscriptionActionResponse{
		Success:      true,
		Subscription: toSubscriptionResponse(sub),
	})
}

// Resume は解約予約を取り消す。
// POST /api/subscription/resume
func (h *SubscriptionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Resume(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, subscriptionActionResponse{
		Success:      true,
		Subscription: toSubscriptionResponse(sub),
	})
}
