package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/paystack"
)

// maxWebhookBodySize はWebhookボディの上限サイズ。
const maxWebhookBodySize = 1 << 20

// WebhookDeliverer は署名付きWebhookを処理する。
type WebhookDeliverer interface {
	Deliver(ctx context.Context, body []byte, signature string) error
}

// WebhookHandler は決済プロバイダーからのWebhookを受け付けるHTTPハンドラー。
type WebhookHandler struct {
	deliverer WebhookDeliverer
	env       webhookEnv
	now       func() time.Time
}

type webhookEnv struct {
	HasPaystackSecret    bool `json:"hasPaystackSecret"`
	HasPaystackPublicKey bool `json:"hasPaystackPublicKey"`
	HasDatabase          bool `json:"hasDatabase"`
}

// WebhookEnv は疎通確認で返す設定の有無。値そのものは返さない。
type WebhookEnv struct {
	PaystackSecretKey string
	PaystackPublicKey string
	DatabaseURL       string
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(deliverer WebhookDeliverer, env WebhookEnv) *WebhookHandler {
	return &WebhookHandler{
		deliverer: deliverer,
		env: webhookEnv{
			HasPaystackSecret:    env.PaystackSecretKey != "",
			HasPaystackPublicKey: env.PaystackPublicKey != "",
			HasDatabase:          env.DatabaseURL != "",
		},
		now: time.Now,
	}
}

// Receive はWebhookを検証し、契約状態へ反映する。
// 署名が無効な場合のみ401を返し、それ以外は200を返して再送を止める。
// POST /webhooks/paystack
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidRequestError("ボディが大きすぎます"))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ボディを読み取れませんでした"))
		return
	}

	if err := h.deliverer.Deliver(r.Context(), body, r.Header.Get(paystack.SignatureHeader)); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// Status はWebhookエンドポイントの疎通確認に応答する。
// GET /webhooks/paystack
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status    string     `json:"status"`
		Message   string     `json:"message"`
		Timestamp time.Time  `json:"timestamp"`
		Env       webhookEnv `json:"env"`
	}{
		Status:    "ok",
		Message:   "Paystack webhook endpoint is reachable",
		Timestamp: h.now().UTC(),
		Env:       h.env,
	})
	slog.Debug("webhook status check", slog.String("remote_addr", r.RemoteAddr))
}
