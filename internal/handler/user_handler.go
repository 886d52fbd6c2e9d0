package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/invoiceman/internal/usage"
	"github.com/hitoshi/invoiceman/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// GetProfile はテナントのプロフィール（契約概要と利用状況を含む）を返す。
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
}

// UsageServiceInterface は利用状況の取得に必要なサービスインターフェース。
type UsageServiceInterface interface {
	CheckUsageLimits(ctx context.Context, userID string) (*usage.Report, error)
}

// UserHandler はテナント自身の情報を返すHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	usage   UsageServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, usage UsageServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
		usage:   usage,
	}
}

// Me は認証済みテナントのプロフィールを返す。
// GET /api/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// Usage はプランの上限と現在の利用量を返す。
// GET /api/usage
func (h *UserHandler) Usage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	report, err := h.usage.CheckUsageLimits(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
