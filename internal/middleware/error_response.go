package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/invoiceman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// defaultActions はActionが空のエラーに補う、カテゴリ別の対処方法。
var defaultActions = map[string]string{
	"auth":       "ログインし直してください。",
	"validation": "入力内容を確認してください。",
	"quota":      "Proプランにアップグレードするか、次回の利用量リセットまでお待ちください。",
	"billing":    "決済状況を確認し、必要であれば決済画面からやり直してください。",
	"system":     "しばらく待ってから再度お試しください。",
}

// ActionFor はレスポンスに載せる対処方法を返す。
// Actionが空の場合はカテゴリの既定値、カテゴリも不明な場合はsystemの既定値を使う。
func ActionFor(apiErr *model.APIError) string {
	if apiErr.Action != "" {
		return apiErr.Action
	}
	if action, ok := defaultActions[apiErr.Category]; ok {
		return action
	}
	return defaultActions["system"]
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// カテゴリが空の場合はsystemとして返す。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	category := apiErr.Category
	if category == "" {
		category = "system"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: category,
		Action:   ActionFor(apiErr),
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
