// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, quota, billing, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeQuotaExceeded        = "QUOTA_EXCEEDED"
	ErrCodeSignatureInvalid     = "SIGNATURE_INVALID"
	ErrCodeProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderRejected     = "PROVIDER_REJECTED"
	ErrCodePaymentNotSuccessful = "PAYMENT_NOT_SUCCESSFUL"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeClientNotFound       = "CLIENT_NOT_FOUND"
	ErrCodeInvoiceNotFound      = "INVOICE_NOT_FOUND"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInvalidPlan          = "INVALID_PLAN"
	ErrCodeNoReference          = "NO_REFERENCE"
	ErrCodeReferenceMismatch    = "REFERENCE_MISMATCH"
	ErrCodeReferenceExpired     = "REFERENCE_EXPIRED"
)

// NewQuotaExceededError は無料プランの上限到達エラーを生成する。
// どのリソースの上限（件数）に達したかをメッセージに含める。
func NewQuotaExceededError(counter Counter, limit int) *APIError {
	return &APIError{
		Code:     ErrCodeQuotaExceeded,
		Message:  fmt.Sprintf("無料プランの上限に達しました: %s (上限 %d件)", counter, limit),
		Category: "quota",
		Action:   "Proプランにアップグレードすると無制限に利用できます。",
	}
}

// NewSignatureInvalidError はWebhook署名の検証失敗エラーを生成する。
func NewSignatureInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeSignatureInvalid,
		Message:  "Webhook署名が無効です。",
		Category: "auth",
		Action:   "送信元を確認してください。",
	}
}

// NewProviderUnavailableError は決済プロバイダーへの接続失敗・タイムアウトエラーを生成する。
func NewProviderUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  fmt.Sprintf("決済サービスに接続できませんでした: %s", reason),
		Category: "billing",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProviderRejectedError は決済プロバイダーがリクエストを拒否した場合のエラーを生成する。
func NewProviderRejectedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderRejected,
		Message:  fmt.Sprintf("決済サービスがリクエストを拒否しました: %s", reason),
		Category: "billing",
		Action:   "入力内容を確認し、解決しない場合はサポートにお問い合わせください。",
	}
}

// NewPaymentNotSuccessfulError は取引の検証結果が成功でない場合のエラーを生成する。
func NewPaymentNotSuccessfulError(status string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentNotSuccessful,
		Message:  fmt.Sprintf("支払いが完了していません (status: %s)", status),
		Category: "billing",
		Action:   "お支払い方法を確認して再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSubscriptionNotFoundError は契約が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  "有効な契約が見つかりません。",
		Category: "billing",
		Action:   "プラン画面から契約状況を確認してください。",
	}
}

// NewClientNotFoundError はクライアントが見つからない場合のエラーを生成する。
func NewClientNotFoundError(clientID string) *APIError {
	return &APIError{
		Code:     ErrCodeClientNotFound,
		Message:  fmt.Sprintf("指定されたクライアントが見つかりません: %s", clientID),
		Category: "validation",
		Action:   "クライアントIDを確認してください。",
	}
}

// NewInvoiceNotFoundError は請求書が見つからない場合のエラーを生成する。
func NewInvoiceNotFoundError(invoiceID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvoiceNotFound,
		Message:  fmt.Sprintf("指定された請求書が見つかりません: %s", invoiceID),
		Category: "validation",
		Action:   "請求書IDを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidPlanError は決済を開始できないプランが指定された場合のエラーを生成する。
func NewInvalidPlanError(plan string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPlan,
		Message:  fmt.Sprintf("このプランは決済できません: %s", plan),
		Category: "validation",
		Action:   "Proプランを指定してください。",
	}
}

// NewNoReferenceError は取引参照番号が指定されていない場合のエラーを生成する。
func NewNoReferenceError() *APIError {
	return &APIError{
		Code:     ErrCodeNoReference,
		Message:  "取引参照番号が指定されていません。",
		Category: "validation",
		Action:   "決済画面からやり直してください。",
	}
}

// NewReferenceMismatchError は取引参照番号が別のテナントの決済を指している場合のエラーを生成する。
func NewReferenceMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeReferenceMismatch,
		Message:  "この取引参照番号は現在のアカウントの決済ではありません。",
		Category: "billing",
		Action:   "決済画面からやり直してください。",
	}
}

// NewReferenceExpiredError は取引参照番号の契約期間が既に終了している場合のエラーを生成する。
func NewReferenceExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeReferenceExpired,
		Message:  "この取引参照番号の契約期間は終了しています。",
		Category: "billing",
		Action:   "新しく決済を行ってください。",
	}
}
