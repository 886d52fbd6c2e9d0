package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/invoiceman/internal/invoice"
	"github.com/hitoshi/invoiceman/internal/model"
)

// InvoiceServiceInterface は請求書ハンドラーが必要とするサービスインターフェース。
type InvoiceServiceInterface interface {
	Create(ctx context.Context, userID string, input invoice.CreateInput) (*model.Invoice, error)
	Get(ctx context.Context, userID, id string) (*model.Invoice, error)
	List(ctx context.Context, userID string) ([]*model.Invoice, error)
	// Send は請求書をメールで送信する。toが空なら請求先のアドレスを使う。
	Send(ctx context.Context, userID, invoiceID, to string) (*model.Invoice, error)
}

// InvoiceHandler は請求書管理のHTTPハンドラー。
type InvoiceHandler struct {
	service InvoiceServiceInterface
}

// NewInvoiceHandler はInvoiceHandlerを生成する。
func NewInvoiceHandler(service InvoiceServiceInterface) *InvoiceHandler {
	return &InvoiceHandler{service: service}
}

// createInvoiceRequest は請求書作成リクエストのボディ。日付はYYYY-MM-DD形式。
type createInvoiceRequest struct {
	ClientID      string `json:"client_id"`
	InvoiceNumber string `json:"invoice_number"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	IssueDate     string `json:"issue_date"`
	DueDate       string `json:"due_date"`
	Notes         string `json:"notes"`
}

// sendInvoiceRequest は請求書送信リクエストのボディ。
type sendInvoiceRequest struct {
	To string `json:"to"`
}

// List は請求書一覧を返す。
// GET /api/invoices
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	invoices, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]invoiceResponse, len(invoices))
	for i, inv := range invoices {
		resp[i] = toInvoiceResponse(inv)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create は請求書を作成する。
// POST /api/invoices
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createInvoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	issue, err := parseDate(req.IssueDate)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("issue_dateはYYYY-MM-DD形式で指定してください"))
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("due_dateはYYYY-MM-DD形式で指定してください"))
		return
	}

	inv, err := h.service.Create(r.Context(), userID, invoice.CreateInput{
		ClientID:      req.ClientID,
		InvoiceNumber: req.InvoiceNumber,
		Currency:      req.Currency,
		Total:         req.Total,
		IssueDate:     issue,
		DueDate:       due,
		Notes:         req.Notes,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvoiceResponse(inv))
}

// Get は請求書を返す。
// GET /api/invoices/{id}
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	inv, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

// Send は請求書をメールで送信する。ボディは省略できる。
// POST /api/invoices/{id}/send
func (h *InvoiceHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req sendInvoiceRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	inv, err := h.service.Send(r.Context(), userID, chi.URLParam(r, "id"), req.To)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

// parseDate はYYYY-MM-DD形式の日付をUTCで解釈する。空文字列はゼロ値を返す。
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}
