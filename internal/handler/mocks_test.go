package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/invoiceman/internal/auth"
	"github.com/hitoshi/invoiceman/internal/checkout"
	"github.com/hitoshi/invoiceman/internal/client"
	"github.com/hitoshi/invoiceman/internal/invoice"
	"github.com/hitoshi/invoiceman/internal/middleware"
	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/usage"
	"github.com/hitoshi/invoiceman/internal/user"
)

// --- モック定義 ---

type mockUserService struct {
	getProfileFn func(ctx context.Context, userID string) (*user.Profile, error)
}

func (m *mockUserService) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, userID)
	}
	return &user.Profile{ID: userID, PlanTier: model.PlanTierFree}, nil
}

type mockUsageService struct {
	checkFn func(ctx context.Context, userID string) (*usage.Report, error)
}

func (m *mockUsageService) CheckUsageLimits(ctx context.Context, userID string) (*usage.Report, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, userID)
	}
	return &usage.Report{}, nil
}

type mockClientService struct {
	createFn func(ctx context.Context, userID string, input client.CreateInput) (*model.Client, error)
	getFn    func(ctx context.Context, userID, id string) (*model.Client, error)
	listFn   func(ctx context.Context, userID string) ([]*model.Client, error)
}

func (m *mockClientService) Create(ctx context.Context, userID string, input client.CreateInput) (*model.Client, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, input)
	}
	return &model.Client{ID: "client-1", UserID: userID, Name: input.Name, Email: input.Email}, nil
}

func (m *mockClientService) Get(ctx context.Context, userID, id string) (*model.Client, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, id)
	}
	return nil, model.NewClientNotFoundError(id)
}

func (m *mockClientService) List(ctx context.Context, userID string) ([]*model.Client, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

type mockInvoiceService struct {
	createFn func(ctx context.Context, userID string, input invoice.CreateInput) (*model.Invoice, error)
	getFn    func(ctx context.Context, userID, id string) (*model.Invoice, error)
	listFn   func(ctx context.Context, userID string) ([]*model.Invoice, error)
	sendFn   func(ctx context.Context, userID, invoiceID, to string) (*model.Invoice, error)
}

func (m *mockInvoiceService) Create(ctx context.Context, userID string, input invoice.CreateInput) (*model.Invoice, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, input)
	}
	return &model.Invoice{ID: "inv-1", UserID: userID, ClientID: input.ClientID, Status: model.InvoiceStatusDraft}, nil
}

func (m *mockInvoiceService) Get(ctx context.Context, userID, id string) (*model.Invoice, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, id)
	}
	return nil, model.NewInvoiceNotFoundError(id)
}

func (m *mockInvoiceService) List(ctx context.Context, userID string) ([]*model.Invoice, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockInvoiceService) Send(ctx context.Context, userID, invoiceID, to string) (*model.Invoice, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, userID, invoiceID, to)
	}
	return &model.Invoice{ID: invoiceID, UserID: userID, Status: model.InvoiceStatusSent}, nil
}

type mockCheckoutService struct {
	initializeFn func(ctx context.Context, userID, email string) (*checkout.InitializeResult, error)
	verifyFn     func(ctx context.Context, userID, reference string) (*checkout.VerifyResult, error)
	callbackFn   func(ctx context.Context, reference string) (*checkout.VerifyResult, error)
	cancelFn     func(ctx context.Context, userID string) (*model.Subscription, error)
	resumeFn     func(ctx context.Context, userID string) (*model.Subscription, error)
	getFn        func(ctx context.Context, userID string) (*model.Subscription, error)
}

func (m *mockCheckoutService) Initialize(ctx context.Context, userID, email string) (*checkout.InitializeResult, error) {
	if m.initializeFn != nil {
		return m.initializeFn(ctx, userID, email)
	}
	return &checkout.InitializeResult{AuthorizationURL: "https://checkout.paystack.com/abc", Reference: "ref-1"}, nil
}

func (m *mockCheckoutService) Verify(ctx context.Context, userID, reference string) (*checkout.VerifyResult, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, userID, reference)
	}
	return &checkout.VerifyResult{Success: true, Reference: reference}, nil
}

func (m *mockCheckoutService) VerifyCallback(ctx context.Context, reference string) (*checkout.VerifyResult, error) {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, reference)
	}
	return &checkout.VerifyResult{Success: true, Reference: reference}, nil
}

func (m *mockCheckoutService) Cancel(ctx context.Context, userID string) (*model.Subscription, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, userID)
	}
	return nil, model.NewSubscriptionNotFoundError()
}

func (m *mockCheckoutService) Resume(ctx context.Context, userID string) (*model.Subscription, error) {
	if m.resumeFn != nil {
		return m.resumeFn(ctx, userID)
	}
	return nil, model.NewSubscriptionNotFoundError()
}

func (m *mockCheckoutService) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return nil, nil
}

type mockDeliverer struct {
	deliverFn func(ctx context.Context, body []byte, signature string) error
	calls     int
}

func (m *mockDeliverer) Deliver(ctx context.Context, body []byte, signature string) error {
	m.calls++
	if m.deliverFn != nil {
		return m.deliverFn(ctx, body, signature)
	}
	return nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

type mockVerifier struct{}

func (mockVerifier) Verify(token string) (*auth.Claims, error) {
	if token == "valid-token" {
		return &auth.Claims{Subject: "sub-123", Email: "owner@example.com"}, nil
	}
	return nil, auth.ErrInvalidToken
}

type mockSyncer struct{}

func (mockSyncer) Sync(ctx context.Context, claims *auth.Claims) (*model.User, error) {
	return &model.User{ID: "user-123", Subject: claims.Subject, Email: claims.Email, PlanTier: model.PlanTierFree}, nil
}

// withUserID はテスト用に認証済みユーザーIDをコンテキストに注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
