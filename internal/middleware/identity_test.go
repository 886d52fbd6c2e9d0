package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/invoiceman/internal/auth"
	"github.com/hitoshi/invoiceman/internal/model"
)

type mockVerifier struct {
	verifyFn func(token string) (*auth.Claims, error)
}

func (m *mockVerifier) Verify(token string) (*auth.Claims, error) {
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	return nil, auth.ErrInvalidToken
}

type mockSyncer struct {
	syncFn func(ctx context.Context, claims *auth.Claims) (*model.User, error)
	calls  int
}

func (m *mockSyncer) Sync(ctx context.Context, claims *auth.Claims) (*model.User, error) {
	m.calls++
	if m.syncFn != nil {
		return m.syncFn(ctx, claims)
	}
	return &model.User{ID: "user-" + claims.Subject, Subject: claims.Subject}, nil
}

func acceptToken(valid string) *mockVerifier {
	return &mockVerifier{
		verifyFn: func(token string) (*auth.Claims, error) {
			if token == valid {
				return &auth.Claims{Subject: "sub-1", Email: "owner@example.com"}, nil
			}
			return nil, auth.ErrInvalidToken
		},
	}
}

func TestIdentityMiddleware_ValidToken_InjectsUserID(t *testing.T) {
	syncer := &mockSyncer{}
	mw := NewIdentityMiddleware(acceptToken("good"), syncer)

	var captured string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured != "user-sub-1" {
		t.Errorf("userID = %q, want %q", captured, "user-sub-1")
	}
	if syncer.calls != 1 {
		t.Errorf("sync calls = %d, want 1", syncer.calls)
	}
}

func TestIdentityMiddleware_LowercaseScheme_Accepted(t *testing.T) {
	mw := NewIdentityMiddleware(acceptToken("good"), &mockSyncer{})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "bearer good")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestIdentityMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
		{"invalid token", "Bearer forged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &mockSyncer{}
			mw := NewIdentityMiddleware(acceptToken("good"), syncer)
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != "UNAUTHORIZED" {
				t.Errorf("code = %q, want UNAUTHORIZED", body.Code)
			}
			if syncer.calls != 0 {
				t.Errorf("sync should not be called, got %d calls", syncer.calls)
			}
		})
	}
}

func TestIdentityMiddleware_SyncError_Returns500(t *testing.T) {
	syncer := &mockSyncer{
		syncFn: func(ctx context.Context, claims *auth.Claims) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}
	mw := NewIdentityMiddleware(acceptToken("good"), syncer)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
	ctx := ContextWithUserID(context.Background(), "user-x")
	if got, err := UserIDFromContext(ctx); err != nil || got != "user-x" {
		t.Errorf("UserIDFromContext = (%q, %v), want (user-x, nil)", got, err)
	}
}

// chi.Routerのグループ内で認証ミドルウェアが保護ルートにのみ適用されることを検証する。
func TestIdentityMiddleware_WithChiRouter(t *testing.T) {
	r := chi.NewRouter()
	r.Use(NewCORSMiddleware("http://localhost:3000"))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Group(func(r chi.Router) {
		r.Use(NewIdentityMiddleware(acceptToken("good"), &mockSyncer{}))
		r.Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("/api/me without token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("/api/me status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["user_id"] != "user-sub-1" {
		t.Errorf("user_id = %q, want %q", body["user_id"], "user-sub-1")
	}
}
