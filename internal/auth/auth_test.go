package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "OmniSwap-Agent/internal/errors"
)

func TestAuthenticateStaticTokens(t *testing.T) {
	svc, err := NewService(ModeStatic, []Token{{Name: "ops", Value: "secret-token"}})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	name, err := svc.Authenticate("Bearer secret-token")
	if err != nil || name != "ops" {
		t.Fatalf("valid token rejected: %v (name=%s)", err, name)
	}

	if _, err := svc.Authenticate(""); xerrors.CodeOf(err) != CodeMissingToken {
		t.Fatalf("missing token should be rejected: %v", err)
	}
	if _, err := svc.Authenticate("Bearer wrong"); xerrors.CodeOf(err) != CodeInvalidToken {
		t.Fatalf("wrong token should be rejected: %v", err)
	}
}

func TestStaticModeRequiresTokens(t *testing.T) {
	if _, err := NewService(ModeStatic, nil); err == nil {
		t.Fatalf("static mode without tokens should fail")
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, err := NewService(ModeDisabled, nil)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("disabled auth should pass through: %d", rec.Code)
	}
}

func TestMiddlewareBlocksWithoutToken(t *testing.T) {
	svc, err := NewService(ModeStatic, []Token{{Name: "ops", Value: "secret-token"}})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token should get 401: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("valid token should pass: %d", rec.Code)
	}
}
