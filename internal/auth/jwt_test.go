package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func tenantEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(TenantFromContext(r.Context())))
	})
}

func TestMiddlewareWithoutSecret(t *testing.T) {
	t.Parallel()

	h := Middleware("")(tenantEcho())
	tests := []struct {
		header string
		want   string
	}{
		{"acme", "acme"},
		{"", DefaultTenant},
		{"  ", DefaultTenant},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TenantHeader, tt.header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || rec.Body.String() != tt.want {
			t.Fatalf("header %q: %d %q", tt.header, rec.Code, rec.Body.String())
		}
	}
}

func TestMiddlewareWithSecret(t *testing.T) {
	t.Parallel()

	const secret = "s3cret"
	token, err := GenerateToken(secret, "acme", "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	h := Middleware(secret)(tenantEcho())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(TenantHeader, "other")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "acme" {
		t.Fatalf("valid token: %d %q", rec.Code, rec.Body.String())
	}

	for name, header := range map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + mustToken(t, "other", "acme", time.Hour),
		"expired":      "Bearer " + mustToken(t, secret, "acme", -time.Hour),
		"garbage":      "Bearer abc.def",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status %d", name, rec.Code)
		}
	}
}

func mustToken(t *testing.T, secret, tenant string, ttl time.Duration) string {
	t.Helper()
	token, err := GenerateToken(secret, tenant, "", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	claims, err := ParseToken("k", mustToken(t, "k", "t9", time.Minute))
	if err != nil || claims.TenantID != "t9" {
		t.Fatalf("ParseToken = %+v, %v", claims, err)
	}
	if _, err := ParseToken("k", "nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestTenantFromEmptyContext(t *testing.T) {
	t.Parallel()

	if got := TenantFromContext(context.Background()); got != DefaultTenant {
		t.Fatalf("tenant = %q", got)
	}
}
