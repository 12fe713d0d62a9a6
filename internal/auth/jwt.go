// Package auth resolves the tenant a request belongs to. Tenants only scope
// supplier templates.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTenant is used when a request names no tenant
const DefaultTenant = "default"

// TenantHeader carries the tenant id when JWT is not configured
const TenantHeader = "X-Tenant-ID"

// Claims are the JWT claims the service reads
type Claims struct {
	TenantID string `json:"tenant"`
	UserID   string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

type contextKey struct{}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoClaims     = errors.New("no claims in context")
)

// GenerateToken signs claims for tenant with an HS256 secret
func GenerateToken(secret, tenant, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenant,
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates a signed token and returns its claims
func ParseToken(secret, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware resolves the tenant of every request. With a secret, a valid
// bearer token is required and its tenant claim wins. Without one the
// X-Tenant-ID header is trusted, falling back to DefaultTenant.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFor(secret, r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"success":false,"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
		})
	}
}

func claimsFor(secret string, r *http.Request) (*Claims, error) {
	if secret == "" {
		tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenant == "" {
			tenant = DefaultTenant
		}
		return &Claims{TenantID: tenant}, nil
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	claims, err := ParseToken(secret, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	if claims.TenantID == "" {
		claims.TenantID = DefaultTenant
	}
	return claims, nil
}

// GetClaimsFromContext returns the claims stored by Middleware
func GetClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	if !ok || claims == nil {
		return nil, ErrNoClaims
	}
	return claims, nil
}

// TenantFromContext returns the request's tenant, DefaultTenant when unset
func TenantFromContext(ctx context.Context) string {
	claims, err := GetClaimsFromContext(ctx)
	if err != nil || claims.TenantID == "" {
		return DefaultTenant
	}
	return claims.TenantID
}
