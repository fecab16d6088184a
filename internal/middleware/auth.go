package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FidelCoder/GlobeLinkPay/internal/response"
)

type contextKey string

const callerKey contextKey = "caller"

// Caller is the authenticated identity the settlement flows act for.
type Caller struct {
	PhoneNumber string
}

// CallerFrom extracts the authenticated caller from a request context.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

// WithCaller is used by tests to inject an identity.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// RequireAuth validates the bearer token and attaches the caller
// identity.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				response.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				response.Error(w, http.StatusUnauthorized, "invalid token")
				return
			}

			phone, _ := claims["phone_number"].(string)
			if phone == "" {
				response.Error(w, http.StatusUnauthorized, "token missing subject")
				return
			}

			ctx := WithCaller(r.Context(), Caller{PhoneNumber: phone})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
