// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"kettleplane/pkg/api"
)

// operatorKey is the context key for the operator id.
type operatorKey struct{}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: msg,
		Code:  strconv.Itoa(status),
	})
}

// RequireToken rejects requests whose bearer token does not match token.
// An empty token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "Invalid authorization header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid authorization token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Operator reads the X-Operator-ID header into the request context. The
// header is mandatory on every method except GET and HEAD, since those
// calls are audited under the operator's name.
func Operator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(api.OperatorHeader))
		if id == "" && r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusBadRequest, api.OperatorHeader+" header is required")
			return
		}
		if id != "" {
			r = r.WithContext(NewContextWithOperator(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// NewContextWithOperator stores the operator id in ctx.
func NewContextWithOperator(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operatorKey{}, id)
}

// OperatorFromContext returns the operator id, if any.
func OperatorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(operatorKey{}).(string)
	return id, ok && id != ""
}
