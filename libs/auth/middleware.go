package auth

import (
	"net/http"
	"strings"
	"time"
)

const (
	HeaderUserID     = "X-User-Id"
	HeaderBusinessID = "X-Business-Id"
)

// RequireAuth verifies the bearer token and replaces the identity headers with
// the verified claims. Requests without a business in app_metadata are rejected.
func RequireAuth(next http.Handler, secret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if !strings.HasPrefix(authHeader, "Bearer ") || token == "" {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := VerifyHS256(token, secret, time.Now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if claims.AppMetadata.BusinessID == "" {
			http.Error(w, "no business bound to user", http.StatusForbidden)
			return
		}

		r.Header.Set(HeaderUserID, claims.Sub)
		r.Header.Set(HeaderBusinessID, claims.AppMetadata.BusinessID)
		next.ServeHTTP(w, r)
	})
}

// BusinessID reads the business set by RequireAuth.
func BusinessID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderBusinessID))
}
