package middleware

import (
	"context"
	"net/http"
	"strings"

	"escrow-service/pkg/jwtutil"
	"escrow-service/pkg/response"
)

type ctxKey string

const ownerKey ctxKey = "owner_id"

type Auth struct {
	verifier *jwtutil.Verifier
	enabled  bool
}

// NewAuth builds the bearer-token middleware. With enabled=false every request
// passes through untouched, which is how local and test setups run.
func NewAuth(verifier *jwtutil.Verifier, enabled bool) *Auth {
	return &Auth{verifier: verifier, enabled: enabled}
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Error(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := a.verifier.ParseAndValidate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey, claims.OwnerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerID returns the authenticated owner id, or "" when auth is disabled.
func OwnerID(ctx context.Context) string {
	v, _ := ctx.Value(ownerKey).(string)
	return v
}
