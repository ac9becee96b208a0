package middleware

import (
	"context"
	"net/http"
	"strings"

	"emooti/internal/auth"
	domauth "emooti/internal/domain/auth"
	"emooti/internal/requestctx"
)

type ctxKey string

const ctxKeyUser ctxKey = "user"

// Auth resolves the bearer token into a user context when present. Requests
// without a valid token pass through anonymous; RequirePermission is what
// rejects them.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := auth.ParseToken(secret, parts[1])
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUser, domauth.UserContext{
				UserID:   claims.UserID,
				RoleName: claims.RoleName,
				Email:    claims.Email,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUser(ctx context.Context) (domauth.UserContext, bool) {
	user, ok := ctx.Value(ctxKeyUser).(domauth.UserContext)
	return user, ok
}

func GetRequestID(ctx context.Context) string {
	return requestctx.GetRequestID(ctx)
}
