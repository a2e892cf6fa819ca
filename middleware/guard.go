package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	issueguard "github.com/tracksec/issueguard"
)

type actorContextKey struct{}

// ActorFromContext returns the verified actor injected by [RequireAuth].
func ActorFromContext(ctx context.Context) (*issueguard.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(*issueguard.Actor)
	return actor, ok
}

// RequireAuth verifies the bearer access token, applies the per-principal
// request budget, and injects the verified [issueguard.Actor] into the
// request context. Rejections are 401 for token problems, 429 for exhausted
// budgets, and 503 when a backing store cannot confirm the decision.
func RequireAuth(engine *issueguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := issueguard.WithClientIP(r.Context(), clientIP(r))
			ctx = issueguard.WithUserAgent(ctx, r.UserAgent())

			actor, err := engine.VerifyAccess(ctx, token)
			if err != nil {
				http.Error(w, "unauthorized", statusFor(err))
				return
			}

			if err := engine.AllowRequest(ctx, actor.ID); err != nil {
				if errors.Is(err, issueguard.ErrRateLimited) {
					http.Error(w, "rate limited", http.StatusTooManyRequests)
					return
				}
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, actorContextKey{}, actor)))
		})
	}
}

func statusFor(err error) int {
	if errors.Is(err, issueguard.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
