package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"chronicle/pkg/requestcontext"
)

// HeaderAdminToken carries the shared operator token.
const HeaderAdminToken = "X-Admin-Token"

// HeaderActorID optionally names the operator; it is recorded as the actor of
// audit entries written during the request.
const HeaderActorID = "X-Actor-ID"

func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderAdminToken)
			// Use constant-time comparison to prevent timing attacks
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}

			ctx := r.Context()
			if actorID := r.Header.Get(HeaderActorID); actorID != "" {
				ctx = requestcontext.WithActor(ctx, requestcontext.Actor{Type: "operator", ID: actorID})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
