package testutil

import (
	"net/http"
	"time"

	"chronicle/pkg/requestcontext"
)

// WithActor adds the acting principal to the request context.
// This simulates what the admin middleware does for authenticated requests.
func WithActor(req *http.Request, actorType, actorID string) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), requestcontext.Actor{Type: actorType, ID: actorID})
	return req.WithContext(ctx)
}

// WithRequestTime pins the request time so handlers compute deterministic
// timestamps.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
