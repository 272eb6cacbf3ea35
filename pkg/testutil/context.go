package testutil

import (
	"context"
	"net/http"

	id "relay/pkg/domain"
	"relay/pkg/requestcontext"
)

// WithPrincipal adds a principal to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// Blank or otherwise invalid principals are not added.
func WithPrincipal(req *http.Request, principal string) *http.Request {
	if parsed, err := id.ParsePrincipal(principal); err == nil {
		return req.WithContext(requestcontext.WithPrincipal(req.Context(), parsed))
	}
	return req
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
