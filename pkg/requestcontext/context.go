// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services read them. Keeping this package free of
// net/http lets the relay service import it without pulling in transport code.
//
// Usage in services (read values):
//
//	principal := requestcontext.Principal(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "relay/pkg/domain"
)

type (
	principalKey       struct{}
	requestIDKey       struct{}
	requestTimeKey     struct{}
	apiVersionKey      struct{}
	tokenAPIVersionKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyPrincipal   = principalKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

var (
	contextKeyAPIVersion      = apiVersionKey{}
	contextKeyTokenAPIVersion = tokenAPIVersionKey{}
)

// Principal retrieves the authenticated transport principal.
// Returns the empty principal if not set.
func Principal(ctx context.Context) id.Principal {
	if p, ok := ctx.Value(ContextKeyPrincipal).(id.Principal); ok {
		return p
	}
	return ""
}

func WithPrincipal(ctx context.Context, principal id.Principal) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, principal)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Workers use it to keep one timestamp across a batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

// APIVersion returns the version of the route being served.
func APIVersion(ctx context.Context) id.APIVersion {
	if v, ok := ctx.Value(contextKeyAPIVersion).(id.APIVersion); ok {
		return v
	}
	return ""
}

func WithAPIVersion(ctx context.Context, v id.APIVersion) context.Context {
	return context.WithValue(ctx, contextKeyAPIVersion, v)
}

// TokenAPIVersion returns the version the bearer token was minted for.
func TokenAPIVersion(ctx context.Context) id.APIVersion {
	if v, ok := ctx.Value(contextKeyTokenAPIVersion).(id.APIVersion); ok {
		return v
	}
	return ""
}

func WithTokenAPIVersion(ctx context.Context, v id.APIVersion) context.Context {
	return context.WithValue(ctx, contextKeyTokenAPIVersion, v)
}
