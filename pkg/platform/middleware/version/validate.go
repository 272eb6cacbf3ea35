package version

import (
	"log/slog"
	"net/http"

	id "relay/pkg/domain"
	"relay/pkg/requestcontext"
)

// ValidateTokenVersion rejects tokens minted for a newer API than the route.
// Older tokens are accepted on newer routes. Tokens without a version claim
// are treated as v1.
//
// Runs after ExtractVersion and the auth middleware.
func ValidateTokenVersion(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			routeVersion := requestcontext.APIVersion(ctx)
			if routeVersion.IsNil() {
				logger.ErrorContext(ctx, "version validation failed: route version not set",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeVersionError(w, http.StatusInternalServerError, "server_error", "route version not configured")
				return
			}

			tokenVersion := requestcontext.TokenAPIVersion(ctx)
			if tokenVersion.IsNil() {
				tokenVersion = id.APIVersionV1
			}

			if !routeVersion.IsAtLeast(tokenVersion) {
				logger.WarnContext(ctx, "cross-version token replay rejected",
					"token_version", tokenVersion.String(),
					"route_version", routeVersion.String(),
					"request_id", requestcontext.RequestID(ctx),
				)
				writeVersionError(w, http.StatusForbidden, "invalid_token",
					"token API version not compatible with this endpoint version")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
