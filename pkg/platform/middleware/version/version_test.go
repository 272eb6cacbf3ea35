package version

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	id "relay/pkg/domain"
	"relay/pkg/requestcontext"
)

func TestExtractVersion(t *testing.T) {
	var seen id.APIVersion
	h := ExtractVersion(id.APIVersionV1)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestcontext.APIVersion(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/session", nil))
	assert.Equal(t, id.APIVersionV1, seen)
}

func TestValidateTokenVersion(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		route  id.APIVersion
		token  id.APIVersion
		status int
	}{
		{"matching versions", id.APIVersionV1, id.APIVersionV1, http.StatusNoContent},
		{"token without version", id.APIVersionV1, "", http.StatusNoContent},
		{"unrecognised token version", id.APIVersionV1, "v9", http.StatusNoContent},
		{"unknown route version", "v0", id.APIVersionV1, http.StatusForbidden},
		{"route version missing", "", id.APIVersionV1, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.route != "" {
				ctx = requestcontext.WithAPIVersion(ctx, tt.route)
			}
			if tt.token != "" {
				ctx = requestcontext.WithTokenAPIVersion(ctx, tt.token)
			}
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil).WithContext(ctx)
			w := httptest.NewRecorder()
			ValidateTokenVersion(logger)(ok).ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
