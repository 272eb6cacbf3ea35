package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"relay/internal/relay/models"
	id "relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/httputil"
	authmw "relay/pkg/platform/middleware/auth"
	"relay/pkg/platform/middleware/request"
	"relay/pkg/platform/middleware/version"
	"relay/pkg/requestcontext"
)

// maxBodyBytes caps request bodies; the longest valid message is 4000 code points.
const maxBodyBytes = 64 << 10

// Service defines the relay operations exposed over HTTP.
type Service interface {
	OnIdentify(ctx context.Context, principal id.Principal) (models.IdentifyResult, error)
	OnCommand(ctx context.Context, principal id.Principal, cmd models.Command) (models.Response, error)
	OnText(ctx context.Context, principal id.Principal, text string) (models.Response, error)
}

// Handler handles the relay endpoints.
type Handler struct {
	logger       *slog.Logger
	relay        Service
	jwtValidator authmw.JWTValidator
}

// New creates a new relay Handler.
func New(relay Service, logger *slog.Logger, jwtValidator authmw.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		relay:        relay,
		jwtValidator: jwtValidator,
	}
}

// Register registers the relay routes with the chi router. Every route
// requires a bearer token whose subject is the transport principal.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(version.ExtractVersion(id.APIVersionV1))
		r.Use(authmw.RequireAuth(h.jwtValidator, h.logger))
		r.Use(version.ValidateTokenVersion(h.logger))
		r.Post("/session", h.HandleSession)
		r.Post("/commands", h.HandleCommand)
		r.Post("/messages", h.HandleText)
	})
}

// HandleSession identifies the caller and returns any pending messages.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	result, err := h.relay.OnIdentify(ctx, principal)
	if err != nil {
		h.writeServiceError(ctx, w, "identify failed", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(result))
}

// HandleCommand applies a menu command.
func (h *Handler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req CommandRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(ctx, "invalid command request",
			"request_id", request.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	resp, err := h.relay.OnCommand(ctx, principal, req.ToCommand())
	if err != nil {
		h.writeServiceError(ctx, w, "command failed", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toTurnResponse(resp))
}

// HandleText submits free text, read according to the caller's interaction state.
func (h *Handler) HandleText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req TextRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.relay.OnText(ctx, principal, req.Text)
	if err != nil {
		h.writeServiceError(ctx, w, "text failed", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toTurnResponse(resp))
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (id.Principal, bool) {
	principal := requestcontext.Principal(r.Context())
	if principal == "" {
		// RequireAuth sets this; reaching here means the route was mounted without it.
		h.logger.ErrorContext(r.Context(), "principal missing from context despite auth middleware",
			"request_id", request.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return "", false
	}
	return principal, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body",
			"request_id", request.GetRequestID(r.Context()),
			"error", err.Error(),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body too large"))
			return false
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.CodeOf(err) == dErrors.CodeInvariantViolation {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", request.GetRequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, err)
}
