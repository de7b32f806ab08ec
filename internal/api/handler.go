// Package api exposes the manual trigger for soft and hard reaps.
//
//	POST /v1/reap/soft?count=N
//	POST /v1/reap/hard?count=N
//
// Callers authenticate with a bearer JWT and need delete permission. The
// response body is the batch outcome, {"id": {"index": true, ...}}.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/assetvault/reaper/internal/config"
	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/reaper"
)

// Executor runs a persisted batch. *reaper.Reaper implements it.
type Executor interface {
	Execute(ctx context.Context, typ reaper.Type, count int, deletedBy string, policy eligibility.Policy) (reaper.BatchOutcome, error)
}

// Handler serves the manual trigger.
type Handler struct {
	exec   Executor
	authz  Authorizer
	policy eligibility.Policy
	logger *logging.Logger
}

// NewHandler creates a Handler. policy is the same value the scheduler uses.
func NewHandler(exec Executor, authz Authorizer, policy eligibility.Policy, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Global()
	}
	return &Handler{exec: exec, authz: authz, policy: policy, logger: logger.Named("api")}
}

// Routes mounts the trigger behind authn.
func (h *Handler) Routes(authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/v1/reap", func(r chi.Router) {
		r.Use(authn)
		r.Post("/{type}", h.reap)
	})
	return r
}

func (h *Handler) reap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := CallerFromContext(ctx)
	if !ok {
		unauthorized(w, "unauthenticated")
		return
	}
	if !h.authz.HasDeletePermission(ctx, caller) {
		forbidden(w, "caller lacks delete permission")
		return
	}

	typ, ok := reaper.ParseType(chi.URLParam(r, "type"))
	if !ok {
		WriteError(w, http.StatusNotFound, CodeNotFound, "unknown reap type")
		return
	}

	raw := r.URL.Query().Get("count")
	if raw == "" {
		validationError(w, "count is required")
		return
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		validationError(w, "count must be an integer")
		return
	}
	if count <= 0 || count > config.MaxBatch {
		validationError(w, "count must be between 1 and "+strconv.Itoa(config.MaxBatch))
		return
	}

	log := logging.FromCtx(ctx, h.logger)
	outcome, err := h.exec.Execute(ctx, typ, count, caller.Subject, h.policy)
	if err != nil {
		log.Errorf("manual reap failed", map[string]any{
			"type":   string(typ),
			"count":  count,
			"caller": caller.Subject,
			"error":  err.Error(),
		})
		if errors.Is(err, reaper.ErrAuditNotConfigured) {
			WriteError(w, http.StatusInternalServerError, CodeAuditNotConfigured, "audit destination is not configured")
			return
		}
		internalError(w, "reap failed")
		return
	}
	if outcome == nil {
		outcome = reaper.BatchOutcome{}
	}
	log.Infof("manual reap executed", map[string]any{
		"type":   string(typ),
		"count":  count,
		"caller": caller.Subject,
		"reaped": len(outcome.Touched()),
	})
	writeJSON(w, http.StatusOK, outcome)
}

// requestLogger tags the request context with the chi request id as the
// correlation id and a logger carrying the method and path, then logs one
// line per request.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = logging.WithCorrelationIDCtx(ctx, id)
		}
		ctx = logging.WithLoggerCtx(ctx, h.logger.With(map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
		}))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.FromCtx(ctx, h.logger).Infof("request", map[string]any{
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		})
	})
}
