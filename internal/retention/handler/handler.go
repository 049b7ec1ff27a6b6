package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"chronicle/internal/retention"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/requestcontext"
)

type Service interface {
	GetPolicy(ctx context.Context, org string) (*retention.Policy, error)
	ConfigurePolicy(ctx context.Context, org string, retentionDays, archiveAfterDays int) (*retention.Policy, error)
	Run(ctx context.Context, org string, reference time.Time) (*retention.Execution, error)
	ListExecutions(ctx context.Context, org string) ([]*retention.Execution, error)
}

type Handler struct {
	retention Service
	logger    *slog.Logger
}

func New(retention Service, logger *slog.Logger) *Handler {
	return &Handler{retention: retention, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/audit/organizations/{org}/retention", func(r chi.Router) {
		r.Get("/", h.handleGetPolicy)
		r.Put("/", h.handleConfigurePolicy)
		r.Post("/run", h.handleRun)
		r.Get("/executions", h.handleListExecutions)
	})
}

// PolicyRequest is the body of PUT .../retention.
type PolicyRequest struct {
	RetentionDays    *int `json:"retention_days"`
	ArchiveAfterDays *int `json:"archive_after_days"`
}

func (r *PolicyRequest) Validate() error {
	if r.RetentionDays == nil || r.ArchiveAfterDays == nil {
		return dErrors.New(dErrors.CodeValidation, "retention_days and archive_after_days are required")
	}
	return nil
}

// RunRequest is the optional body of POST .../retention/run. An absent
// reference means now.
type RunRequest struct {
	Reference *time.Time `json:"reference"`
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.retention.GetPolicy(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		h.fail(r.Context(), w, "failed to load retention policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policy)
}

func (h *Handler) handleConfigurePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	policy, err := h.retention.ConfigurePolicy(ctx, chi.URLParam(r, "org"), *req.RetentionDays, *req.ArchiveAfterDays)
	if err != nil {
		h.fail(ctx, w, "failed to configure retention policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policy)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	var reference time.Time
	if req.Reference != nil {
		reference = *req.Reference
	}
	execution, err := h.retention.Run(ctx, chi.URLParam(r, "org"), reference)
	if err != nil {
		h.fail(ctx, w, "retention run failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, execution)
}

func (h *Handler) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := h.retention.ListExecutions(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		h.fail(r.Context(), w, "failed to list retention executions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, executions)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
