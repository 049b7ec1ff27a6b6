package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chronicle/internal/gdpr"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/requestcontext"
)

type Service interface {
	Register(ctx context.Context, in gdpr.RegisterInput) (*gdpr.Request, error)
	Complete(ctx context.Context, id uuid.UUID, in gdpr.CompleteInput) (*gdpr.Request, error)
	List(ctx context.Context, org string) ([]*gdpr.Request, error)
	Get(ctx context.Context, id uuid.UUID) (*gdpr.Request, error)
	History(ctx context.Context, id uuid.UUID) ([]*gdpr.HistoryEntry, error)
}

type Handler struct {
	registry Service
	logger   *slog.Logger
}

func New(registry Service, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/rgpd/requests", func(r chi.Router) {
		r.Post("/", h.handleRegister)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/history", h.handleHistory)
		r.Post("/{id}/complete", h.handleComplete)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in gdpr.RegisterInput
	if !decode(w, r, &in) {
		return
	}
	request, err := h.registry.Register(ctx, in)
	if err != nil {
		h.fail(ctx, w, "failed to register rgpd request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, request)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	var in gdpr.CompleteInput
	if !decode(w, r, &in) {
		return
	}
	request, err := h.registry.Complete(ctx, id, in)
	if err != nil {
		h.fail(ctx, w, "failed to complete rgpd request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	requests, err := h.registry.List(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		h.fail(r.Context(), w, "failed to list rgpd requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, requests)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	request, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "failed to load rgpd request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	history, err := h.registry.History(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "failed to load rgpd request history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, history)
}

// decode rejects unknown fields, so misspelled keys are not silently dropped.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func requestID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid rgpd request id"))
		return uuid.Nil, false
	}
	return id, true
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
