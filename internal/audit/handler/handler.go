// Package handler exposes the audit ledger over HTTP: filtered listing,
// signed exports and per-entry verification.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chronicle/internal/audit"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/requestcontext"
)

// Service is the ledger surface the handler needs.
type Service interface {
	List(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error)
	Export(ctx context.Context, filter audit.Filter, format audit.ExportFormat) (*audit.Export, error)
	Verify(ctx context.Context, id uuid.UUID) (*audit.Verification, error)
}

type Handler struct {
	ledger Service
	logger *slog.Logger
}

func New(ledger Service, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// Register mounts the audit routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/logs", h.handleList)
	r.Get("/audit/logs/export", h.handleExport)
	r.Get("/audit/logs/{id}/verify", h.handleVerify)
}

// ListResponse wraps a listing.
type ListResponse struct {
	Items []*audit.Entry `json:"items"`
	Count int            `json:"count"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.ledger.List(ctx, filter)
	if err != nil {
		h.fail(ctx, w, "failed to list audit entries", err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Items: entries, Count: len(entries)})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	filter, err := parseFilter(query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rawFormat := query.Get("format")
	if rawFormat == "" {
		rawFormat = string(audit.ExportFormatJSON)
	}
	format, err := audit.ParseExportFormat(strings.ToLower(rawFormat))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	export, err := h.ledger.Export(ctx, filter, format)
	if err != nil {
		h.fail(ctx, w, "failed to export audit entries", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, export)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid audit entry id"))
		return
	}
	result, err := h.ledger.Verify(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to verify audit entry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
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

// parseFilter reads the listing filters from the query string. Unknown
// modules, event types and malformed timestamps are client errors.
func parseFilter(q url.Values) (audit.Filter, error) {
	filter := audit.Filter{
		OrganizationID: strings.TrimSpace(q.Get("organization_id")),
		ActorID:        strings.TrimSpace(q.Get("actor_id")),
	}
	if v := q.Get("module"); v != "" {
		module, err := audit.ParseModule(v)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.Module = module
	}
	if v := q.Get("event_type"); v != "" {
		eventType, err := audit.ParseEventType(v)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.EventType = eventType
	}
	var err error
	if filter.StartAt, err = parseTime(q, "start_at"); err != nil {
		return audit.Filter{}, err
	}
	if filter.EndAt, err = parseTime(q, "end_at"); err != nil {
		return audit.Filter{}, err
	}
	return filter, nil
}

func parseTime(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, key+" must be an RFC 3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}
