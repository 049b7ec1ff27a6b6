package gdpr

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/audit"
	"chronicle/internal/gdpr/metrics"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/platform/tx"
	"chronicle/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, request *Request, history *HistoryEntry) error
	FindByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// FindForUpdate loads the request and locks it for the rest of the
	// transaction in ctx.
	FindForUpdate(ctx context.Context, id uuid.UUID) (*Request, error)
	Update(ctx context.Context, request *Request, history *HistoryEntry) error
	ListByOrganization(ctx context.Context, org string) ([]*Request, error)
	History(ctx context.Context, id uuid.UUID) ([]*HistoryEntry, error)
}

type AuditLedger interface {
	Append(ctx context.Context, in audit.AppendInput) (*audit.Entry, error)
}

type Config struct {
	SLADays             int
	DefaultOrganization string
}

func (c Config) Validate() error {
	if c.SLADays < 1 {
		return errors.New("rgpd SLA must be at least one day")
	}
	if strings.TrimSpace(c.DefaultOrganization) == "" {
		return errors.New("default organization is required")
	}
	return nil
}

// Service is the data-subject request registry.
type Service struct {
	store   Store
	ledger  AuditLedger
	cfg     Config
	tx      tx.Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func New(store Store, ledger AuditLedger, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("rgpd store is required")
	}
	if ledger == nil {
		return nil, errors.New("audit ledger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		store:  store,
		ledger: ledger,
		cfg:    cfg,
		tx:     tx.Passthrough{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) resolveOrg(org string) string {
	org = strings.TrimSpace(org)
	if org == "" {
		return s.cfg.DefaultOrganization
	}
	return org
}

// Register opens a pending request due SLADays after submission.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Request, error) {
	requestType, err := in.Validate()
	if err != nil {
		return nil, err
	}
	submittedAt := requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
	request := &Request{
		ID:               uuid.New(),
		OrganizationID:   s.resolveOrg(in.OrganizationID),
		RequestType:      requestType,
		Status:           StatusPending,
		Requester:        in.Requester,
		SubjectReference: in.SubjectReference,
		SubmittedAt:      submittedAt,
		DueAt:            submittedAt.AddDate(0, 0, s.cfg.SLADays),
	}
	history := newHistoryEntry(request, submittedAt, optional(in.Notes))

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, request, history); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save rgpd request")
		}
		return s.audit(ctx, request, audit.EventRGPDRequestRegistered, "request.created")
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementRegistered(string(requestType))
	s.logger.InfoContext(ctx, "rgpd request registered",
		"request_id", requestcontext.RequestID(ctx),
		"rgpd_request_id", request.ID,
		"organization_id", request.OrganizationID,
		"request_type", request.RequestType,
		"due_at", request.DueAt,
	)
	return request, nil
}

// Complete moves a request straight to completed. Completing a completed
// request again re-stamps it, adds a history row and audits again.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, in CompleteInput) (*Request, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)

	var request *Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		request, err = s.store.FindForUpdate(ctx, id)
		if err != nil {
			return s.translateFind(err)
		}
		if !request.Status.CanTransitionTo(StatusCompleted) {
			return dErrors.New(dErrors.CodeInvalidState, "rgpd request cannot be completed from status "+string(request.Status))
		}
		notes := optional(in.ResolutionNotes)
		request.ApplyCompletion(now, in.Processor, notes)
		if err := s.store.Update(ctx, request, newHistoryEntry(request, now, notes)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save rgpd request")
		}
		return s.audit(ctx, request, audit.EventRGPDRequestCompleted, "request.completed")
	})
	if err != nil {
		return nil, err
	}

	late := request.IsOverdue(now)
	s.metrics.IncrementCompleted(string(request.RequestType), late)
	s.logger.InfoContext(ctx, "rgpd request completed",
		"request_id", requestcontext.RequestID(ctx),
		"rgpd_request_id", request.ID,
		"organization_id", request.OrganizationID,
		"late", late,
	)
	return request, nil
}

func (s *Service) audit(ctx context.Context, request *Request, event audit.EventType, action string) error {
	_, err := s.ledger.Append(ctx, audit.AppendInput{
		OrganizationID: request.OrganizationID,
		Module:         audit.ModuleRGPD,
		EventType:      event,
		Action:         action,
		TargetType:     "rgpd_request",
		TargetID:       request.ID.String(),
		Payload:        request.resource(),
	})
	return err
}

// List returns the requests of org, most recent submission first.
func (s *Service) List(ctx context.Context, org string) ([]*Request, error) {
	requests, err := s.store.ListByOrganization(ctx, s.resolveOrg(org))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list rgpd requests")
	}
	return requests, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	request, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.translateFind(err)
	}
	return request, nil
}

// History returns every status change of a request, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*HistoryEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.store.History(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load rgpd request history")
	}
	return history, nil
}

func (s *Service) translateFind(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "rgpd request not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load rgpd request")
}
