package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chronicle/internal/audit/metrics"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/platform/tx"
	"chronicle/pkg/requestcontext"
)

// Store persists ledger entries. Implementations never modify the signed
// columns of an entry once stored.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	// List returns matching entries, most recent first.
	List(ctx context.Context, filter Filter) ([]*Entry, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Entry, error)
}

// Config holds ledger settings resolved at startup.
type Config struct {
	DefaultOrganization string
}

// Ledger signs and records audit entries.
type Ledger struct {
	store      Store
	signer     *Signer
	tx         tx.Runner
	defaultOrg string
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithTxRunner makes Append run the store write in a unit of work, so the
// entry and any side rows (outbox) commit together.
func WithTxRunner(runner tx.Runner) Option {
	return func(l *Ledger) {
		l.tx = runner
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(l *Ledger) {
		l.tracer = tracer
	}
}

func NewLedger(store Store, signer *Signer, cfg Config, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	if signer == nil {
		return nil, errors.New("audit signer is required")
	}
	if strings.TrimSpace(cfg.DefaultOrganization) == "" {
		return nil, errors.New("default organization is required")
	}
	l := &Ledger{
		store:      store,
		signer:     signer,
		tx:         tx.Passthrough{},
		defaultOrg: cfg.DefaultOrganization,
		logger:     slog.Default(),
		tracer:     otel.Tracer("chronicle/audit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// DefaultOrganization is the tenant used when callers leave it empty.
func (l *Ledger) DefaultOrganization() string {
	return l.defaultOrg
}

// Append signs and stores a new entry. A store failure is returned to the
// caller and never retried.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (*Entry, error) {
	start := time.Now()
	defer l.metrics.ObserveAppend(start)

	ctx, span := l.tracer.Start(ctx, "audit.Append", trace.WithAttributes(
		attribute.String("audit.module", string(in.Module)),
		attribute.String("audit.event_type", string(in.EventType)),
	))
	defer span.End()

	entry, err := l.newEntry(ctx, in)
	if err != nil {
		span.SetStatus(codes.Error, "invalid entry")
		return nil, err
	}

	err = l.tx.RunInTx(ctx, func(ctx context.Context) error {
		return l.store.Append(ctx, entry)
	})
	if err != nil {
		l.metrics.IncrementAppendFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, "store append failed")
		l.logger.ErrorContext(ctx, "failed to append audit entry",
			"error", err,
			"event_type", entry.EventType,
			"organization_id", entry.OrganizationID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist audit entry")
	}

	l.metrics.IncrementAppended(string(entry.Module))
	l.logger.InfoContext(ctx, "audit entry appended",
		"entry_id", entry.ID,
		"event_type", entry.EventType,
		"organization_id", entry.OrganizationID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return entry, nil
}

func (l *Ledger) newEntry(ctx context.Context, in AppendInput) (*Entry, error) {
	if !in.Module.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown audit module: "+string(in.Module))
	}
	if !in.EventType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown audit event type: "+string(in.EventType))
	}
	action := strings.TrimSpace(in.Action)
	if action == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "audit action is required")
	}
	version := in.PayloadVersion
	if version == 0 {
		version = 1
	}
	if version < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "payload version must be at least 1")
	}

	payload := Payload{}
	if in.Payload != nil {
		canonical, err := Canonicalize(in.Payload)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "audit payload cannot be signed")
		}
		payload = Payload(canonical.(map[string]any))
	}

	actorType, actorID := in.ActorType, in.ActorID
	if actorType == "" && actorID == "" {
		if actor, ok := requestcontext.ActorFrom(ctx); ok {
			actorType, actorID = actor.Type, actor.ID
		}
	}

	org := strings.TrimSpace(in.OrganizationID)
	if org == "" {
		org = l.defaultOrg
	}

	entry := &Entry{
		ID:             uuid.New(),
		OrganizationID: org,
		Module:         in.Module,
		EventType:      in.EventType,
		Action:         action,
		ActorType:      optional(actorType),
		ActorID:        optional(actorID),
		TargetType:     optional(in.TargetType),
		TargetID:       optional(in.TargetID),
		PayloadVersion: version,
		Payload:        payload,
		CreatedAt:      requestcontext.Now(ctx).Truncate(time.Microsecond),
	}
	signature, err := l.signer.Sign(entry.signedFields())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign audit entry")
	}
	entry.Signature = signature
	return entry, nil
}

// List returns entries matching every set field of filter, most recent first.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	entries, err := l.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit entries")
	}
	return entries, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	entry, err := l.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "audit entry not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit entry")
	}
	return entry, nil
}

// Verify recomputes the signature of a stored entry and reports whether it
// still matches.
func (l *Ledger) Verify(ctx context.Context, id uuid.UUID) (*Verification, error) {
	entry, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	valid, err := l.VerifyEntry(entry)
	if err != nil {
		return nil, err
	}
	if !valid {
		l.logger.WarnContext(ctx, "audit entry signature mismatch",
			"entry_id", entry.ID,
			"organization_id", entry.OrganizationID,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return &Verification{ID: entry.ID, Valid: valid}, nil
}

// VerifyEntry checks an entry already in hand, e.g. one read back from an
// archive bundle.
func (l *Ledger) VerifyEntry(entry *Entry) (bool, error) {
	valid, err := l.signer.Verify(entry.signedFields(), entry.Signature)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to recompute audit signature")
	}
	l.metrics.IncrementVerification(valid)
	return valid, nil
}
