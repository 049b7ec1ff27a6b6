package retention

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

	"chronicle/internal/audit"
	"chronicle/internal/retention/metrics"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/platform/tx"
	"chronicle/pkg/requestcontext"
)

type PolicyStore interface {
	FindPolicy(ctx context.Context, org string) (*Policy, error)
	UpsertPolicy(ctx context.Context, policy *Policy) error
	// ListOrganizations returns every organization with a persisted policy.
	ListOrganizations(ctx context.Context) ([]string, error)
}

type ExecutionStore interface {
	SaveExecution(ctx context.Context, execution *Execution) error
	// ListExecutions returns runs for org, newest first.
	ListExecutions(ctx context.Context, org string) ([]*Execution, error)
}

// EntryStore is the slice of the ledger store the scheduler mutates.
type EntryStore interface {
	ArchiveBefore(ctx context.Context, org string, cutoff, archivedAt time.Time, reference string) ([]*audit.Entry, error)
	PurgeBefore(ctx context.Context, org string, cutoff time.Time) (int, error)
}

type AuditLedger interface {
	Append(ctx context.Context, in audit.AppendInput) (*audit.Entry, error)
}

// Locker serialises runs per organization. Acquire returns sentinel.ErrConflict
// when the lock is already held.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// ArchiveSink receives the entries stamped by an archive pass.
type ArchiveSink interface {
	Put(ctx context.Context, org, reference string, entries []*audit.Entry) error
}

const defaultLockTTL = 5 * time.Minute

// Service exposes policy configuration and the retention scheduler.
type Service struct {
	policies   PolicyStore
	executions ExecutionStore
	entries    EntryStore
	ledger     AuditLedger
	defaults   Defaults
	tx         tx.Runner
	locker     Locker
	sink       ArchiveSink
	lockTTL    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
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

// WithTxRunner makes policy updates and runs atomic with their audit entry.
func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func WithLocker(locker Locker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithArchiveSink(sink ArchiveSink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

func New(policies PolicyStore, executions ExecutionStore, entries EntryStore, ledger AuditLedger, defaults Defaults, opts ...Option) (*Service, error) {
	if policies == nil {
		return nil, errors.New("policy store is required")
	}
	if executions == nil {
		return nil, errors.New("execution store is required")
	}
	if entries == nil {
		return nil, errors.New("entry store is required")
	}
	if ledger == nil {
		return nil, errors.New("audit ledger is required")
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		policies:   policies,
		executions: executions,
		entries:    entries,
		ledger:     ledger,
		defaults:   defaults,
		tx:         tx.Passthrough{},
		lockTTL:    defaultLockTTL,
		logger:     slog.Default(),
		tracer:     otel.Tracer("chronicle/retention"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) resolveOrg(org string) string {
	org = strings.TrimSpace(org)
	if org == "" {
		return s.defaults.Organization
	}
	return org
}

// GetPolicy returns the persisted policy of org, or an unsaved policy built
// from the defaults.
func (s *Service) GetPolicy(ctx context.Context, org string) (*Policy, error) {
	org = s.resolveOrg(org)
	policy, err := s.policies.FindPolicy(ctx, org)
	if err == nil {
		return policy, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load retention policy")
	}
	return &Policy{
		OrganizationID:   org,
		RetentionDays:    s.defaults.RetentionDays,
		ArchiveAfterDays: s.defaults.ArchiveAfterDays,
		UpdatedAt:        requestcontext.Now(ctx),
	}, nil
}

// ConfigurePolicy validates and upserts the windows of org and records the
// change in the ledger in the same unit of work. Invalid windows are rejected
// before anything is written.
func (s *Service) ConfigurePolicy(ctx context.Context, org string, retentionDays, archiveAfterDays int) (*Policy, error) {
	org = s.resolveOrg(org)
	policy, err := NewPolicy(org, retentionDays, archiveAfterDays, requestcontext.Now(ctx).Truncate(time.Microsecond))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.policies.UpsertPolicy(ctx, policy); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save retention policy")
		}
		_, err := s.ledger.Append(ctx, audit.AppendInput{
			OrganizationID: org,
			Module:         audit.ModuleRetention,
			EventType:      audit.EventRetentionPolicyUpdated,
			Action:         "policy.update",
			Payload: map[string]any{
				"retention_days":     retentionDays,
				"archive_after_days": archiveAfterDays,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementPolicyUpdate()
	s.logger.InfoContext(ctx, "retention policy updated",
		"organization_id", org,
		"retention_days", retentionDays,
		"archive_after_days", archiveAfterDays,
		"request_id", requestcontext.RequestID(ctx),
	)
	return policy, nil
}

// Run archives and purges the entries of org relative to reference (zero
// means now), records the execution and appends a summary entry to the
// ledger. Archive runs before purge, so an entry eligible for both is counted
// in both and ends up deleted. Running again with the same reference touches
// nothing. A reference later than the request time is rejected before any
// lock or write.
func (s *Service) Run(ctx context.Context, org string, reference time.Time) (*Execution, error) {
	org = s.resolveOrg(org)
	now := requestcontext.Now(ctx)
	if reference.IsZero() {
		reference = now
	}
	if reference.After(now) {
		s.metrics.IncrementRun("rejected")
		return nil, dErrors.New(dErrors.CodeValidation, "retention reference must not be in the future")
	}
	reference = reference.UTC().Truncate(time.Microsecond)
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "retention.Run", trace.WithAttributes(
		attribute.String("retention.organization_id", org),
	))
	defer span.End()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "retention:"+org, s.lockTTL)
		if err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				s.metrics.IncrementRun("conflict")
				return nil, dErrors.New(dErrors.CodeConflict, "a retention run is already in progress for this organization")
			}
			s.metrics.IncrementRun("error")
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire retention lock")
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "failed to release retention lock", "organization_id", org, "error", err)
			}
		}()
	}

	var execution *Execution
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		execution, err = s.run(ctx, org, reference)
		return err
	})
	if err != nil {
		s.metrics.IncrementRun("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "retention run failed")
		s.logger.ErrorContext(ctx, "retention run failed",
			"organization_id", org,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, err
	}

	s.metrics.IncrementRun("success")
	s.metrics.ObserveRun(start, execution.ArchivedCount, execution.PurgedCount)
	s.logger.InfoContext(ctx, "retention run completed",
		"organization_id", org,
		"archived", execution.ArchivedCount,
		"purged", execution.PurgedCount,
		"request_id", requestcontext.RequestID(ctx),
	)
	return execution, nil
}

func (s *Service) run(ctx context.Context, org string, reference time.Time) (*Execution, error) {
	policy, err := s.GetPolicy(ctx, org)
	if err != nil {
		return nil, err
	}
	archiveBefore := policy.ArchiveCutoff(reference)
	purgeBefore := policy.PurgeCutoff(reference)
	archiveRef := ArchiveReference(reference)

	archived, err := s.entries.ArchiveBefore(ctx, org, archiveBefore, reference, archiveRef)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to archive audit entries")
	}
	if s.sink != nil && len(archived) > 0 {
		if err := s.sink.Put(ctx, org, archiveRef, archived); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to write archive bundle")
		}
	}

	purged, err := s.entries.PurgeBefore(ctx, org, purgeBefore)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge audit entries")
	}

	execution := &Execution{
		ID:             uuid.New(),
		OrganizationID: org,
		ExecutedAt:     reference,
		PurgedCount:    purged,
		ArchivedCount:  len(archived),
		Details: map[string]string{
			DetailArchiveBefore: audit.FormatTimestamp(archiveBefore),
			DetailPurgeBefore:   audit.FormatTimestamp(purgeBefore),
		},
	}
	if err := s.executions.SaveExecution(ctx, execution); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record retention execution")
	}

	_, err = s.ledger.Append(ctx, audit.AppendInput{
		OrganizationID: org,
		Module:         audit.ModuleRetention,
		EventType:      audit.EventRetentionExecuted,
		Action:         "job.run",
		Payload:        execution.summary(),
	})
	if err != nil {
		return nil, err
	}
	return execution, nil
}

// RunAll runs every organization that has a persisted policy. Organizations
// whose run is already in progress elsewhere are skipped; other failures are
// collected and returned together after every organization was attempted.
func (s *Service) RunAll(ctx context.Context, reference time.Time) ([]*Execution, error) {
	orgs, err := s.policies.ListOrganizations(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list retention policies")
	}
	if reference.IsZero() {
		reference = requestcontext.Now(ctx)
	}

	var (
		executions []*Execution
		errs       []error
	)
	for _, org := range orgs {
		execution, err := s.Run(ctx, org, reference)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeConflict) {
				s.logger.InfoContext(ctx, "retention run skipped, already in progress", "organization_id", org)
				continue
			}
			errs = append(errs, err)
			continue
		}
		executions = append(executions, execution)
	}
	return executions, errors.Join(errs...)
}

func (s *Service) ListExecutions(ctx context.Context, org string) ([]*Execution, error) {
	executions, err := s.executions.ListExecutions(ctx, s.resolveOrg(org))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list retention executions")
	}
	return executions, nil
}
