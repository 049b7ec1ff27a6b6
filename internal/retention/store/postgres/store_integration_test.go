//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit"
	auditpostgres "chronicle/internal/audit/store/postgres"
	"chronicle/internal/retention"
	"chronicle/internal/retention/store/postgres"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/platform/tx"
	"chronicle/pkg/requestcontext"
	"chronicle/pkg/testutil/containers"
)

type RetentionStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	service  *retention.Service
	ledger   *audit.Ledger
}

func TestRetentionStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RetentionStoreSuite))
}

func (s *RetentionStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	runner := tx.NewSQLRunner(s.postgres.DB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	entries := auditpostgres.New(s.postgres.DB)
	signer, err := audit.NewSigner("retention-integration")
	s.Require().NoError(err)
	s.ledger, err = audit.NewLedger(entries, signer, audit.Config{DefaultOrganization: "default"},
		audit.WithTxRunner(runner), audit.WithLogger(logger))
	s.Require().NoError(err)

	s.service, err = retention.New(s.store, s.store, entries, s.ledger, retention.Defaults{
		Organization:     "default",
		RetentionDays:    365,
		ArchiveAfterDays: 180,
	}, retention.WithTxRunner(runner), retention.WithLogger(logger))
	s.Require().NoError(err)
}

func (s *RetentionStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"audit_retention_events", "audit_retention_policies", "audit_outbox", "audit_logs")
	s.Require().NoError(err)
}

func (s *RetentionStoreSuite) TestPolicyUpsert() {
	ctx := context.Background()
	_, err := s.store.FindPolicy(ctx, "org-a")
	s.ErrorIs(err, sentinel.ErrNotFound)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.UpsertPolicy(ctx, &retention.Policy{OrganizationID: "org-a", RetentionDays: 30, ArchiveAfterDays: 10, UpdatedAt: at}))
	s.Require().NoError(s.store.UpsertPolicy(ctx, &retention.Policy{OrganizationID: "org-a", RetentionDays: 60, ArchiveAfterDays: 20, UpdatedAt: at.Add(time.Hour)}))
	s.Require().NoError(s.store.UpsertPolicy(ctx, &retention.Policy{OrganizationID: "org-b", RetentionDays: 5, ArchiveAfterDays: 5, UpdatedAt: at}))

	policy, err := s.store.FindPolicy(ctx, "org-a")
	s.Require().NoError(err)
	s.Equal(60, policy.RetentionDays)
	s.Equal(20, policy.ArchiveAfterDays)
	s.Equal(at.Add(time.Hour), policy.UpdatedAt)

	orgs, err := s.store.ListOrganizations(ctx)
	s.Require().NoError(err)
	s.Equal([]string{"org-a", "org-b"}, orgs)
}

func (s *RetentionStoreSuite) TestRunIsAtomicAndIdempotent() {
	ref := time.Date(2026, 6, 1, 2, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), ref)

	_, err := s.service.ConfigurePolicy(ctx, "org-a", 365, 180)
	s.Require().NoError(err)
	old, err := s.ledger.Append(requestcontext.WithTime(context.Background(), ref.AddDate(0, 0, -400)), audit.AppendInput{
		OrganizationID: "org-a",
		Module:         audit.ModulePayroll,
		EventType:      audit.EventArtistUpdated,
		Action:         "payroll.update",
	})
	s.Require().NoError(err)

	execution, err := s.service.Run(ctx, "org-a", ref)
	s.Require().NoError(err)
	s.Equal(1, execution.ArchivedCount)
	s.Equal(1, execution.PurgedCount)

	_, err = s.ledger.Get(context.Background(), old.ID)
	s.Error(err)

	again, err := s.service.Run(ctx, "org-a", ref)
	s.Require().NoError(err)
	s.Equal(0, again.ArchivedCount)
	s.Equal(0, again.PurgedCount)

	executions, err := s.service.ListExecutions(context.Background(), "org-a")
	s.Require().NoError(err)
	s.Require().Len(executions, 2)
	s.Equal(ref, executions[0].ExecutedAt)
	s.Equal("2025-12-03T02:00:00Z", executions[0].Details[retention.DetailArchiveBefore])
}

func (s *RetentionStoreSuite) TestInvalidPolicyIsRejectedByTheDatabase() {
	err := s.store.UpsertPolicy(context.Background(), &retention.Policy{
		OrganizationID:   "org-x",
		RetentionDays:    10,
		ArchiveAfterDays: 15,
		UpdatedAt:        time.Now(),
	})
	s.Error(err)
}
