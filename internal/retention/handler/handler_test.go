package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit"
	auditmemory "chronicle/internal/audit/store/memory"
	"chronicle/internal/retention"
	"chronicle/internal/retention/lock"
	retentionmemory "chronicle/internal/retention/store/memory"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/requestcontext"
	"chronicle/pkg/testutil"
)

// =============================================================================
// Retention Handler Test Suite
// =============================================================================
// Justification for unit tests: body parsing and status mapping are handler
// concerns; the service runs over in-memory stores so responses carry real
// cutoffs.

type RetentionHandlerSuite struct {
	suite.Suite
	router  chi.Router
	entries *auditmemory.Store
	ledger  *audit.Ledger
	locker  *lock.Memory
	now     time.Time
}

func TestRetentionHandlerSuite(t *testing.T) {
	suite.Run(t, new(RetentionHandlerSuite))
}

func (s *RetentionHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = time.Date(2026, 6, 1, 2, 0, 0, 0, time.UTC)
	s.entries = auditmemory.New()
	signer, err := audit.NewSigner("handler-secret")
	s.Require().NoError(err)
	s.ledger, err = audit.NewLedger(s.entries, signer, audit.Config{DefaultOrganization: "default"})
	s.Require().NoError(err)

	store := retentionmemory.New()
	s.locker = lock.NewMemory()
	service, err := retention.New(store, store, s.entries, s.ledger, retention.Defaults{
		Organization:     "default",
		RetentionDays:    365,
		ArchiveAfterDays: 180,
	}, retention.WithLogger(logger), retention.WithLocker(s.locker))
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	New(service, logger).Register(s.router)
}

func (s *RetentionHandlerSuite) serve(req *http.Request) *httptest.ResponseRecorder {
	req = testutil.WithRequestTime(req, s.now)
	req = testutil.WithActor(req, "operator", "ops-2")
	return testutil.DoRequest(s.router, req)
}

func (s *RetentionHandlerSuite) TestGetPolicy() {
	rr := s.serve(testutil.NewRequest(s.T(), http.MethodGet, "/audit/organizations/acme/retention"))
	testutil.AssertStatusOK(s.T(), rr)
	s.JSONEq(`{
		"organization_id": "acme",
		"retention_days": 365,
		"archive_after_days": 180,
		"updated_at": "2026-06-01T02:00:00Z"
	}`, rr.Body.String())
}

func (s *RetentionHandlerSuite) TestConfigurePolicy() {
	s.Run("missing window", func() {
		rr := s.serve(testutil.NewJSONRequest(s.T(), http.MethodPut, "/audit/organizations/acme/retention",
			map[string]any{"retention_days": 30}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})

	s.Run("malformed body", func() {
		req := httptest.NewRequest(http.MethodPut, "/audit/organizations/acme/retention", strings.NewReader(`{"retention_days":`))
		rr := s.serve(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("archive window longer than retention", func() {
		rr := s.serve(testutil.NewJSONRequest(s.T(), http.MethodPut, "/audit/organizations/acme/retention",
			map[string]any{"retention_days": 30, "archive_after_days": 31}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})

	s.Run("saves and audits", func() {
		rr := s.serve(testutil.NewJSONRequest(s.T(), http.MethodPut, "/audit/organizations/acme/retention",
			map[string]any{"retention_days": 30, "archive_after_days": 15}))
		testutil.AssertStatusOK(s.T(), rr)
		policy := testutil.DecodeJSON[retention.Policy](s.T(), rr)
		s.Equal(30, policy.RetentionDays)
		s.Equal(15, policy.ArchiveAfterDays)

		entries, err := s.ledger.List(context.Background(), audit.Filter{EventType: audit.EventRetentionPolicyUpdated})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("ops-2", *entries[0].ActorID)
	})
}

func (s *RetentionHandlerSuite) TestRun() {
	s.Run("explicit reference", func() {
		rr := s.serve(testutil.NewJSONRequest(s.T(), http.MethodPost, "/audit/organizations/acme/retention/run",
			map[string]any{"reference": "2026-05-01T02:00:00Z"}))
		testutil.AssertStatusOK(s.T(), rr)
		execution := testutil.DecodeJSON[retention.Execution](s.T(), rr)
		s.Equal("2025-11-02T02:00:00Z", execution.Details[retention.DetailArchiveBefore])
		s.Equal("2025-05-01T02:00:00Z", execution.Details[retention.DetailPurgeBefore])
	})

	s.Run("reference after request time is rejected", func() {
		rr := s.serve(testutil.NewJSONRequest(s.T(), http.MethodPost, "/audit/organizations/acme/retention/run",
			map[string]any{"reference": "2027-06-01T02:00:00Z"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})

	s.Run("empty body runs at request time", func() {
		rr := s.serve(testutil.NewRequest(s.T(), http.MethodPost, "/audit/organizations/acme/retention/run"))
		testutil.AssertStatusOK(s.T(), rr)
		execution := testutil.DecodeJSON[retention.Execution](s.T(), rr)
		s.Equal(s.now, execution.ExecutedAt)
	})

	s.Run("conflict while another run holds the lock", func() {
		release, err := s.locker.Acquire(context.Background(), "retention:acme", time.Minute)
		s.Require().NoError(err)
		defer func() { s.NoError(release(context.Background())) }()

		rr := s.serve(testutil.NewRequest(s.T(), http.MethodPost, "/audit/organizations/acme/retention/run"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeConflict))
	})

	s.Run("executions newest first", func() {
		rr := s.serve(testutil.NewRequest(s.T(), http.MethodGet, "/audit/organizations/acme/retention/executions"))
		testutil.AssertStatusOK(s.T(), rr)
		executions := testutil.DecodeJSON[[]retention.Execution](s.T(), rr)
		s.Require().Len(executions, 2)
		s.True(executions[0].ExecutedAt.After(executions[1].ExecutedAt))
	})
}

func (s *RetentionHandlerSuite) TestRunArchivesOldEntries() {
	ctx := requestcontext.WithTime(context.Background(), s.now.AddDate(0, 0, -200))
	_, err := s.ledger.Append(ctx, audit.AppendInput{
		OrganizationID: "acme",
		Module:         audit.ModulePayroll,
		EventType:      audit.EventStoragePublished,
		Action:         "payslip.publish",
	})
	s.Require().NoError(err)

	rr := s.serve(testutil.NewRequest(s.T(), http.MethodPost, "/audit/organizations/acme/retention/run"))
	testutil.AssertStatusOK(s.T(), rr)
	execution := testutil.DecodeJSON[retention.Execution](s.T(), rr)
	s.Equal(1, execution.ArchivedCount)
	s.Zero(execution.PurgedCount)
}
