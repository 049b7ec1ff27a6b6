package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"chronicle/internal/gdpr"
	"chronicle/internal/gdpr/handler/mocks"
	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// =============================================================================
// RGPD Handler Test Suite
// =============================================================================
// Justification for unit tests: body decoding, id parsing and the mapping of
// registry errors to statuses; the registry itself is mocked.

type GDPRHandlerSuite struct {
	suite.Suite
	registry *mocks.MockService
	router   chi.Router
}

func TestGDPRHandlerSuite(t *testing.T) {
	suite.Run(t, new(GDPRHandlerSuite))
}

func (s *GDPRHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.registry = mocks.NewMockService(ctrl)
	s.router = chi.NewRouter()
	New(s.registry, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func pendingRequest() *gdpr.Request {
	submitted := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	return &gdpr.Request{
		ID:               uuid.MustParse("0f5c3c1e-6b1a-4c55-9f5e-2d7f8e9a1b2c"),
		OrganizationID:   "default",
		RequestType:      gdpr.RequestTypeAccess,
		Status:           gdpr.StatusPending,
		Requester:        "legal@example.com",
		SubjectReference: "artist-42",
		SubmittedAt:      submitted,
		DueAt:            submitted.AddDate(0, 0, 30),
	}
}

func (s *GDPRHandlerSuite) TestRegister() {
	s.Run("created", func() {
		in := gdpr.RegisterInput{RequestType: "access", Requester: "legal@example.com", SubjectReference: "artist-42"}
		s.registry.EXPECT().Register(gomock.Any(), in).Return(pendingRequest(), nil)

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rgpd/requests", in))
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		s.JSONEq(`{
			"id": "0f5c3c1e-6b1a-4c55-9f5e-2d7f8e9a1b2c",
			"organization_id": "default",
			"request_type": "access",
			"status": "pending",
			"requester": "legal@example.com",
			"subject_reference": "artist-42",
			"submitted_at": "2026-02-10T09:30:00Z",
			"due_at": "2026-03-12T09:30:00Z",
			"processed_at": null,
			"completed_at": null,
			"processor": null,
			"resolution_notes": null
		}`, rr.Body.String())
	})

	s.Run("unknown fields are rejected before the registry", func() {
		req := httptest.NewRequest(http.MethodPost, "/rgpd/requests", strings.NewReader(`{"request_type":"access","requestor":"typo"}`))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("validation errors pass through", func() {
		s.registry.EXPECT().Register(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeValidation, "unknown request type: portability"))
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rgpd/requests",
			map[string]string{"request_type": "portability"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})
}

func (s *GDPRHandlerSuite) TestComplete() {
	id := pendingRequest().ID
	path := "/rgpd/requests/" + id.String() + "/complete"

	s.Run("completed", func() {
		done := pendingRequest()
		done.Status = gdpr.StatusCompleted
		s.registry.EXPECT().Complete(gomock.Any(), id, gdpr.CompleteInput{Processor: "dpo", ResolutionNotes: "sent"}).
			Return(done, nil)
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, path,
			gdpr.CompleteInput{Processor: "dpo", ResolutionNotes: "sent"}))
		testutil.AssertStatusOK(s.T(), rr)
		s.Equal(gdpr.StatusCompleted, testutil.DecodeJSON[gdpr.Request](s.T(), rr).Status)
	})

	s.Run("status that cannot complete is a conflict", func() {
		s.registry.EXPECT().Complete(gomock.Any(), id, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidState, "rgpd request cannot be completed from status archived"))
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, path,
			gdpr.CompleteInput{Processor: "dpo"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeInvalidState))
	})

	s.Run("unknown request", func() {
		s.registry.EXPECT().Complete(gomock.Any(), id, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "rgpd request not found"))
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, path,
			gdpr.CompleteInput{Processor: "dpo"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})

	s.Run("malformed id", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/rgpd/requests/42/complete",
			gdpr.CompleteInput{Processor: "dpo"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})
}

func (s *GDPRHandlerSuite) TestQueries() {
	request := pendingRequest()

	s.Run("list passes the organization filter", func() {
		s.registry.EXPECT().List(gomock.Any(), "acme").Return([]*gdpr.Request{request}, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/rgpd/requests?organization_id=acme"))
		testutil.AssertStatusOK(s.T(), rr)
		s.Len(testutil.DecodeJSON[[]gdpr.Request](s.T(), rr), 1)
	})

	s.Run("get", func() {
		s.registry.EXPECT().Get(gomock.Any(), request.ID).Return(request, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/rgpd/requests/"+request.ID.String()))
		testutil.AssertStatusOK(s.T(), rr)
	})

	s.Run("history", func() {
		s.registry.EXPECT().History(gomock.Any(), request.ID).Return([]*gdpr.HistoryEntry{
			{ID: uuid.New(), RequestID: request.ID, Status: gdpr.StatusPending, ChangedAt: request.SubmittedAt},
		}, nil)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/rgpd/requests/"+request.ID.String()+"/history"))
		testutil.AssertStatusOK(s.T(), rr)
		history := testutil.DecodeJSON[[]gdpr.HistoryEntry](s.T(), rr)
		s.Require().Len(history, 1)
		s.Equal(gdpr.StatusPending, history[0].Status)
	})

	s.Run("store failure is a 500 without details", func() {
		s.registry.EXPECT().List(gomock.Any(), "").
			Return(nil, dErrors.Wrap(errors.New("pq: too many connections"), dErrors.CodeInternal, "failed to list rgpd requests"))
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/rgpd/requests"))
		testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
		s.NotContains(rr.Body.String(), "too many connections")
	})
}
