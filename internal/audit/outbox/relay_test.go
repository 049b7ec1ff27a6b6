package outbox_test

//go:generate mockgen -source=relay.go -destination=mocks/mocks.go -package=mocks Store,Publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"chronicle/internal/audit/outbox"
	"chronicle/internal/audit/outbox/mocks"
	"chronicle/pkg/platform/tx"
	"chronicle/pkg/requestcontext"
)

// =============================================================================
// Outbox Relay Test Suite
// =============================================================================
// Justification for unit tests: ordering and acknowledgement rules of the relay
// (stop at first failure, ack what was published) are hard to provoke against
// a real broker.

type RelaySuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *mocks.MockStore
	publisher *mocks.MockPublisher
	relay     *outbox.Relay
	now       time.Time
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	relay, err := outbox.NewRelay(s.store, s.publisher, tx.Passthrough{}, "audit.entries",
		outbox.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		outbox.WithBatchSize(10),
	)
	s.Require().NoError(err)
	s.relay = relay
}

func (s *RelaySuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RelaySuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func message(org string) outbox.Message {
	id := uuid.New()
	return outbox.Message{
		ID:            id,
		AggregateType: "organization",
		AggregateID:   org,
		EventType:     "artist.created",
		Payload:       []byte(`{"id":"` + id.String() + `"}`),
	}
}

func (s *RelaySuite) TestNewRelay() {
	s.Run("missing store", func() {
		_, err := outbox.NewRelay(nil, s.publisher, tx.Passthrough{}, "t")
		s.ErrorContains(err, "outbox store is required")
	})
	s.Run("missing topic", func() {
		_, err := outbox.NewRelay(s.store, s.publisher, tx.Passthrough{}, "")
		s.ErrorContains(err, "topic is required")
	})
}

func (s *RelaySuite) TestRelayOnce() {
	s.Run("publishes every pending message and acknowledges them", func() {
		first, second := message("org-a"), message("org-b")
		s.store.EXPECT().FetchPending(gomock.Any(), 10).Return([]outbox.Message{first, second}, nil)
		s.publisher.EXPECT().Publish(gomock.Any(), "audit.entries", []byte("org-a"), first.Payload).Return(nil)
		s.publisher.EXPECT().Publish(gomock.Any(), "audit.entries", []byte("org-b"), second.Payload).Return(nil)
		s.store.EXPECT().MarkPublished(gomock.Any(), []uuid.UUID{first.ID, second.ID}, s.now).Return(nil)

		n, err := s.relay.RelayOnce(s.ctx())
		s.Require().NoError(err)
		s.Equal(2, n)
	})

	s.Run("empty outbox is a no-op", func() {
		s.store.EXPECT().FetchPending(gomock.Any(), 10).Return(nil, nil)

		n, err := s.relay.RelayOnce(s.ctx())
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("stops at the first publish failure and acknowledges earlier messages", func() {
		first, second, third := message("org-a"), message("org-a"), message("org-a")
		brokerDown := errors.New("broker down")
		s.store.EXPECT().FetchPending(gomock.Any(), 10).Return([]outbox.Message{first, second, third}, nil)
		gomock.InOrder(
			s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), first.Payload).Return(nil),
			s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), second.Payload).Return(brokerDown),
		)
		s.store.EXPECT().MarkPublished(gomock.Any(), []uuid.UUID{first.ID}, s.now).Return(nil)

		n, err := s.relay.RelayOnce(s.ctx())
		s.ErrorIs(err, brokerDown)
		s.Equal(1, n)
	})

	s.Run("fetch failure is returned", func() {
		s.store.EXPECT().FetchPending(gomock.Any(), 10).Return(nil, errors.New("db gone"))

		n, err := s.relay.RelayOnce(s.ctx())
		s.ErrorContains(err, "db gone")
		s.Zero(n)
	})
}

func (s *RelaySuite) TestRunStopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.relay.Run(ctx)
	s.ErrorIs(err, context.Canceled)
}
