//go:build integration

package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/retention/lock"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/testutil/containers"
)

type RedisLockSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	lock  *lock.Redis
}

func TestRedisLockSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLockSuite))
}

func (s *RedisLockSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.lock = lock.NewRedis(s.redis.Client)
}

func (s *RedisLockSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLockSuite) TestAcquireRelease() {
	ctx := context.Background()
	release, err := s.lock.Acquire(ctx, "retention:org-a", time.Minute)
	s.Require().NoError(err)

	_, err = s.lock.Acquire(ctx, "retention:org-a", time.Minute)
	s.ErrorIs(err, sentinel.ErrConflict)

	s.Require().NoError(release(ctx))
	again, err := s.lock.Acquire(ctx, "retention:org-a", time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(again(ctx))
}

func (s *RedisLockSuite) TestExpiredLeaseIsNotReleasedByOldHolder() {
	ctx := context.Background()
	stale, err := s.lock.Acquire(ctx, "retention:org-b", 100*time.Millisecond)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		_, err := s.lock.Acquire(ctx, "retention:org-b", time.Minute)
		return err == nil
	}, 2*time.Second, 50*time.Millisecond)

	s.Require().NoError(stale(ctx))
	_, err = s.lock.Acquire(ctx, "retention:org-b", time.Minute)
	s.ErrorIs(err, sentinel.ErrConflict)
}
