//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pharmatrace/internal/ratelimit"
	"pharmatrace/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimit.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = ratelimit.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestSlidingWindow() {
	ctx := context.Background()

	for i := range 2 {
		res, err := s.store.AllowN(ctx, "party:MFR-1", 1, 2, time.Second)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(1-i, res.Remaining)
	}

	res, err := s.store.AllowN(ctx, "party:MFR-1", 1, 2, time.Second)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Positive(res.RetryAfter)

	s.Eventually(func() bool {
		res, err := s.store.AllowN(ctx, "party:MFR-1", 1, 2, time.Second)
		return err == nil && res.Allowed
	}, 3*time.Second, 100*time.Millisecond)
}

func (s *RedisStoreSuite) TestCostLargerThanLimit() {
	res, err := s.store.AllowN(context.Background(), "party:DIST-1", 5, 2, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(2, res.Remaining)
}
