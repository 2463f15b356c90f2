//go:build integration

// Integration tests for the Redis client against a real instance started
// via testcontainers-go. Gated behind the "integration" build tag.
//
// Run locally with:
//
//	go test -v -race -tags=integration ./pkg/clients/redis/...
//
// All tests share one container started in SetupSuite; isolation comes
// from unique key prefixes per test method.
package redis_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/kijko-dev/kijko-api/internal/testutil/containers"
	"github.com/kijko-dev/kijko-api/pkg/clients/redis"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

type RedisIntegrationSuite struct {
	suite.Suite

	ctx         context.Context
	redisResult *containers.RedisResult
	client      *redis.Client
	connString  string
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartRedis(s.ctx)
	require.NoError(s.T(), err, "failed to start Redis container")
	s.redisResult = result
	s.connString = result.ConnString

	cfg := redis.Config{
		URI:      result.ConnString,
		PoolSize: 10,
	}
	require.NoError(s.T(), cfg.Validate(), "failed to validate config")

	client, err := redis.NewClient(s.ctx, cfg)
	require.NoError(s.T(), err, "failed to create Redis client")
	s.client = client
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.redisResult != nil {
		if err := s.redisResult.Container.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate redis container: %v", err)
		}
	}
}

func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisIntegrationSuite))
}

func (s *RedisIntegrationSuite) TestHealth_ReturnsNil() {
	require.NoError(s.T(), s.client.Health(s.ctx))
}

func (s *RedisIntegrationSuite) TestSet_And_Get() {
	key := "test:set_get:key1"
	err := s.client.Set(s.ctx, key, "hello", 10*time.Minute)
	require.NoError(s.T(), err, "Set should succeed")

	val, err := s.client.Get(s.ctx, key)
	require.NoError(s.T(), err, "Get should succeed")
	assert.Equal(s.T(), "hello", val)
}

func (s *RedisIntegrationSuite) TestGet_MissWrapsNil() {
	_, err := s.client.Get(s.ctx, "test:get_nonexistent:missing")
	require.Error(s.T(), err, "Get on nonexistent key should return an error")
	assert.ErrorIs(s.T(), err, goredis.Nil, "miss should wrap redis.Nil")

	var ke *kerr.Error
	require.True(s.T(), errors.As(err, &ke))
	assert.Equal(s.T(), kerr.CodeInternalDatabase, ke.Code)
}

func (s *RedisIntegrationSuite) TestDel_RemovesKey() {
	key := "test:del:key1"
	err := s.client.Set(s.ctx, key, "temp", 10*time.Minute)
	require.NoError(s.T(), err)

	deleted, err := s.client.Del(s.ctx, key)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), deleted)

	_, err = s.client.Get(s.ctx, key)
	require.Error(s.T(), err, "Get after Del should fail")
}

func (s *RedisIntegrationSuite) TestExpire_And_TTL() {
	key := "test:expire:key1"
	err := s.client.Set(s.ctx, key, "value", 0)
	require.NoError(s.T(), err)

	ok, err := s.client.Expire(s.ctx, key, 30*time.Second)
	require.NoError(s.T(), err)
	assert.True(s.T(), ok, "Expire should return true for existing key")

	ttl, err := s.client.TTL(s.ctx, key)
	require.NoError(s.T(), err)
	assert.True(s.T(), ttl > 0, "TTL should be positive, got %v", ttl)
	assert.True(s.T(), ttl <= 30*time.Second, "TTL should be <= 30s, got %v", ttl)
}

// Incr on a missing key starts from zero, which is what the rate-limit
// counters rely on.
func (s *RedisIntegrationSuite) TestIncr_FromMissingKey() {
	key := "test:incr:counter"

	val, err := s.client.Incr(s.ctx, key)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), val)

	val, err = s.client.Incr(s.ctx, key)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(2), val)
}

func (s *RedisIntegrationSuite) TestErrorCode_TimeoutClassification() {
	ctx, cancel := context.WithTimeout(s.ctx, 1*time.Nanosecond)
	defer cancel()
	time.Sleep(1 * time.Millisecond)

	err := s.client.Set(ctx, "test:timeout_class:key1", "value", 0)
	require.Error(s.T(), err)

	assert.True(s.T(), kerr.IsTimeout(err),
		"expected IsTimeout()=true for deadline exceeded error")
	assert.True(s.T(), kerr.IsRetryable(err),
		"expected IsRetryable()=true for timeout error")
}

func (s *RedisIntegrationSuite) TestClose_ReleasesResources() {
	cfg := redis.Config{
		URI:      s.connString,
		PoolSize: 5,
	}
	require.NoError(s.T(), cfg.Validate())

	client, err := redis.NewClient(s.ctx, cfg)
	require.NoError(s.T(), err)

	require.NoError(s.T(), client.Health(s.ctx),
		"Health() should succeed before Close()")

	require.NoError(s.T(), client.Close())

	assert.Error(s.T(), client.Health(s.ctx),
		"Health() should fail after Close()")
}

func (s *RedisIntegrationSuite) TestConcurrentOperations() {
	const numWorkers = 10
	var wg sync.WaitGroup
	errs := make(chan error, numWorkers)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("test:concurrent:key%d", n)
			if setErr := s.client.Set(s.ctx, key, fmt.Sprintf("val%d", n), 10*time.Minute); setErr != nil {
				errs <- setErr
				return
			}
			if _, getErr := s.client.Get(s.ctx, key); getErr != nil {
				errs <- getErr
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(s.T(), err,
			"concurrent operation should not produce errors")
	}
}

func (s *RedisIntegrationSuite) TestClientAccessor() {
	cmdable := s.client.Client()
	require.NotNil(s.T(), cmdable, "Client() should return non-nil")

	require.NoError(s.T(), cmdable.Ping(s.ctx).Err(),
		"direct cmdable Ping should succeed")
}
