//go:build integration

package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisStoreLifecycle(t *testing.T) {
	rdb := startRedis(t)
	store := NewStore(rdb, time.Minute)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.Create(ctx, &Record{JobID: "job-1", Status: StatusPending, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
	require.Error(t, store.Create(ctx, &Record{JobID: "job-1", Status: StatusPending}))

	record, err := store.Update(ctx, "job-1", moveTo(StatusRunning, nil))
	require.NoError(t, err)
	require.Equal(t, StatusRunning, record.Status)

	_, err = store.Update(ctx, "job-1", moveTo(StatusSuccess, func(r *Record) { r.Result = "/out/job-1.zip" }))
	require.NoError(t, err)

	_, err = store.Update(ctx, "job-1", moveTo(StatusFailure, nil))
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, got.Status)
	require.Equal(t, "/out/job-1.zip", got.Result)

	ttl, err := rdb.TTL(ctx, jobKey("job-1")).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Delete(ctx, "job-1"))
	_, err = store.Get(ctx, "job-1")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestRedisStoreConcurrentProgressUpdates(t *testing.T) {
	rdb := startRedis(t)
	store := NewStore(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Record{JobID: "job-2", Status: StatusRunning}))

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(percent int) {
			defer wg.Done()
			_, err := store.Update(ctx, "job-2", func(r *Record) error {
				r.Progress.Percent = max(r.Progress.Percent, percent*10)
				return nil
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, "job-2")
	require.NoError(t, err)
	require.Equal(t, 80, got.Progress.Percent)
}

func TestRedisStoreMissingJob(t *testing.T) {
	rdb := startRedis(t)
	store := NewStore(rdb, time.Minute)

	_, err := store.Update(context.Background(), "missing", moveTo(StatusRunning, nil))
	require.ErrorIs(t, err, ErrJobNotFound)
}
