// Package integration runs the dataset and cache against real PostgreSQL and
// Redis containers.
package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerSetup holds the running containers and their addresses.
type ContainerSetup struct {
	PostgresDSN string
	RedisAddr   string
	cleanup     []func()
}

// Cleanup terminates all containers.
func (s *ContainerSetup) Cleanup() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func startPostgres(t *testing.T, s *ContainerSetup) {
	t.Helper()
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("ingres_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	s.cleanup = append(s.cleanup, func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	s.PostgresDSN = fmt.Sprintf("postgres://test:test@%s:%s/ingres_test?sslmode=disable", host, port.Port())
}

func startRedis(t *testing.T, s *ContainerSetup) {
	t.Helper()
	ctx := context.Background()

	rc, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	s.cleanup = append(s.cleanup, func() {
		if err := rc.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := rc.Host(ctx)
	require.NoError(t, err)
	port, err := rc.MappedPort(ctx, "6379")
	require.NoError(t, err)

	s.RedisAddr = fmt.Sprintf("%s:%s", host, port.Port())
}

// requireDocker skips the test in short mode or when no Docker daemon answers.
func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if !isDockerAvailable() {
		t.Skip("Docker not available")
	}
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}
