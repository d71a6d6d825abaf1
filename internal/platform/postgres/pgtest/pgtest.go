// Package pgtest provides a migrated Postgres database for adapter tests.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"swapstation-ops/internal/platform/postgres"
)

const image = "postgres:16-alpine"

var tables = []string{"alert_decisions", "alerts", "audit_logs", "station_metrics"}

// Open returns a migrated, empty database. PG_DSN selects an existing server;
// otherwise a container is started. The test is skipped in -short mode or when
// no container runtime is available.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres tests skipped in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		var err error
		dsn, err = startContainer(ctx, t)
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
	}

	db, err := postgres.Open(ctx, dsn, postgres.Options{MaxOpenConns: 5, PingTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := postgres.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}
	return db
}

func startContainer(ctx context.Context, t *testing.T) (dsn string, err error) {
	// testcontainers panics when no docker host can be found
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "swapops",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start: %w", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("port: %w", err)
	}
	return fmt.Sprintf("postgres://test:test@%s:%s/swapops?sslmode=disable", host, port.Port()), nil
}
