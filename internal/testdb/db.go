//go:build integration

package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	pgstore "github.com/phrazzld/codepool/internal/platform/postgres"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 30 * time.Second

const postgresImage = "postgres:16-alpine"

// databaseURL is set by Main and read by GetTestDBWithT.
var databaseURL string

// GetTestDatabaseURL returns DATABASE_URL, or CODEPOOL_TEST_DB_URL when
// DATABASE_URL is unset.
func GetTestDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return os.Getenv("CODEPOOL_TEST_DB_URL")
}

// Main resolves a database, migrates it, runs the tests and tears down any
// container it started. It returns the exit code for os.Exit.
func Main(m *testing.M) int {
	ctx := context.Background()

	url := GetTestDatabaseURL()
	if url == "" {
		container, err := postgres.Run(ctx,
			postgresImage,
			postgres.WithDatabase("codepool"),
			postgres.WithUsername("codepool"),
			postgres.WithPassword("codepool"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(TestTimeout),
			),
		)
		if err != nil {
			log.Printf("failed to start PostgreSQL container: %v", err)
			return 1
		}
		defer func() {
			if err := container.Terminate(ctx); err != nil {
				log.Printf("failed to terminate PostgreSQL container: %v", err)
			}
		}()

		url, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			log.Printf("failed to get connection string: %v", err)
			return 1
		}
	}

	if err := migrate(ctx, url); err != nil {
		log.Printf("failed to migrate test database: %v", err)
		return 1
	}

	databaseURL = url
	return m.Run()
}

func migrate(ctx context.Context, url string) error {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(ctx, TestTimeout)
	defer cancel()

	return pgstore.Migrate(ctx, db, pgstore.MigrateUp, nil)
}

// GetTestDBWithT opens a connection pool to the test database and closes it
// when the test finishes.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()
	require.NotEmpty(t, databaseURL, "testdb.Main must run before GetTestDBWithT")

	db, err := sql.Open("pgx", databaseURL)
	require.NoError(t, err, "Failed to open test database")
	db.SetMaxOpenConns(32)

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "Failed to ping test database")

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close test database: %v", err)
		}
	})
	return db
}

// ResetPool removes every pool item and restarts ID numbering.
func ResetPool(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	_, err := db.ExecContext(ctx, "TRUNCATE pool_items RESTART IDENTITY")
	require.NoError(t, err, "Failed to reset pool_items")
}
