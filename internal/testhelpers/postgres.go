// Package testhelpers starts a disposable PostgreSQL for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nikhilbhutani/promptdeck/internal/database"
)

const postgresImage = "postgres:16-alpine"

// TestDB is a migrated database shared by every test in the package run.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedDB     *TestDB
	sharedDBOnce sync.Once
	sharedDBErr  error
)

// GetTestDB returns the shared database, skipping the test in -short mode or
// when no container runtime is reachable.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	sharedDBOnce.Do(func() {
		sharedDB, sharedDBErr = setupTestDB()
	})
	if sharedDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedDBErr)
	}
	return sharedDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "promptdeck",
			"POSTGRES_USER":     "promptdeck",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://promptdeck:test_password@%s:%s/promptdeck?sslmode=disable", host, port.Port())

	if err := database.RunMigrations(connStr); err != nil {
		return nil, fmt.Errorf("failed to migrate test database: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &TestDB{Container: container, Pool: pool, ConnStr: connStr}, nil
}

// CreateWorkspace inserts a workspace with a random slug and returns its id.
func (db *TestDB) CreateWorkspace(t *testing.T) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	slug := "ws-" + uuid.NewString()[:8]
	err := db.Pool.QueryRow(context.Background(),
		`INSERT INTO workspaces (name, slug) VALUES ($1, $1) RETURNING id`, slug).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}
	return id
}

// CreateUser inserts a user in workspaceID and returns its id.
func (db *TestDB) CreateUser(t *testing.T, workspaceID uuid.UUID, isAdmin bool) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	email := uuid.NewString()[:8] + "@example.com"
	err := db.Pool.QueryRow(context.Background(),
		`INSERT INTO users (workspace_id, email, is_admin) VALUES ($1, $2, $3) RETURNING id`,
		workspaceID, email, isAdmin).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return id
}
