package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/database"
)

// PostgresImage is the stock PostgreSQL image used for integration tests.
const PostgresImage = "postgres:16-alpine"

// EngineDB holds a shared database container with migrations applied.
// Use this for testing repositories and services against a real database.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB()
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

func setupEngineDB() (*EngineDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "adpilot_test",
			"POSTGRES_USER":     "adpilot",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The server restarts once after init scripts, so wait for the second ready line.
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

	connStr := fmt.Sprintf("postgres://adpilot:test_password@%s:%s/adpilot_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	sqlDB := db.SQLDB()
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &EngineDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// Truncate empties the given tables between tests.
func (e *EngineDB) Truncate(t *testing.T, tables ...string) {
	t.Helper()

	for _, table := range tables {
		if _, err := e.DB.Exec(context.Background(), "TRUNCATE TABLE "+table); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}
