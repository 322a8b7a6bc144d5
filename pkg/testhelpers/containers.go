// Package testhelpers provides utilities for testing ekaya-nlq components.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// WMSTestImage is the PostgreSQL image the WMS fixture is loaded into.
const WMSTestImage = "postgres:16-alpine"

const (
	testDBName     = "wms_test"
	testDBUser     = "wms_reader"
	testDBPassword = "test_password"
)

// TestDB holds a shared test database container.
type TestDB struct {
	Container testcontainers.Container
	ConnStr   string
	Host      string
	Port      int
}

// AdapterConfig returns the datasource config map for the postgres adapter.
func (db *TestDB) AdapterConfig() map[string]any {
	return map[string]any{
		"host":     db.Host,
		"port":     db.Port,
		"user":     testDBUser,
		"password": testDBPassword,
		"database": testDBName,
		"ssl_mode": "disable",
	}
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container loaded with the WMS fixture.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        WMSTestImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDBName,
			"POSTGRES_USER":     testDBUser,
			"POSTGRES_PASSWORD": testDBPassword,
		},
		// The entrypoint restarts postgres once after init, so the ready
		// line appears twice.
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

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		testDBUser, testDBPassword, host, port.Port(), testDBName)

	if err := loadFixture(ctx, connStr); err != nil {
		return nil, err
	}

	return &TestDB{
		Container: container,
		ConnStr:   connStr,
		Host:      host,
		Port:      port.Int(),
	}, nil
}

// loadFixture applies the WMS schema and seed rows over the simple query
// protocol, which accepts the multi-statement script in one round trip.
func loadFixture(ctx context.Context, connStr string) error {
	var conn *pgx.Conn
	var err error
	for i := 0; i < 10; i++ {
		conn, err = pgx.Connect(ctx, connStr)
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to test database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.PgConn().Exec(ctx, WMSFixtureSQL).ReadAll(); err != nil {
		return fmt.Errorf("failed to load WMS fixture: %w", err)
	}
	return nil
}
