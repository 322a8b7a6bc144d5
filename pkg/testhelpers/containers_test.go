//go:build integration

package testhelpers

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestWMSTestDB_FixtureLoaded(t *testing.T) {
	testDB := GetTestDB(t)

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, testDB.ConnStr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close(ctx)

	tests := []struct {
		table    string
		expected int
	}{
		{"warehouses", 2},
		{"inventory", 5},
		{"orders", 4},
		{"shipments", 1},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			var count int
			if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{tt.table}.Sanitize()).Scan(&count); err != nil {
				t.Fatalf("failed to count %s: %v", tt.table, err)
			}
			if count != tt.expected {
				t.Errorf("expected %d rows in %s, got %d", tt.expected, tt.table, count)
			}
		})
	}
}
