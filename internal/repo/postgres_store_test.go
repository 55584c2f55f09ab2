package repo

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/lavadoc/internal/db"
)

// Runs only when LAVADOC_TEST_PG_DSN points at a scratch database.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("LAVADOC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LAVADOC_TEST_PG_DSN not set")
	}
	conn, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, db.ApplyMigrations(ctx, conn))
	_, err = conn.ExecContext(ctx, `TRUNCATE document_head, document_versions, messages`)
	require.NoError(t, err)
	s := NewPostgresStore(conn)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return newTestPostgresStore(t)
	})
}
