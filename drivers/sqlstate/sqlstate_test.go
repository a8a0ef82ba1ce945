package sqlstate

import (
	"context"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/registry"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), SQLite, ":memory:", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE id = ? AND owner = ?"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, q, MySQL.Rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE id = $1 AND owner = $2", PostgreSQL.Rebind(q))
	assert.Equal(t, "`x`", MySQL.QuoteIdentifier("x"))
	assert.Equal(t, `"x"`, PostgreSQL.QuoteIdentifier("x"))
}

func TestSchemaRecord(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	st, p, err := s.LoadSchema(ctx)
	require.NoError(t, err)
	assert.Empty(t, st)
	assert.Nil(t, p)

	books := schema.State{
		"Book": schema.NewDocumentBuilder("books").
			Field("caption", schema.StringField().DBField("name").Default("?")).
			Field("year", schema.IntegerField().Param("min_value", 1450)).
			Build(),
	}
	progress := &state.Progress{Migration: "0002_auto", Direction: types.Forward, Completed: 4}
	require.NoError(t, s.SaveSchema(ctx, books, progress))

	st, p, err = s.LoadSchema(ctx)
	require.NoError(t, err)
	assert.True(t, books.Equal(st), books.Diff(st))
	assert.Equal(t, progress, p)

	require.NoError(t, s.SaveSchema(ctx, books, nil))
	_, p, err = s.LoadSchema(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestHistory(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.MarkApplied(ctx, "0002_b"))
	require.NoError(t, s.MarkApplied(ctx, "0001_a"))
	err := s.MarkApplied(ctx, "0001_a")
	assert.Equal(t, types.ExitGraph, types.ExitCode(err))

	history, err := s.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_b", "0001_a"}, state.Names(history), "application order, not name order")
	assert.Equal(t, now, history[0].AppliedAt)
	assert.Equal(t, int64(2), history[1].Seq)

	require.NoError(t, s.MarkUnapplied(ctx, "0001_a"))
	assert.Equal(t, types.ExitGraph, types.ExitCode(s.MarkUnapplied(ctx, "0001_a")))
	require.NoError(t, s.MarkApplied(ctx, "0003_c"))
	history, err = s.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_b", "0003_c"}, state.Names(history))
}

func TestLock(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.AcquireLock(ctx, "runner-a", time.Minute))
	require.NoError(t, s.AcquireLock(ctx, "runner-a", time.Minute))
	err := s.AcquireLock(ctx, "runner-b", time.Minute)
	assert.EqualError(t, err, "migration lock held by runner-a until 2026-01-02T15:05:00Z")

	require.NoError(t, s.ReleaseLock(ctx, "runner-b"), "releasing a lock held by another owner is a no-op")
	assert.Error(t, s.AcquireLock(ctx, "runner-b", time.Minute))

	now = now.Add(90 * time.Second)
	require.NoError(t, s.AcquireLock(ctx, "runner-b", time.Minute))
	require.NoError(t, s.ReleaseLock(ctx, "runner-b"))
	require.NoError(t, s.AcquireLock(ctx, "runner-c", time.Minute))
}

func TestInvalidPrefix(t *testing.T) {
	_, err := Open(context.Background(), SQLite, ":memory:", "bad-name;")
	assert.ErrorContains(t, err, "invalid state table prefix")
}

func TestURIParsers(t *testing.T) {
	native, err := SQLiteURIParser{}.ParseURI("sqlite:///var/lib/state.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/state.db", native)
	native, err = SQLiteURIParser{}.ParseURI("sqlite://state.db")
	require.NoError(t, err)
	assert.Equal(t, "state.db", native)
	_, err = SQLiteURIParser{}.ParseURI("sqlite://")
	assert.Error(t, err)

	native, err = PostgreSQLURIParser{}.ParseURI("postgresql://u:p@db:5432/library")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/library?sslmode=disable", native)
	native, err = PostgreSQLURIParser{}.ParseURI("postgres://db/library?sslmode=require")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/library?sslmode=require", native)
	_, err = PostgreSQLURIParser{}.ParseURI("postgres://db/")
	assert.ErrorContains(t, err, "database name is required")

	native, err = MySQLURIParser{}.ParseURI("mysql://root:secret@db/library?timeout=5s")
	require.NoError(t, err)
	cfg, err := mysql.ParseDSN(native)
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.User)
	assert.Equal(t, "secret", cfg.Passwd)
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.Equal(t, "library", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	_, err = MySQLURIParser{}.ParseURI("mysql://db")
	assert.Error(t, err)
}

func TestOpenStateByURI(t *testing.T) {
	st, err := registry.OpenState(context.Background(), "sqlite://:memory:", "custom_prefix")
	require.NoError(t, err)
	defer st.Close(context.Background())
	require.NoError(t, st.MarkApplied(context.Background(), "0001_a"))
	history, err := st.AppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
