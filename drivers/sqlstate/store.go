package sqlstate

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rediwo/redi-migrate/registry"
	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

// DefaultPrefix names the state tables unless configured otherwise.
const DefaultPrefix = "mongoengine_migrate"

const (
	schemaID = "schema"
	lockID   = "lock"
)

func init() {
	register(SQLite, SQLiteURIParser{})
	register(PostgreSQL, PostgreSQLURIParser{})
	register(MySQL, MySQLURIParser{})
}

func register(d Dialect, parser types.URIParser) {
	registry.RegisterState(d.Type, func(ctx context.Context, dsn, prefix string) (state.Store, error) {
		return Open(ctx, d, dsn, prefix)
	})
	registry.RegisterURIParser(d.Type, parser)
}

var validPrefix = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store implements state.Store on three tables: <prefix>_schema holds the
// schema record, <prefix>_migrations the applied history and <prefix>_lock
// the run lease.
type Store struct {
	db      *sql.DB
	dialect Dialect
	schemaT string
	migT    string
	lockT   string
	now     func() time.Time
}

var _ state.Store = (*Store)(nil)

// Open connects with dsn and creates the state tables if needed.
func Open(ctx context.Context, d Dialect, dsn, prefix string) (*Store, error) {
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.Type, err)
	}
	if d.SingleConn {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, types.WrapActionError(err, "ping %s database", d.Type)
	}
	s, err := New(ctx, db, d, prefix)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New uses an open database. Close closes it.
func New(ctx context.Context, db *sql.DB, d Dialect, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !validPrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid state table prefix %q", prefix)
	}
	s := &Store{
		db:      db,
		dialect: d,
		schemaT: d.QuoteIdentifier(prefix + "_schema"),
		migT:    d.QuoteIdentifier(prefix + "_migrations"),
		lockT:   d.QuoteIdentifier(prefix + "_lock"),
		now:     time.Now,
	}
	if err := s.createTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id VARCHAR(32) PRIMARY KEY, payload %s NOT NULL, progress %s)",
			s.schemaT, s.dialect.TextType, s.dialect.TextType),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (name VARCHAR(255) PRIMARY KEY, applied_at BIGINT NOT NULL, seq BIGINT NOT NULL)",
			s.migT),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id VARCHAR(32) PRIMARY KEY, owner VARCHAR(255) NOT NULL, expires_at BIGINT NOT NULL)",
			s.lockT),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return types.WrapActionError(err, "create state tables")
		}
	}
	return nil
}

func (s *Store) q(query string, tables ...any) string {
	return s.dialect.Rebind(fmt.Sprintf(query, tables...))
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapActionError(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.WrapActionError(err, "commit transaction")
	}
	return nil
}

func (s *Store) LoadSchema(ctx context.Context) (schema.State, *state.Progress, error) {
	var payload string
	var progress sql.NullString
	err := s.db.QueryRowContext(ctx, s.q("SELECT payload, progress FROM %s WHERE id = ?", s.schemaT), schemaID).
		Scan(&payload, &progress)
	if err == sql.ErrNoRows {
		return schema.State{}, nil, nil
	}
	if err != nil {
		return nil, nil, types.WrapActionError(err, "load schema record")
	}
	st, err := state.DecodeSchema([]byte(payload))
	if err != nil {
		return nil, nil, err
	}
	p, err := state.DecodeProgress([]byte(progress.String))
	if err != nil {
		return nil, nil, err
	}
	return st, p, nil
}

// SaveSchema rewrites the schema row in one transaction.
func (s *Store) SaveSchema(ctx context.Context, st schema.State, p *state.Progress) error {
	payload, err := state.EncodeSchema(st)
	if err != nil {
		return err
	}
	progressData, err := state.EncodeProgress(p)
	if err != nil {
		return err
	}
	var progress sql.NullString
	if progressData != nil {
		progress = sql.NullString{String: string(progressData), Valid: true}
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q("DELETE FROM %s WHERE id = ?", s.schemaT), schemaID); err != nil {
			return types.WrapActionError(err, "save schema record")
		}
		if _, err := tx.ExecContext(ctx, s.q("INSERT INTO %s (id, payload, progress) VALUES (?, ?, ?)", s.schemaT),
			schemaID, string(payload), progress); err != nil {
			return types.WrapActionError(err, "save schema record")
		}
		return nil
	})
}

func (s *Store) AppliedMigrations(ctx context.Context) ([]state.AppliedRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q("SELECT name, applied_at, seq FROM %s ORDER BY seq, name", s.migT))
	if err != nil {
		return nil, types.WrapActionError(err, "load migration records")
	}
	defer rows.Close()
	var out []state.AppliedRecord
	for rows.Next() {
		var r state.AppliedRecord
		var at int64
		if err := rows.Scan(&r.Name, &at, &r.Seq); err != nil {
			return nil, types.WrapActionError(err, "scan migration record")
		}
		r.AppliedAt = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapActionError(err, "load migration records")
	}
	return out, nil
}

func (s *Store) MarkApplied(ctx context.Context, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM %s WHERE name = ?", s.migT), name).Scan(&n); err != nil {
			return types.WrapActionError(err, "record migration %s", name)
		}
		if n > 0 {
			return types.GraphErrorf("migration %s is already applied", name)
		}
		var seq int64
		if err := tx.QueryRowContext(ctx, s.q("SELECT COALESCE(MAX(seq), 0) FROM %s", s.migT)).Scan(&seq); err != nil {
			return types.WrapActionError(err, "record migration %s", name)
		}
		_, err := tx.ExecContext(ctx, s.q("INSERT INTO %s (name, applied_at, seq) VALUES (?, ?, ?)", s.migT),
			name, s.now().UTC().UnixMilli(), seq+1)
		if err != nil {
			return types.WrapActionError(err, "record migration %s", name)
		}
		return nil
	})
}

func (s *Store) MarkUnapplied(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM %s WHERE name = ?", s.migT), name)
	if err != nil {
		return types.WrapActionError(err, "remove migration record %s", name)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.GraphErrorf("migration %s is not applied", name)
	}
	return nil
}

// AcquireLock takes the lease when it is free, expired or already owned.
func (s *Store) AcquireLock(ctx context.Context, owner string, ttl time.Duration) error {
	now := s.now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var held string
		var until int64
		err := tx.QueryRowContext(ctx, s.q("SELECT owner, expires_at FROM %s WHERE id = ?"+s.dialect.ForUpdate, s.lockT), lockID).
			Scan(&held, &until)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return types.WrapActionError(err, "read migration lock")
		case held != owner && until > now.UnixMilli():
			return state.LockHeldError(held, time.UnixMilli(until))
		}
		if _, err := tx.ExecContext(ctx, s.q("DELETE FROM %s WHERE id = ?", s.lockT), lockID); err != nil {
			return types.WrapActionError(err, "acquire migration lock")
		}
		if _, err := tx.ExecContext(ctx, s.q("INSERT INTO %s (id, owner, expires_at) VALUES (?, ?, ?)", s.lockT),
			lockID, owner, now.Add(ttl).UnixMilli()); err != nil {
			return types.WrapActionError(err, "acquire migration lock")
		}
		return nil
	})
}

func (s *Store) ReleaseLock(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx, s.q("DELETE FROM %s WHERE id = ? AND owner = ?", s.lockT), lockID, owner); err != nil {
		return types.WrapActionError(err, "release migration lock")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}
