package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore keeps dirs in a kv table and counters in kv_counter.
// Postgres runs SERIALIZABLE and retries serialization failures, SQLite uses a
// single connection so transactions never interleave.
type SQLStore struct {
	db         *sql.DB
	dialect    Dialect
	maxRetries int
}

func NewSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "pgx"
	case DialectSQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", dialect)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, dialect: dialect, maxRetries: DefaultMaxRetries}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) createTables(ctx context.Context) error {
	blob := "BYTEA"
	if s.dialect == DialectSQLite {
		blob = "BLOB"
	}
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			dir TEXT NOT NULL,
			k TEXT NOT NULL,
			v ` + blob + ` NOT NULL,
			PRIMARY KEY (dir, k)
		)`,
		`CREATE TABLE IF NOT EXISTS kv_counter (
			dir TEXT NOT NULL,
			k TEXT NOT NULL,
			n BIGINT NOT NULL,
			PRIMARY KEY (dir, k)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// q rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = strconv.AppendInt(out, int64(n), 10)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func (s *SQLStore) Transact(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	return retry(ctx, s.maxRetries, nil, func(ctx context.Context) error {
		err := s.attempt(ctx, fn)
		if s.retryable(err) {
			return fmt.Errorf("%w: %v", core.ErrConflict, err)
		}
		return err
	})
}

func (s *SQLStore) attempt(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	stx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &sqlTx{overlay: newOverlay(), store: s, tx: stx}
	if err := fn(ctx, tx); err != nil {
		_ = stx.Rollback()
		return err
	}
	if err := tx.flush(ctx); err != nil {
		_ = stx.Rollback()
		return err
	}
	if err := stx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	tx.runHooks(ctx)
	return nil
}

func (s *SQLStore) retryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_BUSY || liteErr.Code() == sqlite3.SQLITE_LOCKED
	}
	return false
}

type sqlTx struct {
	*overlay
	store *SQLStore
	tx    *sql.Tx
}

func (t *sqlTx) Get(ctx context.Context, dir, key string) ([]byte, bool, error) {
	if v, found, handled := t.lookup(dir, key); handled {
		return v, found, nil
	}
	var v []byte
	err := t.tx.QueryRowContext(ctx, t.store.q(`SELECT v FROM kv WHERE dir = ? AND k = ?`), dir, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", dir, key, err)
	}
	return v, true, nil
}

func (t *sqlTx) List(ctx context.Context, dir string) ([]core.Entry, error) {
	var base []core.Entry
	if !t.cleared[dir] {
		rows, err := t.tx.QueryContext(ctx, t.store.q(`SELECT k, v FROM kv WHERE dir = ? ORDER BY k`), dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		defer rows.Close()
		for rows.Next() {
			var e core.Entry
			if err := rows.Scan(&e.Key, &e.Value); err != nil {
				return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
			}
			base = append(base, e)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
	}
	return t.merge(dir, base), nil
}

func (t *sqlTx) Set(dir, key string, value []byte) { t.set(dir, key, value) }
func (t *sqlTx) Clear(dir, key string)              { t.clear(dir, key) }
func (t *sqlTx) ClearDir(dir string)                { t.clearDir(dir) }
func (t *sqlTx) Add(dir, key string, delta int64)   { t.add(dir, key, delta) }

type queryRow func(ctx context.Context, query string, args ...any) *sql.Row

// Counter reads Postgres counters on a connection outside the transaction, so the
// read takes no part in SERIALIZABLE conflict detection. SQLite has one connection
// and never interleaves transactions.
func (t *sqlTx) Counter(ctx context.Context, dir, key string) (int64, error) {
	read := t.tx.QueryRowContext
	if t.store.dialect == DialectPostgres {
		read = t.store.db.QueryRowContext
	}
	return t.counter(ctx, read, dir, key)
}

// WatchCounter relies on the isolation level: under SERIALIZABLE the read
// already takes part in conflict detection.
func (t *sqlTx) WatchCounter(ctx context.Context, dir, key string) (int64, error) {
	return t.counter(ctx, t.tx.QueryRowContext, dir, key)
}

func (t *sqlTx) counter(ctx context.Context, read queryRow, dir, key string) (int64, error) {
	var n int64
	err := read(ctx, t.store.q(`SELECT n FROM kv_counter WHERE dir = ? AND k = ?`), dir, key).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read counter %s/%s: %w", dir, key, err)
	}
	return n + t.delta(dir, key), nil
}

func (t *sqlTx) AfterCommit(fn func(ctx context.Context)) { t.afterCommit(fn) }

func (t *sqlTx) flush(ctx context.Context) error {
	exec := func(query string, args ...any) error {
		if _, err := t.tx.ExecContext(ctx, t.store.q(query), args...); err != nil {
			return fmt.Errorf("failed to write: %w", err)
		}
		return nil
	}
	for _, dir := range sortedKeys(t.cleared) {
		if err := exec(`DELETE FROM kv WHERE dir = ?`, dir); err != nil {
			return err
		}
	}
	for _, dir := range sortedKeys(t.writes) {
		for _, k := range sortedKeys(t.writes[dir]) {
			v := t.writes[dir][k]
			var err error
			if v == nil {
				err = exec(`DELETE FROM kv WHERE dir = ? AND k = ?`, dir, k)
			} else {
				err = exec(`INSERT INTO kv (dir, k, v) VALUES (?, ?, ?)
					ON CONFLICT (dir, k) DO UPDATE SET v = excluded.v`, dir, k, v)
			}
			if err != nil {
				return err
			}
		}
	}
	for _, dir := range sortedKeys(t.deltas) {
		for _, k := range sortedKeys(t.deltas[dir]) {
			d := t.deltas[dir][k]
			if d == 0 {
				continue
			}
			if err := exec(`INSERT INTO kv_counter (dir, k, n) VALUES (?, ?, ?)
				ON CONFLICT (dir, k) DO UPDATE SET n = kv_counter.n + excluded.n`, dir, k, d); err != nil {
				return err
			}
		}
	}
	return nil
}
