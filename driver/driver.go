package driver

import (
	"context"
	"database/sql"
	"log/slog"
)

// DB is a handle to an open database. It is safe for concurrent use;
// callers acquire a Conn per unit of work.
type DB struct {
	sdb *sql.DB
	log *slog.Logger
}

// Option configures a DB at open time.
type Option func(*DB)

// WithLogger sets the logger used by the database and its connections.
// The default discards debug output.
func WithLogger(log *slog.Logger) Option {
	return func(db *DB) { db.log = log }
}

// Open opens a SQLite database at dsn. Use ":memory:" for a private
// in-memory database; its lifetime is tied to the connections of this DB.
func Open(dsn string, opts ...Option) (*DB, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db := &DB{sdb: sdb, log: slog.Default()}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Acquire checks out a dedicated connection. The caller must Release it.
func (db *DB) Acquire(ctx context.Context) (*Conn, error) {
	raw, err := db.sdb.Conn(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	if _, err := raw.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		raw.Close()
		return nil, wrapError(err)
	}
	return &Conn{raw: raw, log: db.log}, nil
}

// Close closes the database and releases its pooled connections.
func (db *DB) Close() error {
	return db.sdb.Close()
}

// Conn is a single database connection. It is not safe for concurrent use.
// Transaction state lives on the connection, see Atomic.
type Conn struct {
	raw     *sql.Conn
	log     *slog.Logger
	txDepth int
	closed  bool
}

// Exec runs a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.raw.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return res, nil
}

// Query runs a statement that returns rows. The caller owns the rows.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return rows, nil
}

// QueryRow runs a statement expected to return at most one row.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.raw.QueryRowContext(ctx, query, args...)
}

// InTransaction reports whether the connection has an open transaction.
func (c *Conn) InTransaction() bool { return c.txDepth > 0 }

// Release returns the connection to the pool. Releasing a connection with
// an open transaction rolls the transaction back first; that is always a
// caller bug, so it is logged.
func (c *Conn) Release() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var rbErr error
	if c.txDepth > 0 {
		c.log.Warn("connection released with open transaction, rolling back",
			slog.Int("depth", c.txDepth))
		_, rbErr = c.raw.ExecContext(context.Background(), "ROLLBACK")
		c.txDepth = 0
	}
	closeErr := c.raw.Close()
	if rbErr != nil {
		return wrapError(rbErr)
	}
	return closeErr
}
