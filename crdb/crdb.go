package crdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/danthegoodman1/usedcars/gologger"
	"github.com/danthegoodman1/usedcars/utils"
	"github.com/jackc/pgx/v4"
)

var (
	logger = gologger.NewComponentLogger("crdb")

	ErrConnClosed   = errors.New("connection is closed")
	ErrTxInProgress = errors.New("a transaction is already open on this connection")
)

type (
	// Config holds the connection parameters. DSN, when set, wins over the individual fields.
	Config struct {
		Database string
		User     string
		Password string
		Host     string
		Port     string
		DSN      string
	}

	// Conn owns a single live connection with auto-commit disabled: the first statement opens
	// a transaction that stays open until Commit or Rollback. A Conn must not be used from
	// more than one goroutine at a time.
	Conn struct {
		conn *pgx.Conn
		tx   pgx.Tx
	}

	// Factory hands out either the shared Conn or fresh isolated ones.
	Factory struct {
		cfg Config

		mu     sync.Mutex
		shared *Conn
	}
)

func ConfigFromEnv() Config {
	return Config{
		Database: utils.DB_NAME,
		User:     utils.DB_USER,
		Password: utils.DB_PASSWORD,
		Host:     utils.DB_HOST,
		Port:     utils.DB_PORT,
		DSN:      utils.CRDB_DSN,
	}
}

func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	return u.String()
}

// WithDatabase returns a copy of the config pointing at another database on the same server.
func (c Config) WithDatabase(name string) Config {
	c.Database = name
	if c.DSN != "" {
		if u, err := url.Parse(c.DSN); err == nil && u.Scheme != "" {
			u.Path = "/" + name
			c.DSN = u.String()
		}
	}
	return c
}

// Connect opens an isolated connection.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	logger.Debug().Str("host", cfg.Host).Str("db", cfg.Database).Msg("connecting to postgres...")
	config, err := pgx.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("error in pgx.ParseConfig: %w", err)
	}

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error in pgx.ConnectConfig: %w", err)
	}
	logger.Debug().Msg("connected to postgres")
	return &Conn{conn: conn}, nil
}

// Query runs sql inside the connection's open transaction, beginning one if needed.
func (c *Conn) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if c.Closed() {
		return nil, ErrConnClosed
	}
	if c.tx == nil {
		tx, err := c.conn.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("error beginning transaction: %w", err)
		}
		c.tx = tx
	}
	return c.tx.Query(ctx, sql, args...)
}

// InTx reports whether statements have run since the last Commit or Rollback.
func (c *Conn) InTx() bool {
	return c.tx != nil
}

func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error in tx.Commit: %w", err)
	}
	return nil
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("error in tx.Rollback: %w", err)
	}
	return nil
}

// SerializableTx runs fn in its own SERIALIZABLE transaction, retrying on serialization
// failures. It refuses to start while the implicit transaction has uncommitted work.
func (c *Conn) SerializableTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if c.Closed() {
		return ErrConnClosed
	}
	if c.tx != nil {
		return ErrTxInProgress
	}
	return crdbpgx.ExecuteTx(ctx, c.conn, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func (c *Conn) Closed() bool {
	return c.conn == nil || c.conn.IsClosed()
}

// Close rolls back any open transaction and closes the connection. Closing twice is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	if c.Closed() {
		return nil
	}
	if err := c.Rollback(ctx); err != nil {
		logger.Warn().Err(err).Msg("rollback on close failed")
	}
	if err := c.conn.Close(ctx); err != nil {
		return fmt.Errorf("error in conn.Close: %w", err)
	}
	return nil
}

func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// Shared returns the process-wide connection, dialing it on first use or after it was closed.
func (f *Factory) Shared(ctx context.Context) (*Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shared != nil && !f.shared.Closed() {
		return f.shared, nil
	}
	conn, err := Connect(ctx, f.cfg)
	if err != nil {
		return nil, err
	}
	f.shared = conn
	return conn, nil
}

// Isolated always dials a new connection the caller owns.
func (f *Factory) Isolated(ctx context.Context) (*Conn, error) {
	return Connect(ctx, f.cfg)
}

// Reset closes and forgets the shared connection.
func (f *Factory) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shared == nil {
		return nil
	}
	err := f.shared.Close(ctx)
	f.shared = nil
	return err
}

// EnsureDatabase creates cfg.Database through the server's maintenance database if it does
// not exist yet. It reports whether the database was created.
func EnsureDatabase(ctx context.Context, cfg Config) (bool, error) {
	admin, err := pgx.Connect(ctx, cfg.WithDatabase("postgres").ConnString())
	if err != nil {
		return false, fmt.Errorf("error connecting to maintenance database: %w", err)
	}
	defer admin.Close(ctx)

	var exists bool
	err = admin.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", cfg.Database).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking pg_database: %w", err)
	}
	if exists {
		logger.Debug().Str("db", cfg.Database).Msg("database already exists, skipping")
		return false, nil
	}

	// CREATE DATABASE cannot run inside a transaction, and pgx.Connect is in auto-commit.
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{cfg.Database}.Sanitize()); err != nil {
		return false, fmt.Errorf("error creating database %s: %w", cfg.Database, err)
	}
	logger.Info().Str("db", cfg.Database).Msg("created database")
	return true, nil
}
