package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/waitingtimes/pkg/config"
	"github.com/zatekoja/waitingtimes/pkg/retry"
	_ "modernc.org/sqlite"
)

const (
	// DialectPostgres is the goqu dialect for PostgreSQL
	DialectPostgres = "postgres"
	// DialectSQLite is the goqu dialect for SQLite
	DialectSQLite = "sqlite3"
)

// Client wraps a database connection together with the goqu dialect its
// statements are rendered in
type Client struct {
	db      *sql.DB
	dialect string
}

// NewClient opens the configured database and waits for it with
// exponential backoff until ctx is done
func NewClient(ctx context.Context, cfg *config.DatabaseConfig) (*Client, error) {
	driver, dialect := "postgres", DialectPostgres
	if cfg.Driver == "sqlite" {
		driver, dialect = "sqlite", DialectSQLite
	}

	db, err := sql.Open(driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	err = retry.Do(
		ctx,
		retry.DefaultConfig(),
		cfg.Driver,
		func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return db.PingContext(ctx)
		},
		func(attempt int, err error, nextDelay time.Duration) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", nextDelay).Str("driver", cfg.Driver).Msg("database connection attempt failed")
		},
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database after retries: %w", err)
	}

	log.Info().Str("driver", cfg.Driver).Msg("connected to database")
	return &Client{db: db, dialect: dialect}, nil
}

// NewFromDB wraps an already opened connection
func NewFromDB(db *sql.DB, dialect string) *Client {
	return &Client{db: db, dialect: dialect}
}

// DB returns the underlying database connection
func (c *Client) DB() *sql.DB {
	return c.db
}

// Dialect returns the goqu dialect name
func (c *Client) Dialect() string {
	return c.dialect
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// BeginTx starts a new transaction
func (c *Client) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, nil)
}

// Ping verifies the connection to the database
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
