package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"hotlympics/core"

	"github.com/jmoiron/sqlx"

	// registered drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Driver names accepted by New.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config holds SQL connection configuration
type Config struct {
	Driver          string        `json:"driver" env:"HOTLYMPICS_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"HOTLYMPICS_SQL_DSN"`
	Table           string        `json:"table" env:"HOTLYMPICS_SQL_TABLE"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	// CreateTable runs EnsureSchema on connect.
	CreateTable bool `json:"create_table" env:"HOTLYMPICS_SQL_CREATE_TABLE"`
}

// DefaultConfig returns defaults for the given driver.
func DefaultConfig(driver string) Config {
	return Config{
		Driver:          driver,
		Table:           "hotlympics_cache",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		CreateTable:     true,
	}
}

// Store implements engine.Storage on a single key/value table.
type Store struct {
	db     *sqlx.DB
	driver string
	table  string
}

// New opens a database connection and optionally creates the table.
func New(ctx context.Context, config Config) (*Store, error) {
	switch config.Driver {
	case DriverPostgres, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", config.Driver)
	}
	db, err := sqlx.ConnectContext(ctx, config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Driver, err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	s := NewWithDB(db, config.Driver)
	if config.Table != "" {
		s.table = config.Table
	}
	if config.CreateTable {
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing connection (useful for testing).
func NewWithDB(db *sqlx.DB, driver string) *Store {
	return &Store{db: db, driver: driver, table: "hotlympics_cache"}
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the key/value table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	var ddl string
	switch s.driver {
	case DriverMySQL:
		ddl = `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	cache_key VARCHAR(255) NOT NULL PRIMARY KEY,
	value LONGBLOB NOT NULL,
	updated_at DATETIME(3) NOT NULL
)`
	default:
		ddl = `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	cache_key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	q := s.db.Rebind(`SELECT value FROM ` + s.table + ` WHERE cache_key = ?`)
	if err := s.db.GetContext(ctx, &value, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO ` + s.table + ` (cache_key, value, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	default:
		q = `INSERT INTO ` + s.table + ` (cache_key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (cache_key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	q := s.db.Rebind(`DELETE FROM ` + s.table + ` WHERE cache_key = ?`)
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	q := s.db.Rebind(`SELECT cache_key FROM ` + s.table + ` WHERE cache_key LIKE ? ESCAPE '!'`)
	if err := s.db.SelectContext(ctx, &keys, q, likePrefix(prefix)); err != nil {
		return nil, fmt.Errorf("failed to list keys %s: %w", prefix, err)
	}
	return keys, nil
}

// likePrefix escapes LIKE metacharacters; '_' appears in every cache key.
func likePrefix(prefix string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(prefix) + "%"
}
