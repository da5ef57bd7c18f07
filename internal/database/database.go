package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB is the sqlite backed store for catalog, bookings and the event outbox.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
	now    func() time.Time
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer, and :memory: databases live on one connection.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: sqlDB, logger: logger, now: time.Now}, nil
}

func (db *DB) timestamp() time.Time {
	return db.now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS categories (
            id TEXT PRIMARY KEY,
            slug TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS commissions (
            category_id TEXT PRIMARY KEY REFERENCES categories(id) ON DELETE CASCADE,
            rate_bps INTEGER NOT NULL CHECK (rate_bps BETWEEN 0 AND 10000),
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS pros (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            bio TEXT NOT NULL DEFAULT '',
            service_radius_km REAL NOT NULL DEFAULT 0,
            coverage_cities TEXT NOT NULL DEFAULT '[]',
            rating_avg REAL NOT NULL DEFAULT 0,
            rating_count INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS addresses (
            id TEXT PRIMARY KEY,
            pro_id TEXT NOT NULL REFERENCES pros(id) ON DELETE CASCADE,
            label TEXT NOT NULL DEFAULT '',
            lat REAL,
            lng REAL
        )`,
		`CREATE TABLE IF NOT EXISTS services (
            id TEXT PRIMARY KEY,
            pro_id TEXT NOT NULL REFERENCES pros(id),
            category_id TEXT NOT NULL REFERENCES categories(id),
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
            pricing_type TEXT NOT NULL DEFAULT 'FIXED',
            active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            client_id TEXT NOT NULL,
            pro_id TEXT NOT NULL REFERENCES pros(id),
            service_id TEXT NOT NULL REFERENCES services(id),
            address_id TEXT,
            start_at DATETIME NOT NULL,
            end_at DATETIME NOT NULL,
            status TEXT NOT NULL CHECK (status IN ('PENDING', 'CONFIRMED', 'CANCELLED', 'COMPLETED')),
            notes TEXT NOT NULL DEFAULT '',
            price_cents INTEGER NOT NULL,
            commission_cents INTEGER NOT NULL,
            commission_rate_bps INTEGER NOT NULL,
            currency TEXT NOT NULL,
            authorization_id TEXT UNIQUE,
            cancel_reason TEXT NOT NULL DEFAULT '',
            price_mismatch BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (end_at > start_at)
        )`,
		`CREATE TABLE IF NOT EXISTS payment_outcomes (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_id TEXT UNIQUE,
            authorization_id TEXT NOT NULL,
            booking_id TEXT,
            succeeded BOOLEAN NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            received_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS outbox (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_type TEXT NOT NULL,
            aggregate_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,
		`CREATE INDEX IF NOT EXISTS idx_addresses_pro ON addresses(pro_id)`,
		`CREATE INDEX IF NOT EXISTS idx_services_category ON services(category_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_services_pro ON services(pro_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_pro_window ON bookings(pro_id, start_at, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_created ON bookings(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_outcomes_auth ON payment_outcomes(authorization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status_retry ON outbox(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %q: %w", query, err)
		}
	}
	return nil
}
