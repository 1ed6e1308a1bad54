// Package database provides the core functionality for creating and managing
// database connections in a clean, isolated manner.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
	_ "github.com/mattn/go-sqlite3"                      // SQLite driver
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
)

// DB represents a wrapper around the standard SQL database connection.
type DB struct {
	*sql.DB
	UseTurso bool
}

// NewConnection establishes the identity-store connection. Turso is tried
// first when credentials are configured; local SQLite is the fallback.
func NewConnection(logger *logging.ChanneledLogger) (*DB, error) {
	start := time.Now()

	if config.TursoDatabaseURL != "" && config.TursoAuthToken != "" {
		connStr := config.TursoDatabaseURL + "?authToken=" + config.TursoAuthToken
		conn, err := sql.Open("libsql", connStr)
		if err == nil {
			if pingErr := conn.Ping(); pingErr == nil {
				configurePool(conn)
				logger.Database().Info("Database connection established",
					"driver", "libsql", "duration", time.Since(start))
				return &DB{DB: conn, UseTurso: true}, nil
			}
			conn.Close()
		}
		logger.Database().Warn("Turso connection failed, falling back to SQLite")
	}

	dbDir := filepath.Dir(config.SQLitePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", config.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("SQLite database ping failed: %w", err)
	}

	configurePool(conn)
	logger.Database().Info("Database connection established",
		"driver", "sqlite3", "path", config.SQLitePath, "duration", time.Since(start))
	return &DB{DB: conn, UseTurso: false}, nil
}

// NewMemoryConnection opens an in-memory SQLite database, used by tests.
func NewMemoryConnection() (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// A single connection keeps the in-memory schema visible across calls.
	conn.SetMaxOpenConns(1)
	return &DB{DB: conn}, nil
}

func configurePool(conn *sql.DB) {
	conn.SetMaxOpenConns(config.DBMaxOpenConns)
	conn.SetMaxIdleConns(config.DBMaxIdleConns)
	conn.SetConnMaxLifetime(config.DBConnMaxLifetime)
}

// ConnectionInfo returns a string describing the database connection.
func (db *DB) ConnectionInfo() string {
	if db.UseTurso {
		return "Turso"
	}
	return "SQLite"
}
