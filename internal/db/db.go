package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudacm/acm/internal/db/migrations"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Querier is the query surface shared by *sql.DB and *sql.Tx. Components
// whose queries must run inside the caller's transaction accept a Querier
// instead of holding their own handle.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Open opens the ACM database under dataDir, creating it if necessary, and
// runs any pending schema migrations.
func Open(dataDir string) (*sql.DB, error) {
	dbPath := filepath.Join(dataDir, "db", "acm.db")
	if err := ensureDir(filepath.Dir(dbPath)); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	migrationManager := migrations.NewMigrationManager(sqlDB, logrus.StandardLogger())
	if err := migrationManager.Migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	logrus.WithField("db_path", dbPath).Info("SQLite store initialized")
	return sqlDB, nil
}

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
		logrus.WithField("dir", dir).Debug("Created directory")
	}
	return nil
}
