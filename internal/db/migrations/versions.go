package migrations

import (
	"database/sql"
	"fmt"
)

// getAllMigrations returns every schema migration in the order they were
// introduced.
func getAllMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Initial ACM schema",
			Up:          migration001Up,
			Down:        migration001Down,
		},
		{
			Version:     2,
			Description: "ACE and membership lookup indexes",
			Up:          migration002Up,
			Down:        migration002Down,
		},
	}
}

func migration001Up(tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS objects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			immutable_id TEXT NOT NULL UNIQUE,
			name TEXT,
			additional_info TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		// Users and groups share this table, disambiguated by type. A user
		// and a group may carry the same immutable id.
		`CREATE TABLE IF NOT EXISTS subjects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			immutable_id TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('user', 'group')),
			additional_info TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (immutable_id, type)
		)`,
		`CREATE TABLE IF NOT EXISTS permission_sets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			additional_info TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			permission_set_id INTEGER NOT NULL REFERENCES permission_sets(id),
			name TEXT NOT NULL,
			UNIQUE (permission_set_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS object_permission_sets (
			object_id INTEGER NOT NULL REFERENCES objects(id),
			permission_set_id INTEGER NOT NULL REFERENCES permission_sets(id),
			PRIMARY KEY (object_id, permission_set_id)
		)`,
		`CREATE TABLE IF NOT EXISTS access_control_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			object_id INTEGER NOT NULL REFERENCES objects(id),
			permission_id INTEGER NOT NULL REFERENCES permissions(id),
			subject_id INTEGER NOT NULL REFERENCES subjects(id),
			created_at INTEGER NOT NULL,
			last_updated_at INTEGER NOT NULL,
			UNIQUE (object_id, permission_id, subject_id)
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			group_id INTEGER NOT NULL REFERENCES subjects(id),
			user_id INTEGER NOT NULL REFERENCES subjects(id),
			PRIMARY KEY (group_id, user_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

func migration001Down(tx *sql.Tx) error {
	tables := []string{
		"members",
		"access_control_entries",
		"object_permission_sets",
		"permissions",
		"permission_sets",
		"subjects",
		"objects",
	}

	for _, table := range tables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}

	return nil
}

func migration002Up(tx *sql.Tx) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_aces_object ON access_control_entries(object_id)`,
		`CREATE INDEX IF NOT EXISTS idx_permissions_name ON permissions(name)`,
		`CREATE INDEX IF NOT EXISTS idx_members_group ON members(group_id)`,
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func migration002Down(tx *sql.Tx) error {
	indexes := []string{
		"idx_aces_object",
		"idx_permissions_name",
		"idx_members_group",
	}

	for _, index := range indexes {
		if _, err := tx.Exec("DROP INDEX IF EXISTS " + index); err != nil {
			return fmt.Errorf("failed to drop index %s: %w", index, err)
		}
	}

	return nil
}
