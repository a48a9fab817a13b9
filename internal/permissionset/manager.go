package permissionset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudacm/acm/internal/acmerr"
	"github.com/sirupsen/logrus"
)

// Manager manages named permission sets and their member permissions.
type Manager interface {
	Create(ctx context.Context, name, additionalInfo string, permissions []string) (*PermissionSet, error)
	Get(ctx context.Context, name string) (*PermissionSet, error)
	List(ctx context.Context) ([]*PermissionSet, error)
	Delete(ctx context.Context, name string) error

	Catalog() *Catalog
}

type manager struct {
	db      *sql.DB
	catalog *Catalog
}

// NewManager creates a permission-set manager backed by the given database.
func NewManager(sqlDB *sql.DB) Manager {
	return &manager{
		db:      sqlDB,
		catalog: NewCatalog(),
	}
}

func (m *manager) Catalog() *Catalog {
	return m.catalog
}

func (m *manager) Create(ctx context.Context, name, additionalInfo string, permissions []string) (*PermissionSet, error) {
	if name == "" {
		return nil, acmerr.Invalidf("empty permission set name")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM permission_sets WHERE name = ?`, name).Scan(&existing)
	if err == nil {
		return nil, acmerr.Invalidf("permission set %s already exists", name)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, acmerr.Wrap(fmt.Errorf("failed to check permission set %s: %w", name, err))
	}

	now := time.Now().Unix()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO permission_sets (name, additional_info, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, name, additionalInfo, now, now)
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to create permission set: %w", err))
	}

	setID, err := result.LastInsertId()
	if err != nil {
		return nil, acmerr.Wrap(err)
	}

	for _, permission := range permissions {
		if permission == "" {
			return nil, acmerr.Invalidf("empty permission name in set %s", name)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO permissions (permission_set_id, name) VALUES (?, ?)
		`, setID, permission); err != nil {
			return nil, acmerr.Wrap(fmt.Errorf("failed to add permission %s: %w", permission, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, acmerr.Wrap(err)
	}

	logrus.WithFields(logrus.Fields{
		"permission_set": name,
		"permissions":    len(permissions),
	}).Debug("Permission set created")

	return &PermissionSet{
		ID:             setID,
		Name:           name,
		AdditionalInfo: additionalInfo,
		Permissions:    append([]string(nil), permissions...),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (m *manager) Get(ctx context.Context, name string) (*PermissionSet, error) {
	sets, err := m.catalog.ResolveSets(ctx, m.db, []string{name})
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, acmerr.NotFoundf("could not find permission set %s", name)
	}

	ps := sets[0]
	if err := m.loadPermissions(ctx, ps); err != nil {
		return nil, err
	}
	return ps, nil
}

func (m *manager) List(ctx context.Context) ([]*PermissionSet, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, additional_info, created_at, updated_at
		FROM permission_sets
		ORDER BY name
	`)
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to list permission sets: %w", err))
	}
	defer rows.Close()

	sets := make([]*PermissionSet, 0)
	for rows.Next() {
		ps, err := scanSet(rows)
		if err != nil {
			return nil, acmerr.Wrap(err)
		}
		sets = append(sets, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, acmerr.Wrap(err)
	}

	for _, ps := range sets {
		if err := m.loadPermissions(ctx, ps); err != nil {
			return nil, err
		}
	}

	return sets, nil
}

// Delete removes a permission set and its permissions. A set still
// attached to an object cannot be deleted; every ACE references a
// permission through an attachment, so the attachment check covers both.
func (m *manager) Delete(ctx context.Context, name string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return acmerr.Wrap(err)
	}
	defer tx.Rollback()

	var setID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM permission_sets WHERE name = ?`, name).Scan(&setID)
	if errors.Is(err, sql.ErrNoRows) {
		return acmerr.NotFoundf("could not find permission set %s", name)
	}
	if err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to find permission set %s: %w", name, err))
	}

	var attached int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM object_permission_sets WHERE permission_set_id = ?
	`, setID).Scan(&attached); err != nil {
		return acmerr.Wrap(err)
	}
	if attached > 0 {
		return acmerr.Invalidf("permission set %s is attached to %d objects", name, attached)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE permission_set_id = ?`, setID); err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to delete permissions: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM permission_sets WHERE id = ?`, setID); err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to delete permission set: %w", err))
	}

	return acmerr.Wrap(tx.Commit())
}

func (m *manager) loadPermissions(ctx context.Context, ps *PermissionSet) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT name FROM permissions WHERE permission_set_id = ? ORDER BY name
	`, ps.ID)
	if err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to load permissions for %s: %w", ps.Name, err))
	}
	defer rows.Close()

	ps.Permissions = make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return acmerr.Wrap(err)
		}
		ps.Permissions = append(ps.Permissions, name)
	}

	return acmerr.Wrap(rows.Err())
}
