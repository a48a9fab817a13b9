package permissionset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudacm/acm/internal/acmerr"
	"github.com/cloudacm/acm/internal/db"
	"github.com/sirupsen/logrus"
)

// Catalog resolves permission-set names and permission names for the ACL
// engine. Its methods take a Querier so resolution participates in the
// caller's transaction.
type Catalog struct{}

// NewCatalog creates a permission catalog
func NewCatalog() *Catalog {
	return &Catalog{}
}

// ResolveSets returns the sets matching the given names. Unknown names are
// dropped silently; the caller decides whether a shortfall matters.
func (c *Catalog) ResolveSets(ctx context.Context, q db.Querier, names []string) ([]*PermissionSet, error) {
	if len(names) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, name, additional_info, created_at, updated_at
		FROM permission_sets
		WHERE name IN (%s)
	`, placeholders(len(names)))

	rows, err := q.QueryContext(ctx, query, asArgs(names)...)
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to query permission sets: %w", err))
	}
	defer rows.Close()

	var sets []*PermissionSet
	for rows.Next() {
		ps, err := scanSet(rows)
		if err != nil {
			return nil, acmerr.Wrap(err)
		}
		sets = append(sets, ps)
	}

	return sets, acmerr.Wrap(rows.Err())
}

// PermissionsInSets returns the permissions belonging to any of the named
// sets, keyed by permission name. Permission names are assumed unique
// across the sets relevant to one request.
func (c *Catalog) PermissionsInSets(ctx context.Context, q db.Querier, names []string) (map[string]*Permission, error) {
	permissions := make(map[string]*Permission)
	if len(names) == 0 {
		return permissions, nil
	}

	query := fmt.Sprintf(`
		SELECT p.id, p.name, p.permission_set_id
		FROM permissions p
		JOIN permission_sets ps ON p.permission_set_id = ps.id
		WHERE ps.name IN (%s)
	`, placeholders(len(names)))

	rows, err := q.QueryContext(ctx, query, asArgs(names)...)
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to query permissions: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.SetID); err != nil {
			return nil, acmerr.Wrap(err)
		}
		permissions[p.Name] = &p
	}

	return permissions, acmerr.Wrap(rows.Err())
}

// ScopedPermission returns the permission with the given name whose owning
// set is currently attached to the object. A permission outside the
// object's attached sets is an invalid request even if it exists globally.
func (c *Catalog) ScopedPermission(ctx context.Context, q db.Querier, objectID int64, name string) (*Permission, error) {
	var p Permission
	err := q.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.permission_set_id
		FROM permissions p
		JOIN object_permission_sets ops ON ops.permission_set_id = p.permission_set_id
		WHERE ops.object_id = ? AND p.name = ?
	`, objectID, name).Scan(&p.ID, &p.Name, &p.SetID)

	if errors.Is(err, sql.ErrNoRows) {
		logrus.WithField("permission", name).Error("Could not find requested permission")
		return nil, acmerr.Invalidf("could not find requested permission %s", name)
	}
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to resolve permission %s: %w", name, err))
	}

	return &p, nil
}

func scanSet(rows *sql.Rows) (*PermissionSet, error) {
	var ps PermissionSet
	var additionalInfo sql.NullString

	if err := rows.Scan(&ps.ID, &ps.Name, &additionalInfo, &ps.CreatedAt, &ps.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan permission set: %w", err)
	}
	if additionalInfo.Valid {
		ps.AdditionalInfo = additionalInfo.String
	}

	return &ps, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func asArgs(names []string) []interface{} {
	args := make([]interface{}, len(names))
	for i, name := range names {
		args[i] = name
	}
	return args
}
