package object

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cloudacm/acm/internal/db"
	"github.com/cloudacm/acm/internal/subject"
)

func getByImmutableID(ctx context.Context, q db.Querier, immutableID string) (*Object, error) {
	var o Object
	var name, additionalInfo sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT id, immutable_id, name, additional_info, created_at, updated_at
		FROM objects
		WHERE immutable_id = ?
	`, immutableID).Scan(&o.ID, &o.ImmutableID, &name, &additionalInfo, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if name.Valid {
		o.Name = name.String
	}
	if additionalInfo.Valid {
		o.AdditionalInfo = additionalInfo.String
	}

	return &o, nil
}

func insertObject(ctx context.Context, q db.Querier, o *Object) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO objects (immutable_id, name, additional_info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, o.ImmutableID, o.Name, o.AdditionalInfo, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}

	o.ID, err = result.LastInsertId()
	return err
}

func updateObjectRow(ctx context.Context, q db.Querier, o *Object) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE objects
		SET name = ?, additional_info = ?, updated_at = ?
		WHERE id = ?
	`, o.Name, o.AdditionalInfo, o.UpdatedAt, o.ID); err != nil {
		return fmt.Errorf("failed to update object: %w", err)
	}
	return nil
}

func attachPermissionSet(ctx context.Context, q db.Querier, objectID, setID int64) error {
	if _, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO object_permission_sets (object_id, permission_set_id)
		VALUES (?, ?)
	`, objectID, setID); err != nil {
		return fmt.Errorf("failed to attach permission set: %w", err)
	}
	return nil
}

func detachAllPermissionSets(ctx context.Context, q db.Querier, objectID int64) error {
	if _, err := q.ExecContext(ctx, `
		DELETE FROM object_permission_sets WHERE object_id = ?
	`, objectID); err != nil {
		return fmt.Errorf("failed to detach permission sets: %w", err)
	}
	return nil
}

// loadView reads the object back with its attached permission-set names
// and full ACE list, rendering subjects in the external convention.
func loadView(ctx context.Context, q db.Querier, objectID int64) (*View, error) {
	var o Object
	var name, additionalInfo sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT id, immutable_id, name, additional_info, created_at, updated_at
		FROM objects
		WHERE id = ?
	`, objectID).Scan(&o.ID, &o.ImmutableID, &name, &additionalInfo, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	view := &View{
		ID:             o.ImmutableID,
		PermissionSets: make([]string, 0),
		ACL:            make([]ACEView, 0),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if name.Valid {
		view.Name = name.String
	}
	if additionalInfo.Valid {
		view.AdditionalInfo = additionalInfo.String
	}

	setRows, err := q.QueryContext(ctx, `
		SELECT ps.name
		FROM permission_sets ps
		JOIN object_permission_sets ops ON ops.permission_set_id = ps.id
		WHERE ops.object_id = ?
		ORDER BY ps.name
	`, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to read permission sets: %w", err)
	}
	defer setRows.Close()

	for setRows.Next() {
		var setName string
		if err := setRows.Scan(&setName); err != nil {
			return nil, err
		}
		view.PermissionSets = append(view.PermissionSets, setName)
	}
	if err := setRows.Err(); err != nil {
		return nil, err
	}

	aceRows, err := q.QueryContext(ctx, `
		SELECT p.name, s.immutable_id, s.type, a.created_at, a.last_updated_at
		FROM access_control_entries a
		JOIN permissions p ON a.permission_id = p.id
		JOIN subjects s ON a.subject_id = s.id
		WHERE a.object_id = ?
		ORDER BY a.id
	`, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to read access control entries: %w", err)
	}
	defer aceRows.Close()

	for aceRows.Next() {
		var ace ACEView
		var subjectID, kind string
		if err := aceRows.Scan(&ace.Permission, &subjectID, &kind, &ace.CreatedAt, &ace.LastUpdatedAt); err != nil {
			return nil, err
		}
		ace.Subject = subject.Ref{Kind: subject.Kind(kind), ID: subjectID}.String()
		view.ACL = append(view.ACL, ace)
	}

	return view, aceRows.Err()
}
