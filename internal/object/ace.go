package object

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

// aceStore creates, locates and removes access control entries. All its
// queries run on the Querier it is handed, so ACE mutations always happen
// inside the service's enclosing transaction.
type aceStore struct{}

// find returns the ACE on the exact triple, or nil when absent.
func (st *aceStore) find(ctx context.Context, q db.Querier, objectID, permissionID, subjectID int64) (*ACE, error) {
	var ace ACE
	err := q.QueryRowContext(ctx, `
		SELECT id, object_id, permission_id, subject_id, created_at, last_updated_at
		FROM access_control_entries
		WHERE object_id = ? AND permission_id = ? AND subject_id = ?
	`, objectID, permissionID, subjectID).Scan(
		&ace.ID, &ace.ObjectID, &ace.PermissionID, &ace.SubjectID, &ace.CreatedAt, &ace.LastUpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find access control entry: %w", err)
	}

	return &ace, nil
}

// grant creates the ACE for the triple, or returns the existing one
// unchanged. Granting an already-granted triple is a no-op.
func (st *aceStore) grant(ctx context.Context, q db.Querier, objectID, permissionID, subjectID, now int64) (*ACE, error) {
	existing, err := st.find(ctx, q, objectID, permissionID, subjectID)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	if existing != nil {
		logrus.WithField("ace", existing.ID).Debug("Found existing access control entry")
		return existing, nil
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO access_control_entries (object_id, permission_id, subject_id, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, objectID, permissionID, subjectID, now, now)
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to create access control entry: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, acmerr.Wrap(err)
	}

	return &ACE{
		ID:            id,
		ObjectID:      objectID,
		PermissionID:  permissionID,
		SubjectID:     subjectID,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}, nil
}

// revoke removes the ACE on the exact triple. Revoking a grant that was
// never made is an invalid request.
func (st *aceStore) revoke(ctx context.Context, q db.Querier, objectID, permissionID, subjectID int64) error {
	existing, err := st.find(ctx, q, objectID, permissionID, subjectID)
	if err != nil {
		return acmerr.Wrap(err)
	}
	if existing == nil {
		logrus.Error("Could not find an access control entry for that object and permission matching the subject requested")
		return acmerr.Invalidf("could not find an access control entry for that object, permission and subject")
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM access_control_entries WHERE id = ?`, existing.ID); err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to delete access control entry: %w", err))
	}

	return nil
}

// bulkInsert writes one ACE row per entry in a single statement.
func (st *aceStore) bulkInsert(ctx context.Context, q db.Querier, aces []ACE) error {
	if len(aces) == 0 {
		return nil
	}

	values := make([]string, 0, len(aces))
	args := make([]interface{}, 0, len(aces)*5)
	for _, ace := range aces {
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, ace.ObjectID, ace.PermissionID, ace.SubjectID, ace.CreatedAt, ace.LastUpdatedAt)
	}

	query := `
		INSERT INTO access_control_entries (object_id, permission_id, subject_id, created_at, last_updated_at)
		VALUES ` + strings.Join(values, ", ")

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert access control entries: %w", err)
	}

	return nil
}

// removeAll deletes every ACE owned by the object.
func (st *aceStore) removeAll(ctx context.Context, q db.Querier, objectID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM access_control_entries WHERE object_id = ?`, objectID); err != nil {
		return fmt.Errorf("failed to remove access control entries: %w", err)
	}
	return nil
}
