package subject

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudacm/acm/internal/acmerr"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Manager is the subject directory: users, groups and the group-to-user
// membership edges used to expand group grants.
type Manager interface {
	CreateUser(ctx context.Context, immutableID, additionalInfo string) (*Subject, error)
	CreateGroup(ctx context.Context, immutableID, additionalInfo string) (*Subject, error)
	FindUser(ctx context.Context, immutableID string) (*Subject, error)
	FindGroup(ctx context.Context, immutableID string) (*Subject, error)
	DeleteUser(ctx context.Context, immutableID string) error
	DeleteGroup(ctx context.Context, immutableID string) error

	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	Members(ctx context.Context, groupID string) ([]string, error)

	Resolver() *Resolver
}

type manager struct {
	db       *sql.DB
	resolver *Resolver
}

// NewManager creates a subject directory backed by the given database.
func NewManager(sqlDB *sql.DB) Manager {
	return &manager{
		db:       sqlDB,
		resolver: NewResolver(),
	}
}

func (m *manager) Resolver() *Resolver {
	return m.resolver
}

func (m *manager) CreateUser(ctx context.Context, immutableID, additionalInfo string) (*Subject, error) {
	return m.create(ctx, immutableID, additionalInfo, KindUser)
}

func (m *manager) CreateGroup(ctx context.Context, immutableID, additionalInfo string) (*Subject, error) {
	return m.create(ctx, immutableID, additionalInfo, KindGroup)
}

func (m *manager) create(ctx context.Context, immutableID, additionalInfo string, kind Kind) (*Subject, error) {
	if immutableID == "" {
		immutableID = uuid.NewString()
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	defer tx.Rollback()

	if _, err := getByImmutableID(ctx, tx, immutableID, kind); err == nil {
		return nil, acmerr.Invalidf("%s %s already exists", kind, immutableID)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, acmerr.Wrap(fmt.Errorf("failed to check %s %s: %w", kind, immutableID, err))
	}

	now := time.Now().Unix()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO subjects (immutable_id, type, additional_info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, immutableID, string(kind), additionalInfo, now, now)
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to create %s: %w", kind, err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, acmerr.Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, acmerr.Wrap(err)
	}

	logrus.WithFields(logrus.Fields{
		"subject": immutableID,
		"kind":    kind,
	}).Debug("Subject created")

	return &Subject{
		ID:             id,
		ImmutableID:    immutableID,
		Kind:           kind,
		AdditionalInfo: additionalInfo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (m *manager) FindUser(ctx context.Context, immutableID string) (*Subject, error) {
	return m.find(ctx, immutableID, KindUser)
}

func (m *manager) FindGroup(ctx context.Context, immutableID string) (*Subject, error) {
	return m.find(ctx, immutableID, KindGroup)
}

func (m *manager) find(ctx context.Context, immutableID string, kind Kind) (*Subject, error) {
	s, err := getByImmutableID(ctx, m.db, immutableID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, acmerr.NotFoundf("could not find %s %s", kind, immutableID)
		}
		return nil, acmerr.Wrap(fmt.Errorf("failed to find %s %s: %w", kind, immutableID, err))
	}
	return s, nil
}

func (m *manager) DeleteUser(ctx context.Context, immutableID string) error {
	return m.delete(ctx, immutableID, KindUser)
}

func (m *manager) DeleteGroup(ctx context.Context, immutableID string) error {
	return m.delete(ctx, immutableID, KindGroup)
}

// delete removes the subject row along with its membership edges and any
// ACEs granted to it, so no orphaned rows survive.
func (m *manager) delete(ctx context.Context, immutableID string, kind Kind) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return acmerr.Wrap(err)
	}
	defer tx.Rollback()

	s, err := getByImmutableID(ctx, tx, immutableID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acmerr.NotFoundf("could not find %s %s", kind, immutableID)
		}
		return acmerr.Wrap(fmt.Errorf("failed to find %s %s: %w", kind, immutableID, err))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE group_id = ? OR user_id = ?`, s.ID, s.ID); err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to remove memberships: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM access_control_entries WHERE subject_id = ?`, s.ID); err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to remove access control entries: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subjects WHERE id = ?`, s.ID); err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to delete %s: %w", kind, err))
	}

	return acmerr.Wrap(tx.Commit())
}

func (m *manager) AddMember(ctx context.Context, groupID, userID string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return acmerr.Wrap(err)
	}
	defer tx.Rollback()

	group, user, err := m.memberEdge(ctx, tx, groupID, userID)
	if err != nil {
		return err
	}

	// Re-adding an existing member is a no-op.
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO members (group_id, user_id) VALUES (?, ?)
	`, group.ID, user.ID); err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to add member: %w", err))
	}

	return acmerr.Wrap(tx.Commit())
}

func (m *manager) RemoveMember(ctx context.Context, groupID, userID string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return acmerr.Wrap(err)
	}
	defer tx.Rollback()

	group, user, err := m.memberEdge(ctx, tx, groupID, userID)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM members WHERE group_id = ? AND user_id = ?`, group.ID, user.ID)
	if err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to remove member: %w", err))
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return acmerr.Invalidf("user %s is not a member of group %s", userID, groupID)
	}

	return acmerr.Wrap(tx.Commit())
}

func (m *manager) memberEdge(ctx context.Context, q *sql.Tx, groupID, userID string) (*Subject, *Subject, error) {
	group, err := getByImmutableID(ctx, q, groupID, KindGroup)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, acmerr.NotFoundf("could not find group %s", groupID)
		}
		return nil, nil, acmerr.Wrap(err)
	}

	user, err := getByImmutableID(ctx, q, userID, KindUser)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, acmerr.NotFoundf("could not find user %s", userID)
		}
		return nil, nil, acmerr.Wrap(err)
	}

	return group, user, nil
}

func (m *manager) Members(ctx context.Context, groupID string) ([]string, error) {
	group, err := m.find(ctx, groupID, KindGroup)
	if err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT u.immutable_id
		FROM members m
		JOIN subjects u ON m.user_id = u.id
		WHERE m.group_id = ?
		ORDER BY u.immutable_id
	`, group.ID)
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to list members: %w", err))
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, acmerr.Wrap(err)
		}
		members = append(members, id)
	}

	return members, acmerr.Wrap(rows.Err())
}
