package object

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cloudacm/acm/internal/acmerr"
	"github.com/cloudacm/acm/internal/permissionset"
	"github.com/cloudacm/acm/internal/subject"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Manager is the public contract of the ACL engine.
type Manager interface {
	Create(ctx context.Context, req CreateRequest) (*View, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*View, error)
	Read(ctx context.Context, id string) (*View, error)
	Delete(ctx context.Context, id string) error

	AddSubjects(ctx context.Context, id string, permissions []string, subjectRef string) (*View, error)
	RemoveSubjects(ctx context.Context, id string, permissions []string, subjectRef string) (*View, error)

	UsersForObject(ctx context.Context, id string) (map[string][]string, error)
}

type service struct {
	db       *sql.DB
	resolver *subject.Resolver
	catalog  *permissionset.Catalog
	aces     *aceStore
}

// NewManager creates the object service with its collaborators.
func NewManager(sqlDB *sql.DB, resolver *subject.Resolver, catalog *permissionset.Catalog) Manager {
	return &service{
		db:       sqlDB,
		resolver: resolver,
		catalog:  catalog,
		aces:     &aceStore{},
	}
}

// Create validates the requested permission sets, ACL permissions and
// subjects, then persists the object, its attachments and its ACEs inside
// one transaction. Any validation failure aborts the whole operation.
func (s *service) Create(ctx context.Context, req CreateRequest) (*View, error) {
	logrus.WithFields(logrus.Fields{
		"name":            req.Name,
		"permission_sets": req.PermissionSets,
	}).Debug("Creating object")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	defer tx.Rollback()

	sets, err := s.catalog.ResolveSets(ctx, tx, req.PermissionSets)
	if err != nil {
		return nil, err
	}
	permissions, err := s.catalog.PermissionsInSets(ctx, tx, req.PermissionSets)
	if err != nil {
		return nil, err
	}

	// Validate every ACL entry before any row is written. The permission
	// must come from the requested sets; the subjects resolve as a batch.
	type grantSet struct {
		permission *permissionset.Permission
		subjects   map[string]*subject.Subject
	}
	grants := make([]grantSet, 0, len(req.ACL))
	for permission, refs := range req.ACL {
		p, ok := permissions[permission]
		if !ok {
			logrus.WithField("permission", permission).Error("Could not find requested permission")
			return nil, acmerr.Invalidf("could not find requested permission %s", permission)
		}

		resolved, err := s.resolver.ResolveBatch(ctx, tx, refs)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grantSet{permission: p, subjects: resolved})
	}

	now := time.Now().Unix()
	o := &Object{
		ImmutableID:    uuid.NewString(),
		Name:           req.Name,
		AdditionalInfo: req.AdditionalInfo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := insertObject(ctx, tx, o); err != nil {
		return nil, acmerr.Wrap(err)
	}

	for _, ps := range sets {
		if err := attachPermissionSet(ctx, tx, o.ID, ps.ID); err != nil {
			return nil, acmerr.Wrap(err)
		}
	}

	var aces []ACE
	for _, grant := range grants {
		for _, sub := range grant.subjects {
			aces = append(aces, ACE{
				ObjectID:      o.ID,
				PermissionID:  grant.permission.ID,
				SubjectID:     sub.ID,
				CreatedAt:     now,
				LastUpdatedAt: now,
			})
		}
	}
	if err := s.aces.bulkInsert(ctx, tx, aces); err != nil {
		return nil, acmerr.Wrap(err)
	}

	view, err := loadView(ctx, tx, o.ID)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, acmerr.Wrap(err)
	}

	logrus.WithFields(logrus.Fields{
		"object": o.ImmutableID,
		"aces":   len(view.ACL),
	}).Debug("Object created")

	return view, nil
}

// Update overwrites the object's fields and fully replaces its
// permission-set attachments and ACEs with whatever the request supplies.
// ACL permissions resolve against the object's newly attached sets.
func (s *service) Update(ctx context.Context, id string, req UpdateRequest) (*View, error) {
	if id == "" {
		return nil, acmerr.Invalidf("empty object id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	defer tx.Rollback()

	o, err := getByImmutableID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logrus.WithField("object", id).Error("Could not find object")
			return nil, acmerr.NotFoundf("could not find object %s", id)
		}
		return nil, acmerr.Wrap(fmt.Errorf("failed to find object %s: %w", id, err))
	}

	now := time.Now().Unix()
	o.Name = req.Name
	o.AdditionalInfo = req.AdditionalInfo
	o.UpdatedAt = now

	if err := s.aces.removeAll(ctx, tx, o.ID); err != nil {
		return nil, acmerr.Wrap(err)
	}
	if err := detachAllPermissionSets(ctx, tx, o.ID); err != nil {
		return nil, acmerr.Wrap(err)
	}

	sets, err := s.catalog.ResolveSets(ctx, tx, req.PermissionSets)
	if err != nil {
		return nil, err
	}
	for _, ps := range sets {
		if err := attachPermissionSet(ctx, tx, o.ID, ps.ID); err != nil {
			return nil, acmerr.Wrap(err)
		}
	}

	for permission, refs := range req.ACL {
		p, err := s.catalog.ScopedPermission(ctx, tx, o.ID, permission)
		if err != nil {
			return nil, err
		}

		for _, ref := range refs {
			sub, err := s.resolver.Resolve(ctx, tx, ref)
			if err != nil {
				return nil, err
			}
			if _, err := s.aces.grant(ctx, tx, o.ID, p.ID, sub.ID, now); err != nil {
				return nil, err
			}
		}
	}

	if err := updateObjectRow(ctx, tx, o); err != nil {
		return nil, acmerr.Wrap(err)
	}

	view, err := loadView(ctx, tx, o.ID)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, acmerr.Wrap(err)
	}

	logrus.WithField("object", o.ImmutableID).Debug("Object updated")
	return view, nil
}

func (s *service) Read(ctx context.Context, id string) (*View, error) {
	o, err := getByImmutableID(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, acmerr.NotFoundf("could not find object %s", id)
		}
		return nil, acmerr.Wrap(fmt.Errorf("failed to find object %s: %w", id, err))
	}

	view, err := loadView(ctx, s.db, o.ID)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	return view, nil
}

// Delete detaches the object's permission sets and removes its ACEs before
// deleting the object row, leaving no orphaned rows.
func (s *service) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return acmerr.Wrap(err)
	}
	defer tx.Rollback()

	o, err := getByImmutableID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logrus.WithField("object", id).Error("Could not find object")
			return acmerr.NotFoundf("could not find object %s", id)
		}
		return acmerr.Wrap(fmt.Errorf("failed to find object %s: %w", id, err))
	}

	if err := detachAllPermissionSets(ctx, tx, o.ID); err != nil {
		return acmerr.Wrap(err)
	}
	if err := s.aces.removeAll(ctx, tx, o.ID); err != nil {
		return acmerr.Wrap(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, o.ID); err != nil {
		return acmerr.Wrap(fmt.Errorf("failed to delete object: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return acmerr.Wrap(err)
	}

	logrus.WithField("object", id).Debug("Object deleted")
	return nil
}

// AddSubjects grants each listed permission on the object to the subject.
// The permissions must be in scope for the object; the whole grant is
// all-or-nothing.
func (s *service) AddSubjects(ctx context.Context, id string, permissions []string, subjectRef string) (*View, error) {
	if subjectRef == "" {
		return nil, acmerr.Invalidf("empty subject id")
	}
	if len(permissions) == 0 {
		return nil, acmerr.Invalidf("no permissions requested")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	defer tx.Rollback()

	o, err := getByImmutableID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, acmerr.NotFoundf("could not find object %s", id)
		}
		return nil, acmerr.Wrap(fmt.Errorf("failed to find object %s: %w", id, err))
	}

	sub, err := s.resolver.Resolve(ctx, tx, subjectRef)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	for _, permission := range permissions {
		p, err := s.catalog.ScopedPermission(ctx, tx, o.ID, permission)
		if err != nil {
			return nil, err
		}
		if _, err := s.aces.grant(ctx, tx, o.ID, p.ID, sub.ID, now); err != nil {
			return nil, err
		}
	}

	view, err := loadView(ctx, tx, o.ID)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, acmerr.Wrap(err)
	}

	logrus.WithFields(logrus.Fields{
		"object":      id,
		"subject":     subjectRef,
		"permissions": permissions,
	}).Debug("Subject added to access control entries")

	return view, nil
}

// RemoveSubjects revokes each listed permission on the object from the
// subject. Revoking a grant that does not exist fails the whole operation.
func (s *service) RemoveSubjects(ctx context.Context, id string, permissions []string, subjectRef string) (*View, error) {
	if subjectRef == "" {
		return nil, acmerr.Invalidf("empty subject id")
	}
	if len(permissions) == 0 {
		return nil, acmerr.Invalidf("no permissions requested")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	defer tx.Rollback()

	o, err := getByImmutableID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, acmerr.NotFoundf("could not find object %s", id)
		}
		return nil, acmerr.Wrap(fmt.Errorf("failed to find object %s: %w", id, err))
	}

	sub, err := s.resolver.Resolve(ctx, tx, subjectRef)
	if err != nil {
		return nil, err
	}

	for _, permission := range permissions {
		p, err := s.catalog.ScopedPermission(ctx, tx, o.ID, permission)
		if err != nil {
			return nil, err
		}
		if err := s.aces.revoke(ctx, tx, o.ID, p.ID, sub.ID); err != nil {
			return nil, err
		}
	}

	view, err := loadView(ctx, tx, o.ID)
	if err != nil {
		return nil, acmerr.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, acmerr.Wrap(err)
	}

	logrus.WithFields(logrus.Fields{
		"object":      id,
		"subject":     subjectRef,
		"permissions": permissions,
	}).Debug("Subject removed from access control entries")

	return view, nil
}

// UsersForObject reports the effective permissions per user, expanding
// group grants one level through group membership. Each permission appears
// at most once per user regardless of how many grants produce it.
func (s *service) UsersForObject(ctx context.Context, id string) (map[string][]string, error) {
	o, err := getByImmutableID(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, acmerr.NotFoundf("could not find object %s", id)
		}
		return nil, acmerr.Wrap(fmt.Errorf("failed to find object %s: %w", id, err))
	}

	type aceRow struct {
		permission string
		subjectID  int64
		userID     string
		kind       subject.Kind
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name, s.id, s.immutable_id, s.type
		FROM access_control_entries a
		JOIN permissions p ON a.permission_id = p.id
		JOIN subjects s ON a.subject_id = s.id
		WHERE a.object_id = ?
	`, o.ID)
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to read access control entries: %w", err))
	}
	defer rows.Close()

	var aces []aceRow
	for rows.Next() {
		var row aceRow
		var kind string
		if err := rows.Scan(&row.permission, &row.subjectID, &row.userID, &kind); err != nil {
			return nil, acmerr.Wrap(err)
		}
		row.kind = subject.Kind(kind)
		aces = append(aces, row)
	}
	if err := rows.Err(); err != nil {
		return nil, acmerr.Wrap(err)
	}

	held := make(map[string]map[string]bool)
	add := func(userID, permission string) {
		if held[userID] == nil {
			held[userID] = make(map[string]bool)
		}
		held[userID][permission] = true
	}

	for _, ace := range aces {
		if ace.kind == subject.KindUser {
			add(ace.userID, ace.permission)
			continue
		}

		members, err := s.groupMembers(ctx, ace.subjectID)
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			add(member, ace.permission)
		}
	}

	report := make(map[string][]string, len(held))
	for userID, permissions := range held {
		names := make([]string, 0, len(permissions))
		for permission := range permissions {
			names = append(names, permission)
		}
		sort.Strings(names)
		report[userID] = names
	}

	return report, nil
}

func (s *service) groupMembers(ctx context.Context, groupID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.immutable_id
		FROM members m
		JOIN subjects u ON m.user_id = u.id
		WHERE m.group_id = ?
	`, groupID)
	if err != nil {
		return nil, acmerr.Wrap(fmt.Errorf("failed to read group members: %w", err))
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, acmerr.Wrap(err)
		}
		members = append(members, id)
	}

	return members, acmerr.Wrap(rows.Err())
}
