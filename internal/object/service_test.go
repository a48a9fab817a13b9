package object

import (
	"context"
	"database/sql"
	"testing"

	"github.com/cloudacm/acm/internal/acmerr"
	"github.com/cloudacm/acm/internal/db"
	"github.com/cloudacm/acm/internal/permissionset"
	"github.com/cloudacm/acm/internal/subject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db       *sql.DB
	subjects subject.Manager
	sets     permissionset.Manager
	objects  Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()

	sqlDB, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	subjects := subject.NewManager(sqlDB)
	sets := permissionset.NewManager(sqlDB)

	return &fixture{
		db:       sqlDB,
		subjects: subjects,
		sets:     sets,
		objects:  NewManager(sqlDB, subjects.Resolver(), sets.Catalog()),
	}
}

// seed creates the doc-perms set plus the users and group most tests need.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := f.sets.Create(ctx, "doc-perms", "", []string{"read", "write", "delete"})
	require.NoError(t, err)
	_, err = f.subjects.CreateUser(ctx, "u1", "")
	require.NoError(t, err)
	_, err = f.subjects.CreateUser(ctx, "u2", "")
	require.NoError(t, err)
	_, err = f.subjects.CreateGroup(ctx, "team1", "")
	require.NoError(t, err)
}

func aclSubjects(view *View, permission string) []string {
	var refs []string
	for _, ace := range view.ACL {
		if ace.Permission == permission {
			refs = append(refs, ace.Subject)
		}
	}
	return refs
}

func TestCreateBareObject(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	view, err := f.objects.Create(ctx, CreateRequest{Name: "app space"})
	require.NoError(t, err)

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "app space", view.Name)
	assert.Empty(t, view.PermissionSets)
	assert.Empty(t, view.ACL)
	assert.NotZero(t, view.CreatedAt)
}

func TestCreateWithACL(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	view, err := f.objects.Create(ctx, CreateRequest{
		Name:           "doc-1",
		PermissionSets: []string{"doc-perms"},
		ACL: ACL{
			"read":  {"u1", "g-team1"},
			"write": {"u2"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"doc-perms"}, view.PermissionSets)
	assert.ElementsMatch(t, []string{"u1", "g-team1"}, aclSubjects(view, "read"))
	assert.ElementsMatch(t, []string{"u2"}, aclSubjects(view, "write"))
}

func TestCreateUnknownPermissionSetIgnored(t *testing.T) {
	f := setup(t)
	f.seed(t)

	view, err := f.objects.Create(context.Background(), CreateRequest{
		PermissionSets: []string{"doc-perms", "no-such-set"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-perms"}, view.PermissionSets)
}

func TestCreatePermissionOutsideSetsRejected(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.objects.Create(ctx, CreateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"fly": {"u1"}},
	})
	assert.True(t, acmerr.IsInvalidRequest(err))
	assert.ErrorContains(t, err, "could not find requested permission fly")
}

func TestCreateUnknownSubjectRollsBack(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.objects.Create(ctx, CreateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"u1", "ghost"}},
	})
	assert.True(t, acmerr.IsInvalidRequest(err))

	// Nothing of the failed create survives.
	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM objects`).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM access_control_entries`).Scan(&count))
	assert.Zero(t, count)
}

func TestReadMissingObject(t *testing.T) {
	f := setup(t)

	_, err := f.objects.Read(context.Background(), "ghost")
	assert.True(t, acmerr.IsNotFound(err))
}

func TestUpdateReplacesACL(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.objects.Create(ctx, CreateRequest{
		Name:           "doc-1",
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"u1"}, "write": {"u1"}},
	})
	require.NoError(t, err)

	// The update is an overwrite, not a merge: u1 loses everything not
	// resent, u2 gains what the new ACL grants.
	updated, err := f.objects.Update(ctx, created.ID, UpdateRequest{
		Name:           "doc-1 renamed",
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"u2"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "doc-1 renamed", updated.Name)
	assert.ElementsMatch(t, []string{"u2"}, aclSubjects(updated, "read"))
	assert.Empty(t, aclSubjects(updated, "write"))
}

func TestUpdateMissingObject(t *testing.T) {
	f := setup(t)
	f.seed(t)

	_, err := f.objects.Update(context.Background(), "ghost", UpdateRequest{})
	assert.True(t, acmerr.IsNotFound(err))

	_, err = f.objects.Update(context.Background(), "", UpdateRequest{})
	assert.True(t, acmerr.IsInvalidRequest(err))
}

func TestUpdateUnknownSubjectRollsBack(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.objects.Create(ctx, CreateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"u1"}},
	})
	require.NoError(t, err)

	_, err = f.objects.Update(ctx, created.ID, UpdateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"ghost"}},
	})
	assert.True(t, acmerr.IsNotFound(err))

	// The failed update left the original ACL in place.
	view, err := f.objects.Read(ctx, created.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1"}, aclSubjects(view, "read"))
}

func TestDeleteObjectCascades(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.objects.Create(ctx, CreateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"u1"}},
	})
	require.NoError(t, err)

	require.NoError(t, f.objects.Delete(ctx, created.ID))

	_, err = f.objects.Read(ctx, created.ID)
	assert.True(t, acmerr.IsNotFound(err))

	var count int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM access_control_entries`).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM object_permission_sets`).Scan(&count))
	assert.Zero(t, count)

	assert.True(t, acmerr.IsNotFound(f.objects.Delete(ctx, created.ID)))
}

func TestAddSubjectsGrant(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.objects.Create(ctx, CreateRequest{PermissionSets: []string{"doc-perms"}})
	require.NoError(t, err)

	view, err := f.objects.AddSubjects(ctx, created.ID, []string{"read", "write"}, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1"}, aclSubjects(view, "read"))
	assert.ElementsMatch(t, []string{"u1"}, aclSubjects(view, "write"))
}

func TestAddSubjectsIdempotent(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.objects.Create(ctx, CreateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"u1"}},
	})
	require.NoError(t, err)

	view, err := f.objects.AddSubjects(ctx, created.ID, []string{"read"}, "u1")
	require.NoError(t, err)
	assert.Len(t, view.ACL, 1)
}

func TestAddSubjectsOutOfScopeRollsBack(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.objects.Create(ctx, CreateRequest{PermissionSets: []string{"doc-perms"}})
	require.NoError(t, err)

	// "fly" is not in the object's attached sets, so the valid "read"
	// grant in the same request must not survive either.
	_, err = f.objects.AddSubjects(ctx, created.ID, []string{"read", "fly"}, "u1")
	assert.True(t, acmerr.IsInvalidRequest(err))

	view, err := f.objects.Read(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, view.ACL)
}

func TestAddSubjectsValidation(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.objects.Create(ctx, CreateRequest{PermissionSets: []string{"doc-perms"}})
	require.NoError(t, err)

	_, err = f.objects.AddSubjects(ctx, created.ID, []string{"read"}, "")
	assert.True(t, acmerr.IsInvalidRequest(err))

	_, err = f.objects.AddSubjects(ctx, created.ID, nil, "u1")
	assert.True(t, acmerr.IsInvalidRequest(err))

	_, err = f.objects.AddSubjects(ctx, "ghost", []string{"read"}, "u1")
	assert.True(t, acmerr.IsNotFound(err))

	_, err = f.objects.AddSubjects(ctx, created.ID, []string{"read"}, "ghost")
	assert.True(t, acmerr.IsNotFound(err))
}

func TestRemoveSubjectsRevoke(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.objects.Create(ctx, CreateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"u1", "u2"}, "write": {"u1"}},
	})
	require.NoError(t, err)

	view, err := f.objects.RemoveSubjects(ctx, created.ID, []string{"read"}, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2"}, aclSubjects(view, "read"))
	assert.ElementsMatch(t, []string{"u1"}, aclSubjects(view, "write"))
}

func TestRemoveSubjectsMissingGrantRollsBack(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.objects.Create(ctx, CreateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"u1"}},
	})
	require.NoError(t, err)

	// u1 never held "write", so the whole revoke fails and "read" stays.
	_, err = f.objects.RemoveSubjects(ctx, created.ID, []string{"read", "write"}, "u1")
	assert.True(t, acmerr.IsInvalidRequest(err))

	view, err := f.objects.Read(ctx, created.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1"}, aclSubjects(view, "read"))
}

func TestGroupAndUserSharingIDStayDistinct(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.sets.Create(ctx, "doc-perms", "", []string{"read"})
	require.NoError(t, err)
	_, err = f.subjects.CreateUser(ctx, "42", "")
	require.NoError(t, err)
	_, err = f.subjects.CreateGroup(ctx, "42", "")
	require.NoError(t, err)

	created, err := f.objects.Create(ctx, CreateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"42", "g-42"}},
	})
	require.NoError(t, err)

	// Both grants exist and render back with their own prefixes.
	assert.ElementsMatch(t, []string{"42", "g-42"}, aclSubjects(created, "read"))

	// Revoking the group grant leaves the user grant alone.
	view, err := f.objects.RemoveSubjects(ctx, created.ID, []string{"read"}, "g-42")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"42"}, aclSubjects(view, "read"))
}

func TestUsersForObjectExpandsGroups(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	require.NoError(t, f.subjects.AddMember(ctx, "team1", "u1"))
	require.NoError(t, f.subjects.AddMember(ctx, "team1", "u2"))

	created, err := f.objects.Create(ctx, CreateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL: ACL{
			"read":  {"g-team1", "u1"},
			"write": {"u1"},
		},
	})
	require.NoError(t, err)

	report, err := f.objects.UsersForObject(ctx, created.ID)
	require.NoError(t, err)

	// u1 holds read both directly and through the group; it appears once.
	assert.Equal(t, map[string][]string{
		"u1": {"read", "write"},
		"u2": {"read"},
	}, report)
}

func TestUsersForObjectEmptyGroup(t *testing.T) {
	f := setup(t)
	f.seed(t)
	ctx := context.Background()

	created, err := f.objects.Create(ctx, CreateRequest{
		PermissionSets: []string{"doc-perms"},
		ACL:            ACL{"read": {"g-team1"}},
	})
	require.NoError(t, err)

	report, err := f.objects.UsersForObject(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestParseACL(t *testing.T) {
	acl, err := ParseACL(map[string]interface{}{
		"read": []interface{}{"u1", "g-team1"},
	})
	require.NoError(t, err)
	assert.Equal(t, ACL{"read": {"u1", "g-team1"}}, acl)

	_, err = ParseACL(map[string]interface{}{"read": "u1"})
	assert.True(t, acmerr.IsInvalidRequest(err))
	assert.ErrorContains(t, err, "must be a list")

	_, err = ParseACL(map[string]interface{}{"read": []interface{}{42}})
	assert.True(t, acmerr.IsInvalidRequest(err))

	acl, err = ParseACL(nil)
	require.NoError(t, err)
	assert.Nil(t, acl)
}
