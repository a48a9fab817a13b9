package subject

import (
	"context"
	"testing"

	"github.com/cloudacm/acm/internal/acmerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUserAndGroup(t *testing.T) {
	sqlDB := setupDB(t)
	m := NewManager(sqlDB)
	ctx := context.Background()

	_, err := m.CreateUser(ctx, "alice", "")
	require.NoError(t, err)
	_, err = m.CreateGroup(ctx, "team1", "")
	require.NoError(t, err)

	r := m.Resolver()

	user, err := r.Resolve(ctx, sqlDB, "alice")
	require.NoError(t, err)
	assert.Equal(t, KindUser, user.Kind)

	group, err := r.Resolve(ctx, sqlDB, "g-team1")
	require.NoError(t, err)
	assert.Equal(t, KindGroup, group.Kind)
}

func TestResolveKindMismatch(t *testing.T) {
	sqlDB := setupDB(t)
	m := NewManager(sqlDB)
	ctx := context.Background()

	_, err := m.CreateUser(ctx, "alice", "")
	require.NoError(t, err)

	// "g-alice" asks for a group; only a user with that id exists.
	_, err = m.Resolver().Resolve(ctx, sqlDB, "g-alice")
	assert.True(t, acmerr.IsNotFound(err))
}

func TestResolveEmptyRef(t *testing.T) {
	sqlDB := setupDB(t)

	_, err := NewResolver().Resolve(context.Background(), sqlDB, "")
	assert.True(t, acmerr.IsInvalidRequest(err))
}

func TestResolveBatch(t *testing.T) {
	sqlDB := setupDB(t)
	m := NewManager(sqlDB)
	ctx := context.Background()

	_, err := m.CreateUser(ctx, "alice", "")
	require.NoError(t, err)
	_, err = m.CreateUser(ctx, "bob", "")
	require.NoError(t, err)
	_, err = m.CreateGroup(ctx, "team1", "")
	require.NoError(t, err)

	resolved, err := m.Resolver().ResolveBatch(ctx, sqlDB, []string{"alice", "bob", "g-team1"})
	require.NoError(t, err)
	require.Len(t, resolved, 3)
	assert.Equal(t, KindUser, resolved["alice"].Kind)
	assert.Equal(t, KindGroup, resolved["g-team1"].Kind)
}

func TestResolveBatchShortfall(t *testing.T) {
	sqlDB := setupDB(t)
	m := NewManager(sqlDB)
	ctx := context.Background()

	_, err := m.CreateUser(ctx, "alice", "")
	require.NoError(t, err)

	_, err = m.Resolver().ResolveBatch(ctx, sqlDB, []string{"alice", "ghost"})
	assert.True(t, acmerr.IsInvalidRequest(err))
	assert.ErrorContains(t, err, "requested 2, found 1")
}

func TestResolveBatchSharedIDNotCrossMatched(t *testing.T) {
	sqlDB := setupDB(t)
	m := NewManager(sqlDB)
	ctx := context.Background()

	// A user and a group share the immutable id 42. "g-42" must resolve
	// to the group only, and "42" to the user only.
	_, err := m.CreateUser(ctx, "42", "")
	require.NoError(t, err)
	_, err = m.CreateGroup(ctx, "42", "")
	require.NoError(t, err)

	resolved, err := m.Resolver().ResolveBatch(ctx, sqlDB, []string{"42", "g-42"})
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.Equal(t, KindUser, resolved["42"].Kind)
	assert.Equal(t, KindGroup, resolved["g-42"].Kind)

	// Only the group exists under this id, so the user reference fails.
	_, err = m.CreateGroup(ctx, "grouponly", "")
	require.NoError(t, err)
	_, err = m.Resolver().ResolveBatch(ctx, sqlDB, []string{"grouponly"})
	assert.True(t, acmerr.IsInvalidRequest(err))
}

func TestResolveBatchEmpty(t *testing.T) {
	sqlDB := setupDB(t)

	resolved, err := NewResolver().ResolveBatch(context.Background(), sqlDB, nil)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}
