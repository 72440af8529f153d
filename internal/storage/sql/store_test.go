package sql

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bcnelson/stacks/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New("sqlite3", filepath.Join(t.TempDir(), "stacks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedStack creates a stack owned by owner holding the given packages.
func seedStack(t *testing.T, store *Store, name, owner string, packages ...string) *domain.Stack {
	t.Helper()
	ctx := context.Background()

	user, err := store.EnsureUser(ctx, owner)
	require.NoError(t, err)

	now := time.Now()
	stack := &domain.Stack{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Users:     []*domain.User{user},
	}
	for _, name := range packages {
		pkg, err := store.EnsurePackage(ctx, name)
		require.NoError(t, err)
		stack.Packages = append(stack.Packages, pkg)
	}
	require.NoError(t, store.CreateStack(ctx, stack))
	return stack
}

func stackNames(stacks []*domain.Stack) []string {
	names := []string{}
	for _, s := range stacks {
		names = append(names, s.Name)
	}
	return names
}

func TestCreateAndGetStack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedStack(t, store, "gnome", "alice", "mutter", "gnome-shell")

	stack, err := store.GetStackByName(ctx, "gnome")
	require.NoError(t, err)
	assert.Equal(t, "gnome", stack.Name)
	assert.Equal(t, "", stack.Description)
	require.Len(t, stack.Packages, 2)
	assert.Equal(t, "gnome-shell", stack.Packages[0].Name)
	assert.Equal(t, "mutter", stack.Packages[1].Name)
	require.Len(t, stack.Users, 1)
	assert.Equal(t, "alice", stack.Users[0].Name)
	assert.Empty(t, stack.Groups)

	_, err = store.GetStackByName(ctx, "kde")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCreateStackDuplicateName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedStack(t, store, "gnome", "alice")

	now := time.Now()
	err := store.CreateStack(ctx, &domain.Stack{ID: uuid.NewString(), Name: "gnome", CreatedAt: now, UpdatedAt: now})
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))

	// The failed insert must not poison the transaction it runs in.
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	err = tx.CreateStack(ctx, &domain.Stack{ID: uuid.NewString(), Name: "gnome", CreatedAt: now, UpdatedAt: now})
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
	_, err = tx.GetStackByName(ctx, "gnome")
	assert.NoError(t, err)
	require.NoError(t, tx.Rollback())
}

func TestListStacksFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedStack(t, store, "gnome", "alice", "mutter", "gtk3")
	seedStack(t, store, "gnome-extras", "alice", "gtk3")
	seedStack(t, store, "kde", "bob", "qt5")
	seedStack(t, store, "100%_pure", "bob")

	tests := []struct {
		name   string
		filter domain.StackFilter
		want   []string
	}{
		{"all, name descending", domain.StackFilter{}, []string{"kde", "gnome-extras", "gnome", "100%_pure"}},
		{"exact name", domain.StackFilter{Name: "gnome"}, []string{"gnome"}},
		{"substring", domain.StackFilter{Like: "nom"}, []string{"gnome-extras", "gnome"}},
		{"wildcards are literal", domain.StackFilter{Like: "%_"}, []string{"100%_pure"}},
		{"underscore is literal", domain.StackFilter{Like: "e_"}, []string{}},
		{"any package", domain.StackFilter{Packages: []string{"mutter", "qt5"}}, []string{"kde", "gnome"}},
		{"package shared by many appears once each", domain.StackFilter{Packages: []string{"gtk3", "mutter"}}, []string{"gnome-extras", "gnome"}},
		{"combined", domain.StackFilter{Like: "extras", Packages: []string{"gtk3"}}, []string{"gnome-extras"}},
		{"no match", domain.StackFilter{Name: "xfce"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stacks, total, err := store.ListStacks(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stackNames(stacks))
			assert.Equal(t, len(tt.want), total)
		})
	}
}

func TestListStacksPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		seedStack(t, store, name, "alice")
	}

	stacks, total, err := store.ListStacks(ctx, domain.StackFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, []string{"c", "b"}, stackNames(stacks))

	stacks, total, err = store.ListStacks(ctx, domain.StackFilter{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, stacks)
}

func TestListStacksOffsetPastEnd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedStack(t, store, "gnome", "alice")
	seedStack(t, store, "kde", "alice")

	stacks, total, err := store.ListStacks(ctx, domain.StackFilter{
		Limit:  100,
		Offset: domain.PageOffset(100000000000000000, 100),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Empty(t, stacks)
}

func TestStackMembers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stack := seedStack(t, store, "gnome", "alice")
	group, err := store.EnsureGroup(ctx, "desktop")
	require.NoError(t, err)

	require.NoError(t, store.AddStackMember(ctx, stack.ID, domain.RelationGroups, group.ID))
	// Adding twice is harmless.
	require.NoError(t, store.AddStackMember(ctx, stack.ID, domain.RelationGroups, group.ID))

	got, err := store.GetStackByName(ctx, "gnome")
	require.NoError(t, err)
	require.Len(t, got.Groups, 1)
	assert.Equal(t, "desktop", got.Groups[0].Name)

	require.NoError(t, store.RemoveStackMember(ctx, stack.ID, domain.RelationUsers, got.Users[0].ID))
	got, err = store.GetStackByName(ctx, "gnome")
	require.NoError(t, err)
	assert.Empty(t, got.Users)

	err = store.AddStackMember(ctx, stack.ID, domain.Relation("builds"), "x")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestUpdateAndDeleteStack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stack := seedStack(t, store, "gnome", "alice", "mutter")
	stack.Description = "GNOME desktop"
	require.NoError(t, store.UpdateStack(ctx, stack))

	got, err := store.GetStackByName(ctx, "gnome")
	require.NoError(t, err)
	assert.Equal(t, "GNOME desktop", got.Description)

	require.NoError(t, store.DeleteStack(ctx, stack.ID))
	_, err = store.GetStackByName(ctx, "gnome")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, errors.Is(store.DeleteStack(ctx, stack.ID), domain.ErrNotFound))

	// Packages and users outlive the stack.
	_, err = store.GetPackageByName(ctx, "mutter")
	assert.NoError(t, err)
	_, err = store.GetUserByName(ctx, "alice")
	assert.NoError(t, err)
}

func TestTransactionRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.EnsurePackage(ctx, "mutter")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = store.GetPackageByName(ctx, "mutter")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestEnsureIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.EnsurePackage(ctx, "mutter")
	require.NoError(t, err)
	second, err := store.EnsurePackage(ctx, "mutter")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	u1, err := store.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	u2, err := store.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)
}

func TestUserGroups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alice, err := store.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	packager, err := store.EnsureGroup(ctx, "packager")
	require.NoError(t, err)
	admin, err := store.EnsureGroup(ctx, "admin")
	require.NoError(t, err)

	require.NoError(t, store.SetUserGroups(ctx, alice.ID, []string{packager.ID, admin.ID}))
	got, err := store.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got.Groups, 2)
	assert.Equal(t, "admin", got.Groups[0].Name)
	assert.True(t, got.InGroup("packager"))

	group, err := store.GetGroupByName(ctx, "packager")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, group.Members)

	require.NoError(t, store.SetUserGroups(ctx, alice.ID, []string{packager.ID}))
	got, err = store.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got.Groups, 1)
	assert.Equal(t, "packager", got.Groups[0].Name)
}

func TestAPIKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.CountAPIKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	key := &domain.APIKey{
		ID:        uuid.NewString(),
		Name:      "ci",
		UserName:  "alice",
		KeyHash:   "hash",
		KeyPrefix: "stk_12345678",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateAPIKey(ctx, key))

	got, err := store.GetAPIKeyByHash(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserName)
	assert.Nil(t, got.LastUsedAt)

	require.NoError(t, store.UpdateAPIKeyLastUsed(ctx, key.ID))
	got, err = store.GetAPIKeyByHash(ctx, "hash")
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)

	keys, err := store.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, store.DeleteAPIKey(ctx, key.ID))
	assert.True(t, errors.Is(store.DeleteAPIKey(ctx, key.ID), domain.ErrNotFound))
}
