package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpanel/stackpanel/internal/domain"
)

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore[domain.Zone]()

	created, err := store.Create(ctx, &domain.Zone{Meta: domain.Meta{UUID: "u1"}, Name: "Zone A"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, int64(0), created.Version)
	assert.Equal(t, domain.StatusActive, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Zone A", got.Name)

	byKey, err := store.GetByKey(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byKey.ID)

	_, err = store.Get(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetByKey(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_CreateDuplicateKey(t *testing.T) {
	ctx := context.Background()
	store := NewStore[domain.Zone]()

	_, err := store.Create(ctx, &domain.Zone{Meta: domain.Meta{UUID: "u1"}})
	require.NoError(t, err)

	_, err = store.Create(ctx, &domain.Zone{Meta: domain.Meta{UUID: "u1"}})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestStore_UpdateIncrementsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore[domain.Zone]()

	z, err := store.Create(ctx, &domain.Zone{Meta: domain.Meta{UUID: "u1", CreatedBy: 7}, Name: "a"})
	require.NoError(t, err)

	z.Name = "b"
	z.CreatedBy = 99
	updated, err := store.Update(ctx, z)
	require.NoError(t, err)

	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, int64(0), z.Version)
	assert.Equal(t, int64(7), updated.CreatedBy)
	assert.Equal(t, "b", updated.Name)

	updated.Name = "c"
	again, err := store.Update(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version)
}

func TestStore_UpdateStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore[domain.Zone]()

	z, err := store.Create(ctx, &domain.Zone{Meta: domain.Meta{UUID: "u1"}, Name: "a"})
	require.NoError(t, err)

	first := domain.Clone(z)
	second := domain.Clone(z)

	first.Name = "first"
	_, err = store.Update(ctx, first)
	require.NoError(t, err)

	second.Name = "second"
	_, err = store.Update(ctx, second)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := store.Get(ctx, z.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
}

func TestStore_UpdateMissing(t *testing.T) {
	store := NewStore[domain.Zone]()

	_, err := store.Update(context.Background(), &domain.Zone{Meta: domain.Meta{ID: 5}})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_UpdateKeyChange(t *testing.T) {
	ctx := context.Background()
	store := NewStore[domain.Hypervisor]()

	kvm, err := store.Create(ctx, &domain.Hypervisor{Name: "KVM"})
	require.NoError(t, err)
	_, err = store.Create(ctx, &domain.Hypervisor{Name: "XenServer"})
	require.NoError(t, err)

	kvm.Name = "XenServer"
	_, err = store.Update(ctx, kvm)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	kvm.Name = "Simulator"
	_, err = store.Update(ctx, kvm)
	require.NoError(t, err)

	_, err = store.GetByKey(ctx, "KVM")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := store.GetByKey(ctx, "Simulator")
	require.NoError(t, err)
	assert.Equal(t, kvm.ID, got.ID)
}

func TestStore_ListFiltersInactive(t *testing.T) {
	ctx := context.Background()
	store := NewStore[domain.User]()

	for _, name := range []string{"alice", "bob", "Alicia"} {
		_, err := store.Create(ctx, &domain.User{Meta: domain.Meta{UUID: name}, Username: name})
		require.NoError(t, err)
	}
	bob, err := store.GetByKey(ctx, "bob")
	require.NoError(t, err)
	bob.Status = domain.StatusInactive
	_, err = store.Update(ctx, bob)
	require.NoError(t, err)

	active, total, err := store.List(ctx, domain.ListFilter{}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, active, 2)

	all, total, err := store.List(ctx, domain.ListFilter{IncludeInactive: true}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, "bob", all[1].Username)

	found, total, err := store.List(ctx, domain.ListFilter{Search: "ALI"}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "alice", found[0].Username)
	assert.Equal(t, "Alicia", found[1].Username)
}

func TestStore_ListPaging(t *testing.T) {
	ctx := context.Background()
	store := NewStore[domain.Region]()

	for i := 0; i < 5; i++ {
		_, err := store.Create(ctx, &domain.Region{Name: "r"})
		require.NoError(t, err)
	}

	page, total, err := store.List(ctx, domain.ListFilter{}, domain.Page{Limit: 2, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, int64(4), page[0].ID)

	empty, _, err := store.List(ctx, domain.ListFilter{}, domain.Page{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_ClonesSlices(t *testing.T) {
	ctx := context.Background()
	store := NewStore[domain.Role]()

	input := &domain.Role{Name: "ops", PermissionIDs: []int64{1, 2}}
	created, err := store.Create(ctx, input)
	require.NoError(t, err)

	input.PermissionIDs[0] = 100
	created.PermissionIDs[1] = 200

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got.PermissionIDs)
}
