package memory

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/model"
)

func TestItems_ListOrderAndScope(t *testing.T) {
	ctx := context.Background()
	r := NewItems()
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	alice, bob := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	for _, in := range []model.ItemInput{
		{Name: "dateless"},
		{Name: "may", ExpiryDate: model.StringPtr("2024-05-10")},
		{Name: "april", ExpiryDate: model.StringPtr("2024-04-01")},
		{Name: "later dateless"},
	} {
		_, err := r.Insert(ctx, alice, uuid.Must(uuid.NewV4()), in)
		require.NoError(t, err)
	}
	_, err := r.Insert(ctx, bob, uuid.Must(uuid.NewV4()), model.ItemInput{Name: "bob's"})
	require.NoError(t, err)

	got, err := r.List(ctx, alice)
	require.NoError(t, err)
	var names []string
	for _, it := range got {
		names = append(names, it.Name)
	}
	require.Equal(t, []string{"april", "may", "dateless", "later dateless"}, names)

	empty, err := r.List(ctx, uuid.Must(uuid.NewV4()))
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestItems_WritesAreOwnerScoped(t *testing.T) {
	ctx := context.Background()
	r := NewItems()
	alice, bob := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())

	created, err := r.Insert(ctx, alice, id, model.ItemInput{Name: "Milk"})
	require.NoError(t, err)
	_, err = r.Insert(ctx, alice, id, model.ItemInput{Name: "dup"})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	_, err = r.Update(ctx, bob, id, model.ItemInput{Name: "stolen"})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, r.Delete(ctx, bob, id), errs.ErrNotFound)

	upd, err := r.Update(ctx, alice, id, model.ItemInput{Name: "Oat milk"})
	require.NoError(t, err)
	require.Equal(t, created.CreatedAt, upd.CreatedAt)
	require.Equal(t, "Oat milk", upd.Name)

	require.NoError(t, r.Delete(ctx, alice, id))
	require.ErrorIs(t, r.Delete(ctx, alice, id), errs.ErrNotFound)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	r := NewUsers()
	u := model.User{ID: uuid.Must(uuid.NewV4()), Username: "alice"}

	require.NoError(t, r.Create(ctx, &u))
	require.ErrorIs(t, r.Create(ctx, &model.User{ID: uuid.Must(uuid.NewV4()), Username: "alice"}), errs.ErrAlreadyExists)

	got, err := r.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	got, err = r.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)

	_, err = r.GetByUsername(ctx, "bob")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
