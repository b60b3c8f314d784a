package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/larder/internal/model"
)

func TestHub_DeliversToOwnerOnly(t *testing.T) {
	h := NewHub(4, zaptest.NewLogger(t))
	ctx := context.Background()

	a, cancelA := h.Subscribe("owner-a")
	defer cancelA()
	b, cancelB := h.Subscribe("owner-b")
	defer cancelB()

	h.Publish(ctx, model.Change{Kind: model.ChangeDelete, ID: "x", OwnerID: "owner-a"})

	got := <-a
	require.Equal(t, "x", got.ID)
	require.Len(t, b, 0)
}

func TestHub_FanOutToEveryWatcher(t *testing.T) {
	h := NewHub(4, nil)
	one, c1 := h.Subscribe("o")
	defer c1()
	two, c2 := h.Subscribe("o")
	defer c2()
	require.Equal(t, 2, h.Watchers("o"))

	h.Publish(context.Background(), model.Change{Kind: model.ChangeInsert, ID: "i", OwnerID: "o", Item: &model.Item{ID: "i", Name: "Tea"}})
	require.Equal(t, "Tea", (<-one).Item.Name)
	require.Equal(t, "Tea", (<-two).Item.Name)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	h := NewHub(1, nil)
	var dropped []string
	h.OnDrop = func(owner string) { dropped = append(dropped, owner) }

	ch, cancel := h.Subscribe("o")
	defer cancel()

	h.Publish(context.Background(), model.Change{Kind: model.ChangeDelete, ID: "1", OwnerID: "o"})
	h.Publish(context.Background(), model.Change{Kind: model.ChangeDelete, ID: "2", OwnerID: "o"})

	require.Equal(t, "1", (<-ch).ID)
	require.Equal(t, []string{"o"}, dropped)
}

func TestHub_CancelClosesAndUnregisters(t *testing.T) {
	h := NewHub(1, nil)
	ch, cancel := h.Subscribe("o")

	cancel()
	cancel()
	_, ok := <-ch
	require.False(t, ok)
	require.Zero(t, h.Watchers("o"))

	h.Publish(context.Background(), model.Change{Kind: model.ChangeDelete, ID: "1", OwnerID: "o"})
}
