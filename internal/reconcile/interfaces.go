// Package reconcile keeps the local item cache consistent with the
// authoritative remote store.
//
// Reads always return something: the remote snapshot when an owner is
// resolved and the server answers, the local cache otherwise. Owned writes
// must reach the server first and are then mirrored locally; anonymous writes
// go straight to the cache. Remote change streams are merged into the cache
// and republished to the observer as full snapshots.
package reconcile

import (
	"context"

	"github.com/and161185/larder/internal/model"
)

// Remote is the authoritative store. Every call is scoped to ownerID.
type Remote interface {
	// ListItems returns all of the owner's items, expiry ascending, nulls last.
	ListItems(ctx context.Context, ownerID string) ([]model.Item, error)
	// InsertItem creates an item owned by ownerID and returns the stored row.
	InsertItem(ctx context.Context, ownerID string, in model.ItemInput) (model.Item, error)
	// UpdateItem replaces the editable fields of the row matching id AND owner.
	UpdateItem(ctx context.Context, ownerID string, it model.Item) (model.Item, error)
	// DeleteItem removes the row matching id AND owner.
	DeleteItem(ctx context.Context, ownerID, id string) error
	// Watch streams the owner's row changes until ctx is cancelled or the
	// stream breaks; the channel is closed then.
	Watch(ctx context.Context, ownerID string) (<-chan model.Change, error)
}

// OwnerResolver reports the current acting owner, if any.
type OwnerResolver interface {
	CurrentOwner(ctx context.Context) (ownerID string, ok bool)
}

// OwnerFunc adapts a function to OwnerResolver.
type OwnerFunc func(ctx context.Context) (string, bool)

// CurrentOwner implements OwnerResolver.
func (f OwnerFunc) CurrentOwner(ctx context.Context) (string, bool) { return f(ctx) }

// Anonymous never resolves an owner.
var Anonymous OwnerResolver = OwnerFunc(func(context.Context) (string, bool) { return "", false })

// Reminders schedules expiry notifications. Implementations only look at the
// item's id, name and expiry date.
type Reminders interface {
	Cancel(ctx context.Context, itemID string)
	Schedule(ctx context.Context, it model.Item)
}

// NopReminders ignores every call.
type NopReminders struct{}

func (NopReminders) Cancel(context.Context, string) {}
func (NopReminders) Schedule(context.Context, model.Item) {}
