package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/model"
)

// Cache is the local store the coordinator writes through to.
// It is implemented by *localstore.Store.
type Cache interface {
	Get(ctx context.Context, id string) (model.Item, error)
	List(ctx context.Context) ([]model.Item, error)
	ListByOwner(ctx context.Context, owner string) ([]model.Item, error)
	Upsert(ctx context.Context, it model.Item) error
	Delete(ctx context.Context, id string) error
	DeleteOwned(ctx context.Context, id, owner string) error
	ReplaceOwned(ctx context.Context, owner string, items []model.Item) ([]string, error)
}

// Coordinator routes item operations between the cache and the remote store.
type Coordinator struct {
	cache     Cache
	remote    Remote
	owners    OwnerResolver
	reminders Reminders
	log       *zap.Logger

	now   func() time.Time
	newID func() (string, error)

	mu  sync.Mutex
	sub *Subscription
}

// New constructs a coordinator. Nil reminders and logger fall back to no-ops.
func New(cache Cache, remote Remote, owners OwnerResolver, reminders Reminders, log *zap.Logger) *Coordinator {
	if owners == nil {
		owners = Anonymous
	}
	if reminders == nil {
		reminders = NopReminders{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		cache:     cache,
		remote:    remote,
		owners:    owners,
		reminders: reminders,
		log:       log,
		now:       time.Now,
		newID:     newLocalID,
	}
}

func newLocalID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Get returns a cached item by id.
func (c *Coordinator) Get(ctx context.Context, id string) (model.Item, error) {
	return c.cache.Get(ctx, id)
}

// List returns the current item collection.
//
// Anonymous callers get the cache. Owned callers get the remote snapshot,
// which replaces the owner's (and ownerless) cached rows; when the remote
// fails the cache read taken before the fetch is returned unchanged.
func (c *Coordinator) List(ctx context.Context) ([]model.Item, error) {
	local, err := c.cache.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}

	owner, ok := c.owners.CurrentOwner(ctx)
	if !ok {
		return local, nil
	}

	fetched, err := c.remote.ListItems(ctx, owner)
	if err != nil {
		c.log.Warn("remote list failed, serving cache",
			zap.String("owner", owner),
			zap.Int("cached", len(local)),
			zap.Error(fmt.Errorf("%w: %w", errs.ErrRemoteUnavailable, err)),
		)
		return local, nil
	}

	for i := range fetched {
		fetched[i] = withOwner(fetched[i], owner)
	}
	skipped, err := c.cache.ReplaceOwned(ctx, owner, fetched)
	if err != nil {
		c.log.Error("cache refresh failed", zap.String("owner", owner), zap.Error(err))
	} else if len(skipped) > 0 {
		c.log.Warn("cache refresh skipped rows owned by someone else", zap.Strings("ids", skipped))
	}
	return fetched, nil
}

// Add creates an item. Owned items are created on the remote store first and
// then mirrored; a remote failure leaves the cache untouched.
func (c *Coordinator) Add(ctx context.Context, in model.ItemInput) (model.Item, error) {
	if strings.TrimSpace(in.Name) == "" {
		return model.Item{}, fmt.Errorf("add: %w: empty name", errs.ErrInvalid)
	}

	var it model.Item
	owner, ok := c.owners.CurrentOwner(ctx)
	if !ok {
		id, err := c.newID()
		if err != nil {
			return model.Item{}, fmt.Errorf("add: generate id: %w", err)
		}
		created, updated := c.now().UTC(), c.now().UTC()
		it = in.Item(id, nil)
		it.CreatedAt, it.UpdatedAt = &created, &updated
	} else {
		stored, err := c.remote.InsertItem(ctx, owner, in)
		if err != nil {
			return model.Item{}, fmt.Errorf("add: %w: %w", errs.ErrRemoteWrite, err)
		}
		it = withOwner(stored, owner)
	}

	if err := c.cache.Upsert(ctx, it); err != nil {
		return model.Item{}, fmt.Errorf("add: write cache: %w", err)
	}
	if it.ExpiryDate != nil {
		c.reminders.Schedule(ctx, it)
	}
	return it, nil
}

// Update replaces the editable fields of an existing item.
//
// Anonymous updates require a cached ownerless row. Owned updates are sent to
// the remote store scoped by id and owner, then mirrored. When the expiry date
// differs from the cached value the reminder is cancelled and rescheduled.
func (c *Coordinator) Update(ctx context.Context, it model.Item) (model.Item, error) {
	if it.ID == "" {
		return model.Item{}, fmt.Errorf("update: %w: empty id", errs.ErrInvalid)
	}
	if strings.TrimSpace(it.Name) == "" {
		return model.Item{}, fmt.Errorf("update: %w: empty name", errs.ErrInvalid)
	}

	owner, ok := c.owners.CurrentOwner(ctx)
	prior, err := c.cache.Get(ctx, it.ID)
	hasPrior := err == nil
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Item{}, fmt.Errorf("update: read cache: %w", err)
	}

	var out model.Item
	if !ok {
		if !hasPrior || prior.OwnerID != nil {
			return model.Item{}, fmt.Errorf("update %s: %w", it.ID, errs.ErrNotFound)
		}
		out = merge(prior, it)
		now := c.now().UTC()
		out.UpdatedAt = &now
	} else {
		hasPrior = hasPrior && (prior.OwnerID == nil || prior.Owned(owner))
		stored, err := c.remote.UpdateItem(ctx, owner, it)
		if err != nil {
			return model.Item{}, fmt.Errorf("update %s: %w: %w", it.ID, errs.ErrRemoteWrite, err)
		}
		out = withOwner(stored, owner)
	}

	if err := c.cache.Upsert(ctx, out); err != nil {
		return model.Item{}, fmt.Errorf("update: write cache: %w", err)
	}

	var priorExpiry *string
	if hasPrior {
		priorExpiry = prior.ExpiryDate
	}
	if !model.SameString(priorExpiry, out.ExpiryDate) {
		c.reminders.Cancel(ctx, out.ID)
		if out.ExpiryDate != nil {
			c.reminders.Schedule(ctx, out)
		}
	}
	return out, nil
}

// Remove deletes an item. Owned items are deleted remotely first; the cached
// row is only removed once the remote store confirmed.
func (c *Coordinator) Remove(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("remove: %w: empty id", errs.ErrInvalid)
	}

	owner, ok := c.owners.CurrentOwner(ctx)
	if !ok {
		if err := c.cache.Delete(ctx, id); err != nil {
			return fmt.Errorf("remove: %w", err)
		}
	} else {
		if err := c.remote.DeleteItem(ctx, owner, id); err != nil {
			return fmt.Errorf("remove %s: %w: %w", id, errs.ErrRemoteWrite, err)
		}
		if err := c.cache.DeleteOwned(ctx, id, owner); err != nil {
			return fmt.Errorf("remove: %w", err)
		}
	}
	c.reminders.Cancel(ctx, id)
	return nil
}

// merge applies the editable fields of upd over prior, keeping identity and
// creation time.
func merge(prior, upd model.Item) model.Item {
	out := upd.Input().Item(prior.ID, prior.OwnerID)
	out.CreatedAt = prior.CreatedAt
	out.UpdatedAt = prior.UpdatedAt
	return out
}

func withOwner(it model.Item, owner string) model.Item {
	o := owner
	it.OwnerID = &o
	return it
}
