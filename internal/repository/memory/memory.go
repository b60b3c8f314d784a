// Package memory holds process-local repository implementations for
// development servers and tests. Nothing is persisted.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/model"
	"github.com/and161185/larder/internal/repository"
)

// Users is an in-memory UserRepository.
type Users struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]model.User
}

var _ repository.UserRepository = (*Users)(nil)

func NewUsers() *Users { return &Users{byID: map[uuid.UUID]model.User{}} }

func (r *Users) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.byID {
		if x.Username == u.Username {
			return errs.ErrAlreadyExists
		}
	}
	if _, ok := r.byID[u.ID]; ok {
		return errs.ErrAlreadyExists
	}
	r.byID[u.ID] = *u
	return nil
}

func (r *Users) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

func (r *Users) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, errs.ErrNotFound
}

type itemRow struct {
	owner uuid.UUID
	item  model.Item
}

// Items is an in-memory ItemRepository with the same ordering and owner
// scoping as the Postgres one.
type Items struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]itemRow
	now  func() time.Time
}

var _ repository.ItemRepository = (*Items)(nil)

func NewItems() *Items {
	return &Items{rows: map[uuid.UUID]itemRow{}, now: time.Now}
}

func (r *Items) List(_ context.Context, userID uuid.UUID) ([]model.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.Item{}
	for _, row := range r.rows {
		if row.owner == userID {
			out = append(out, row.item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

// less orders by expiry ascending with nulls last, then creation time, then id.
func less(a, b model.Item) bool {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return false
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return true
	case a.ExpiryDate != nil && *a.ExpiryDate != *b.ExpiryDate:
		return *a.ExpiryDate < *b.ExpiryDate
	}
	if a.CreatedAt != nil && b.CreatedAt != nil && !a.CreatedAt.Equal(*b.CreatedAt) {
		return a.CreatedAt.Before(*b.CreatedAt)
	}
	return a.ID < b.ID
}

func (r *Items) Insert(_ context.Context, userID, itemID uuid.UUID, in model.ItemInput) (model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[itemID]; ok {
		return model.Item{}, errs.ErrAlreadyExists
	}
	ts := r.now().UTC().Truncate(time.Microsecond)
	it := in.Item(itemID.String(), model.StringPtr(userID.String()))
	it.CreatedAt, it.UpdatedAt = &ts, &ts
	r.rows[itemID] = itemRow{owner: userID, item: it}
	return it, nil
}

func (r *Items) Update(_ context.Context, userID, itemID uuid.UUID, in model.ItemInput) (model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[itemID]
	if !ok || row.owner != userID {
		return model.Item{}, errs.ErrNotFound
	}
	ts := r.now().UTC().Truncate(time.Microsecond)
	it := in.Item(row.item.ID, row.item.OwnerID)
	it.CreatedAt, it.UpdatedAt = row.item.CreatedAt, &ts
	r.rows[itemID] = itemRow{owner: userID, item: it}
	return it, nil
}

func (r *Items) Delete(_ context.Context, userID, itemID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[itemID]
	if !ok || row.owner != userID {
		return errs.ErrNotFound
	}
	delete(r.rows, itemID)
	return nil
}
