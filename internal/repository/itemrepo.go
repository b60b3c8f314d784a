package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/larder/internal/model"
)

// ItemRepository provides owner-scoped access to the authoritative item rows.
// Every method filters by userID; a row owned by someone else behaves as missing.
type ItemRepository interface {
	// List returns the owner's items ordered by expiry ascending, nulls last.
	List(ctx context.Context, userID uuid.UUID) ([]model.Item, error)

	// Insert stores a new row and returns it with server timestamps.
	Insert(ctx context.Context, userID, itemID uuid.UUID, in model.ItemInput) (model.Item, error)

	// Update replaces the editable fields of the row matching id and owner.
	Update(ctx context.Context, userID, itemID uuid.UUID, in model.ItemInput) (model.Item, error)

	// Delete removes the row matching id and owner.
	Delete(ctx context.Context, userID, itemID uuid.UUID) error
}
