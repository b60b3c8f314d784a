package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/model"
)

// ItemRepo implements ItemRepository using PostgreSQL.
type ItemRepo struct{ db *DB }

// NewItemRepo constructs an item repository.
func NewItemRepo(db *DB) *ItemRepo { return &ItemRepo{db: db} }

const itemColumns = `id, user_id, name, barcode, unit, location, notes, quantity,
purchase_date, expiry_date, created_at, updated_at`

// List returns all items of a user, soonest expiry first.
func (r *ItemRepo) List(ctx context.Context, userID uuid.UUID) ([]model.Item, error) {
	const q = `
SELECT ` + itemColumns + `
FROM items
WHERE user_id=$1
ORDER BY expiry_date ASC NULLS LAST, created_at ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Insert stores a new row owned by userID.
func (r *ItemRepo) Insert(ctx context.Context, userID, itemID uuid.UUID, in model.ItemInput) (model.Item, error) {
	const q = `
INSERT INTO items (id, user_id, name, barcode, unit, location, notes, quantity, purchase_date, expiry_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + itemColumns
	row := r.db.Pool.QueryRow(ctx, q, itemID, userID,
		in.Name, in.Barcode, in.Unit, in.Location, in.Notes, in.Quantity, in.PurchaseDate, in.ExpiryDate)
	it, err := scanItem(row)
	if isUniqueViolation(err) {
		return model.Item{}, errs.ErrAlreadyExists
	}
	return it, err
}

// Update replaces the editable fields of the row matching both id and owner.
func (r *ItemRepo) Update(ctx context.Context, userID, itemID uuid.UUID, in model.ItemInput) (model.Item, error) {
	const q = `
UPDATE items
SET name=$3, barcode=$4, unit=$5, location=$6, notes=$7, quantity=$8,
    purchase_date=$9, expiry_date=$10, updated_at=now()
WHERE id=$1 AND user_id=$2
RETURNING ` + itemColumns
	row := r.db.Pool.QueryRow(ctx, q, itemID, userID,
		in.Name, in.Barcode, in.Unit, in.Location, in.Notes, in.Quantity, in.PurchaseDate, in.ExpiryDate)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Item{}, errs.ErrNotFound
	}
	return it, err
}

// Delete removes the row matching both id and owner.
func (r *ItemRepo) Delete(ctx context.Context, userID, itemID uuid.UUID) error {
	const q = `DELETE FROM items WHERE id=$1 AND user_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, itemID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanItem(row pgx.Row) (model.Item, error) {
	var (
		id, owner        uuid.UUID
		created, updated time.Time
		it               model.Item
	)
	err := row.Scan(&id, &owner, &it.Name, &it.Barcode, &it.Unit, &it.Location, &it.Notes, &it.Quantity,
		&it.PurchaseDate, &it.ExpiryDate, &created, &updated)
	if err != nil {
		return model.Item{}, err
	}
	it.ID = id.String()
	it.OwnerID = model.StringPtr(owner.String())
	created, updated = created.UTC(), updated.UTC()
	it.CreatedAt, it.UpdatedAt = &created, &updated
	return it, nil
}
