package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/model"
)

const itemColumns = `id, owner_id, name, barcode, unit, location, notes, quantity,
	purchase_date, expiry_date, created_at, updated_at`

// Dated rows first by expiry ascending, dateless rows last.
const itemOrder = `ORDER BY expiry_date IS NULL, expiry_date ASC, created_at ASC, id ASC`

// Store is the durable item cache.
type Store struct {
	db       *sql.DB
	migrator *Migrator
}

// New constructs a store. When migrator is non-nil, operations that hit a
// schema mismatch force a schema re-run and retry exactly once.
func New(db *sql.DB, migrator *Migrator) *Store {
	return &Store{db: db, migrator: migrator}
}

// Tx is a caller-supplied unit of work executed atomically by InTx.
type Tx struct{ q querier }

// Get returns a single item by id.
func (s *Store) Get(ctx context.Context, id string) (model.Item, error) {
	var it model.Item
	err := s.retry(ctx, func() (err error) {
		it, err = getItem(ctx, s.db, id)
		return err
	})
	return it, err
}

// List returns every cached item ordered by expiry date, dateless rows last.
func (s *Store) List(ctx context.Context) ([]model.Item, error) {
	var out []model.Item
	err := s.retry(ctx, func() (err error) {
		out, err = listItems(ctx, s.db, "", nil)
		return err
	})
	return out, err
}

// ListByOwner returns the owner's items in List order.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]model.Item, error) {
	var out []model.Item
	err := s.retry(ctx, func() (err error) {
		out, err = listItems(ctx, s.db, "WHERE owner_id = ?", []any{owner})
		return err
	})
	return out, err
}

// Upsert inserts or replaces the row with it.ID. Replacing a row that belongs
// to a different owner fails with errs.ErrOwnerConflict.
func (s *Store) Upsert(ctx context.Context, it model.Item) error {
	return s.retry(ctx, func() error { return upsertItem(ctx, s.db, it) })
}

// Delete removes the row with id regardless of owner.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.retry(ctx, func() error { return deleteItem(ctx, s.db, id, nil) })
}

// DeleteOwned removes the row with id only when it belongs to owner.
func (s *Store) DeleteOwned(ctx context.Context, id, owner string) error {
	return s.retry(ctx, func() error { return deleteItem(ctx, s.db, id, &owner) })
}

// DeleteByOwner removes the owner's rows and every ownerless row.
func (s *Store) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	var n int64
	err := s.retry(ctx, func() (err error) {
		n, err = deleteByOwner(ctx, s.db, owner)
		return err
	})
	return n, err
}

// ReplaceOwned swaps the owner's rows (and ownerless rows) for items in one
// transaction. Items colliding with another owner's row are skipped and their
// ids returned.
func (s *Store) ReplaceOwned(ctx context.Context, owner string, items []model.Item) ([]string, error) {
	var skipped []string
	err := s.InTx(ctx, func(tx *Tx) error {
		skipped = skipped[:0]
		if _, err := tx.DeleteByOwner(ctx, owner); err != nil {
			return err
		}
		for _, it := range items {
			err := tx.Upsert(ctx, it)
			if errors.Is(err, errs.ErrOwnerConflict) {
				skipped = append(skipped, it.ID)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return skipped, err
}

// InTx runs fn inside one transaction. fn may be invoked twice when the first
// attempt hits a schema mismatch.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.retry(ctx, func() (err error) {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = sqlTx.Rollback()
				return
			}
			if e := sqlTx.Commit(); e != nil {
				err = e
			}
		}()
		return fn(&Tx{q: sqlTx})
	})
}

// Get returns a single item by id.
func (t *Tx) Get(ctx context.Context, id string) (model.Item, error) { return getItem(ctx, t.q, id) }

// List returns every row in List order.
func (t *Tx) List(ctx context.Context) ([]model.Item, error) { return listItems(ctx, t.q, "", nil) }

// Upsert inserts or replaces a row, see Store.Upsert.
func (t *Tx) Upsert(ctx context.Context, it model.Item) error { return upsertItem(ctx, t.q, it) }

// Delete removes a row by id.
func (t *Tx) Delete(ctx context.Context, id string) error { return deleteItem(ctx, t.q, id, nil) }

// DeleteByOwner removes the owner's rows and every ownerless row.
func (t *Tx) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	return deleteByOwner(ctx, t.q, owner)
}

func (s *Store) retry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !isSchemaMismatch(err) {
		return err
	}
	if s.migrator == nil {
		return fmt.Errorf("%w: %v", errs.ErrSchemaMismatch, err)
	}
	if _, merr := s.migrator.ForceSchema(ctx); merr != nil {
		return merr
	}
	if err := op(); err != nil {
		if isSchemaMismatch(err) {
			return fmt.Errorf("%w: %v", errs.ErrSchemaMismatch, err)
		}
		return err
	}
	return nil
}

func isSchemaMismatch(err error) bool {
	if errors.Is(err, errs.ErrSchemaMismatch) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "has no column named")
}

func getItem(ctx context.Context, q querier, id string) (model.Item, error) {
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, errs.ErrNotFound
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("getting item: %w", err)
	}
	return it, nil
}

func listItems(ctx context.Context, q querier, where string, args []any) ([]model.Item, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+itemColumns+` FROM items `+where+` `+itemOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	out := []model.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func upsertItem(ctx context.Context, q querier, it model.Item) error {
	if it.ID == "" {
		return fmt.Errorf("%w: empty id", errs.ErrInvalid)
	}
	res, err := q.ExecContext(ctx, `
INSERT INTO items (`+itemColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    owner_id = excluded.owner_id,
    name = excluded.name,
    barcode = excluded.barcode,
    unit = excluded.unit,
    location = excluded.location,
    notes = excluded.notes,
    quantity = excluded.quantity,
    purchase_date = excluded.purchase_date,
    expiry_date = excluded.expiry_date,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at
WHERE items.owner_id IS NULL OR items.owner_id IS excluded.owner_id`,
		it.ID, it.OwnerID, it.Name, it.Barcode, it.Unit, it.Location, it.Notes, it.Quantity,
		it.PurchaseDate, it.ExpiryDate, formatTime(it.CreatedAt), formatTime(it.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upserting item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", it.ID, errs.ErrOwnerConflict)
	}
	return nil
}

func deleteItem(ctx context.Context, q querier, id string, owner *string) error {
	var err error
	if owner == nil {
		_, err = q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	} else {
		_, err = q.ExecContext(ctx, `DELETE FROM items WHERE id = ? AND owner_id = ?`, id, *owner)
	}
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

func deleteByOwner(ctx context.Context, q querier, owner string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM items WHERE owner_id = ? OR owner_id IS NULL`, owner)
	if err != nil {
		return 0, fmt.Errorf("deleting owner items: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (model.Item, error) {
	var (
		it                                     model.Item
		owner, barcode, unit, location, notes  sql.NullString
		purchase, expiry, createdAt, updatedAt sql.NullString
		quantity                               sql.NullFloat64
	)
	if err := r.Scan(&it.ID, &owner, &it.Name, &barcode, &unit, &location, &notes, &quantity,
		&purchase, &expiry, &createdAt, &updatedAt); err != nil {
		return model.Item{}, err
	}
	it.OwnerID = nullString(owner)
	it.Barcode = nullString(barcode)
	it.Unit = nullString(unit)
	it.Location = nullString(location)
	it.Notes = nullString(notes)
	if quantity.Valid {
		q := quantity.Float64
		it.Quantity = &q
	}
	it.PurchaseDate = nullString(purchase)
	it.ExpiryDate = nullString(expiry)
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updatedAt)
	return it, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
