// Package model defines domain entities shared by the cache, the sync engine and the server.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// Item is a single tracked record. Nil pointers are NULL in both stores.
type Item struct {
	ID           string     `json:"id"`
	OwnerID      *string    `json:"owner_id,omitempty"` // nil for anonymous (local-only) items
	Name         string     `json:"name"`
	Barcode      *string    `json:"barcode,omitempty"`
	Unit         *string    `json:"unit,omitempty"`
	Location     *string    `json:"location,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	Quantity     *float64   `json:"quantity,omitempty"`
	PurchaseDate *string    `json:"purchase_date,omitempty"` // ISO-8601 date, not validated
	ExpiryDate   *string    `json:"expiry_date,omitempty"`   // ISO-8601 date, not validated
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// Owned reports whether the item belongs to owner.
func (it Item) Owned(owner string) bool {
	return it.OwnerID != nil && *it.OwnerID == owner
}

// ItemInput carries the caller-editable fields of a new item.
type ItemInput struct {
	Name         string
	Barcode      *string
	Unit         *string
	Location     *string
	Notes        *string
	Quantity     *float64
	PurchaseDate *string
	ExpiryDate   *string
}

// Item builds an item with the given identity from the input fields.
func (in ItemInput) Item(id string, owner *string) Item {
	return Item{
		ID:           id,
		OwnerID:      owner,
		Name:         in.Name,
		Barcode:      in.Barcode,
		Unit:         in.Unit,
		Location:     in.Location,
		Notes:        in.Notes,
		Quantity:     in.Quantity,
		PurchaseDate: in.PurchaseDate,
		ExpiryDate:   in.ExpiryDate,
	}
}

// Input extracts the editable fields of an item.
func (it Item) Input() ItemInput {
	return ItemInput{
		Name:         it.Name,
		Barcode:      it.Barcode,
		Unit:         it.Unit,
		Location:     it.Location,
		Notes:        it.Notes,
		Quantity:     it.Quantity,
		PurchaseDate: it.PurchaseDate,
		ExpiryDate:   it.ExpiryDate,
	}
}

// ChangeKind names a row mutation delivered by the realtime channel.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Valid reports whether k is one of the known kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// Change describes a single remote row mutation.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	ID      string     `json:"id"`
	OwnerID string     `json:"owner_id"`
	Item    *Item      `json:"item,omitempty"` // nil when Kind == ChangeDelete
}

// User represents an account stored on the server. Passwords are never stored in plaintext.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	CreatedAt time.Time
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns *p or "" for nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// SameString reports whether two nullable strings hold the same value.
func SameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
