package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/model"
	"github.com/and161185/larder/internal/repository"
)

// ItemService defines owner-scoped operations over tracked items.
type ItemService interface {
	// List returns the owner's items, soonest expiry first.
	List(ctx context.Context, userID uuid.UUID) ([]model.Item, error)
	// Insert creates an item with a server-assigned id.
	Insert(ctx context.Context, userID uuid.UUID, in model.ItemInput) (model.Item, error)
	// Update replaces the editable fields of an existing item.
	Update(ctx context.Context, userID, id uuid.UUID, in model.ItemInput) (model.Item, error)
	// Delete removes an item.
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// Publisher receives every committed change.
type Publisher interface {
	Publish(ctx context.Context, ch model.Change)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.Change) {}

type ItemServiceImpl struct {
	repo  repository.ItemRepository
	pub   Publisher
	newID func() (uuid.UUID, error)
}

// NewItemService constructs ItemService. A nil publisher discards changes.
func NewItemService(repo repository.ItemRepository, pub Publisher) *ItemServiceImpl {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &ItemServiceImpl{repo: repo, pub: pub, newID: uuid.NewV4}
}

func validateInput(in model.ItemInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: empty name", errs.ErrInvalid)
	}
	if in.Quantity != nil && *in.Quantity < 0 {
		return fmt.Errorf("%w: negative quantity", errs.ErrInvalid)
	}
	return nil
}

// List returns all items of userID.
func (s *ItemServiceImpl) List(ctx context.Context, userID uuid.UUID) ([]model.Item, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrInvalid)
	}
	return s.repo.List(ctx, userID)
}

// Insert validates input, stores the row and publishes an insert change.
func (s *ItemServiceImpl) Insert(ctx context.Context, userID uuid.UUID, in model.ItemInput) (model.Item, error) {
	if userID == uuid.Nil {
		return model.Item{}, fmt.Errorf("%w: empty userID", errs.ErrInvalid)
	}
	if err := validateInput(in); err != nil {
		return model.Item{}, err
	}
	id, err := s.newID()
	if err != nil {
		return model.Item{}, err
	}
	it, err := s.repo.Insert(ctx, userID, id, in)
	if err != nil {
		return model.Item{}, err
	}
	s.publish(ctx, model.ChangeInsert, userID, it)
	return it, nil
}

// Update validates input, updates the row and publishes an update change.
func (s *ItemServiceImpl) Update(ctx context.Context, userID, id uuid.UUID, in model.ItemInput) (model.Item, error) {
	if userID == uuid.Nil || id == uuid.Nil {
		return model.Item{}, fmt.Errorf("%w: empty userID/id", errs.ErrInvalid)
	}
	if err := validateInput(in); err != nil {
		return model.Item{}, err
	}
	it, err := s.repo.Update(ctx, userID, id, in)
	if err != nil {
		return model.Item{}, err
	}
	s.publish(ctx, model.ChangeUpdate, userID, it)
	return it, nil
}

// Delete removes the row and publishes a delete change.
func (s *ItemServiceImpl) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if userID == uuid.Nil || id == uuid.Nil {
		return fmt.Errorf("%w: empty userID/id", errs.ErrInvalid)
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.pub.Publish(ctx, model.Change{Kind: model.ChangeDelete, ID: id.String(), OwnerID: userID.String()})
	return nil
}

func (s *ItemServiceImpl) publish(ctx context.Context, kind model.ChangeKind, userID uuid.UUID, it model.Item) {
	row := it
	s.pub.Publish(ctx, model.Change{Kind: kind, ID: it.ID, OwnerID: userID.String(), Item: &row})
}
