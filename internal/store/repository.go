package store

import (
	"context"
	"fmt"

	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/model"
)

// BoxRepository is the entity store contract for boxes.
type BoxRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Box, error)
	FindByCode(ctx context.Context, code string) (*model.Box, error)
	Upsert(ctx context.Context, b model.Box) (model.Box, error)
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, query string) ([]model.Box, error)
}

// ItemRepository is the entity store contract for items.
type ItemRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Item, error)
	Upsert(ctx context.Context, item model.Item) (model.Item, error)
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, query string) ([]model.Item, error)
}

// Boxes adapts the box functions to BoxRepository.
type Boxes struct {
	DB *db.DB
}

// FindByID returns the box with id, or nil.
func (s *Boxes) FindByID(ctx context.Context, id int64) (*model.Box, error) {
	return GetBox(ctx, s.DB, id)
}

// FindByCode returns the box carrying code, or nil.
func (s *Boxes) FindByCode(ctx context.Context, code string) (*model.Box, error) {
	return GetBoxByCode(ctx, s.DB, code)
}

// Upsert inserts a box with model.NewID or overwrites an existing one, and
// returns the canonical stored copy.
func (s *Boxes) Upsert(ctx context.Context, b model.Box) (model.Box, error) {
	if b.ID == model.NewID {
		created, err := CreateBox(ctx, s.DB, b)
		if err != nil {
			return model.Box{}, err
		}
		return *created, nil
	}

	if err := UpdateBox(ctx, s.DB, b); err != nil {
		return model.Box{}, err
	}
	stored, err := GetBox(ctx, s.DB, b.ID)
	if err != nil {
		return model.Box{}, err
	}
	if stored == nil {
		return model.Box{}, fmt.Errorf("box %d vanished after update: %w", b.ID, ErrNotFound)
	}
	return *stored, nil
}

// Delete removes the box with id.
func (s *Boxes) Delete(ctx context.Context, id int64) error {
	return DeleteBox(ctx, s.DB, id)
}

// Search returns boxes matching query.
func (s *Boxes) Search(ctx context.Context, query string) ([]model.Box, error) {
	return SearchBoxes(ctx, s.DB, query)
}

// Items adapts the item functions to ItemRepository.
type Items struct {
	DB *db.DB
}

// FindByID returns the item with id, or nil.
func (s *Items) FindByID(ctx context.Context, id int64) (*model.Item, error) {
	return GetItem(ctx, s.DB, id)
}

// Upsert inserts an item with model.NewID or overwrites an existing one.
func (s *Items) Upsert(ctx context.Context, item model.Item) (model.Item, error) {
	if item.ID == model.NewID {
		created, err := CreateItem(ctx, s.DB, item)
		if err != nil {
			return model.Item{}, err
		}
		return *created, nil
	}

	if err := UpdateItem(ctx, s.DB, item); err != nil {
		return model.Item{}, err
	}
	stored, err := GetItem(ctx, s.DB, item.ID)
	if err != nil {
		return model.Item{}, err
	}
	if stored == nil {
		return model.Item{}, fmt.Errorf("item %d vanished after update: %w", item.ID, ErrNotFound)
	}
	return *stored, nil
}

// Delete removes the item with id.
func (s *Items) Delete(ctx context.Context, id int64) error {
	return DeleteItem(ctx, s.DB, id)
}

// Search returns items matching query.
func (s *Items) Search(ctx context.Context, query string) ([]model.Item, error) {
	return SearchItems(ctx, s.DB, query)
}
