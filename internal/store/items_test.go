package store

import (
	"context"
	"errors"
	"testing"

	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/model"
)

func TestCreateAndGetItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, err := CreateItem(ctx, database, model.Item{Name: "Batteries", Description: "AA", Consumable: true})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if item.Name != "Batteries" {
		t.Errorf("expected name 'Batteries', got %q", item.Name)
	}
	if !item.Consumable {
		t.Error("expected consumable item")
	}

	got, _ := GetItem(ctx, database, item.ID)
	if got == nil || !got.Equal(*item) {
		t.Errorf("expected stored item to equal created item, got %+v", got)
	}
}

func TestUpdateItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, _ := CreateItem(ctx, database, model.Item{Name: "Drill"})
	item.Name = "Cordless drill"
	item.Consumable = true
	if err := UpdateItem(ctx, database, *item); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	got, _ := GetItem(ctx, database, item.ID)
	if got.Name != "Cordless drill" || !got.Consumable {
		t.Errorf("expected updated item, got %+v", got)
	}

	err := UpdateItem(ctx, database, model.Item{ID: 1000, Name: "Ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchItems(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateItem(ctx, database, model.Item{Name: "Hammer"})
	CreateItem(ctx, database, model.Item{Name: "Screws", Description: "for the hammer drill"})
	CreateItem(ctx, database, model.Item{Name: "Tape"})

	all, _ := SearchItems(ctx, database, "")
	if len(all) != 3 {
		t.Errorf("expected 3 items, got %d", len(all))
	}

	hammer, _ := SearchItems(ctx, database, "HAMMER")
	if len(hammer) != 2 {
		t.Errorf("expected 2 items matching hammer, got %d", len(hammer))
	}
}

func TestDeleteItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	item, _ := CreateItem(ctx, database, model.Item{Name: "Delete Me"})
	DeleteItem(ctx, database, item.ID)

	items, _ := ListItems(ctx, database)
	if len(items) != 0 {
		t.Errorf("expected 0 items after delete, got %d", len(items))
	}
}
