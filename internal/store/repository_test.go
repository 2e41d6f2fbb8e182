package store

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/model"
)

func TestBoxesUpsertCreatesAndOverwrites(t *testing.T) {
	repo := &Boxes{DB: db.NewTestDB(t)}
	ctx := context.Background()

	draft := model.NewBox()
	draft.Code = "ABC123"
	draft.Name = "Tools"
	draft.Image = []byte{9, 8, 7}
	draft.ImageMime = "image/jpeg"

	created, err := repo.Upsert(ctx, draft)
	if err != nil {
		t.Fatalf("Upsert new: %v", err)
	}
	if created.ID == model.NewID {
		t.Fatal("expected a real id after insert")
	}

	loaded, err := repo.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !loaded.Equal(created) {
		t.Errorf("round trip mismatch: %+v vs %+v", loaded, created)
	}
	if !bytes.Equal(loaded.Image, []byte{9, 8, 7}) {
		t.Errorf("expected exact image bytes, got %v", loaded.Image)
	}

	created.Name = "Hand tools"
	updated, err := repo.Upsert(ctx, created)
	if err != nil {
		t.Fatalf("Upsert existing: %v", err)
	}
	if updated.ID != created.ID || updated.Name != "Hand tools" {
		t.Errorf("expected overwrite in place, got %+v", updated)
	}
}

func TestBoxesUpsertUnknownID(t *testing.T) {
	repo := &Boxes{DB: db.NewTestDB(t)}

	_, err := repo.Upsert(context.Background(), model.Box{ID: 77, Code: "A", Name: "Ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestItemsUpsert(t *testing.T) {
	repo := &Items{DB: db.NewTestDB(t)}
	ctx := context.Background()

	draft := model.NewItem()
	draft.Name = "Glue"
	draft.Consumable = true

	created, err := repo.Upsert(ctx, draft)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	loaded, _ := repo.FindByID(ctx, created.ID)
	if loaded == nil || !loaded.Equal(created) {
		t.Errorf("round trip mismatch: %+v vs %+v", loaded, created)
	}

	found, _ := repo.Search(ctx, "glu")
	if len(found) != 1 {
		t.Errorf("expected 1 search hit, got %d", len(found))
	}
}

func TestLikePatternEscapes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Box", "%box%"},
		{"50%", `%50\%%`},
		{"a_b", `%a\_b%`},
		{`c:\`, `%c:\\%`},
	}
	for _, tt := range tests {
		if got := likePattern(tt.in); got != tt.want {
			t.Errorf("likePattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBoxCodeKey(t *testing.T) {
	if got := boxCodeKey("ABC"); got != "boxanizer:box-code:ABC" {
		t.Errorf("unexpected key %q", got)
	}
}
