// Package seed imports boxes and items from a JSONC file. Every entry goes
// through the same validation as an interactive edit; entries that fail are
// reported and skipped.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/edit"
	"github.com/erazemk/boxanizer/internal/model"
	"github.com/erazemk/boxanizer/internal/store"
)

// File is the seed document.
type File struct {
	Boxes []Box `json:"boxes"`
	// Items are created without a placement.
	Items []Item `json:"items"`
}

type Box struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Items       []Item `json:"items"`
}

type Item struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Consumable  bool   `json:"consumable"`
}

// Parse strips comments and trailing commas, then decodes the document.
// Unknown fields are rejected so typos do not silently drop data.
func Parse(data []byte) (*File, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	return &f, nil
}

// ReadFile reads and parses a seed file.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Skip describes an entry that was not imported.
type Skip struct {
	// Path locates the entry, e.g. "boxes[2]" or "boxes[0].items[1]".
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarises an import.
type Report struct {
	Boxes   int    `json:"boxes"`
	Items   int    `json:"items"`
	Skipped []Skip `json:"skipped,omitempty"`
}

// Import creates the boxes and items in f. Boxes are validated against boxes,
// so codes already in the database or repeated earlier in the file are
// skipped. Items of a skipped box are skipped with it. Store failures abort
// the import.
func Import(ctx context.Context, database *db.DB, boxes edit.BoxStore, f *File) (*Report, error) {
	items := &store.Items{DB: database}
	report := &Report{}

	for i, entry := range f.Boxes {
		path := fmt.Sprintf("boxes[%d]", i)
		draft := model.NewBox()
		draft.Code = strings.TrimSpace(entry.Code)
		draft.Name = entry.Name
		draft.Description = entry.Description

		res, err := edit.ValidateBox(ctx, boxes, draft)
		if err != nil {
			return report, fmt.Errorf("%s: %w", path, err)
		}
		if !res.Savable() {
			report.skip(path, reason(res))
			continue
		}

		box, err := boxes.Upsert(ctx, draft)
		if err != nil {
			return report, fmt.Errorf("%s: %w", path, err)
		}
		report.Boxes++

		for j, it := range entry.Items {
			itemPath := fmt.Sprintf("%s.items[%d]", path, j)
			created, ok, err := importItem(ctx, items, it, itemPath, report)
			if err != nil {
				return report, err
			}
			if !ok {
				continue
			}
			if err := store.PlaceItem(ctx, database, created.ID, box.ID); err != nil {
				return report, fmt.Errorf("%s: %w", itemPath, err)
			}
		}
	}

	for i, it := range f.Items {
		if _, _, err := importItem(ctx, items, it, fmt.Sprintf("items[%d]", i), report); err != nil {
			return report, err
		}
	}

	for _, s := range report.Skipped {
		slog.Warn("seed entry skipped", "path", s.Path, "reason", s.Reason)
	}
	return report, nil
}

func importItem(ctx context.Context, items *store.Items, entry Item, path string, report *Report) (model.Item, bool, error) {
	draft := model.NewItem()
	draft.Name = entry.Name
	draft.Description = entry.Description
	draft.Consumable = entry.Consumable

	res, _ := edit.ValidateItem(ctx, draft)
	if !res.Savable() {
		report.skip(path, reason(res))
		return model.Item{}, false, nil
	}

	created, err := items.Upsert(ctx, draft)
	if err != nil {
		return model.Item{}, false, fmt.Errorf("%s: %w", path, err)
	}
	report.Items++
	return created, true, nil
}

func (r *Report) skip(path, why string) {
	r.Skipped = append(r.Skipped, Skip{Path: path, Reason: why})
}

func reason(res edit.Result) string {
	var parts []string
	switch res.CodeError {
	case model.CodeErrorEmpty:
		parts = append(parts, "code is blank")
	case model.CodeErrorAlreadyExists:
		parts = append(parts, "code already used")
	}
	if res.NameError {
		parts = append(parts, "name is blank")
	}
	return strings.Join(parts, ", ")
}
