package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/model"
)

const itemColumns = `id, name, description, image, image_mime, consumable, created_at, updated_at`

// CreateItem inserts a new item and returns the stored record.
func CreateItem(ctx context.Context, database *db.DB, item model.Item) (*model.Item, error) {
	var id int64
	err := database.QueryRowContext(ctx,
		`INSERT INTO items (name, description, image, image_mime, consumable)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`,
		item.Name, item.Description, nullBytes(item.Image), item.ImageMime, item.Consumable,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	return GetItem(ctx, database, id)
}

// GetItem returns an item by ID, or nil if it does not exist.
func GetItem(ctx context.Context, database *db.DB, id int64) (*model.Item, error) {
	item, err := scanItem(database.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// UpdateItem overwrites every content field of an existing item.
func UpdateItem(ctx context.Context, database *db.DB, item model.Item) error {
	result, err := database.ExecContext(ctx,
		`UPDATE items SET name = ?, description = ?, image = ?, image_mime = ?, consumable = ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		item.Name, item.Description, nullBytes(item.Image), item.ImageMime, item.Consumable, item.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking updated item: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteItem removes an item and its placement.
func DeleteItem(ctx context.Context, database *db.DB, id int64) error {
	_, err := database.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// SearchItems returns items whose name or description contains query,
// ignoring case. An empty query lists every item.
func SearchItems(ctx context.Context, database *db.DB, query string) ([]model.Item, error) {
	var rows *sql.Rows
	var err error

	if query != "" {
		pattern := likePattern(query)
		rows, err = database.QueryContext(ctx,
			`SELECT `+itemColumns+` FROM items
			 WHERE LOWER(name) LIKE ? ESCAPE '\'
			    OR LOWER(description) LIKE ? ESCAPE '\'
			 ORDER BY name, id`,
			pattern, pattern,
		)
	} else {
		rows, err = database.QueryContext(ctx,
			`SELECT `+itemColumns+` FROM items ORDER BY name, id`,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("searching items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ListItems returns every item, ordered by name.
func ListItems(ctx context.Context, database *db.DB) ([]model.Item, error) {
	return SearchItems(ctx, database, "")
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	err := row.Scan(&item.ID, &item.Name, &item.Description, &item.Image, &item.ImageMime,
		&item.Consumable, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
