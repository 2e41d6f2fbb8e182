package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/model"
)

// PlaceItem puts an item into a box, replacing any earlier placement.
func PlaceItem(ctx context.Context, database *db.DB, itemID, boxID int64) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO placements (item_id, box_id, state) VALUES (?, ?, ?)
		 ON CONFLICT (item_id) DO UPDATE
		 SET box_id = excluded.box_id, state = excluded.state, placed_at = CURRENT_TIMESTAMP`,
		itemID, boxID, model.PlacementInBox,
	)
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("placing item: %w", err)
	}
	return nil
}

// RemoveItem marks an item as taken out of the box it was placed in.
func RemoveItem(ctx context.Context, database *db.DB, itemID, boxID int64) error {
	result, err := database.ExecContext(ctx,
		`UPDATE placements SET state = ?, placed_at = CURRENT_TIMESTAMP
		 WHERE item_id = ? AND box_id = ? AND state = ?`,
		model.PlacementRemoved, itemID, boxID, model.PlacementInBox,
	)
	if err != nil {
		return fmt.Errorf("removing item: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking removed item: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPlacement returns the placement of an item, or nil if it was never placed.
func GetPlacement(ctx context.Context, database *db.DB, itemID int64) (*model.Placement, error) {
	p := &model.Placement{}
	err := database.QueryRowContext(ctx,
		`SELECT item_id, box_id, state, placed_at FROM placements WHERE item_id = ?`, itemID,
	).Scan(&p.ItemID, &p.BoxID, &p.State, &p.PlacedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting placement: %w", err)
	}
	return p, nil
}

// ListPlacements returns every placement, ordered by item.
func ListPlacements(ctx context.Context, database *db.DB) ([]model.Placement, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT item_id, box_id, state, placed_at FROM placements ORDER BY item_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing placements: %w", err)
	}
	defer rows.Close()

	var placements []model.Placement
	for rows.Next() {
		var p model.Placement
		if err := rows.Scan(&p.ItemID, &p.BoxID, &p.State, &p.PlacedAt); err != nil {
			return nil, fmt.Errorf("scanning placement: %w", err)
		}
		placements = append(placements, p)
	}
	return placements, rows.Err()
}

// GetBoxContents partitions items relative to a box: placed in it, removed
// from it, and never placed anywhere.
func GetBoxContents(ctx context.Context, database *db.DB, boxID int64) (*model.BoxContents, error) {
	inBox, err := listItemsByPlacement(ctx, database, boxID, model.PlacementInBox)
	if err != nil {
		return nil, err
	}
	removed, err := listItemsByPlacement(ctx, database, boxID, model.PlacementRemoved)
	if err != nil {
		return nil, err
	}

	rows, err := database.QueryContext(ctx,
		`SELECT `+prefixed("i.", itemColumns)+`
		 FROM items i
		 LEFT JOIN placements p ON p.item_id = i.id
		 WHERE p.item_id IS NULL
		 ORDER BY i.name, i.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing remaining items: %w", err)
	}
	defer rows.Close()

	remaining, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	return &model.BoxContents{
		InBox:     nonNil(inBox),
		Removed:   nonNil(removed),
		Remaining: nonNil(remaining),
	}, nil
}

func listItemsByPlacement(ctx context.Context, database *db.DB, boxID int64, state string) ([]model.Item, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT `+prefixed("i.", itemColumns)+`
		 FROM items i
		 JOIN placements p ON p.item_id = i.id
		 WHERE p.box_id = ? AND p.state = ?
		 ORDER BY i.name, i.id`,
		boxID, state,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s items: %w", state, err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	return alias + strings.ReplaceAll(columns, ", ", ", "+alias)
}

func nonNil(items []model.Item) []model.Item {
	if items == nil {
		return []model.Item{}
	}
	return items
}
