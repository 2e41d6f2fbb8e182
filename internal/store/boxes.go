package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/model"
)

const boxColumns = `id, code, name, description, image, image_mime, created_at, updated_at`

// CreateBox inserts a new box and returns the stored record.
func CreateBox(ctx context.Context, database *db.DB, b model.Box) (*model.Box, error) {
	var id int64
	err := database.QueryRowContext(ctx,
		`INSERT INTO boxes (code, name, description, image, image_mime)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`,
		b.Code, b.Name, b.Description, nullBytes(b.Image), b.ImageMime,
	).Scan(&id)
	if isUniqueViolation(err) {
		return nil, ErrCodeExists
	}
	if err != nil {
		return nil, fmt.Errorf("creating box: %w", err)
	}

	return GetBox(ctx, database, id)
}

// GetBox returns a box by ID, or nil if it does not exist.
func GetBox(ctx context.Context, database *db.DB, id int64) (*model.Box, error) {
	b, err := scanBox(database.QueryRowContext(ctx,
		`SELECT `+boxColumns+` FROM boxes WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting box: %w", err)
	}
	return b, nil
}

// GetBoxByCode returns the box carrying code, or nil if none does.
func GetBoxByCode(ctx context.Context, database *db.DB, code string) (*model.Box, error) {
	b, err := scanBox(database.QueryRowContext(ctx,
		`SELECT `+boxColumns+` FROM boxes WHERE code = ?`, code,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting box by code: %w", err)
	}
	return b, nil
}

// UpdateBox overwrites every content field of an existing box.
func UpdateBox(ctx context.Context, database *db.DB, b model.Box) error {
	result, err := database.ExecContext(ctx,
		`UPDATE boxes SET code = ?, name = ?, description = ?, image = ?, image_mime = ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		b.Code, b.Name, b.Description, nullBytes(b.Image), b.ImageMime, b.ID,
	)
	if isUniqueViolation(err) {
		return ErrCodeExists
	}
	if err != nil {
		return fmt.Errorf("updating box: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking updated box: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBox removes a box. Items placed in it become unplaced.
func DeleteBox(ctx context.Context, database *db.DB, id int64) error {
	_, err := database.ExecContext(ctx, `DELETE FROM boxes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting box: %w", err)
	}
	return nil
}

// SearchBoxes returns boxes whose code, name or description contains query,
// ignoring case. An empty query lists every box.
func SearchBoxes(ctx context.Context, database *db.DB, query string) ([]model.Box, error) {
	var rows *sql.Rows
	var err error

	if query != "" {
		pattern := likePattern(query)
		rows, err = database.QueryContext(ctx,
			`SELECT `+boxColumns+` FROM boxes
			 WHERE LOWER(code) LIKE ? ESCAPE '\'
			    OR LOWER(name) LIKE ? ESCAPE '\'
			    OR LOWER(description) LIKE ? ESCAPE '\'
			 ORDER BY name, id`,
			pattern, pattern, pattern,
		)
	} else {
		rows, err = database.QueryContext(ctx,
			`SELECT `+boxColumns+` FROM boxes ORDER BY name, id`,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("searching boxes: %w", err)
	}
	defer rows.Close()

	var boxes []model.Box
	for rows.Next() {
		b, err := scanBox(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning box: %w", err)
		}
		boxes = append(boxes, *b)
	}
	return boxes, rows.Err()
}

// ListBoxes returns every box, ordered by name.
func ListBoxes(ctx context.Context, database *db.DB) ([]model.Box, error) {
	return SearchBoxes(ctx, database, "")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBox(row rowScanner) (*model.Box, error) {
	b := &model.Box{}
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.Description, &b.Image, &b.ImageMime, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// nullBytes stores an empty image as NULL.
func nullBytes(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
