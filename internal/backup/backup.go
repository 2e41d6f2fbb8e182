// Package backup snapshots every box, item and placement into a compressed,
// optionally encrypted archive kept in a blob store, and restores from one.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/boxanizer/internal/blob"
	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/model"
	"github.com/erazemk/boxanizer/internal/store"
)

// DefaultPrefix is where archives are kept inside the blob store.
const DefaultPrefix = "backups/"

const contentType = "application/vnd.boxanizer.backup"

// Blob metadata keys.
const (
	metaID         = "backup-id"
	metaHash       = "blake3"
	metaBoxes      = "boxes"
	metaItems      = "items"
	metaPlacements = "placements"
)

// Snapshot is the full content of the database at one point in time.
type Snapshot struct {
	ID         string            `cbor:"id"`
	CreatedAt  time.Time         `cbor:"created_at"`
	Boxes      []BoxRecord       `cbor:"boxes"`
	Items      []ItemRecord      `cbor:"items"`
	Placements []PlacementRecord `cbor:"placements"`
}

type BoxRecord struct {
	ID          int64     `cbor:"id"`
	Code        string    `cbor:"code"`
	Name        string    `cbor:"name"`
	Description string    `cbor:"description"`
	Image       []byte    `cbor:"image,omitempty"`
	ImageMime   string    `cbor:"image_mime"`
	CreatedAt   time.Time `cbor:"created_at"`
	UpdatedAt   time.Time `cbor:"updated_at"`
}

type ItemRecord struct {
	ID          int64     `cbor:"id"`
	Name        string    `cbor:"name"`
	Description string    `cbor:"description"`
	Image       []byte    `cbor:"image,omitempty"`
	ImageMime   string    `cbor:"image_mime"`
	Consumable  bool      `cbor:"consumable"`
	CreatedAt   time.Time `cbor:"created_at"`
	UpdatedAt   time.Time `cbor:"updated_at"`
}

type PlacementRecord struct {
	ItemID   int64     `cbor:"item_id"`
	BoxID    int64     `cbor:"box_id"`
	State    string    `cbor:"state"`
	PlacedAt time.Time `cbor:"placed_at"`
}

// Take reads the whole database into a snapshot.
func Take(ctx context.Context, database *db.DB) (*Snapshot, error) {
	boxes, err := store.ListBoxes(ctx, database)
	if err != nil {
		return nil, err
	}
	items, err := store.ListItems(ctx, database)
	if err != nil {
		return nil, err
	}
	placements, err := store.ListPlacements(ctx, database)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Boxes:      make([]BoxRecord, 0, len(boxes)),
		Items:      make([]ItemRecord, 0, len(items)),
		Placements: make([]PlacementRecord, 0, len(placements)),
	}
	for _, b := range boxes {
		snap.Boxes = append(snap.Boxes, boxRecord(b))
	}
	for _, i := range items {
		snap.Items = append(snap.Items, itemRecord(i))
	}
	for _, p := range placements {
		snap.Placements = append(snap.Placements, PlacementRecord(p))
	}
	return snap, nil
}

func boxRecord(b model.Box) BoxRecord {
	return BoxRecord{
		ID:          b.ID,
		Code:        b.Code,
		Name:        b.Name,
		Description: b.Description,
		Image:       b.Image,
		ImageMime:   b.ImageMime,
		CreatedAt:   b.CreatedAt.UTC(),
		UpdatedAt:   b.UpdatedAt.UTC(),
	}
}

func itemRecord(i model.Item) ItemRecord {
	return ItemRecord{
		ID:          i.ID,
		Name:        i.Name,
		Description: i.Description,
		Image:       i.Image,
		ImageMime:   i.ImageMime,
		Consumable:  i.Consumable,
		CreatedAt:   i.CreatedAt.UTC(),
		UpdatedAt:   i.UpdatedAt.UTC(),
	}
}

// Apply replaces all boxes, items and placements with the snapshot content in
// a single transaction. Ids are preserved.
func Apply(ctx context.Context, database *db.DB, snap *Snapshot) error {
	return database.WithTx(ctx, func(tx *db.Tx) error {
		for _, table := range []string{"placements", "items", "boxes"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}

		for _, b := range snap.Boxes {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO boxes (id, code, name, description, image, image_mime, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				b.ID, b.Code, b.Name, b.Description, nullBytes(b.Image), b.ImageMime, b.CreatedAt, b.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("restoring box %d: %w", b.ID, err)
			}
		}

		for _, i := range snap.Items {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO items (id, name, description, image, image_mime, consumable, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				i.ID, i.Name, i.Description, nullBytes(i.Image), i.ImageMime, i.Consumable, i.CreatedAt, i.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("restoring item %d: %w", i.ID, err)
			}
		}

		for _, p := range snap.Placements {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO placements (item_id, box_id, state, placed_at) VALUES (?, ?, ?, ?)`,
				p.ItemID, p.BoxID, p.State, p.PlacedAt,
			)
			if err != nil {
				return fmt.Errorf("restoring placement of item %d: %w", p.ItemID, err)
			}
		}

		if tx.Dialect() == db.DialectPostgres {
			// Explicit ids leave the serial sequences behind.
			for _, table := range []string{"boxes", "items"} {
				_, err := tx.ExecContext(ctx,
					`SELECT setval(pg_get_serial_sequence('`+table+`', 'id'), COALESCE(MAX(id), 1), MAX(id) IS NOT NULL) FROM `+table,
				)
				if err != nil {
					return fmt.Errorf("resetting %s sequence: %w", table, err)
				}
			}
		}
		return nil
	})
}

func nullBytes(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}

// Info describes a stored archive.
type Info struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Hash       string    `json:"blake3"`
	Size       int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	Boxes      int       `json:"boxes"`
	Items      int       `json:"items"`
	Placements int       `json:"placements"`
}

func infoFromBlob(bi blob.Info) Info {
	count := func(key string) int {
		n, _ := strconv.Atoi(bi.Metadata[key])
		return n
	}
	return Info{
		ID:         bi.Metadata[metaID],
		Key:        bi.Key,
		Hash:       bi.Metadata[metaHash],
		Size:       bi.Size,
		CreatedAt:  bi.LastModified,
		Boxes:      count(metaBoxes),
		Items:      count(metaItems),
		Placements: count(metaPlacements),
	}
}

// Manager writes and reads archives for one database.
type Manager struct {
	DB      *db.DB
	Blobs   blob.Store
	Options EncodeOptions
	// Prefix defaults to DefaultPrefix.
	Prefix string
}

func (m *Manager) prefix() string {
	if m.Prefix == "" {
		return DefaultPrefix
	}
	return m.Prefix
}

// Backup snapshots the database and stores the archive.
func (m *Manager) Backup(ctx context.Context) (Info, error) {
	snap, err := Take(ctx, m.DB)
	if err != nil {
		return Info{}, fmt.Errorf("taking snapshot: %w", err)
	}

	data, err := Encode(snap, m.Options)
	if err != nil {
		return Info{}, err
	}
	hash := Hash(data)

	key := archiveKey(m.prefix(), snap.CreatedAt, snap.ID)
	stored, err := m.Blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			metaID:         snap.ID,
			metaHash:       hash,
			metaBoxes:      strconv.Itoa(len(snap.Boxes)),
			metaItems:      strconv.Itoa(len(snap.Items)),
			metaPlacements: strconv.Itoa(len(snap.Placements)),
		},
	})
	if err != nil {
		return Info{}, fmt.Errorf("storing backup: %w", err)
	}

	info := infoFromBlob(stored)
	info.CreatedAt = snap.CreatedAt
	slog.Info("backup written", "key", key, "size", info.Size, "boxes", info.Boxes, "items", info.Items,
		"compression", m.Options.Compression.String(), "encrypted", m.Options.Passphrase != "")
	return info, nil
}

// List returns stored archives, oldest first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	blobs, err := m.Blobs.List(ctx, m.prefix())
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	out := make([]Info, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, infoFromBlob(b))
	}
	return out, nil
}

// Restore replaces the database content with the archive at key. An empty key
// selects the newest archive.
func (m *Manager) Restore(ctx context.Context, key string) (Info, error) {
	if key == "" {
		infos, err := m.List(ctx)
		if err != nil {
			return Info{}, err
		}
		if len(infos) == 0 {
			return Info{}, fmt.Errorf("no backups under %q: %w", m.prefix(), blob.ErrNotFound)
		}
		key = infos[len(infos)-1].Key
	}

	bi, rc, err := m.Blobs.Get(ctx, key)
	if err != nil {
		return Info{}, fmt.Errorf("reading backup %s: %w", key, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return Info{}, fmt.Errorf("reading backup %s: %w", key, err)
	}

	if want := bi.Metadata[metaHash]; want != "" && want != Hash(data) {
		return Info{}, fmt.Errorf("%s: %w", key, ErrChecksum)
	}

	snap, err := Decode(data, m.Options.Passphrase)
	if err != nil {
		return Info{}, fmt.Errorf("decoding backup %s: %w", key, err)
	}
	if err := Apply(ctx, m.DB, snap); err != nil {
		return Info{}, fmt.Errorf("restoring backup %s: %w", key, err)
	}

	info := infoFromBlob(bi)
	info.CreatedAt = snap.CreatedAt
	slog.Info("backup restored", "key", key, "boxes", len(snap.Boxes), "items", len(snap.Items))
	return info, nil
}
