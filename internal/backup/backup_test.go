package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/erazemk/boxanizer/internal/blob"
	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/model"
	"github.com/erazemk/boxanizer/internal/store"
)

// Keeps scrypt fast in tests.
const testWorkFactor = 10

func seedDB(t *testing.T, database *db.DB) (model.Box, model.Item) {
	t.Helper()
	ctx := context.Background()

	box, err := store.CreateBox(ctx, database, model.Box{
		Code: "GAR-1", Name: "Garage", Description: "shelf", Image: []byte{0xff, 0xd8, 0x01}, ImageMime: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("CreateBox: %v", err)
	}
	drill, err := store.CreateItem(ctx, database, model.Item{Name: "Drill"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if _, err := store.CreateItem(ctx, database, model.Item{Name: "Tape", Consumable: true}); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := store.PlaceItem(ctx, database, drill.ID, box.ID); err != nil {
		t.Fatalf("PlaceItem: %v", err)
	}
	return *box, *drill
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	snap := &Snapshot{
		ID:        "b1",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC),
		Boxes:     []BoxRecord{{ID: 1, Code: "A", Name: "Attic", Image: []byte("img")}},
		Items:     []ItemRecord{{ID: 2, Name: "Fan", Consumable: true}},
		Placements: []PlacementRecord{
			{ItemID: 2, BoxID: 1, State: model.PlacementInBox},
		},
	}

	tests := []struct {
		name string
		opts EncodeOptions
	}{
		{"none", EncodeOptions{Compression: CompressionNone}},
		{"lz4", EncodeOptions{Compression: CompressionLZ4}},
		{"zstd", EncodeOptions{Compression: CompressionZstd}},
		{"zstd encrypted", EncodeOptions{Compression: CompressionZstd, Passphrase: "hunter22", WorkFactor: testWorkFactor}},
	}

	for _, tt := range tests {
		data, err := Encode(snap, tt.opts)
		if err != nil {
			t.Fatalf("%s: Encode: %v", tt.name, err)
		}
		if string(data[:4]) != "BXNZ" || Compression(data[5]) != tt.opts.Compression {
			t.Errorf("%s: unexpected header %x", tt.name, data[:headerSize])
		}

		got, err := Decode(data, tt.opts.Passphrase)
		if err != nil {
			t.Fatalf("%s: Decode: %v", tt.name, err)
		}
		if got.ID != snap.ID || !got.CreatedAt.Equal(snap.CreatedAt) {
			t.Errorf("%s: header fields = %q %v", tt.name, got.ID, got.CreatedAt)
		}
		if len(got.Boxes) != 1 || !bytes.Equal(got.Boxes[0].Image, []byte("img")) {
			t.Errorf("%s: boxes = %+v", tt.name, got.Boxes)
		}
		if len(got.Items) != 1 || !got.Items[0].Consumable {
			t.Errorf("%s: items = %+v", tt.name, got.Items)
		}
		if len(got.Placements) != 1 || got.Placements[0].State != model.PlacementInBox {
			t.Errorf("%s: placements = %+v", tt.name, got.Placements)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	snap := &Snapshot{ID: "x", CreatedAt: time.Unix(0, 0).UTC(), Boxes: []BoxRecord{{ID: 1, Code: "A", Name: "A"}}}

	a, _ := Encode(snap, EncodeOptions{Compression: CompressionZstd})
	b, _ := Encode(snap, EncodeOptions{Compression: CompressionZstd})
	if Hash(a) != Hash(b) {
		t.Error("expected identical archives for identical snapshots")
	}
	if len(Hash(a)) != 64 {
		t.Errorf("hash length = %d, want 64", len(Hash(a)))
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("BXN"), []byte("PK\x03\x04rest"), []byte("BXNZ\x09\x00\x00")} {
		if _, err := Decode(data, ""); !errors.Is(err, ErrFormat) {
			t.Errorf("Decode(%q) error = %v, want ErrFormat", data, err)
		}
	}
}

func TestDecodePassphrase(t *testing.T) {
	snap := &Snapshot{ID: "secret"}
	data, err := Encode(snap, EncodeOptions{Compression: CompressionLZ4, Passphrase: "right", WorkFactor: testWorkFactor})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := Decode(data, ""); !errors.Is(err, ErrPassphrase) {
		t.Errorf("missing passphrase: error = %v, want ErrPassphrase", err)
	}
	if _, err := Decode(data, "wrong"); !errors.Is(err, ErrPassphrase) {
		t.Errorf("wrong passphrase: error = %v, want ErrPassphrase", err)
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"", CompressionZstd, false},
		{"zstd", CompressionZstd, false},
		{"lz4", CompressionLZ4, false},
		{"none", CompressionNone, false},
		{"gzip", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseCompression(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestBackupAndRestore(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	box, drill := seedDB(t, database)

	m := &Manager{
		DB:      database,
		Blobs:   blob.NewMemory(),
		Options: EncodeOptions{Compression: CompressionZstd, Passphrase: "pw", WorkFactor: testWorkFactor},
	}

	info, err := m.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if !strings.HasPrefix(info.Key, DefaultPrefix) || !strings.HasSuffix(info.Key, ".bxz") {
		t.Errorf("key = %q", info.Key)
	}
	if info.Boxes != 1 || info.Items != 2 || info.Placements != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/2/1", info.Boxes, info.Items, info.Placements)
	}

	// Diverge from the snapshot.
	if err := store.DeleteBox(ctx, database, box.ID); err != nil {
		t.Fatalf("DeleteBox: %v", err)
	}
	if _, err := store.CreateBox(ctx, database, model.Box{Code: "NEW", Name: "After backup"}); err != nil {
		t.Fatalf("CreateBox: %v", err)
	}

	if _, err := m.Restore(ctx, ""); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	restored, err := store.GetBox(ctx, database, box.ID)
	if err != nil || restored == nil {
		t.Fatalf("GetBox after restore: %v, %v", restored, err)
	}
	if !restored.Equal(box) {
		t.Errorf("restored box = %+v, want %+v", restored, box)
	}
	if gone, _ := store.GetBoxByCode(ctx, database, "NEW"); gone != nil {
		t.Error("expected box created after the backup to be gone")
	}

	contents, err := store.GetBoxContents(ctx, database, box.ID)
	if err != nil {
		t.Fatalf("GetBoxContents: %v", err)
	}
	if len(contents.InBox) != 1 || contents.InBox[0].ID != drill.ID {
		t.Errorf("in box = %+v, want drill", contents.InBox)
	}
	if len(contents.Remaining) != 1 || !contents.Remaining[0].Consumable {
		t.Errorf("remaining = %+v, want tape", contents.Remaining)
	}

	// New rows must not collide with restored ids.
	next, err := store.CreateBox(ctx, database, model.Box{Code: "NEXT", Name: "Next"})
	if err != nil {
		t.Fatalf("CreateBox after restore: %v", err)
	}
	if next.ID == box.ID {
		t.Errorf("new box reused restored id %d", next.ID)
	}
}

func TestRestoreSelectsNewest(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	m := &Manager{DB: database, Blobs: blob.NewMemory(), Options: EncodeOptions{Compression: CompressionLZ4}}

	store.CreateBox(ctx, database, model.Box{Code: "A", Name: "First"})
	if _, err := m.Backup(ctx); err != nil {
		t.Fatalf("first Backup: %v", err)
	}
	store.CreateBox(ctx, database, model.Box{Code: "B", Name: "Second"})
	second, err := m.Backup(ctx)
	if err != nil {
		t.Fatalf("second Backup: %v", err)
	}

	infos, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[1].Key != second.Key {
		t.Fatalf("List = %+v, want second backup last", infos)
	}

	got, err := m.Restore(ctx, "")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got.Key != second.Key {
		t.Errorf("restored %q, want %q", got.Key, second.Key)
	}
	boxes, _ := store.ListBoxes(ctx, database)
	if len(boxes) != 2 {
		t.Errorf("boxes after restore = %d, want 2", len(boxes))
	}
}

func TestRestoreDetectsTampering(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	blobs := blob.NewMemory()
	m := &Manager{DB: database, Blobs: blobs, Options: EncodeOptions{Compression: CompressionNone}}

	seedDB(t, database)
	info, err := m.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	bi, rc, err := blobs.Get(ctx, info.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	data[len(data)-1] ^= 0xff

	tampered := DefaultPrefix + "tampered.bxz"
	if _, err := blobs.Put(ctx, tampered, bytes.NewReader(data), blob.PutOptions{Metadata: bi.Metadata}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := m.Restore(ctx, tampered); !errors.Is(err, ErrChecksum) {
		t.Errorf("Restore error = %v, want ErrChecksum", err)
	}
	if boxes, _ := store.ListBoxes(ctx, database); len(boxes) != 1 {
		t.Errorf("boxes after failed restore = %d, want 1", len(boxes))
	}
}

func TestRestoreWithoutBackups(t *testing.T) {
	m := &Manager{DB: db.NewTestDB(t), Blobs: blob.NewMemory()}
	if _, err := m.Restore(context.Background(), ""); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Restore error = %v, want blob.ErrNotFound", err)
	}
}
