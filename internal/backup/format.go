package backup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Archive layout: magic, format version, compression tag, flags, payload.
// The payload is the CBOR snapshot, compressed, then optionally sealed with
// an age passphrase.
const (
	magic         = "BXNZ"
	formatVersion = 1
	headerSize    = len(magic) + 3

	flagEncrypted = 1 << 0
)

// Compression selects how the snapshot is compressed inside an archive.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a config value to a Compression. The empty string
// selects zstd.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown backup compression %q", name)
	}
}

var (
	// ErrFormat is returned for data that is not a backup archive.
	ErrFormat = errors.New("not a boxanizer backup")
	// ErrChecksum is returned when an archive does not match its recorded hash.
	ErrChecksum = errors.New("backup checksum mismatch")
	// ErrPassphrase is returned when an archive is encrypted and the
	// passphrase is missing or wrong.
	ErrPassphrase = errors.New("backup passphrase missing or incorrect")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("backup: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("backup: cbor decoder: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("backup: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("backup: zstd decoder: " + err.Error())
	}
}

// EncodeOptions control how an archive is written.
type EncodeOptions struct {
	Compression Compression
	// Passphrase seals the archive with age when set.
	Passphrase string
	// WorkFactor is the scrypt work factor (log2). Zero keeps the age default.
	WorkFactor int
}

// Encode serialises snap into an archive.
func Encode(snap *Snapshot, opts EncodeOptions) ([]byte, error) {
	raw, err := encMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	payload, err := compress(opts.Compression, raw)
	if err != nil {
		return nil, err
	}

	var flags byte
	if opts.Passphrase != "" {
		flags |= flagEncrypted
		payload, err = seal(payload, opts.Passphrase, opts.WorkFactor)
		if err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, magic...)
	out = append(out, formatVersion, byte(opts.Compression), flags)
	return append(out, payload...), nil
}

// Decode reverses Encode. passphrase is ignored for unencrypted archives.
func Decode(data []byte, passphrase string) (*Snapshot, error) {
	if len(data) < headerSize || string(data[:len(magic)]) != magic {
		return nil, ErrFormat
	}
	version, tag, flags := data[len(magic)], Compression(data[len(magic)+1]), data[len(magic)+2]
	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, version)
	}

	payload := data[headerSize:]
	if flags&flagEncrypted != 0 {
		if passphrase == "" {
			return nil, ErrPassphrase
		}
		var err error
		payload, err = open(payload, passphrase)
		if err != nil {
			return nil, err
		}
	}

	raw, err := decompress(tag, payload)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := decMode.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

// Hash returns the hex BLAKE3 digest that addresses an archive.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

func compress(tag Compression, data []byte) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %s", tag)
	}
}

func decompress(tag Compression, data []byte) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression tag %d", ErrFormat, uint8(tag))
	}
}

func seal(data []byte, passphrase string, workFactor int) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("encrypting backup: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("encrypting backup: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encrypting backup: %w", err)
	}
	return buf.Bytes(), nil
}

func open(data []byte, passphrase string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrPassphrase
		}
		return nil, fmt.Errorf("decrypting backup: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting backup: %w", err)
	}
	return out, nil
}

// archiveKey names an archive so that keys sort by creation time.
func archiveKey(prefix string, created time.Time, id string) string {
	return prefix + created.UTC().Format("20060102T150405.000000000Z") + "-" + id + ".bxz"
}
