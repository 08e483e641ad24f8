package fsd

import (
	"errors"
	"fmt"
	"io"

	"github.com/meigma/fsd/internal/codec"
	"github.com/meigma/fsd/schema"
)

// LoadFromBytes decodes the root value held in data.
//
// If sch is nil, data starts with an embedded schema: a 4-byte length
// followed by a blob produced by schema.Marshal. The root value follows it.
// Otherwise the root value starts at offset 0.
//
// The returned views alias data; it must not be modified while they are in use.
// Multi-index schemas fail with ErrUnsupportedSchema; load them with
// LoadIndexFromFile.
func LoadFromBytes(data []byte, sch schema.Node, opts ...Option) (any, error) {
	return loadBytes(newConfig(opts), data, sch)
}

func loadBytes(cfg *config, data []byte, sch schema.Node) (any, error) {
	off := 0
	if sch == nil {
		size, err := codec.Offset(data, 0)
		if err != nil {
			return nil, fmt.Errorf("read schema length: %w", err)
		}
		if !fitsSchema(cfg, uint64(size)) || size > len(data)-codec.WordSize {
			return nil, fmt.Errorf("%w: embedded schema of %d bytes", ErrInvalidSchema, size)
		}
		if sch, err = parseSchema(cfg, data[codec.WordSize:codec.WordSize+size]); err != nil {
			return nil, err
		}
		off = codec.WordSize + size
	}
	return decode(cfg, data, off, sch)
}

// LoadIndexFromFile opens the disk-backed index stored in r at the offset set
// by WithOffset.
//
// If sch is nil, the index is preceded by an embedded schema. The schema must
// be a dict. Multi-index schemas yield a *MultiIndex; all others an *Index.
// At most cacheSize decoded values are cached; zero disables the cache.
// When the key table records no value sizes, a lookup reads from the value to
// the start of the next value in the payload.
func LoadIndexFromFile(r io.ReaderAt, sch schema.Node, cacheSize int, opts ...Option) (Mapping, error) {
	cfg := newConfig(opts)
	off := cfg.offset
	if sch == nil {
		size, err := codec.Uint32At(r, off)
		if err != nil {
			return nil, fmt.Errorf("read schema length: %w", err)
		}
		if !fitsSchema(cfg, uint64(size)) {
			return nil, fmt.Errorf("%w: embedded schema of %d bytes", ErrInvalidSchema, size)
		}
		blob, err := codec.ReadAt(r, off+codec.WordSize, int(size))
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		if sch, err = parseSchema(cfg, blob); err != nil {
			return nil, err
		}
		off += codec.WordSize + int64(size)
	}

	d, ok := sch.(*schema.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: index root is %T, want a dict", ErrUnsupportedSchema, sch)
	}
	if d.MultiIndex {
		return newMultiIndex(cfg, r, off, d, cacheSize)
	}
	return newIndex(cfg, r, off, d, cacheSize)
}

// LoadEmbeddedSchema reads a length-prefixed schema blob at the current
// position of r and leaves r positioned after it.
//
// When the bytes are not a schema blob it restores the position and returns
// ErrNoEmbeddedSchema, so callers can fall back to reading the data without
// one. A schema whose digest differs from WithSchemaDigest also restores the
// position and returns ErrSchemaMismatch.
func LoadEmbeddedSchema(r io.ReadSeeker, opts ...Option) (schema.Node, error) {
	cfg := newConfig(opts)
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}

	n, err := readEmbedded(cfg, r)
	if err == nil {
		return n, nil
	}
	if _, serr := r.Seek(start, io.SeekStart); serr != nil {
		return nil, errors.Join(err, fmt.Errorf("restore position: %w", serr))
	}
	if errors.Is(err, ErrSchemaMismatch) {
		return nil, err
	}
	cfg.log().Debug("no embedded schema", "position", start, "reason", err)
	return nil, fmt.Errorf("%w: %w", ErrNoEmbeddedSchema, err)
}

func readEmbedded(cfg *config, r io.Reader) (schema.Node, error) {
	var word [codec.WordSize]byte
	if _, err := io.ReadFull(r, word[:]); err != nil {
		return nil, err
	}
	size, err := codec.Offset(word[:], 0)
	if err != nil {
		return nil, err
	}
	if !fitsSchema(cfg, uint64(size)) {
		return nil, fmt.Errorf("%w: embedded schema of %d bytes", ErrInvalidSchema, size)
	}
	// Read incrementally so a bogus length cannot force a large allocation.
	blob, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil {
		return nil, err
	}
	if len(blob) != size {
		return nil, fmt.Errorf("%w: short schema blob (%d of %d bytes)", ErrInvalidSchema, len(blob), size)
	}
	return parseSchema(cfg, blob)
}

// fitsSchema reports whether a schema blob of size bytes is within the limit.
func fitsSchema(cfg *config, size uint64) bool {
	return cfg.maxSchemaSize == 0 || size <= cfg.maxSchemaSize
}

// parseSchema decodes a schema blob and checks it against WithSchemaDigest.
func parseSchema(cfg *config, blob []byte) (schema.Node, error) {
	n, err := schema.Unmarshal(blob, schema.WithMaxSize(cfg.maxSchemaSize))
	if err != nil {
		return nil, err
	}
	if cfg.schemaDigest == "" {
		return n, nil
	}
	got, err := schema.Digest(n)
	if err != nil {
		return nil, err
	}
	if got != cfg.schemaDigest {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrSchemaMismatch, got, cfg.schemaDigest)
	}
	return n, nil
}
