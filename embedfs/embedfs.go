// Package embedfs reads EmbedFS archives (".stuff" files), the container
// FSD data files are shipped in.
//
// An archive is a directory followed by the file contents back to back:
//
//	[u32 count]
//	count × [u32 length][u32 nameLength][name][NUL]
//	file contents, in directory order
//	"EmbedFs 1.0" NUL
//
// Names are matched case-insensitively and backslashes are read as slashes.
// Archive implements fs.FS, fs.StatFS and fs.ReadFileFS.
package embedfs

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// ID is the identifier every archive ends with, followed by one NUL byte.
const ID = "EmbedFs 1.0"

var (
	// ErrInvalidArchive is returned when a file is not a well-formed EmbedFS archive.
	ErrInvalidArchive = errors.New("embedfs: invalid archive")
)

// Source provides random access to archive bytes. *os.File and
// *bytes.Reader both implement it.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Entry describes one archived file.
type Entry struct {
	// Name is the stored name with backslashes replaced by slashes.
	Name string

	// Offset and Size locate the contents inside the archive.
	Offset int64
	Size   int64
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger for archive diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// Archive is an opened EmbedFS archive. It is safe for concurrent use.
type Archive struct {
	src     Source
	closer  io.Closer
	entries []Entry
	byName  map[string]int
	logger  *slog.Logger
}

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
)

func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Open reads the directory of the archive held by src.
// The caller keeps ownership of src.
func Open(src Source, opts ...Option) (*Archive, error) {
	a := &Archive{src: src}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	a.log().Debug("archive opened", "files", len(a.entries), "size", src.Size())
	return a, nil
}

// OpenFile opens the archive stored at name. Close releases the file.
func OpenFile(name string, opts ...Option) (*Archive, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close() //nolint:errcheck // already failing
		return nil, err
	}
	a, err := Open(io.NewSectionReader(f, 0, info.Size()), opts...)
	if err != nil {
		_ = f.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	a.closer = f
	return a, nil
}

// Close closes the underlying file when the archive was opened with OpenFile.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// minEntrySize is the directory footprint of an entry with an empty name.
const minEntrySize = 4 + 4 + 1

func (a *Archive) load() error {
	size := a.src.Size()
	trailer := int64(len(ID) + 1)
	if size < 4+trailer {
		return fmt.Errorf("%w: %d bytes", ErrInvalidArchive, size)
	}
	id := make([]byte, len(ID))
	if n, err := a.src.ReadAt(id, size-trailer); n != len(id) {
		return fmt.Errorf("%w: read id: %v", ErrInvalidArchive, err)
	}
	if string(id) != ID {
		return fmt.Errorf("%w: bad id %q", ErrInvalidArchive, id)
	}
	end := size - trailer

	br := bufio.NewReader(io.NewSectionReader(a.src, 0, end))
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("%w: read count: %w", ErrInvalidArchive, err)
	}
	if int64(count) > (end-4)/minEntrySize {
		return fmt.Errorf("%w: %d files do not fit in %d bytes", ErrInvalidArchive, count, size)
	}

	a.entries = make([]Entry, 0, count)
	a.byName = make(map[string]int, count)
	pos := int64(4)
	for i := range count {
		var head [2]uint32
		if err := binary.Read(br, binary.LittleEndian, &head); err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrInvalidArchive, i, err)
		}
		length, nameLen := int64(head[0]), int64(head[1])
		pos += 8 + nameLen + 1
		if pos > end {
			return fmt.Errorf("%w: entry %d name overruns directory", ErrInvalidArchive, i)
		}
		raw := make([]byte, nameLen+1)
		if _, err := io.ReadFull(br, raw); err != nil {
			return fmt.Errorf("%w: entry %d name: %w", ErrInvalidArchive, i, err)
		}
		name := strings.ReplaceAll(string(bytes.Trim(raw, "\x00")), `\`, "/")
		a.byName[fold(name)] = len(a.entries)
		a.entries = append(a.entries, Entry{Name: name, Size: length})
	}

	off := pos
	for i := range a.entries {
		a.entries[i].Offset = off
		off += a.entries[i].Size
		if off > end {
			return fmt.Errorf("%w: %q overruns archive", ErrInvalidArchive, a.entries[i].Name)
		}
	}
	return nil
}

func fold(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, `\`, "/"))
}

// Len returns the number of files.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Entries yields the files in directory order.
func (a *Archive) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range a.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Lookup returns the entry for name.
func (a *Archive) Lookup(name string) (Entry, bool) {
	i, ok := a.byName[fold(name)]
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

// Contains reports whether the archive holds name.
func (a *Archive) Contains(name string) bool {
	_, ok := a.byName[fold(name)]
	return ok
}

// Section returns a reader over the contents of name. It can be passed to
// fsd.LoadIndexFromFile directly.
func (a *Archive) Section(name string) (*io.SectionReader, error) {
	e, ok := a.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return io.NewSectionReader(a.src, e.Offset, e.Size), nil
}

// Open implements fs.FS.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	e, ok := a.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &file{
		SectionReader: io.NewSectionReader(a.src, e.Offset, e.Size),
		info:          &fileInfo{name: path.Base(e.Name), size: e.Size},
	}, nil
}

// Stat implements fs.StatFS.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	e, ok := a.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return &fileInfo{name: path.Base(e.Name), size: e.Size}, nil
}

// ReadFile implements fs.ReadFileFS.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	e, ok := a.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	buf := make([]byte, e.Size)
	n, err := a.src.ReadAt(buf, e.Offset)
	if int64(n) == e.Size {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
}

// Digest returns the canonical digest of the contents of name.
func (a *Archive) Digest(name string) (digest.Digest, error) {
	r, err := a.Section(name)
	if err != nil {
		return "", err
	}
	return digest.Canonical.FromReader(r)
}

// file is an fs.File over one archived file's contents.
type file struct {
	*io.SectionReader
	info *fileInfo
}

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *file) Close() error               { return nil }

// fileInfo implements fs.FileInfo for archived files.
type fileInfo struct {
	name string
	size int64
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi *fileInfo) ModTime() time.Time { return time.Time{} }
func (fi *fileInfo) IsDir() bool        { return false }
func (fi *fileInfo) Sys() any           { return nil }
