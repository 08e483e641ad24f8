package embedfs

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"slices"
)

// Dir is the set of archives in one directory. Lookups try each archive in
// file name order and use the first that holds the name.
type Dir struct {
	archives []*Archive
}

// OpenDir opens every *.stuff archive in path.
func OpenDir(path string, opts ...Option) (*Dir, error) {
	names, err := filepath.Glob(filepath.Join(path, "*.stuff"))
	if err != nil {
		return nil, err
	}
	slices.Sort(names)

	d := &Dir{}
	for _, name := range names {
		a, err := OpenFile(name, opts...)
		if err != nil {
			return nil, errors.Join(err, d.Close())
		}
		d.archives = append(d.archives, a)
	}
	return d, nil
}

// Archives returns the opened archives in lookup order.
func (d *Dir) Archives() []*Archive {
	return slices.Clone(d.archives)
}

func (d *Dir) find(name string) (*Archive, bool) {
	for _, a := range d.archives {
		if a.Contains(name) {
			return a, true
		}
	}
	return nil, false
}

// Open implements fs.FS.
func (d *Dir) Open(name string) (fs.File, error) {
	a, ok := d.find(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return a.Open(name)
}

// ReadFile implements fs.ReadFileFS.
func (d *Dir) ReadFile(name string) ([]byte, error) {
	a, ok := d.find(name)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	return a.ReadFile(name)
}

// Section returns a reader over the contents of name.
func (d *Dir) Section(name string) (*io.SectionReader, error) {
	a, ok := d.find(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return a.Section(name)
}

// Close closes every archive.
func (d *Dir) Close() error {
	var errs []error
	for _, a := range d.archives {
		errs = append(errs, a.Close())
	}
	d.archives = nil
	return errors.Join(errs...)
}
