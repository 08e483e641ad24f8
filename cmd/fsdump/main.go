// Command fsdump prints values from FSD data files.
//
// Data is read from a plain file or from an entry inside a .stuff archive.
// Without --schema the file must carry an embedded schema.
//
//	fsdump --schema types.yaml types.fsdbinary --key 587
//	fsdump --archive resfiles.stuff res/staticdata/types.fsdbinary --index --keys
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/alexflint/go-arg"

	"github.com/meigma/fsd"
	"github.com/meigma/fsd/embedfs"
	"github.com/meigma/fsd/schema"
)

type args struct {
	File    string   `arg:"positional,required" help:"data file, or entry name with --archive"`
	Archive string   `help:"read FILE from this .stuff archive"`
	Schema  string   `help:"YAML schema file; the embedded schema is used when empty"`
	Usage   string   `help:"optimize the schema for this usage, e.g. Client or Server"`
	Index   bool     `help:"open the file as a lazily read index"`
	Sub     string   `help:"look keys up through this multi-index sub-index"`
	Key     []string `help:"key to print; repeatable"`
	Keys    bool     `help:"list keys"`
	Limit   int      `default:"20" help:"maximum number of keys to list, 0 for all"`
	Cache   int      `default:"100" help:"index value cache size"`
	Verbose bool     `arg:"-v" help:"log debug output to stderr"`
}

func (args) Description() string {
	return "fsdump prints values from FSD data files"
}

func main() {
	var a args
	arg.MustParse(&a)

	level := slog.LevelWarn
	if a.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(os.Stdout, a, logger); err != nil {
		fmt.Fprintln(os.Stderr, "fsdump:", err)
		os.Exit(1)
	}
}

func run(w io.Writer, a args, logger *slog.Logger) error {
	var sch schema.Node
	if a.Schema != "" {
		var err error
		if sch, err = loadSchema(a.Schema, a.Usage); err != nil {
			return err
		}
	}
	opts := []fsd.Option{fsd.WithLogger(logger)}

	src, closeSrc, err := openSource(a, logger)
	if err != nil {
		return err
	}
	defer closeSrc()

	var root any
	if a.Index {
		root, err = fsd.LoadIndexFromFile(src, sch, a.Cache, opts...)
	} else {
		var data []byte
		if data, err = io.ReadAll(io.NewSectionReader(src, 0, src.Size())); err != nil {
			return err
		}
		root, err = fsd.LoadFromBytes(data, sch, opts...)
	}
	if err != nil {
		return err
	}
	return dump(w, root, a)
}

// source is the data file's bytes, wherever they live.
type source interface {
	io.ReaderAt
	Size() int64
}

func openSource(a args, logger *slog.Logger) (source, func(), error) {
	if a.Archive != "" {
		ar, err := embedfs.OpenFile(a.Archive, embedfs.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		sec, err := ar.Section(a.File)
		if err != nil {
			_ = ar.Close() //nolint:errcheck // already failing
			return nil, nil, err
		}
		return sec, func() { _ = ar.Close() }, nil //nolint:errcheck // read-only
	}

	f, err := os.Open(a.File)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close() //nolint:errcheck // already failing
		return nil, nil, err
	}
	return io.NewSectionReader(f, 0, info.Size()), func() { _ = f.Close() }, nil //nolint:errcheck // read-only
}

// loadSchema reads either a schema document or a single schema node.
func loadSchema(path, usage string) (schema.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if doc, err := schema.ParseDocument(data); err == nil && doc.RuntimeSchema != "" {
		return doc.Optimize(usage)
	}
	raw, err := schema.Parse(data)
	if err != nil {
		return nil, err
	}
	return schema.Optimize(raw, usage)
}

func dump(w io.Writer, root any, a args) error {
	m, isMapping := root.(fsd.Mapping)
	if a.Sub != "" {
		mi, ok := root.(*fsd.MultiIndex)
		if !ok {
			return errors.New("--sub needs a multi-index opened with --index")
		}
		if m, ok = mi.Named(a.Sub); !ok {
			return fmt.Errorf("no sub-index %q; have %s", a.Sub, strings.Join(mi.Names(), ", "))
		}
	}

	if !isMapping {
		if len(a.Key) > 0 || a.Keys {
			return fmt.Errorf("root is %T, not a dict", root)
		}
		_, err := fmt.Fprintln(w, format(root))
		return err
	}

	if a.Keys {
		n := 0
		for k, err := range m.Keys() {
			if err != nil {
				return err
			}
			if a.Limit > 0 && n == a.Limit {
				_, err := fmt.Fprintf(w, "... %d keys\n", m.Len())
				return err
			}
			fmt.Fprintln(w, k)
			n++
		}
	}

	for _, s := range a.Key {
		v, err := m.Get(parseKey(s))
		if err != nil {
			return fmt.Errorf("key %s: %w", s, err)
		}
		fmt.Fprintf(w, "%s: %s\n", s, format(v))
	}

	if !a.Keys && len(a.Key) == 0 {
		_, err := fmt.Fprintf(w, "%T with %d keys\n", root, m.Len())
		return err
	}
	return nil
}

// parseKey reads integers as int keys and everything else as strings.
func parseKey(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(n)
	}
	return s
}

func format(v any) string {
	switch v := v.(type) {
	case *fsd.Object:
		return v.Describe()
	case *fsd.List:
		items, err := v.Slice()
		if err != nil {
			return fmt.Sprintf("<list of %d: %v>", v.Len(), err)
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = format(item)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case *fsd.Blob:
		return fmt.Sprintf("<binary %d bytes>", v.Len())
	case fsd.Mapping:
		return fmt.Sprintf("<dict of %d>", v.Len())
	case string:
		return strconv.Quote(v)
	case nil:
		return "NULL"
	default:
		return fmt.Sprint(v)
	}
}
