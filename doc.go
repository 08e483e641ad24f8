// Package fsd reads FSD containers: schema-described binary files whose
// values are decoded lazily, on access, without loading the whole file.
//
// A container holds one root value laid out according to an optimized
// schema (see the [schema] subpackage). Objects, lists and dicts decode to
// views over the underlying bytes; nothing below the accessed value is
// decoded.
//
// Containers come in two shapes:
//   - In-memory: the whole file is a byte slice, loaded with [LoadFromBytes]
//   - Disk-backed: only key tables are read up front, loaded with
//     [LoadIndexFromFile]; each lookup reads one value
//
// # Quick Start
//
// Load an in-memory container that carries its own schema:
//
//	root, err := fsd.LoadFromBytes(data, nil)
//	if err != nil {
//	    return err
//	}
//	types := root.(*fsd.Dict)
//	v, err := types.Get(587)
//
// Open a disk-backed index with a cache of 1000 decoded values:
//
//	f, err := os.Open("types.fsdbinary")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	ix, err := fsd.LoadIndexFromFile(f, sch, 1000)
//
// # Schemas
//
// Schemas are authored as YAML, optimized with [schema.Optimize], and stored
// with [schema.Marshal]. A container may embed the stored schema in front of
// its data; [LoadEmbeddedSchema] detects it without disturbing readers of
// containers that do not.
package fsd
