// Package metadata keeps the definitions of the relations stored in a data
// directory so they can be found again in a later run.
package metadata

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"

	"github.com/joeandaverde/heapdb/internal/heap"
	"github.com/joeandaverde/heapdb/internal/record"
	"github.com/joeandaverde/heapdb/internal/storage"
)

// File is the name of the relation definitions file in a data directory.
const File = "relations.msgpack"

// ColumnDefinition describes a column of a table
type ColumnDefinition struct {
	Name string           `msgpack:"name"`
	Type record.FieldType `msgpack:"type"`
	Len  int              `msgpack:"len"`
}

type TableDefinition struct {
	Name       string              `msgpack:"name"`
	OID        uint64              `msgpack:"oid"`
	Columns    []*ColumnDefinition `msgpack:"columns"`
	HeaderPage storage.PageID      `msgpack:"header_page"`
	TailPage   storage.PageID      `msgpack:"tail_page"`
}

// FromRelation captures the definition of rel.
func FromRelation(rel *heap.Relation) *TableDefinition {
	def := &TableDefinition{
		Name:       rel.Name,
		OID:        rel.OID,
		HeaderPage: rel.HeaderPage,
		TailPage:   rel.TailPage,
	}
	for _, f := range rel.Schema.Fields() {
		def.Columns = append(def.Columns, &ColumnDefinition{Name: f.Name, Type: f.Type, Len: f.Len})
	}
	return def
}

// Relation rebuilds the heap relation described by the definition.
func (d *TableDefinition) Relation() (*heap.Relation, error) {
	fields := make([]record.Field, len(d.Columns))
	for i, c := range d.Columns {
		fields[i] = record.Field{Name: c.Name, Type: c.Type, Len: c.Len}
	}

	schema, err := record.NewSchema(fields...)
	if err != nil {
		return nil, errors.Wrapf(err, "table %s", d.Name)
	}

	return &heap.Relation{
		OID:        d.OID,
		Name:       d.Name,
		Schema:     schema,
		HeaderPage: d.HeaderPage,
		TailPage:   d.TailPage,
	}, nil
}

// Catalog is the set of table definitions of a data directory, by name.
type Catalog struct {
	tables map[string]*TableDefinition
}

func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[string]*TableDefinition)}
}

// Load reads the definitions file in dir. A missing file is an empty catalog.
func Load(dir string) (*Catalog, error) {
	path := filepath.Join(dir, File)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewCatalog(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	var defs []*TableDefinition
	if err := msgpack.Unmarshal(data, &defs); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	c := NewCatalog()
	for _, d := range defs {
		c.tables[d.Name] = d
	}
	return c, nil
}

// Save replaces the definitions file in dir.
func (c *Catalog) Save(dir string) error {
	data, err := msgpack.Marshal(c.List())
	if err != nil {
		return errors.Wrap(err, "encode table definitions")
	}

	path := filepath.Join(dir, File)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename %s", tmp)
	}
	return nil
}

func (c *Catalog) Get(name string) (*TableDefinition, bool) {
	d, ok := c.tables[name]
	return d, ok
}

func (c *Catalog) Put(d *TableDefinition) {
	c.tables[d.Name] = d
}

func (c *Catalog) Delete(name string) {
	delete(c.tables, name)
}

// List returns the definitions ordered by OID.
func (c *Catalog) List() []*TableDefinition {
	defs := make([]*TableDefinition, 0, len(c.tables))
	for _, d := range c.tables {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].OID < defs[j].OID })
	return defs
}
