package backend

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/heapdb/internal/heap"
	"github.com/joeandaverde/heapdb/internal/metadata"
	"github.com/joeandaverde/heapdb/internal/record"
)

var (
	ErrTableExists   = errors.New("table already exists")
	ErrTableNotFound = errors.New("table not found")
)

// Backend serves named tables out of an engine, keeping their definitions
// in the data directory's catalog.
type Backend struct {
	mu        sync.Mutex
	engine    *Engine
	catalog   *metadata.Catalog
	relations map[string]*heap.Relation

	log *logrus.Logger
}

// Row is a row in a result
type Row struct {
	Data []interface{}
}

// NewBackend loads the catalog of the engine's data directory.
func NewBackend(logger *logrus.Logger, engine *Engine) (*Backend, error) {
	catalog, err := metadata.Load(engine.Config().DataDir)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		engine:    engine,
		catalog:   catalog,
		relations: make(map[string]*heap.Relation),
		log:       logger,
	}

	for _, def := range catalog.List() {
		rel, err := def.Relation()
		if err != nil {
			return nil, err
		}
		engine.Heap().Attach(rel)
		b.relations[rel.Name] = rel
	}

	logger.Debugf("loaded %d table definitions", len(b.relations))

	return b, nil
}

func (b *Backend) Engine() *Engine {
	return b.engine
}

// CreateTable creates an empty table.
func (b *Backend) CreateTable(name string, fields ...record.Field) (*heap.Relation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.relations[name]; ok {
		return nil, errors.Wrap(ErrTableExists, name)
	}

	schema, err := record.NewSchema(fields...)
	if err != nil {
		return nil, errors.Wrapf(err, "create table %s", name)
	}

	rel, err := b.engine.Heap().CreateRelation(name, schema)
	if err != nil {
		return nil, err
	}

	b.relations[name] = rel
	b.catalog.Put(metadata.FromRelation(rel))

	return rel, nil
}

// Table returns the relation backing a table.
func (b *Backend) Table(name string) (*heap.Relation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table(name)
}

func (b *Backend) table(name string) (*heap.Relation, error) {
	rel, ok := b.relations[name]
	if !ok {
		return nil, errors.Wrap(ErrTableNotFound, name)
	}
	return rel, nil
}

// Tables lists the table definitions, refreshed from the live relations.
func (b *Backend) Tables() []*metadata.TableDefinition {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshCatalog()
	return b.catalog.List()
}

// Insert stores one row. Values are matched to columns in order: integers
// for INT, floats for REAL and strings for CHAR and VARCHAR.
func (b *Backend) Insert(table string, values ...interface{}) (heap.RecordID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rel, err := b.table(table)
	if err != nil {
		return heap.RecordID{}, err
	}

	rec, err := buildRecord(rel.Schema, values)
	if err != nil {
		return heap.RecordID{}, errors.Wrapf(err, "insert into %s", table)
	}

	return b.engine.Heap().InsertRecord(rel, rec)
}

func buildRecord(schema *record.Schema, values []interface{}) (*record.Record, error) {
	fields := schema.Fields()
	if len(values) != len(fields) {
		return nil, errors.Errorf("%d values for %d columns", len(values), len(fields))
	}

	rec := record.New(schema)
	for i, v := range values {
		var err error
		switch f := fields[i]; f.Type {
		case record.Int:
			var n int32
			if n, err = toInt32(v); err == nil {
				err = rec.SetInt(i, n)
			}
		case record.Real:
			var x float32
			if x, err = toFloat32(v); err == nil {
				err = rec.SetReal(i, x)
			}
		default:
			s, ok := v.(string)
			if !ok {
				err = errors.Wrapf(record.ErrFieldType, "column %s wants a string, got %T", f.Name, v)
			} else {
				err = rec.SetString(i, s)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func toInt32(v interface{}) (int32, error) {
	var n int64
	switch x := v.(type) {
	case int32:
		return x, nil
	case int:
		n = int64(x)
	case int64:
		n = x
	default:
		return 0, errors.Wrapf(record.ErrFieldType, "want an integer, got %T", v)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, errors.Wrapf(record.ErrFieldType, "%d does not fit in INT", n)
	}
	return int32(n), nil
}

func toFloat32(v interface{}) (float32, error) {
	switch x := v.(type) {
	case float32:
		return x, nil
	case float64:
		return float32(x), nil
	case int:
		return float32(x), nil
	}
	return 0, errors.Wrapf(record.ErrFieldType, "want a float, got %T", v)
}

// Scan returns every row of the table in storage order.
func (b *Backend) Scan(table string) ([]*Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rel, err := b.table(table)
	if err != nil {
		return nil, err
	}

	records, err := b.engine.Heap().GetAllRecords(rel)
	if err != nil {
		return nil, err
	}

	rows := make([]*Row, len(records))
	for i, rec := range records {
		rows[i] = &Row{Data: rec.Values()}
	}
	return rows, nil
}

// DropTable releases every page of the table and forgets it.
func (b *Backend) DropTable(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rel, err := b.table(name)
	if err != nil {
		return err
	}

	if err := b.engine.Heap().DestroyRelation(rel); err != nil {
		return err
	}

	delete(b.relations, name)
	b.catalog.Delete(name)

	return nil
}

// refreshCatalog captures tail pages moved by inserts.
func (b *Backend) refreshCatalog() {
	for _, rel := range b.relations {
		b.catalog.Put(metadata.FromRelation(rel))
	}
}

// Sync saves the catalog.
func (b *Backend) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refreshCatalog()
	if err := b.catalog.Save(b.engine.Config().DataDir); err != nil {
		b.log.WithError(err).Error("could not save table definitions")
		return err
	}
	return nil
}

// Close saves the catalog and shuts the engine down.
func (b *Backend) Close() error {
	if err := b.Sync(); err != nil {
		return err
	}
	return b.engine.Shutdown()
}
