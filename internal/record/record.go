package record

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/joeandaverde/heapdb/internal/errs"
)

var (
	// ErrFieldType is returned when a field is accessed as the wrong type.
	ErrFieldType = errors.New("field type mismatch")

	// ErrNoSuchField is returned for a column outside the schema.
	ErrNoSuchField = errors.New("no such field")
)

// Record is one row of a relation held in memory. offsets has one entry per
// field plus the end of the data; field i occupies data[offsets[i]:offsets[i+1]].
type Record struct {
	schema  *Schema
	offsets []uint32
	data    []byte
}

// New returns a zeroed record with every field at its static size; Varchar
// fields start empty.
func New(schema *Schema) *Record {
	r := &Record{
		schema:  schema,
		offsets: make([]uint32, schema.NumFields()+1),
	}

	for i, f := range schema.fields {
		r.offsets[i+1] = r.offsets[i] + uint32(f.staticSize())
	}
	r.data = make([]byte, r.offsets[len(r.offsets)-1])

	return r
}

func (r *Record) Schema() *Schema {
	return r.schema
}

// Offsets returns a copy of the offsets table.
func (r *Record) Offsets() []uint32 {
	return append([]uint32(nil), r.offsets...)
}

func (r *Record) field(col int, types ...FieldType) (Field, error) {
	if col < 0 || col >= len(r.schema.fields) {
		return Field{}, errors.Wrapf(ErrNoSuchField, "column %d of %d", col, len(r.schema.fields))
	}
	f := r.schema.fields[col]
	for _, t := range types {
		if f.Type == t {
			return f, nil
		}
	}
	return Field{}, errors.Wrapf(ErrFieldType, "field %q is %s", f.Name, f.Type)
}

func (r *Record) span(col int) []byte {
	return r.data[r.offsets[col]:r.offsets[col+1]]
}

func (r *Record) SetInt(col int, v int32) error {
	if _, err := r.field(col, Int); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(r.span(col), uint32(v))
	return nil
}

func (r *Record) Int(col int) (int32, error) {
	if _, err := r.field(col, Int); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(r.span(col))), nil
}

func (r *Record) SetReal(col int, v float32) error {
	if _, err := r.field(col, Real); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(r.span(col), math.Float32bits(v))
	return nil
}

func (r *Record) Real(col int) (float32, error) {
	if _, err := r.field(col, Real); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(r.span(col))), nil
}

// SetString writes a string field. Fixed strings are truncated or zero
// padded to their length. Varchar fields are resized to exactly len(v) bytes,
// shifting the fields after them.
func (r *Record) SetString(col int, v string) error {
	f, err := r.field(col, FixedString, Varchar)
	if err != nil {
		return err
	}

	cur := r.span(col)
	if f.Type == FixedString || len(v) == len(cur) {
		n := copy(cur, v)
		for i := n; i < len(cur); i++ {
			cur[i] = 0
		}
		return nil
	}

	delta := len(v) - len(cur)
	start, end := r.offsets[col], r.offsets[col+1]

	data := make([]byte, 0, len(r.data)+delta)
	data = append(data, r.data[:start]...)
	data = append(data, v...)
	data = append(data, r.data[end:]...)
	r.data = data

	for c := col + 1; c < len(r.offsets); c++ {
		r.offsets[c] = uint32(int(r.offsets[c]) + delta)
	}

	return nil
}

// String reads a string field. Trailing zero padding of fixed strings is
// dropped.
func (r *Record) String(col int) (string, error) {
	f, err := r.field(col, FixedString, Varchar)
	if err != nil {
		return "", err
	}

	b := r.span(col)
	if f.Type == FixedString {
		b = bytes.TrimRight(b, "\x00")
	}
	return string(b), nil
}

// Values returns every field as int32, float32 or string.
func (r *Record) Values() []interface{} {
	values := make([]interface{}, len(r.schema.fields))
	for i, f := range r.schema.fields {
		switch f.Type {
		case Int:
			values[i], _ = r.Int(i)
		case Real:
			values[i], _ = r.Real(i)
		default:
			values[i], _ = r.String(i)
		}
	}
	return values
}

// Len is the serialized length: the offsets table, for dynamic schemas,
// followed by the data.
func (r *Record) Len() int {
	if r.schema.dynamic {
		return r.schema.offsetsSize() + len(r.data)
	}
	return len(r.data)
}

// Encode serializes the record into dst and returns the number of bytes
// written.
func (r *Record) Encode(dst []byte) (int, error) {
	if len(dst) < r.Len() {
		return 0, errors.Errorf("encode record: need %d bytes, have %d", r.Len(), len(dst))
	}

	n := 0
	if r.schema.dynamic {
		for _, off := range r.offsets {
			binary.LittleEndian.PutUint32(dst[n:], off)
			n += 4
		}
	}
	n += copy(dst[n:], r.data)

	return n, nil
}

// Bytes returns the serialized record.
func (r *Record) Bytes() []byte {
	buf := make([]byte, r.Len())
	_, _ = r.Encode(buf)
	return buf
}

// Decode replaces the record's content with the record serialized at the
// start of src and returns the number of bytes consumed.
func (r *Record) Decode(src []byte) (int, error) {
	if !r.schema.dynamic {
		size := int(r.offsets[len(r.offsets)-1])
		if len(src) < size {
			return 0, errs.Consistency("decode record", "record needs %d bytes, %d available", size, len(src))
		}
		copy(r.data, src[:size])
		return size, nil
	}

	table := r.schema.offsetsSize()
	if len(src) < table {
		return 0, errs.Consistency("decode record", "offsets table needs %d bytes, %d available", table, len(src))
	}

	offsets := make([]uint32, len(r.offsets))
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(src[4*i:])
	}

	if offsets[0] != 0 {
		return 0, errs.Consistency("decode record", "first offset is %d", offsets[0])
	}
	for i, f := range r.schema.fields {
		if offsets[i+1] < offsets[i] {
			return 0, errs.Consistency("decode record", "offsets of field %q go backwards", f.Name)
		}
		if f.Type != Varchar && int(offsets[i+1]-offsets[i]) != f.staticSize() {
			return 0, errs.Consistency("decode record", "field %q spans %d bytes, want %d",
				f.Name, offsets[i+1]-offsets[i], f.staticSize())
		}
	}

	total := int(offsets[len(offsets)-1])
	if len(src)-table < total {
		return 0, errs.Consistency("decode record", "record needs %d data bytes, %d available", total, len(src)-table)
	}

	r.offsets = offsets
	r.data = append(r.data[:0:0], src[table:table+total]...)

	return table + total, nil
}
