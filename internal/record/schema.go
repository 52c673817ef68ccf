// Package record encodes relation rows into the byte form stored in heap
// data pages.
package record

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type FieldType int

const (
	Int FieldType = iota
	Real
	FixedString
	Varchar
)

func (t FieldType) String() string {
	switch t {
	case Int:
		return "INT"
	case Real:
		return "REAL"
	case FixedString:
		return "CHAR"
	case Varchar:
		return "VARCHAR"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// Field describes one column. Len is only meaningful for FixedString.
type Field struct {
	Name string    `msgpack:"name"`
	Type FieldType `msgpack:"type"`
	Len  int       `msgpack:"len"`
}

// staticSize is the number of bytes a fresh record allots to the field.
func (f Field) staticSize() int {
	switch f.Type {
	case Int, Real:
		return 4
	case FixedString:
		return f.Len
	default:
		return 0
	}
}

func (f Field) String() string {
	if f.Type == FixedString {
		return fmt.Sprintf("%s CHAR(%d)", f.Name, f.Len)
	}
	return fmt.Sprintf("%s %s", f.Name, f.Type)
}

var charType = regexp.MustCompile(`^CHAR\((\d+)\)$`)

// ParseField parses a column written as "name TYPE", where TYPE is INT, REAL,
// CHAR(n) or VARCHAR.
func ParseField(s string) (Field, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Field{}, errors.Errorf("column %q: expected \"name TYPE\"", s)
	}

	f := Field{Name: parts[0]}
	typ := strings.ToUpper(parts[1])

	switch {
	case typ == "INT":
		f.Type = Int
	case typ == "REAL":
		f.Type = Real
	case typ == "VARCHAR":
		f.Type = Varchar
	case charType.MatchString(typ):
		n, err := strconv.Atoi(charType.FindStringSubmatch(typ)[1])
		if err != nil {
			return Field{}, errors.Wrapf(err, "column %q", s)
		}
		f.Type, f.Len = FixedString, n
	default:
		return Field{}, errors.Errorf("column %q: unknown type %s", s, parts[1])
	}

	return f, nil
}

// Schema is the ordered list of fields of a relation.
type Schema struct {
	fields  []Field
	index   map[string]int
	dynamic bool
}

func NewSchema(fields ...Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, errors.New("schema has no fields")
	}

	s := &Schema{
		fields: append([]Field(nil), fields...),
		index:  make(map[string]int, len(fields)),
	}

	for i, f := range fields {
		if f.Name == "" {
			return nil, errors.Errorf("field %d has no name", i)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, errors.Errorf("duplicate field %q", f.Name)
		}
		switch f.Type {
		case Int, Real:
		case FixedString:
			if f.Len <= 0 {
				return nil, errors.Errorf("field %q: fixed string length must be positive, got %d", f.Name, f.Len)
			}
		case Varchar:
			s.dynamic = true
		default:
			return nil, errors.Errorf("field %q: unknown type %s", f.Name, f.Type)
		}
		s.index[f.Name] = i
	}

	return s, nil
}

// Fields returns a copy of the schema's fields.
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

func (s *Schema) NumFields() int {
	return len(s.fields)
}

// Index returns the column of the field called name.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Dynamic reports whether any field is a Varchar. Records of dynamic schemas
// carry their offsets table when serialized.
func (s *Schema) Dynamic() bool {
	return s.dynamic
}

func (s *Schema) offsetsSize() int {
	return 4 * (len(s.fields) + 1)
}

func (s *Schema) String() string {
	cols := make([]string, len(s.fields))
	for i, f := range s.fields {
		cols[i] = f.String()
	}
	return "(" + strings.Join(cols, ", ") + ")"
}
