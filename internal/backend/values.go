package backend

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/joeandaverde/heapdb/internal/record"
)

// ParseValues converts the text fields of one row into the values Insert
// takes for schema.
func ParseValues(schema *record.Schema, fields []string) ([]interface{}, error) {
	columns := schema.Fields()
	if len(fields) != len(columns) {
		return nil, errors.Errorf("unexpected number of fields, expected %d, got %d", len(columns), len(fields))
	}

	values := make([]interface{}, len(fields))
	for i, text := range fields {
		f := columns[i]
		switch f.Type {
		case record.Int:
			n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
			if err != nil {
				return nil, errors.Wrapf(record.ErrFieldType, "column %s: %q is not an INT", f.Name, text)
			}
			values[i] = int32(n)
		case record.Real:
			x, err := strconv.ParseFloat(strings.TrimSpace(text), 32)
			if err != nil {
				return nil, errors.Wrapf(record.ErrFieldType, "column %s: %q is not a REAL", f.Name, text)
			}
			values[i] = float32(x)
		case record.FixedString:
			if len(text) > f.Len {
				return nil, errors.Wrapf(record.ErrFieldType, "column %s: %q is longer than CHAR(%d)", f.Name, text, f.Len)
			}
			values[i] = text
		default:
			values[i] = text
		}
	}
	return values, nil
}

// RowReader reads comma separated rows; fields may be double quoted to hold
// commas.
type RowReader struct {
	r *csv.Reader
}

func NewRowReader(r io.Reader) *RowReader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return &RowReader{r: cr}
}

// Read returns the fields of the next row, or io.EOF.
func (rr *RowReader) Read() ([]string, error) {
	fields, err := rr.r.Read()
	if err == io.EOF {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "read row")
	}
	return fields, nil
}

// Line is the input line of the last row read.
func (rr *RowReader) Line() int {
	line, _ := rr.r.FieldPos(0)
	return line
}

// SplitRow splits one comma separated row.
func SplitRow(text string) ([]string, error) {
	fields, err := NewRowReader(strings.NewReader(text)).Read()
	if err == io.EOF {
		return []string{""}, nil
	}
	return fields, err
}

// InsertText parses fields against the table's columns and inserts the row.
func (b *Backend) InsertText(table string, fields []string) error {
	rel, err := b.Table(table)
	if err != nil {
		return err
	}

	values, err := ParseValues(rel.Schema, fields)
	if err != nil {
		return errors.Wrapf(err, "insert into %s", table)
	}

	_, err = b.Insert(table, values...)
	return err
}
