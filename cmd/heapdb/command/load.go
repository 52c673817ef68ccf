package command

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/joeandaverde/heapdb/internal/backend"
	"github.com/joeandaverde/heapdb/internal/record"
)

var errInterrupted = errors.New("interrupted")

// sampleColumns is the layout of tables load creates on its own.
var sampleColumns = []record.Field{
	{Name: "id", Type: record.Int},
	{Name: "score", Type: record.Real},
	{Name: "code", Type: record.FixedString, Len: 8},
	{Name: "note", Type: record.Varchar},
}

type LoadCommand struct {
	ShutDownCh <-chan struct{}
}

func (l *LoadCommand) Help() string {
	helpText := `
Usage: heapdb load [options]

  Inserts generated rows into a table, creating it with the columns
  (id INT, score REAL, code CHAR(8), note VARCHAR) when it is missing.
  With -csv, inserts every row of a comma separated file into an existing
  table instead; a bad row stops the load and names its line.

Options:

	-config="heapdb.yml"	Database configuration file
	-table="sample"		Table to load
	-rows=1000		Number of rows to insert
	-seed=1			Seed for the generated values
	-csv=""			File of rows to insert
`

	return strings.TrimSpace(helpText)
}

func (l *LoadCommand) Synopsis() string {
	return "Loads generated or CSV rows into a table"
}

func (l *LoadCommand) Run(args []string) (code int) {
	var (
		configPath, table, csvPath string
		rows                       int
		seed                       int64
	)

	cmdFlags := flagSet("load", &configPath)
	cmdFlags.StringVar(&table, "table", "sample", "table name")
	cmdFlags.IntVar(&rows, "rows", 1000, "rows to insert")
	cmdFlags.Int64Var(&seed, "seed", 1, "random seed")
	cmdFlags.StringVar(&csvPath, "csv", "", "csv file")
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	b, logger, err := openBackend(configPath)
	if err != nil {
		fail("Error opening database: %s", err)
		return 1
	}
	defer closeBackend(b, &code)

	var loaded int
	if csvPath != "" {
		loaded, err = l.loadCSV(b, table, csvPath)
	} else {
		loaded, err = l.loadGenerated(b, table, rows, seed)
	}
	if err != nil {
		fail("Error loading %s after %d rows: %s", table, loaded, err)
		return 1
	}

	logger.Infof("loaded %d rows into %s", loaded, table)
	return 0
}

func (l *LoadCommand) interrupted() bool {
	select {
	case <-l.ShutDownCh:
		return true
	default:
		return false
	}
}

func (l *LoadCommand) loadGenerated(b *backend.Backend, table string, rows int, seed int64) (int, error) {
	rel, err := b.Table(table)
	if errors.Is(err, backend.ErrTableNotFound) {
		rel, err = b.CreateTable(table, sampleColumns...)
	}
	if err != nil {
		return 0, err
	}

	gen := rand.New(rand.NewSource(seed))
	for loaded := 0; loaded < rows; loaded++ {
		if l.interrupted() {
			return loaded, errInterrupted
		}

		values, err := sampleRow(rel.Schema, gen, loaded)
		if err != nil {
			return loaded, err
		}
		if _, err := b.Insert(table, values...); err != nil {
			return loaded, errors.Wrapf(err, "row %d", loaded)
		}
	}
	return rows, nil
}

func (l *LoadCommand) loadCSV(b *backend.Backend, table, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	rows := backend.NewRowReader(f)
	loaded := 0
	for {
		if l.interrupted() {
			return loaded, errInterrupted
		}

		fields, err := rows.Read()
		if err == io.EOF {
			return loaded, nil
		}
		if err != nil {
			return loaded, err
		}

		if err := b.InsertText(table, fields); err != nil {
			return loaded, errors.Wrapf(err, "%s line %d", path, rows.Line())
		}
		loaded++
	}
}

// sampleRow generates one value per column of schema.
func sampleRow(schema *record.Schema, gen *rand.Rand, n int) ([]interface{}, error) {
	values := make([]interface{}, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		switch f.Type {
		case record.Int:
			values = append(values, n)
		case record.Real:
			values = append(values, gen.Float64()*100)
		case record.FixedString:
			values = append(values, fmt.Sprintf("%0*d", f.Len, gen.Intn(1e6)))
		case record.Varchar:
			values = append(values, strings.Repeat("x", gen.Intn(24)))
		default:
			return nil, errors.Errorf("no generator for column %s", f.Name)
		}
	}
	return values, nil
}
