package command

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
)

type ScanCommand struct{}

func (s *ScanCommand) Help() string {
	helpText := `
Usage: heapdb scan [options]

  Prints every row of a table in storage order.

Options:

	-config="heapdb.yml"	Database configuration file
	-table=""		Table to scan
	-limit=0		Stop after this many rows, 0 for all
`

	return strings.TrimSpace(helpText)
}

func (s *ScanCommand) Synopsis() string {
	return "Prints the rows of a table"
}

func (s *ScanCommand) Run(args []string) (code int) {
	var (
		configPath, table string
		limit             int
	)

	cmdFlags := flagSet("scan", &configPath)
	cmdFlags.StringVar(&table, "table", "", "table name")
	cmdFlags.IntVar(&limit, "limit", 0, "maximum rows")
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}
	if table == "" {
		fail("%s", s.Help())
		return 1
	}

	b, _, err := openBackend(configPath)
	if err != nil {
		fail("Error opening database: %s", err)
		return 1
	}
	defer closeBackend(b, &code)

	rel, err := b.Table(table)
	if err != nil {
		fail("Error: %s", err)
		return 1
	}

	rows, err := b.Scan(table)
	if err != nil {
		fail("Error scanning %s: %s", table, err)
		return 1
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	names := make([]string, 0, rel.Schema.NumFields())
	for _, f := range rel.Schema.Fields() {
		names = append(names, f.Name)
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))

	for _, row := range rows {
		cells := make([]string, len(row.Data))
		for i, v := range row.Data {
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}

	if err := w.Flush(); err != nil {
		return 1
	}
	return 0
}
