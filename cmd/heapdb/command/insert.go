package command

import (
	"strings"

	"github.com/joeandaverde/heapdb/internal/backend"
)

type InsertCommand struct{}

func (i *InsertCommand) Help() string {
	helpText := `
Usage: heapdb insert [options] -table NAME VALUES

  Inserts one row. VALUES lists one value per column, separated by commas;
  double quote a value to keep commas in it, for example 1,2.5,abc,"x, y".

Options:

	-config="heapdb.yml"	Database configuration file
	-table=""		Table to insert into
`

	return strings.TrimSpace(helpText)
}

func (i *InsertCommand) Synopsis() string {
	return "Inserts one row into a table"
}

func (i *InsertCommand) Run(args []string) (code int) {
	var configPath, table string

	cmdFlags := flagSet("insert", &configPath)
	cmdFlags.StringVar(&table, "table", "", "table name")
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}
	if table == "" || cmdFlags.NArg() == 0 {
		fail("%s", i.Help())
		return 1
	}

	fields, err := backend.SplitRow(strings.Join(cmdFlags.Args(), " "))
	if err != nil {
		fail("Error parsing values: %s", err)
		return 1
	}

	b, _, err := openBackend(configPath)
	if err != nil {
		fail("Error opening database: %s", err)
		return 1
	}
	defer closeBackend(b, &code)

	if err := b.InsertText(table, fields); err != nil {
		fail("Error inserting row: %s", err)
		return 1
	}

	return 0
}
