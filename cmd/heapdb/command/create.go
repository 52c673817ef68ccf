package command

import (
	"flag"
	"strings"

	"github.com/joeandaverde/heapdb/internal/record"
)

type CreateCommand struct{}

func (c *CreateCommand) Help() string {
	helpText := `
Usage: heapdb create [options] -table NAME COLUMN...

  Creates an empty table. Each column is a name followed by one of
  INT, REAL, CHAR(n) or VARCHAR, for example "code CHAR(8)".

Options:

	-config="heapdb.yml"	Database configuration file
	-table=""		Name of the table to create
`

	return strings.TrimSpace(helpText)
}

func (c *CreateCommand) Synopsis() string {
	return "Creates a table"
}

func (c *CreateCommand) Run(args []string) (code int) {
	var configPath, table string

	cmdFlags := flagSet("create", &configPath)
	cmdFlags.StringVar(&table, "table", "", "table name")
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	fields, err := parseColumns(cmdFlags)
	if err != nil || table == "" {
		fail("%s", c.Help())
		return 1
	}

	b, _, err := openBackend(configPath)
	if err != nil {
		fail("Error opening database: %s", err)
		return 1
	}
	defer closeBackend(b, &code)

	if _, err := b.CreateTable(table, fields...); err != nil {
		fail("Error creating table: %s", err)
		return 1
	}

	return 0
}

func parseColumns(cmdFlags *flag.FlagSet) ([]record.Field, error) {
	fields := make([]record.Field, 0, cmdFlags.NArg())
	for _, arg := range cmdFlags.Args() {
		f, err := record.ParseField(arg)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}
