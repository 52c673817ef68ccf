package command

import (
	"strings"
)

type DropCommand struct{}

func (d *DropCommand) Help() string {
	helpText := `
Usage: heapdb drop [options]

  Drops a table, returning its pages to the free list.

Options:

	-config="heapdb.yml"	Database configuration file
	-table=""		Table to drop
`

	return strings.TrimSpace(helpText)
}

func (d *DropCommand) Synopsis() string {
	return "Drops a table"
}

func (d *DropCommand) Run(args []string) (code int) {
	var configPath, table string

	cmdFlags := flagSet("drop", &configPath)
	cmdFlags.StringVar(&table, "table", "", "table name")
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}
	if table == "" {
		fail("%s", d.Help())
		return 1
	}

	b, logger, err := openBackend(configPath)
	if err != nil {
		fail("Error opening database: %s", err)
		return 1
	}
	defer closeBackend(b, &code)

	if err := b.DropTable(table); err != nil {
		fail("Error dropping table: %s", err)
		return 1
	}

	logger.Infof("dropped %s", table)
	return 0
}
