package command

import (
	"fmt"
	"strings"

	"github.com/joeandaverde/heapdb/internal/record"
)

type InfoCommand struct{}

func (i *InfoCommand) Help() string {
	helpText := `
Usage: heapdb info [options]

  Prints the storage layout and the tables of a data directory.

Options:

	-config="heapdb.yml"	Database configuration file
`

	return strings.TrimSpace(helpText)
}

func (i *InfoCommand) Synopsis() string {
	return "Describes the data directory"
}

func (i *InfoCommand) Run(args []string) (code int) {
	var configPath string

	cmdFlags := flagSet("info", &configPath)
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	b, _, err := openBackend(configPath)
	if err != nil {
		fail("Error opening database: %s", err)
		return 1
	}
	defer closeBackend(b, &code)

	config := b.Engine().Config()
	stats := b.Engine().Allocator().Stats()

	fmt.Printf("data directory: %s\n", config.DataDir)
	fmt.Printf("page size:      %d\n", config.PageSize)
	fmt.Printf("buffers:        %d (%s)\n", config.BufferCount, config.Policy)
	fmt.Printf("files:          %d x %d pages\n", stats.Files, stats.PagesPerFile)
	fmt.Printf("pages:          %d allocated, %d free\n", stats.Allocated, stats.Free)

	for _, def := range b.Tables() {
		rel, err := b.Table(def.Name)
		if err != nil {
			fail("Error reading table %s: %s", def.Name, err)
			return 1
		}

		pages, err := b.Engine().Heap().DataPages(rel)
		if err != nil {
			fail("Error reading table %s: %s", def.Name, err)
			return 1
		}

		fmt.Printf("\ntable %s (oid %d, %d data pages, header %s)\n", def.Name, def.OID, len(pages), def.HeaderPage)
		for _, f := range rel.Schema.Fields() {
			fmt.Printf("  %s\n", columnString(f))
		}
	}

	return 0
}

func columnString(f record.Field) string {
	if f.Type == record.FixedString {
		return fmt.Sprintf("%s CHAR(%d)", f.Name, f.Len)
	}
	return fmt.Sprintf("%s %s", f.Name, f.Type)
}
