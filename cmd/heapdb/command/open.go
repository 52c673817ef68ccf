package command

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/heapdb/internal/backend"
)

// flagSet returns a flag set carrying the -config flag every command takes.
func flagSet(name string, configPath *string) *flag.FlagSet {
	cmdFlags := flag.NewFlagSet(name, flag.ContinueOnError)
	cmdFlags.StringVar(configPath, "config", "heapdb.yml", "config file")
	return cmdFlags
}

// openBackend loads the config at configPath and opens its data directory.
func openBackend(configPath string) (*backend.Backend, *logrus.Logger, error) {
	config, err := backend.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetLevel(config.LogLevel)

	dbEngine, err := backend.Start(logger, config)
	if err != nil {
		return nil, nil, err
	}

	b, err := backend.NewBackend(logger, dbEngine)
	if err != nil {
		_ = dbEngine.Shutdown()
		return nil, nil, err
	}

	return b, logger, nil
}

func closeBackend(b *backend.Backend, code *int) {
	if err := b.Close(); err != nil {
		fail("Error closing database: %s", err)
		*code = 1
	}
}

func fail(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
}
