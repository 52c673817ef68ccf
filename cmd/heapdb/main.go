package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/mitchellh/cli"

	"github.com/joeandaverde/heapdb/cmd/heapdb/command"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = append(args, "info")
	}

	commands := map[string]cli.CommandFactory{
		"info": func() (cli.Command, error) {
			return &command.InfoCommand{}, nil
		},
		"create": func() (cli.Command, error) {
			return &command.CreateCommand{}, nil
		},
		"insert": func() (cli.Command, error) {
			return &command.InsertCommand{}, nil
		},
		"load": func() (cli.Command, error) {
			return &command.LoadCommand{
				ShutDownCh: makeShutdownCh(),
			}, nil
		},
		"scan": func() (cli.Command, error) {
			return &command.ScanCommand{}, nil
		},
		"drop": func() (cli.Command, error) {
			return &command.DropCommand{}, nil
		},
	}

	heapCLI := &cli.CLI{
		Args:     args,
		Commands: commands,
		HelpFunc: cli.BasicHelpFunc("heapdb"),
	}

	exitCode, err := heapCLI.Run()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}

	os.Exit(exitCode)
}

func makeShutdownCh() <-chan struct{} {
	shutdownCh := make(chan struct{})
	signalCh := make(chan os.Signal, 1)

	signal.Notify(signalCh, os.Interrupt)

	go func() {
		defer close(shutdownCh)
		<-signalCh
	}()

	return shutdownCh
}
