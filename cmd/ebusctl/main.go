// ebusctl talks to an eBUS through a serial interface or a network adapter.
//
// Usage:
//
//	ebusctl listen [flags]        run the bus, log events, serve the monitor
//	ebusctl send [flags]          send one telegram and print the outcome
//	ebusctl crc [flags] BYTES...  compute a telegram or data CRC
//	ebusctl ports                 list the serial ports of the host
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

type command struct {
	name    string
	summary string
	run     func(args []string, stdout io.Writer) error
}

var commands = []command{
	{name: "listen", summary: "run the bus, log events and serve the monitor", run: runListen},
	{name: "send", summary: "send one telegram and print the outcome", run: runSend},
	{name: "crc", summary: "compute the CRC of hex bytes", run: runCrc},
	{name: "ports", summary: "list the serial ports of the host", run: runPorts},
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout)
		return nil
	}

	for _, cmd := range commands {
		if cmd.name == args[0] {
			err := cmd.run(args[1:], stdout)
			if errors.Is(err, pflag.ErrHelp) {
				return nil
			}

			return err
		}
	}

	printUsage(stdout)

	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: ebusctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'ebusctl <command> --help' for the flags of a command.")
}

func newFlagSet(name string, stdout io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("ebusctl "+name, pflag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.SortFlags = false

	return fs
}
