package main

import (
	"fmt"
	"io"

	"github.com/arloliu/go-ebus/bus"
)

func runPorts(args []string, stdout io.Writer) error {
	fs := newFlagSet("ports", stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ports, err := bus.SerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(stdout, "no serial ports found")
		return nil
	}

	for _, port := range ports {
		fmt.Fprintln(stdout, port)
	}

	return nil
}
