package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/arloliu/go-ebus/ebus"
)

func runCrc(args []string, stdout io.Writer) error {
	fs := newFlagSet("crc", stdout)
	poly := fs.String("poly", "0x9B", "generator polynomial")
	data := fs.Bool("data", false, "use the data polynomial 0x5C")
	escape := fs.Bool("escape", false, "escape the bytes before computing, as on the wire")

	if err := fs.Parse(args); err != nil {
		return err
	}

	bs, err := parseHexBytes(fs.Args())
	if err != nil {
		return err
	}
	if len(bs) == 0 {
		return errors.New("crc: no bytes given")
	}

	polynomial := ebus.TelegramPolynomial
	switch {
	case *data:
		polynomial = ebus.DataPolynomial
	case fs.Changed("poly"):
		if polynomial, err = parseByte("polynomial", *poly); err != nil {
			return err
		}
	}

	if *escape {
		bs = ebus.AppendEscapedBytes(nil, bs)
		fmt.Fprintf(stdout, "wire: % X\n", bs)
	}

	fmt.Fprintf(stdout, "0x%02X\n", ebus.CalcCrc(polynomial, bs))

	return nil
}
