package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/arloliu/go-ebus/ebus"
)

// sendRequest is what the send command puts on the bus.
type sendRequest struct {
	dest    byte
	service uint16
	data    []byte
	dataCrc bool
}

func parseSendRequest(dest, service, data string, dataCrc bool) (sendRequest, error) {
	if dest == "" {
		return sendRequest{}, errors.New("send: --dest is required")
	}

	d, err := parseByte("destination", dest)
	if err != nil {
		return sendRequest{}, err
	}

	svc, err := strconv.ParseUint(service, 0, 16)
	if err != nil {
		return sendRequest{}, fmt.Errorf("invalid service %q: %w", service, err)
	}

	payload, err := parseHexBytes([]string{data})
	if err != nil {
		return sendRequest{}, err
	}

	return sendRequest{dest: d, service: uint16(svc), data: payload, dataCrc: dataCrc}, nil
}

func (r sendRequest) telegram(src byte) (ebus.MasterTelegram, error) {
	return ebus.NewMasterTelegram(src, r.dest, r.service, r.data, ebus.TelegramFlags{
		ExpectReply:  ebus.IsSlaveAddr(r.dest),
		NeedsDataCrc: r.dataCrc,
	})
}

func runSend(args []string, stdout io.Writer) error {
	fs := newFlagSet("send", stdout)

	var bf busFlags
	bf.register(fs)
	dest := fs.StringP("dest", "d", "", "destination address, e.g. 0x08")
	service := fs.StringP("service", "s", "0x0700", "service code PB SB, e.g. 0xB509")
	data := fs.String("data", "", "hex payload")
	dataCrc := fs.Bool("data-crc", false, "prefix the payload with a data CRC")
	timeout := fs.Duration("timeout", 5*time.Second, "time to wait for the outcome")

	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := parseSendRequest(*dest, *service, *data, *dataCrc)
	if err != nil {
		return err
	}

	cfg, err := bf.load(fs)
	if err != nil {
		return err
	}
	l, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	addr, err := cfg.MasterAddr()
	if err != nil {
		return err
	}
	mt, err := req.telegram(addr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBus(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	res, err := b.Send(ctx, mt)
	if err != nil {
		return fmt.Errorf("send %s: %w", mt, err)
	}

	if reply, ok := res.AsReply(); ok {
		fmt.Fprintf(stdout, "% X\n", reply)
	} else {
		fmt.Fprintln(stdout, res.Kind)
	}

	return nil
}
