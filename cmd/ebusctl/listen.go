package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-ebus/bus"
	"github.com/arloliu/go-ebus/ebus"
	"github.com/arloliu/go-ebus/internal/config"
	"github.com/arloliu/go-ebus/logger"
	"github.com/arloliu/go-ebus/monitor"
)

func runListen(args []string, stdout io.Writer) error {
	fs := newFlagSet("listen", stdout)

	var bf busFlags
	bf.register(fs)
	reply := fs.String("reply", "", "hex payload answering every request to the slave address")
	monitorAddr := fs.String("monitor", "", "serve the websocket monitor on this address, e.g. :8080")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := bf.load(fs)
	if err != nil {
		return err
	}
	if fs.Changed("monitor") {
		cfg.Monitor.Listen = *monitorAddr
	}

	l, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	var opts []bus.Option
	if *reply != "" {
		data, err := parseHexBytes([]string{*reply})
		if err != nil {
			return err
		}
		if len(data) > ebus.MaxDataLen {
			return fmt.Errorf("reply of %d bytes exceeds %d bytes", len(data), ebus.MaxDataLen)
		}

		opts = append(opts, bus.WithRequestHandler(func(ebus.MasterTelegram) ([]byte, error) {
			return data, nil
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBus(ctx, cfg, l, opts...)
	if err != nil {
		return err
	}
	defer b.Close()

	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	if cfg.Monitor.Listen != "" {
		srv, err := startMonitor(ctx, cfg, b, l)
		if err != nil {
			return err
		}
		defer srv.Close()

		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Monitor.Listen); err != nil {
				l.Error("ebusctl: monitor stopped", "error", err)
				stop()
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			l.Info("ebusctl: shutting down")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			logEvent(l, ev)
		}
	}
}

// openBus opens the configured port and starts a bus on it.
func openBus(ctx context.Context, cfg *config.Config, l logger.Logger, extra ...bus.Option) (*bus.Bus, error) {
	addr, err := cfg.MasterAddr()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.BusOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, bus.WithLogger(l))
	opts = append(opts, extra...)

	port, err := cfg.OpenPort(ctx)
	if err != nil {
		return nil, err
	}

	b, err := bus.New(ctx, port, addr, opts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	if err := b.Open(); err != nil {
		_ = b.Close()
		return nil, err
	}

	return b, nil
}

func startMonitor(ctx context.Context, cfg *config.Config, src monitor.Source, l logger.Logger) (*monitor.Server, error) {
	opts, err := cfg.MonitorOptions()
	if err != nil {
		return nil, err
	}

	srv, err := monitor.NewServer(ctx, src, append(opts, monitor.WithLogger(l))...)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}

	return srv, nil
}

func logEvent(l logger.Logger, ev bus.Event) {
	switch ev.Type {
	case bus.EventResult:
		res := ev.Result
		l.Info("ebusctl: result", "result", res.String(), "telegram", res.Telegram.String())
	case bus.EventTelegram:
		l.Info("ebusctl: telegram", "telegram", ev.Telegram.String(), "crcOk", ev.CrcOK)
	}
}
