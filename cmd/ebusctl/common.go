package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/arloliu/go-ebus/internal/config"
	"github.com/arloliu/go-ebus/logger"
)

// busFlags are the flags of the commands that open the bus. They override the
// configuration file.
type busFlags struct {
	configPath string
	port       string
	address    string
	autoSyn    bool
	logLevel   string
	logFormat  string
}

func (f *busFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "configuration file (.yaml, .yml or .toml)")
	fs.StringVarP(&f.port, "port", "p", "", "serial device or tcp://host:port")
	fs.StringVarP(&f.address, "address", "a", "", "master address of this node, e.g. 0x31")
	fs.BoolVar(&f.autoSyn, "auto-syn", false, "generate SYN while the bus is idle")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "json, text or console")
}

// load reads the configuration file, if any, and applies the flags set on
// the command line.
func (f *busFlags) load(fs *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	if fs.Changed("port") {
		cfg.Bus.Port = f.port
	}
	if fs.Changed("address") {
		cfg.Bus.Address = f.address
	}
	if fs.Changed("auto-syn") {
		cfg.Bus.AutoSyn = f.autoSyn
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setupLogger installs the configured logger as the default logger.
func setupLogger(cfg *config.Config) (logger.Logger, error) {
	opts, err := cfg.LoggerOptions()
	if err != nil {
		return nil, err
	}

	l := logger.New(opts)
	logger.SetDefault(l)

	return l, nil
}

// parseHexBytes parses bytes written as "0x10 0x08", "10 08" or "1008".
func parseHexBytes(args []string) ([]byte, error) {
	var out []byte

	for _, arg := range args {
		for _, field := range strings.Fields(arg) {
			s := strings.TrimPrefix(strings.ToLower(field), "0x")
			if len(s)%2 == 1 {
				s = "0" + s
			}

			b, err := hex.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("invalid hex bytes %q: %w", field, err)
			}
			out = append(out, b...)
		}
	}

	return out, nil
}

func parseByte(name, s string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}

	return byte(v), nil
}
