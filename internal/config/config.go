// Package config loads the configuration file of ebusctl.
//
// The file is YAML (.yaml, .yml) or TOML (.toml). Keys missing from the file
// keep their defaults. Durations are written as Go duration strings such as
// "50ms".
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-ebus/bus"
	"github.com/arloliu/go-ebus/ebus"
	"github.com/arloliu/go-ebus/logger"
	"github.com/arloliu/go-ebus/monitor"
)

// tcpScheme prefixes a port that is a network bus adapter.
const tcpScheme = "tcp://"

// Config is the configuration file.
type Config struct {
	Bus     BusConfig     `yaml:"bus" toml:"bus"`
	Driver  DriverConfig  `yaml:"driver" toml:"driver"`
	Monitor MonitorConfig `yaml:"monitor" toml:"monitor"`
	Log     LogConfig     `yaml:"log" toml:"log"`
}

// BusConfig configures the bus runtime.
type BusConfig struct {
	// Address is the master address of this node, e.g. "0x31".
	Address string `yaml:"address" toml:"address"`
	// Port is a serial device such as /dev/ttyUSB0, or tcp://host:port.
	Port        string `yaml:"port" toml:"port"`
	DialTimeout string `yaml:"dial_timeout" toml:"dial_timeout"`
	AutoSyn     bool   `yaml:"auto_syn" toml:"auto_syn"`
	IdleTimeout string `yaml:"idle_timeout" toml:"idle_timeout"`
	SendTimeout string `yaml:"send_timeout" toml:"send_timeout"`
	EventBuffer int    `yaml:"event_buffer" toml:"event_buffer"`
}

// DriverConfig configures the protocol driver.
type DriverConfig struct {
	Fairness   int `yaml:"fairness" toml:"fairness"`
	RetryLimit int `yaml:"retry_limit" toml:"retry_limit"`
	QueueSize  int `yaml:"queue_size" toml:"queue_size"`
}

// MonitorConfig configures the websocket monitor. An empty Listen disables it.
type MonitorConfig struct {
	Listen       string `yaml:"listen" toml:"listen"`
	PingInterval string `yaml:"ping_interval" toml:"ping_interval"`
	ClientBuffer int    `yaml:"client_buffer" toml:"client_buffer"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level     string `yaml:"level" toml:"level"`
	Format    string `yaml:"format" toml:"format"`
	AddSource bool   `yaml:"add_source" toml:"add_source"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Address:     "0x31",
			Port:        "/dev/ttyUSB0",
			DialTimeout: "5s",
			IdleTimeout: bus.DefaultIdleTimeout.String(),
			SendTimeout: bus.DefaultSendTimeout.String(),
			EventBuffer: bus.DefaultEventBuffer,
		},
		Driver: DriverConfig{
			Fairness:   ebus.DefaultFairness,
			RetryLimit: ebus.DefaultRetryLimit,
			QueueSize:  ebus.DefaultQueueSize,
		},
		Monitor: MonitorConfig{
			PingInterval: monitor.DefaultPingInterval.String(),
			ClientBuffer: monitor.DefaultClientBuffer,
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logger.FormatJSON),
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	cfg := Default()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.MasterAddr(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Bus.Port) == "" {
		errs = append(errs, errors.New("config: bus.port is required"))
	}

	durations := []struct {
		key    string
		val    string
		lo, hi time.Duration
	}{
		{"bus.dial_timeout", c.Bus.DialTimeout, time.Millisecond, time.Minute},
		{"bus.idle_timeout", c.Bus.IdleTimeout, bus.MinIdleTimeout, bus.MaxIdleTimeout},
		{"bus.send_timeout", c.Bus.SendTimeout, bus.MinSendTimeout, bus.MaxSendTimeout},
		{"monitor.ping_interval", c.Monitor.PingInterval, time.Second, time.Hour},
	}
	for _, d := range durations {
		if err := checkDuration(d.key, d.val, d.lo, d.hi); err != nil {
			errs = append(errs, err)
		}
	}

	ints := []struct {
		key    string
		val    int
		lo, hi int
	}{
		{"bus.event_buffer", c.Bus.EventBuffer, 1, 1 << 16},
		{"driver.fairness", c.Driver.Fairness, 0, ebus.MaxFairness},
		{"driver.retry_limit", c.Driver.RetryLimit, 1, ebus.MaxRetryLimit},
		{"driver.queue_size", c.Driver.QueueSize, 1, ebus.MaxQueueSize},
		{"monitor.client_buffer", c.Monitor.ClientBuffer, 1, 1 << 16},
	}
	for _, n := range ints {
		if n.val < n.lo || n.val > n.hi {
			errs = append(errs, fmt.Errorf("config: %s %d out of range [%d, %d]", n.key, n.val, n.lo, n.hi))
		}
	}

	if _, err := c.LoggerOptions(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// MasterAddr parses the bus address.
func (c *Config) MasterAddr() (byte, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(c.Bus.Address), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("config: bus.address %q: %w", c.Bus.Address, err)
	}

	addr := byte(v)
	if !ebus.IsMasterAddr(addr) {
		return 0, fmt.Errorf("config: bus.address 0x%02X is not a master address", addr)
	}

	return addr, nil
}

// DriverOptions returns the protocol driver options.
func (c *Config) DriverOptions() []ebus.Option {
	return []ebus.Option{
		ebus.WithFairness(c.Driver.Fairness),
		ebus.WithRetryLimit(c.Driver.RetryLimit),
		ebus.WithQueueSize(c.Driver.QueueSize),
	}
}

// BusOptions returns the bus runtime options, driver options included.
func (c *Config) BusOptions() ([]bus.Option, error) {
	idle, err := parseDuration("bus.idle_timeout", c.Bus.IdleTimeout)
	if err != nil {
		return nil, err
	}
	send, err := parseDuration("bus.send_timeout", c.Bus.SendTimeout)
	if err != nil {
		return nil, err
	}

	opts := []bus.Option{
		bus.WithIdleTimeout(idle),
		bus.WithSendTimeout(send),
		bus.WithAutoSyn(c.Bus.AutoSyn),
		bus.WithEventBuffer(c.Bus.EventBuffer),
		bus.WithDriverOptions(c.DriverOptions()...),
	}

	return opts, nil
}

// MonitorOptions returns the monitor options.
func (c *Config) MonitorOptions() ([]monitor.Option, error) {
	ping, err := parseDuration("monitor.ping_interval", c.Monitor.PingInterval)
	if err != nil {
		return nil, err
	}

	return []monitor.Option{
		monitor.WithPingInterval(ping),
		monitor.WithClientBuffer(c.Monitor.ClientBuffer),
	}, nil
}

// LoggerOptions returns the logger options.
func (c *Config) LoggerOptions() (logger.Options, error) {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return logger.Options{}, fmt.Errorf("config: log.level: %w", err)
	}
	format, err := logger.ParseFormat(c.Log.Format)
	if err != nil {
		return logger.Options{}, fmt.Errorf("config: log.format: %w", err)
	}

	return logger.Options{Level: level, Format: format, AddSource: c.Log.AddSource}, nil
}

// OpenPort opens the configured serial port or dials the configured adapter.
func (c *Config) OpenPort(ctx context.Context) (bus.Port, error) {
	port := strings.TrimSpace(c.Bus.Port)

	if addr, ok := strings.CutPrefix(port, tcpScheme); ok {
		timeout, err := parseDuration("bus.dial_timeout", c.Bus.DialTimeout)
		if err != nil {
			return nil, err
		}

		return bus.DialTCP(ctx, addr, timeout)
	}

	return bus.OpenSerial(port)
}

func checkDuration(key, s string, minVal, maxVal time.Duration) error {
	d, err := parseDuration(key, s)
	if err != nil {
		return err
	}
	if d < minVal || d > maxVal {
		return fmt.Errorf("config: %s %v out of range [%v, %v]", key, d, minVal, maxVal)
	}

	return nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}

	return d, nil
}
