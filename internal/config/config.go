// Package config loads the scanner configuration: a YAML file naming the
// tuners and the tuning list, overridden by environment variables that
// may come from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zsiec/satscan/internal/rtsp"
	"github.com/zsiec/satscan/internal/scan"
)

// Config is the whole configuration file.
type Config struct {
	Tuners   []Tuner  `yaml:"tuners"`
	Tuning   []Tuning `yaml:"tuning"`
	Timeouts Timeouts `yaml:"timeouts"`
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Tuner is one SAT>IP server to scan.
type Tuner struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Mode    string `yaml:"mode"`
	// Source is the src= index (satellite position) used for every entry.
	Source int `yaml:"source"`
	// Interface names the NIC for multicast reception.
	Interface string `yaml:"interface"`
}

// Tuning is one tuning list entry.
type Tuning struct {
	Frequency    float64 `yaml:"frequency"`
	Polarization string  `yaml:"polarization"`
	SymbolRate   int     `yaml:"symbol_rate"`
	FEC          string  `yaml:"fec"`
	System       string  `yaml:"system"`
	Modulation   string  `yaml:"modulation"`
	Pilots       string  `yaml:"pilots"`
	RollOff      string  `yaml:"roll_off"`
}

type Timeouts struct {
	Request Duration `yaml:"request"`
	Table   Duration `yaml:"table"`
	Settle  Duration `yaml:"settle"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Metrics struct {
	// Addr is the listen address of the status API and /metrics. Empty
	// disables the server.
	Addr string `yaml:"addr"`
}

// Duration reads a YAML string such as "5s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Environment overrides.
const (
	EnvTuner       = "SATSCAN_TUNER"
	EnvMetricsAddr = "SATSCAN_METRICS_ADDR"
	EnvLogLevel    = "LOG_LEVEL"
	EnvLogFormat   = "LOG_FORMAT"
	EnvDebug       = "DEBUG"
)

// LoadDotEnv loads environment variables from the given files, ".env" by
// default. Missing files are not an error; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: %w", err)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, os.Getenv)
}

// Parse builds a Config from YAML data, reading overrides through getenv.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	c.applyEnv(getenv)
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// applyEnv applies overrides. SATSCAN_TUNER is "address" or
// "name=address" and replaces the configured tuner list.
func (c *Config) applyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvTuner)); v != "" {
		t := Tuner{Address: v}
		if name, addr, ok := strings.Cut(v, "="); ok {
			t = Tuner{Name: name, Address: addr}
		}
		c.Tuners = []Tuner{t}
	}
	if v := getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Addr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	if getenv(EnvDebug) != "" {
		c.Log.Level = "debug"
	}
}

func (c *Config) applyDefaults() {
	for i := range c.Tuners {
		t := &c.Tuners[i]
		if t.Name == "" {
			t.Name = t.Address
		}
		if t.Port == 0 {
			t.Port = rtsp.DefaultPort
		}
		if t.Source == 0 {
			t.Source = scan.DefaultSource
		}
	}
	if c.Timeouts.Request == 0 {
		c.Timeouts.Request = Duration(rtsp.DefaultRequestTimeout)
	}
	if c.Timeouts.Table == 0 {
		c.Timeouts.Table = Duration(scan.DefaultTableTimeout)
	}
	if c.Timeouts.Settle == 0 {
		c.Timeouts.Settle = Duration(scan.DefaultSettleDelay)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Tuners) == 0 {
		errs = append(errs, errors.New("no tuners configured"))
	}
	seen := make(map[string]bool)
	for i, t := range c.Tuners {
		if t.Address == "" {
			errs = append(errs, fmt.Errorf("tuners[%d]: address is required", i))
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tuners[%d]: duplicate name %q", i, t.Name))
		}
		seen[t.Name] = true
		if t.Port < 0 || t.Port > 65535 {
			errs = append(errs, fmt.Errorf("tuners[%d]: port %d out of range", i, t.Port))
		}
		if _, err := rtsp.ParseMode(t.Mode); err != nil {
			errs = append(errs, fmt.Errorf("tuners[%d]: %w", i, err))
		}
	}
	if len(c.Tuning) == 0 {
		errs = append(errs, errors.New("tuning list is empty"))
	}
	for i, e := range c.Tuning {
		if _, err := e.Parameters(1); err != nil {
			errs = append(errs, fmt.Errorf("tuning[%d]: %w", i, err))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Parameters converts the entry for the given source index.
func (e Tuning) Parameters(source int) (scan.TuningParameters, error) {
	if e.Frequency <= 0 {
		return scan.TuningParameters{}, fmt.Errorf("frequency %v must be positive", e.Frequency)
	}
	switch strings.ToLower(e.Polarization) {
	case "h", "v", "l", "r":
	default:
		return scan.TuningParameters{}, fmt.Errorf("polarization %q is not one of h, v, l, r", e.Polarization)
	}
	if e.SymbolRate <= 0 {
		return scan.TuningParameters{}, fmt.Errorf("symbol_rate %d must be positive", e.SymbolRate)
	}
	sys, err := scan.ParseSystem(e.System)
	if err != nil {
		return scan.TuningParameters{}, err
	}
	return scan.TuningParameters{
		Source:       source,
		Frequency:    e.Frequency,
		Polarization: e.Polarization,
		SymbolRate:   e.SymbolRate,
		FEC:          e.FEC,
		System:       sys,
		Modulation:   e.Modulation,
		Pilots:       e.Pilots,
		RollOff:      e.RollOff,
	}, nil
}

// Entries returns the tuning list for tuner t.
func (c *Config) Entries(t Tuner) ([]scan.TuningParameters, error) {
	out := make([]scan.TuningParameters, 0, len(c.Tuning))
	for i, e := range c.Tuning {
		p, err := e.Parameters(t.Source)
		if err != nil {
			return nil, fmt.Errorf("config: tuning[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
