// Package config loads coordinator and worker settings from a YAML file,
// then overlays POW_* environment variables. Command-line flags are applied
// last by the binaries themselves.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Config is the root of a configuration file. Both binaries read the same
// file; each uses Search plus its own section.
type Config struct {
	Search      Search      `yaml:"search"`
	Coordinator Coordinator `yaml:"coordinator"`
	Worker      Worker      `yaml:"worker"`
	Log         Log         `yaml:"log"`
}

// Search holds the parameters coordinator and workers must agree on.
type Search struct {
	Seed       string `yaml:"seed"`
	ZeroPrefix int    `yaml:"zero_prefix"` // leading '0' hex digits required
	Step       uint64 `yaml:"step"`        // width of every work unit
}

// Coordinator configures the lease server.
type Coordinator struct {
	ListenAddr       string        `yaml:"listen_addr"`
	AdminAddr        string        `yaml:"admin_addr"` // empty disables the admin HTTP server
	MetricsNamespace string        `yaml:"metrics_namespace"`
	UnitCount        int           `yaml:"unit_count"`
	LeaseTimeout     time.Duration `yaml:"lease_timeout"`  // e.g. "30s"
	SweepInterval    time.Duration `yaml:"sweep_interval"` // e.g. "10s"
	IOTimeout        time.Duration `yaml:"io_timeout"`
}

// Worker configures a worker session.
type Worker struct {
	CoordinatorAddr  string        `yaml:"coordinator_addr"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`     // first backoff, doubled per attempt
	MaxRetryDelay    time.Duration `yaml:"max_retry_delay"` // backoff cap
	WaitDelay        time.Duration `yaml:"wait_delay"`      // sleep after WAIT
	IOTimeout        time.Duration `yaml:"io_timeout"`
	Parallelism      int           `yaml:"parallelism"` // 0 means GOMAXPROCS
	ProgressEvery    uint64        `yaml:"progress_every"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	StopOnFound      bool          `yaml:"stop_on_found"`
}

// Log selects the logger level and format.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Search: Search{
			Seed:       "Crefax",
			ZeroPrefix: 8,
			Step:       10_000_000,
		},
		Coordinator: Coordinator{
			ListenAddr:       "127.0.0.1:22900",
			AdminAddr:        "127.0.0.1:22901",
			MetricsNamespace: "powlease",
			UnitCount:        1000,
			LeaseTimeout:     30 * time.Second,
			SweepInterval:    10 * time.Second,
			IOTimeout:        30 * time.Second,
		},
		Worker: Worker{
			CoordinatorAddr:  "127.0.0.1:22900",
			MaxRetries:       5,
			RetryDelay:       time.Second,
			MaxRetryDelay:    30 * time.Second,
			WaitDelay:        5 * time.Second,
			IOTimeout:        30 * time.Second,
			ProgressEvery:    1_000_000,
			ProgressInterval: 5 * time.Second,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := Decode(bytes.NewReader(b), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r into cfg, keeping fields the document omits.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch {
	case c.Search.Seed == "":
		add("search.seed must not be empty")
	case strings.ContainsFunc(c.Search.Seed, unicode.IsSpace):
		// the seed travels inside the space separated RESULT line
		add("search.seed %q must not contain whitespace", c.Search.Seed)
	}
	if c.Search.ZeroPrefix < 1 || c.Search.ZeroPrefix > 64 {
		add("search.zero_prefix %d out of range [1, 64]", c.Search.ZeroPrefix)
	}
	if c.Search.Step == 0 {
		add("search.step must be > 0")
	}

	if c.Coordinator.ListenAddr == "" {
		add("coordinator.listen_addr must not be empty")
	}
	if c.Coordinator.UnitCount < 1 {
		add("coordinator.unit_count %d must be >= 1", c.Coordinator.UnitCount)
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"coordinator.lease_timeout", c.Coordinator.LeaseTimeout},
		{"coordinator.sweep_interval", c.Coordinator.SweepInterval},
		{"coordinator.io_timeout", c.Coordinator.IOTimeout},
		{"worker.retry_delay", c.Worker.RetryDelay},
		{"worker.wait_delay", c.Worker.WaitDelay},
		{"worker.io_timeout", c.Worker.IOTimeout},
	} {
		if d.value <= 0 {
			add("%s %v must be > 0", d.name, d.value)
		}
	}

	if c.Worker.CoordinatorAddr == "" {
		add("worker.coordinator_addr must not be empty")
	}
	if c.Worker.MaxRetries < 1 {
		add("worker.max_retries %d must be >= 1", c.Worker.MaxRetries)
	}
	if c.Worker.MaxRetryDelay < c.Worker.RetryDelay {
		add("worker.max_retry_delay %v is below worker.retry_delay %v", c.Worker.MaxRetryDelay, c.Worker.RetryDelay)
	}
	if c.Worker.Parallelism < 0 {
		add("worker.parallelism %d must be >= 0", c.Worker.Parallelism)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format %q must be text or json", c.Log.Format)
	}
	return errors.Join(errs...)
}
