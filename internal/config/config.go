// Package config loads and validates the throttle server's configuration:
// the semaphore table, HTTP listener, logging, and driver cadences.
// Grounded on access/pagerduty's Config/LoadConfig/CheckAndSetDefaults
// shape in the teacher repository.
package config

import (
	"time"

	"github.com/gravitational/trace"
	"github.com/pelletier/go-toml"
)

// Config is the full on-disk configuration for a throttle server.
type Config struct {
	// Semaphores maps each configured semaphore name to its maximum
	// concurrent count. Fixed at construction; this is the universe of
	// valid semaphore names (spec.md §3).
	Semaphores map[string]int64 `toml:"semaphores"`

	HTTP HTTPConfig `toml:"http"`
	Log  LogConfig  `toml:"log"`

	// ExpiryInterval is the cadence of the litter-collection sweep
	// (spec.md §4.3). Stored as a parseable Go duration string
	// ("500ms", "1s") rather than a humantime-style value, since no
	// humantime-equivalent library appears anywhere in the retrieval
	// pack; see SPEC_FULL.md §3.5.
	ExpiryInterval string `toml:"expiry_interval"`

	// MetricsInterval is the cadence of the metrics reporter (spec.md §6).
	MetricsInterval string `toml:"metrics_interval"`
}

// HTTPConfig configures the request adapter's listener.
type HTTPConfig struct {
	Listen string `toml:"listen"`
}

// LogConfig controls logging, mirroring utils.LogConfig in the teacher.
type LogConfig struct {
	// Output is "stdout", "stderr", or a file path.
	Output string `toml:"output"`
	// Severity is "debug", "info", "warn", or "error".
	Severity string `toml:"severity"`
	// Remote optionally names a structured log aggregator to ship to.
	// No such backend is wired up (see SPEC_FULL.md §3.1); when set,
	// Setup logs a warning and falls back to Output/Severity instead.
	Remote *RemoteLogConfig `toml:"remote"`
}

// RemoteLogConfig names a remote structured-logging target. It preserves
// the shape of the Rust original's GelfConfig but has no backend
// implementation in this repository.
type RemoteLogConfig struct {
	Name  string `toml:"name"`
	Host  string `toml:"host"`
	Port  uint16 `toml:"port"`
	Level string `toml:"level"`
}

const exampleConfig = `# example throttle configuration TOML file

expiry_interval = "1s"    # litter-collection sweep cadence
metrics_interval = "10s"  # metrics snapshot cadence

[semaphores]
# Each entry is a semaphore name and its maximum concurrent count.
database = 10
worker_pool = 4

[http]
listen = "0.0.0.0:8080" # address the request adapter listens on

[log]
output = "stderr"  # "stdout", "stderr", or a file path
severity = "INFO"   # "INFO", "ERROR", "DEBUG", or "WARN"
`

// ExampleConfig returns the example TOML configuration printed by the
// "configure" CLI subcommand.
func ExampleConfig() string {
	return exampleConfig
}

// LoadConfig reads, parses, and validates the TOML file at path.
func LoadConfig(path string) (*Config, error) {
	t, err := toml.LoadFile(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	conf := &Config{}
	if err := t.Unmarshal(conf); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return conf, nil
}

// CheckAndSetDefaults validates the configuration and fills in defaults,
// the way access/pagerduty's Config.CheckAndSetDefaults does.
func (c *Config) CheckAndSetDefaults() error {
	if len(c.Semaphores) == 0 {
		return trace.BadParameter("at least one semaphore must be configured")
	}
	for name, max := range c.Semaphores {
		if name == "" {
			return trace.BadParameter("semaphore names must not be empty")
		}
		if max < 0 {
			return trace.BadParameter("semaphore %q: max must be non-negative, got %d", name, max)
		}
	}

	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}

	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
	if c.Log.Severity == "" {
		c.Log.Severity = "info"
	}

	if c.ExpiryInterval == "" {
		c.ExpiryInterval = "1s"
	}
	if _, err := time.ParseDuration(c.ExpiryInterval); err != nil {
		return trace.BadParameter("expiry_interval: %v", err)
	}

	if c.MetricsInterval == "" {
		c.MetricsInterval = "10s"
	}
	if _, err := time.ParseDuration(c.MetricsInterval); err != nil {
		return trace.BadParameter("metrics_interval: %v", err)
	}

	return nil
}

// ExpiryIntervalDuration parses ExpiryInterval. It is only called after
// CheckAndSetDefaults has validated it, so the error is not expected.
func (c *Config) ExpiryIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.ExpiryInterval)
	return d
}

// MetricsIntervalDuration parses MetricsInterval; see ExpiryIntervalDuration.
func (c *Config) MetricsIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.MetricsInterval)
	return d
}
