package config

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config is the immutable master configuration. It is parsed once at
// startup and passed by value into every actor; nothing mutates it
// afterwards.
type Config struct {
	// Database is the path of the SQLite database file.
	Database string `yaml:"database"`

	// Output is the root of the served filesystem area: wheels under
	// simple/<package>/, rendered index pages alongside them.
	Output string `yaml:"output"`

	// BindAddr is the address the master's HTTP surface listens on.
	BindAddr string `yaml:"bind-addr"`

	// PyPIURL is the upstream index to poll for new versions.
	PyPIURL string `yaml:"pypi-url"`

	// ABIs is the set of ABI tags the farm builds for.
	ABIs []string `yaml:"abis"`

	// DBWorkers is the size of the database worker pool.
	DBWorkers int `yaml:"db-workers"`

	// QueueSize bounds the broker and secretary inbound queues.
	QueueSize int `yaml:"queue-size"`

	// TransferRetries caps the number of hash-mismatched uploads of one
	// file; the mismatch that reaches the cap fails the build.
	TransferRetries int `yaml:"transfer-retries"`

	// PollInterval is the upstream poll cadence.
	PollInterval Duration `yaml:"poll-interval"`

	// IndexInterval is the scribe drain cadence; rewrites requested
	// within one cycle coalesce.
	IndexInterval Duration `yaml:"index-interval"`

	// StatusInterval is the statistics broadcast cadence.
	StatusInterval Duration `yaml:"status-interval"`

	// BusyTimeout retires a slave that has been silent while building
	// or sending.
	BusyTimeout Duration `yaml:"busy-timeout"`

	// IdleTimeout drops a slave that has been silent while idle.
	IdleTimeout Duration `yaml:"idle-timeout"`

	// SleepMin is the first duration an idle slave is told to sleep
	// when no build is pending.
	SleepMin Duration `yaml:"sleep-min"`

	// SleepMax caps the sleep backoff.
	SleepMax Duration `yaml:"sleep-max"`
}

// Duration wraps time.Duration so it can be parsed from "10s" style
// YAML values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var value string
	if err := unmarshal(&value); err != nil {
		return errors.WithStack(err)
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", value)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration the master runs with when a value
// is not supplied.
func Default() Config {
	return Config{
		Database:        "piwheels.db",
		Output:          "www",
		BindAddr:        "127.0.0.1:8080",
		PyPIURL:         "https://pypi.org",
		ABIs:            []string{"cp39m"},
		DBWorkers:       3,
		QueueSize:       64,
		TransferRetries: 3,
		PollInterval:    Duration(10 * time.Minute),
		IndexInterval:   Duration(time.Second),
		StatusInterval:  Duration(30 * time.Second),
		BusyTimeout:     Duration(5 * time.Minute),
		IdleTimeout:     Duration(30 * time.Minute),
		SleepMin:        Duration(10 * time.Second),
		SleepMax:        Duration(10 * time.Minute),
	}
}

// Read parses the YAML file at path over the defaults.
func Read(path string) (Config, error) {
	bytes, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %q", path)
	}
	return Parse(bytes)
}

// Parse parses YAML bytes over the defaults.
func Parse(bytes []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.WithStack(err)
	}
	return cfg, nil
}

// Validate reports the first nonsensical value.
func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("database path is required")
	}
	if c.Output == "" {
		return errors.New("output path is required")
	}
	if len(c.ABIs) == 0 {
		return errors.New("at least one build ABI is required")
	}
	if c.DBWorkers < 1 {
		return errors.Errorf("db-workers must be positive, got %d", c.DBWorkers)
	}
	if c.TransferRetries < 1 {
		return errors.Errorf("transfer-retries must be positive, got %d", c.TransferRetries)
	}
	if c.SleepMin <= 0 || c.SleepMax < c.SleepMin {
		return errors.New("sleep-min must be positive and no greater than sleep-max")
	}
	if c.BusyTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("busy-timeout and idle-timeout must be positive")
	}
	return nil
}
