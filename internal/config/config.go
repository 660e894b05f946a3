// Package config loads the TOML configuration of the countdistinct command.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/alecthomas/units"
	"github.com/pkg/errors"
	"github.com/segmentio/go-hll-agg/hll"
	"github.com/segmentio/go-hll-agg/internal/logger"
)

const (
	DefaultShards    = 4
	DefaultBatchSize = 1024
)

// Size is a number of bytes written as a string such as "64MiB".  The empty
// string and zero mean no limit.
type Size int64

func (s *Size) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = 0
		return nil
	}
	n, err := units.ParseStrictBytes(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid size %q", text)
	}
	*s = Size(n)
	return nil
}

func (s Size) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte{}, nil
	}
	return []byte(units.Base2Bytes(s).String()), nil
}

type Config struct {
	// Precision is log2 of the number of registers per sketch.  When zero
	// it is derived from PrecisionThreshold.
	Precision          int   `toml:"precision"`
	PrecisionThreshold int64 `toml:"precision_threshold"`

	Shards      int  `toml:"shards"`
	BatchSize   int  `toml:"batch_size"`
	MemoryLimit Size `toml:"memory_limit"`

	Log logger.Config `toml:"log"`
}

// NewConfig returns a Config with default values.
func NewConfig() Config {
	return Config{
		Precision: hll.DefaultPrecision,
		Shards:    DefaultShards,
		BatchSize: DefaultBatchSize,
		Log:       logger.DefaultConfig(),
	}
}

// Parse decodes TOML text over the defaults and validates the result.
func Parse(text string) (Config, error) {
	c := NewConfig()
	md, err := toml.Decode(text, &c)
	if err != nil {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	return c.finish(md)
}

// Load decodes the TOML file at path over the defaults and validates the
// result.
func Load(path string) (Config, error) {
	c := NewConfig()
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Config{}, errors.Wrapf(err, "loading config %s", path)
	}
	return c.finish(md)
}

func (c Config) finish(md toml.MetaData) (Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("unknown config key %q", undecoded[0].String())
	}
	// an explicit threshold wins over the default precision
	if md.IsDefined("precision_threshold") && !md.IsDefined("precision") {
		c.Precision = 0
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ResolvedPrecision returns Precision, or the precision derived from
// PrecisionThreshold when Precision is zero.
func (c Config) ResolvedPrecision() int {
	if c.Precision == 0 {
		return hll.PrecisionFromThreshold(c.PrecisionThreshold)
	}
	return c.Precision
}

// Validate returns an error if c is unusable.
func (c Config) Validate() error {
	if c.Precision != 0 {
		if err := hll.ValidatePrecision(c.Precision); err != nil {
			return errors.Wrap(err, "precision")
		}
	} else if c.PrecisionThreshold < 0 {
		return errors.Errorf("precision_threshold must not be negative: %d", c.PrecisionThreshold)
	}
	if c.Shards <= 0 {
		return errors.Errorf("shards must be positive: %d", c.Shards)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be positive: %d", c.BatchSize)
	}
	if c.MemoryLimit < 0 {
		return errors.Errorf("memory_limit must not be negative: %d", c.MemoryLimit)
	}
	return nil
}
