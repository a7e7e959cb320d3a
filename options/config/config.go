// Package config holds the protocol parameters of an endpoint.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/units"
	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
	"github.com/plgd-dev/go-coap-engine/message"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type ErrorFunc = func(error)

// ByteSize is a size in bytes written with binary units, e.g. "1KiB".
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := units.ParseBase2Bytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", text, err)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(units.Base2Bytes(b).String()), nil
}

func (b ByteSize) String() string {
	return units.Base2Bytes(b).String()
}

type Config struct {
	// BlockSize is the preferred block-wise transfer size, a power of two
	// from 16B to 1KiB.
	BlockSize ByteSize `yaml:"blockSize" env:"BLOCK_SIZE"`
	// MaxMessageSize bounds encoded datagrams.
	MaxMessageSize ByteSize `yaml:"maxMessageSize" env:"MAX_MESSAGE_SIZE"`
	// MaxBodySize bounds reassembled bodies, 0 disables the limit.
	MaxBodySize      ByteSize      `yaml:"maxBodySize" env:"MAX_BODY_SIZE"`
	AckTimeout       time.Duration `yaml:"ackTimeout" env:"ACK_TIMEOUT"`
	AckRandomFactor  float64       `yaml:"ackRandomFactor" env:"ACK_RANDOM_FACTOR"`
	MaxRetransmit    int           `yaml:"maxRetransmit" env:"MAX_RETRANSMIT"`
	ExchangeLifetime time.Duration `yaml:"exchangeLifetime" env:"EXCHANGE_LIFETIME"`
	// SweepInterval is the period of the eviction of expired exchanges.
	SweepInterval time.Duration `yaml:"sweepInterval" env:"SWEEP_INTERVAL"`
	TaskQueueSize int           `yaml:"taskQueueSize" env:"TASK_QUEUE_SIZE"`
	SendQueueSize int           `yaml:"sendQueueSize" env:"SEND_QUEUE_SIZE"`
	// StrictOptions rejects messages with unrecognized critical options.
	StrictOptions bool `yaml:"strictOptions" env:"STRICT_OPTIONS"`
}

func Default() Config {
	return Config{
		BlockSize:        ByteSize(units.KiB),
		MaxMessageSize:   ByteSize(64 * units.KiB),
		MaxBodySize:      ByteSize(8 * units.MiB),
		AckTimeout:       2 * time.Second,
		AckRandomFactor:  1.5,
		MaxRetransmit:    4,
		ExchangeLifetime: 247 * time.Second,
		SweepInterval:    time.Second,
		TaskQueueSize:    1024,
		SendQueueSize:    1024,
	}
}

// SZX returns the block size exponent of BlockSize.
func (c Config) SZX() message.SZX {
	szx, err := message.SZXFromSize(int(c.BlockSize))
	if err != nil {
		return message.SZX1024
	}
	return szx
}

func (c Config) Validate() error {
	var errs *multierror.Error
	invalid := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	szx, err := message.SZXFromSize(int(c.BlockSize))
	switch {
	case err != nil, szx > message.SZX1024, szx.Size() != int(c.BlockSize):
		invalid("blockSize %v is not a power of two between 16B and 1KiB", c.BlockSize)
	}
	if c.MaxMessageSize <= c.BlockSize {
		invalid("maxMessageSize %v must exceed blockSize %v", c.MaxMessageSize, c.BlockSize)
	}
	if c.MaxBodySize < 0 {
		invalid("maxBodySize %v", c.MaxBodySize)
	}
	if c.AckTimeout <= 0 {
		invalid("ackTimeout %v", c.AckTimeout)
	}
	if c.AckRandomFactor < 1 {
		invalid("ackRandomFactor %v is less than 1", c.AckRandomFactor)
	}
	if c.MaxRetransmit < 0 {
		invalid("maxRetransmit %v", c.MaxRetransmit)
	}
	if c.ExchangeLifetime <= 0 {
		invalid("exchangeLifetime %v", c.ExchangeLifetime)
	}
	if c.SweepInterval <= 0 {
		invalid("sweepInterval %v", c.SweepInterval)
	}
	if c.TaskQueueSize <= 0 {
		invalid("taskQueueSize %v", c.TaskQueueSize)
	}
	if c.SendQueueSize <= 0 {
		invalid("sendQueueSize %v", c.SendQueueSize)
	}
	return errs.ErrorOrNil()
}

// ApplyEnv overrides c with the variables named prefix + field tag.
func (c *Config) ApplyEnv(prefix string) error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("cannot parse environment: %w", err)
	}
	return nil
}

// FromEnv returns the defaults overridden by the environment.
func FromEnv(prefix string) (Config, error) {
	c := Default()
	if err := c.ApplyEnv(prefix); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// FromYAML returns the defaults overridden by the document read from r.
func FromYAML(r io.Reader) (Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads the YAML file at path, when path is not empty, and then
// applies the environment.
func Load(path, envPrefix string) (Config, error) {
	c := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("cannot open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("cannot decode config %v: %w", path, err)
		}
	}
	if err := c.ApplyEnv(envPrefix); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
