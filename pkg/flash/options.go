package flash

import (
	"github.com/roffe/kwpflash/pkg/firmware"
	"github.com/roffe/kwpflash/pkg/kwp2000"
)

// DefaultLogicalID is the TP 2.0 logical id of the engine ECU
const DefaultLogicalID = 0x09

type Config struct {
	LogicalID byte
	NewClient ClientFactory
	Confirmer Confirmer
	Prompt    string
	Variant   *firmware.Variant
	Observer  StateObserver
	Progress  func(int)
	Reconnect []ReconnectOption
}

type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		LogicalID: DefaultLogicalID,
		NewClient: func(t Transport) DiagnosticClient {
			return kwp2000.New(t)
		},
		Prompt: "continue",
	}
}

func WithLogicalID(id byte) Option {
	return func(c *Config) {
		c.LogicalID = id
	}
}

func WithClientFactory(f ClientFactory) Option {
	return func(c *Config) {
		c.NewClient = f
	}
}

// WithConfirmer gates the session on an operator answer before any bus traffic
func WithConfirmer(cf Confirmer, prompt string) Option {
	return func(c *Config) {
		c.Confirmer = cf
		if prompt != "" {
			c.Prompt = prompt
		}
	}
}

// WithVariant makes the pre-flight check the image size and checksums for v
func WithVariant(v *firmware.Variant) Option {
	return func(c *Config) {
		c.Variant = v
	}
}

func WithObserver(o StateObserver) Option {
	return func(c *Config) {
		c.Observer = o
	}
}

func WithProgress(f func(int)) Option {
	return func(c *Config) {
		c.Progress = f
	}
}

func WithReconnectOptions(opts ...ReconnectOption) Option {
	return func(c *Config) {
		c.Reconnect = append(c.Reconnect, opts...)
	}
}
