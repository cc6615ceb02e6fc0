// Package config loads the host/port/timeout/log-level settings an
// integration-test harness or example program needs to dial the
// instrument, as an alternative to constructing awg.Controller and
// capture.Controller directly with literal arguments.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lattice-rf/awgctrl/logging"
	"github.com/lattice-rf/awgctrl/memmap"
	"github.com/lattice-rf/awgctrl/transport"
)

// Config describes one instrument endpoint: its IP address, the three UDP
// ports it listens on, per-transport timeout/retry behavior, and the log
// level a harness should configure.
type Config struct {
	// Host is the instrument's IP address or hostname.
	Host string `yaml:"host"`
	// AwgRegPort is the UDP port serving AWG register space.
	AwgRegPort uint16 `yaml:"awg_reg_port"`
	// WaveRamPort is the UDP port serving wave-RAM space (samples and
	// both registries).
	WaveRamPort uint16 `yaml:"wave_ram_port"`
	// CaptureRegPort is the UDP port serving capture register space.
	CaptureRegPort uint16 `yaml:"capture_reg_port"`
	// Transport configures the per-request timeout and retry budget
	// shared by all three transports dialed against Host.
	Transport TransportConfig `yaml:"transport"`
	// Logging configures the harness's logger.
	Logging logging.Config `yaml:"logging"`
}

// TransportConfig is the timeout/retry portion of transport.Config common
// to every endpoint this instrument exposes.
type TransportConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Retries uint          `yaml:"retries"`
}

// DefaultConfig returns the instrument's default port assignments and
// transport timing, with no host set.
func DefaultConfig() *Config {
	return &Config{
		AwgRegPort:     memmap.DefaultAwgRegPort,
		WaveRamPort:    memmap.DefaultWaveRamPort,
		CaptureRegPort: memmap.DefaultCaptureRegPort,
		Transport: TransportConfig{
			Timeout: transport.DefaultTimeout,
			Retries: transport.DefaultRetries,
		},
	}
}

// Load reads and parses a YAML configuration file at path, starting from
// DefaultConfig so a file that only overrides Host still gets sane port and
// timeout defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML configuration: %w", err)
	}
	return cfg, nil
}

// AwgRegConfig returns the transport.Config for this instrument's AWG
// register endpoint.
func (c *Config) AwgRegConfig() transport.Config {
	return transport.Config{Host: c.Host, Port: c.AwgRegPort, Timeout: c.Transport.Timeout, Retries: c.Transport.Retries}
}

// WaveRamConfig returns the transport.Config for this instrument's shared
// wave-RAM endpoint.
func (c *Config) WaveRamConfig() transport.Config {
	return transport.Config{Host: c.Host, Port: c.WaveRamPort, Timeout: c.Transport.Timeout, Retries: c.Transport.Retries}
}

// CaptureRegConfig returns the transport.Config for this instrument's
// capture register endpoint.
func (c *Config) CaptureRegConfig() transport.Config {
	return transport.Config{Host: c.Host, Port: c.CaptureRegPort, Timeout: c.Transport.Timeout, Retries: c.Transport.Retries}
}
