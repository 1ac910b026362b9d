// Package config loads and validates the receiver's YAML configuration: a
// top-level Config struct nesting per-concern sub-configs (ring buffer,
// logging, telemetry, metrics) alongside the DSP-relevant fields.
package config

import (
	"fmt"
	"os"

	"github.com/bramburn/gnssreceiver/internal/gpsconst"
	"gopkg.in/yaml.v3"
)

// Config is the top-level receiver configuration.
type Config struct {
	SampleRateHz            float64 `yaml:"sample_rate_hz"`
	CenterFrequencyHz       float64 `yaml:"center_frequency_hz"`
	IntermediateFrequencyHz float64 `yaml:"intermediate_frequency_hz"`
	IsComplex               bool    `yaml:"is_complex"`
	GainDB                  float64 `yaml:"gain_db"`
	PPMCorrection           float64 `yaml:"ppm_correction"`
	BandwidthHz             float64 `yaml:"bandwidth_hz"`
	PRNMask                 []int   `yaml:"prn_mask"`

	RingBuffer RingBufferConfig `yaml:"ring_buffer"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RingBufferConfig sizes the sample ring buffer.
type RingBufferConfig struct {
	NumBlocks int `yaml:"num_blocks"`
	BlockSize int `yaml:"block_size"`
}

// LoggingConfig controls logrus's verbosity and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig controls the websocket telemetry fan-out.
type TelemetryConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// applyDefaults mirrors the original's APP_BUFFER_NUM x BUFFER_SIZE sizing and a
// full 1..32 PRN sweep, applied to any field the YAML document left zero.
func (c *Config) applyDefaults() {
	if c.RingBuffer.NumBlocks == 0 {
		c.RingBuffer.NumBlocks = gpsconst.DefaultRingBlocks
	}
	if c.RingBuffer.BlockSize == 0 {
		c.RingBuffer.BlockSize = gpsconst.DefaultRingBlockSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if len(c.PRNMask) == 0 {
		c.PRNMask = make([]int, 0, gpsconst.MaxPRN)
		for prn := gpsconst.MinPRN; prn <= gpsconst.MaxPRN; prn++ {
			c.PRNMask = append(c.PRNMask, prn)
		}
	}
}

// Load reads and parses a YAML config file, applies defaults, and
// validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", filename, err)
	}
	return &c, nil
}

// Validate checks the Nyquist and PRN-mask constraints. It does not
// apply defaults; callers constructing a Config directly (rather than
// via Load) should call applyDefaults-equivalent setup first or simply
// fill every field.
func (c *Config) Validate() error {
	minRate := 2 * gpsconst.CodeRateChipsHz
	if c.SampleRateHz < minRate {
		return fmt.Errorf("sample_rate_hz %.1f below Nyquist minimum %.1f", c.SampleRateHz, minRate)
	}
	if c.RingBuffer.NumBlocks <= 0 {
		return fmt.Errorf("ring_buffer.num_blocks must be positive, got %d", c.RingBuffer.NumBlocks)
	}
	if c.RingBuffer.BlockSize <= 0 {
		return fmt.Errorf("ring_buffer.block_size must be positive, got %d", c.RingBuffer.BlockSize)
	}
	if len(c.PRNMask) == 0 {
		return fmt.Errorf("prn_mask must not be empty")
	}
	seen := make(map[int]bool, len(c.PRNMask))
	for _, prn := range c.PRNMask {
		if prn < gpsconst.MinPRN || prn > gpsconst.MaxPRN {
			return fmt.Errorf("prn_mask entry %d out of range [%d,%d]", prn, gpsconst.MinPRN, gpsconst.MaxPRN)
		}
		if seen[prn] {
			return fmt.Errorf("prn_mask entry %d repeated", prn)
		}
		seen[prn] = true
	}
	return nil
}
