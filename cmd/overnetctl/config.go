package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// demoConfig describes a loopback run of two Overnet endpoints talking to
// each other in-process over a simulated lossy link.
type demoConfig struct {
	MSS         int           `yaml:"mss"`
	Codec       string        `yaml:"codec"`
	LossPercent int           `yaml:"loss_percent"`
	Reorder     bool          `yaml:"reorder"`
	Messages    int           `yaml:"messages"`
	LinkDelay   time.Duration `yaml:"link_delay"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

func defaultDemoConfig() demoConfig {
	return demoConfig{
		MSS:       1200,
		Codec:     "null",
		Messages:  20,
		LinkDelay: 5 * time.Millisecond,
	}
}

func loadDemoConfig(path string) (demoConfig, error) {
	c := defaultDemoConfig()
	if path == "" {
		return c, c.validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return demoConfig{}, fmt.Errorf("overnetctl: opening config: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&c); err != nil {
		return demoConfig{}, fmt.Errorf("overnetctl: decoding config: %w", err)
	}
	return c, c.validate()
}

// validate aggregates every independent config problem into one error
// instead of stopping at the first, mirroring how the corpus validates
// multi-field YAML configs with go-multierror.
func (c demoConfig) validate() error {
	var result *multierror.Error
	if c.MSS < 64 {
		result = multierror.Append(result, fmt.Errorf("mss must be >= 64, got %d", c.MSS))
	}
	switch c.Codec {
	case "null":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown codec %q", c.Codec))
	}
	if c.LossPercent < 0 || c.LossPercent > 100 {
		result = multierror.Append(result, fmt.Errorf("loss_percent must be in [0, 100], got %d", c.LossPercent))
	}
	if c.Messages <= 0 {
		result = multierror.Append(result, fmt.Errorf("messages must be > 0, got %d", c.Messages))
	}
	return result.ErrorOrNil()
}
