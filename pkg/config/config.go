// Package config provides configuration loading and management for sparsescan.
// It handles loading configuration from YAML files and environment variables
// and provides default values.
package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	yamlv3 "gopkg.in/yaml.v3"

	"sparsescan/pkg/models"
	"sparsescan/pkg/saliency"
	"sparsescan/pkg/scanpath"
)

// EnvPrefix prefixes every environment override. Sections are separated
// by a double underscore, e.g. SPARSESCAN_SAMPLING__SPARSITY_PERCENT.
const EnvPrefix = "SPARSESCAN_"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Sampling parameters
	Sampling struct {
		// SparsityPercent is the share of pixels re-scanned, 0..100
		SparsityPercent float64 `yaml:"sparsity_percent"`

		// DwellTimes lists the dwell times the instrument supports, in microseconds
		DwellTimes []float64 `yaml:"dwell_times"`

		// Operator is the saliency edge operator: gradient or sobel
		Operator string `yaml:"operator"`

		// NumWorkers bounds concurrent channel processing for SIMS images
		NumWorkers int `yaml:"num_workers"`
	} `yaml:"sampling"`

	// Scan ordering parameters
	Scan struct {
		// Policy is ascending, descending or "ascending plus raster"
		Policy string `yaml:"policy"`

		// PreviewPoints caps how many plan points are printed per path
		PreviewPoints int `yaml:"preview_points"`
	} `yaml:"scan"`

	// Output parameters
	Output struct {
		// LogLevel is debug, info, warn or error
		LogLevel string `yaml:"log_level"`

		// HistogramBins is the number of dwell-time histogram bins reported
		HistogramBins int `yaml:"histogram_bins"`
	} `yaml:"output"`

	// Store parameters
	Store struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"store"`

	// Metrics parameters
	Metrics struct {
		Enabled bool `yaml:"enabled"`

		// TextfilePath receives the metrics in node-exporter textfile format
		TextfilePath string `yaml:"textfile_path"`

		Namespace string `yaml:"namespace"`
		Subsystem string `yaml:"subsystem"`

		// DurationBuckets overrides the run and channel duration buckets, in seconds
		DurationBuckets []float64 `yaml:"duration_buckets,omitempty"`
	} `yaml:"metrics"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Sampling.SparsityPercent = 15
	cfg.Sampling.DwellTimes = []float64{10, 30, 40, 50, 100, 200, 300}
	cfg.Sampling.Operator = saliency.Gradient.String()
	cfg.Sampling.NumWorkers = runtime.NumCPU()

	cfg.Scan.Policy = scanpath.Descending.String()
	cfg.Scan.PreviewPoints = 1000

	cfg.Output.LogLevel = "info"
	cfg.Output.HistogramBins = 10

	cfg.Store.Enabled = false
	cfg.Store.Path = "sparsescan.db"

	cfg.Metrics.Enabled = false
	cfg.Metrics.TextfilePath = "sparsescan.prom"
	cfg.Metrics.Namespace = "sparsescan"
	cfg.Metrics.Subsystem = "sampling"

	return cfg
}

// Validate checks every value the pipeline would reject later.
func (c *Config) Validate() error {
	if err := models.ValidateSparsity(c.Sampling.SparsityPercent); err != nil {
		return err
	}
	if err := models.ValidateDwellTimes(c.Sampling.DwellTimes); err != nil {
		return err
	}
	if _, err := saliency.ParseOperator(c.Sampling.Operator); err != nil {
		return err
	}
	if _, err := scanpath.ParsePolicy(c.Scan.Policy); err != nil {
		return err
	}
	if c.Scan.PreviewPoints < 0 {
		return errors.Wrapf(models.ErrValidation, "preview points must not be negative, got %d", c.Scan.PreviewPoints)
	}
	if c.Output.HistogramBins < 1 {
		return errors.Wrapf(models.ErrValidation, "histogram bins must be positive, got %d", c.Output.HistogramBins)
	}
	for i := 1; i < len(c.Metrics.DurationBuckets); i++ {
		if c.Metrics.DurationBuckets[i] <= c.Metrics.DurationBuckets[i-1] {
			return errors.Wrap(models.ErrValidation, "duration buckets must be strictly increasing")
		}
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return errors.Wrap(models.ErrValidation, "store enabled without a path")
	}
	return nil
}

// LoadConfig loads and validates configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yamlv3.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load builds a Config by layering defaults, an optional YAML file and
// environment variables, in increasing precedence. An empty path falls
// back to $SPARSESCAN_CONFIG.
func Load(_ context.Context, configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "CONFIG")
	}

	k := koanf.New(".")
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "error loading config file %s", configPath)
		}
	}

	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		if key == "config" {
			return "", nil
		}
		key = strings.ReplaceAll(key, "__", ".")
		if key == "sampling.dwell_times" {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, parts
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, errors.Wrap(err, "error loading environment")
	}

	cfg := DefaultConfig()
	if k.Exists("sampling.dwell_times") {
		cfg.Sampling.DwellTimes = nil
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, errors.Wrap(err, "error decoding config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
