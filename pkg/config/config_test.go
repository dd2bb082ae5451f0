package config_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparsescan/pkg/config"
	"sparsescan/pkg/models"
)

func TestLoad(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Sampling.SparsityPercent, convey.ShouldEqual, 15)
				convey.So(cfg.Sampling.DwellTimes, convey.ShouldResemble, []float64{10, 30, 40, 50, 100, 200, 300})
				convey.So(cfg.Sampling.Operator, convey.ShouldEqual, "gradient")
				convey.So(cfg.Sampling.NumWorkers, convey.ShouldEqual, runtime.NumCPU())
				convey.So(cfg.Scan.Policy, convey.ShouldEqual, "descending")
				convey.So(cfg.Scan.PreviewPoints, convey.ShouldEqual, 1000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("SPARSESCAN_SAMPLING__SPARSITY_PERCENT", "25.5")
			_ = os.Setenv("SPARSESCAN_SAMPLING__DWELL_TIMES", "10, 50,100")
			_ = os.Setenv("SPARSESCAN_SAMPLING__OPERATOR", "sobel")
			_ = os.Setenv("SPARSESCAN_SCAN__POLICY", "ascending plus raster")
			_ = os.Setenv("SPARSESCAN_STORE__ENABLED", "true")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Sampling.SparsityPercent, convey.ShouldEqual, 25.5)
				convey.So(cfg.Sampling.DwellTimes, convey.ShouldResemble, []float64{10, 50, 100})
				convey.So(cfg.Sampling.Operator, convey.ShouldEqual, "sobel")
				convey.So(cfg.Scan.Policy, convey.ShouldEqual, "ascending plus raster")
				convey.So(cfg.Store.Enabled, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			tmpFile := createTempConfigFile(`
sampling:
  sparsity_percent: 40
  dwell_times: [5, 20]
  num_workers: 3
scan:
  policy: ascending
output:
  histogram_bins: 4
`)
			defer func() { _ = os.Remove(tmpFile) }()

			cfg, err := config.Load(ctx, tmpFile)

			convey.Convey("Then it should load from YAML file and keep other defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Sampling.SparsityPercent, convey.ShouldEqual, 40)
				convey.So(cfg.Sampling.DwellTimes, convey.ShouldResemble, []float64{5, 20})
				convey.So(cfg.Sampling.NumWorkers, convey.ShouldEqual, 3)
				convey.So(cfg.Sampling.Operator, convey.ShouldEqual, "gradient")
				convey.So(cfg.Scan.Policy, convey.ShouldEqual, "ascending")
				convey.So(cfg.Output.HistogramBins, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When the config file path comes from the environment", func() {
			tmpFile := createTempConfigFile("sampling:\n  sparsity_percent: 5\n")
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("SPARSESCAN_CONFIG", tmpFile)
			_ = os.Setenv("SPARSESCAN_SAMPLING__SPARSITY_PERCENT", "7")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then env vars take precedence over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Sampling.SparsityPercent, convey.ShouldEqual, 7)
			})
		})

		convey.Convey("When the merged config is invalid", func() {
			_ = os.Setenv("SPARSESCAN_SAMPLING__SPARSITY_PERCENT", "120")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx, "")

			convey.Convey("Then it should report a validation error", func() {
				convey.So(errors.Is(err, models.ErrValidation), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_, err := config.Load(ctx, filepath.Join(os.TempDir(), "sparsescan-missing.yaml"))

			convey.Convey("Then it should fail", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"negative sparsity", func(c *config.Config) { c.Sampling.SparsityPercent = -1 }},
		{"empty dwell times", func(c *config.Config) { c.Sampling.DwellTimes = nil }},
		{"non-positive dwell time", func(c *config.Config) { c.Sampling.DwellTimes = []float64{0, 10} }},
		{"unknown operator", func(c *config.Config) { c.Sampling.Operator = "laplace" }},
		{"unknown policy", func(c *config.Config) { c.Scan.Policy = "spiral" }},
		{"negative preview points", func(c *config.Config) { c.Scan.PreviewPoints = -1 }},
		{"no histogram bins", func(c *config.Config) { c.Output.HistogramBins = 0 }},
		{"unsorted duration buckets", func(c *config.Config) { c.Metrics.DurationBuckets = []float64{1, 0.5} }},
		{"store without path", func(c *config.Config) {
			c.Store.Enabled = true
			c.Store.Path = ""
		}},
	}

	require.NoError(t, config.DefaultConfig().Validate())
	assert.Equal(t, "sparsescan", config.DefaultConfig().Metrics.Namespace)
	assert.Equal(t, "sampling", config.DefaultConfig().Metrics.Subsystem)
	assert.Empty(t, config.DefaultConfig().Metrics.DurationBuckets)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), models.ErrValidation)
		})
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := config.DefaultConfig()
	cfg.Sampling.SparsityPercent = 33
	cfg.Sampling.DwellTimes = []float64{1, 2}
	cfg.Metrics.Enabled = true
	require.NoError(t, config.SaveConfig(cfg, path))

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampling:\n  sparsity_percent: 150\n"), 0644))

	_, err := config.LoadConfig(path)
	assert.ErrorIs(t, err, models.ErrValidation)

	require.NoError(t, os.WriteFile(path, []byte("scan:\n  policy: spiral\n"), 0644))
	_, err = config.LoadConfig(path)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.CreateDefaultConfigFile(path))

	cfg, err := config.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "sparsescan-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = tmpFile.Close() }()

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}

func clearConfigEnvVars() {
	for _, key := range []string{
		"SPARSESCAN_CONFIG",
		"SPARSESCAN_SAMPLING__SPARSITY_PERCENT",
		"SPARSESCAN_SAMPLING__DWELL_TIMES",
		"SPARSESCAN_SAMPLING__OPERATOR",
		"SPARSESCAN_SCAN__POLICY",
		"SPARSESCAN_STORE__ENABLED",
	} {
		_ = os.Unsetenv(key)
	}
}
