package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "inventory.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "file", cfg.Artifacts.Driver)
	assert.Equal(t, "models", cfg.Artifacts.Dir)
	assert.InDelta(t, 5.0, cfg.Labeling.MismatchThreshold, 1e-9)
	assert.InDelta(t, 10.0, cfg.Labeling.DelayThresholdDays, 1e-9)
	assert.Equal(t, NullPolicyExclude, cfg.Labeling.NullAggregatePolicy)
	assert.InDelta(t, 0.2, cfg.Split.TestRatio, 1e-9)
	assert.Equal(t, uint64(42), cfg.Split.Seed)
	assert.Equal(t, 5, cfg.Search.Folds)
	assert.Equal(t, TieBreakSimplest, cfg.Search.TieBreak)
	assert.Equal(t, []int{100, 200, 300}, cfg.Search.Grid.Trees)
	assert.Equal(t, []int{0, 4, 5, 6}, cfg.Search.Grid.MaxDepth)
	assert.Equal(t, []string{"gini", "entropy"}, cfg.Search.Grid.Criterion)
	assert.Equal(t, 216, cfg.Search.Grid.Size())
	assert.Equal(t, 4, cfg.Freight.TreeMaxDepth)
	assert.Equal(t, 5, cfg.Freight.ForestMaxDepth)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/inventory
labeling:
  mismatch_threshold: 7.5
  null_aggregate_policy: fail
search:
  folds: 3
  grid:
    trees: [10, 20]
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.InDelta(t, 7.5, cfg.Labeling.MismatchThreshold, 1e-9)
	assert.Equal(t, NullPolicyFail, cfg.Labeling.NullAggregatePolicy)
	assert.Equal(t, 3, cfg.Search.Folds)
	assert.Equal(t, []int{10, 20}, cfg.Search.Grid.Trees)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.InDelta(t, 10.0, cfg.Labeling.DelayThresholdDays, 1e-9)
	assert.Equal(t, []int{0, 4, 5, 6}, cfg.Search.Grid.MaxDepth)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("split:\n  seed: 7\n"), 0o644))
	t.Setenv("INVOICE_SPLIT_SEED", "99")
	t.Setenv("INVOICE_LABELING_DELAY_THRESHOLD_DAYS", "14")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(99), cfg.Split.Seed)
	assert.InDelta(t, 14.0, cfg.Labeling.DelayThresholdDays, 1e-9)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("INVOICE_ARTIFACTS_DIR=/tmp/dotenv-models\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("INVOICE_ARTIFACTS_DIR") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dotenv-models", cfg.Artifacts.Dir)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"bad store driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"bad artifact driver", func(c *Config) { c.Artifacts.Driver = "s3" }, "artifacts.driver"},
		{"empty artifact dir", func(c *Config) { c.Artifacts.Dir = "" }, "artifacts.dir"},
		{"sqlite artifacts share store", func(c *Config) { c.Artifacts.Driver = "sqlite" }, ""},
		{"postgres artifacts need url", func(c *Config) { c.Artifacts.Driver = "postgres" }, "artifacts.database_url"},
		{"negative mismatch", func(c *Config) { c.Labeling.MismatchThreshold = -1 }, "mismatch_threshold"},
		{"bad null policy", func(c *Config) { c.Labeling.NullAggregatePolicy = "zero" }, "null_aggregate_policy"},
		{"ratio zero", func(c *Config) { c.Split.TestRatio = 0 }, "test_ratio"},
		{"ratio one", func(c *Config) { c.Split.TestRatio = 1 }, "test_ratio"},
		{"one fold", func(c *Config) { c.Search.Folds = 1 }, "search.folds"},
		{"bad tie break", func(c *Config) { c.Search.TieBreak = "random" }, "tie_break"},
		{"empty grid", func(c *Config) { c.Search.Grid.Criterion = nil }, "search.grid"},
		{"empty grid with file", func(c *Config) {
			c.Search.Grid.Criterion = nil
			c.Search.GridFile = "grid.yaml"
		}, ""},
		{"zero grid trees", func(c *Config) { c.Search.Grid.Trees = []int{100, 0} }, "trees 0 must be >= 1"},
		{"negative grid depth", func(c *Config) { c.Search.Grid.MaxDepth = []int{-1} }, "max_depth -1"},
		{"grid split below two", func(c *Config) { c.Search.Grid.MinSamplesSplit = []int{1} }, "min_samples_split 1"},
		{"zero grid leaf", func(c *Config) { c.Search.Grid.MinSamplesLeaf = []int{0} }, "min_samples_leaf 0"},
		{"capitalized criterion", func(c *Config) { c.Search.Grid.Criterion = []string{"Gini"} }, `criterion "Gini"`},
		{"zero forest trees", func(c *Config) { c.Freight.ForestTrees = 0 }, "forest_trees"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	err := InitLogger(LogConfig{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
