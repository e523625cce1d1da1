package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig    `yaml:"store" mapstructure:"store"`
	Artifacts ArtifactConfig `yaml:"artifacts" mapstructure:"artifacts"`
	Labeling  LabelingConfig `yaml:"labeling" mapstructure:"labeling"`
	Split     SplitConfig    `yaml:"split" mapstructure:"split"`
	Search    SearchConfig   `yaml:"search" mapstructure:"search"`
	Freight   FreightConfig  `yaml:"freight" mapstructure:"freight"`
	Server    ServerConfig   `yaml:"server" mapstructure:"server"`
	Log       LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the invoice data source.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ArtifactConfig configures where trained models are persisted.
type ArtifactConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// Null aggregate policies for invoices without a matching purchase order.
const (
	NullPolicyExclude = "exclude"
	NullPolicyFail    = "fail"
)

// LabelingConfig holds the invoice risk labeling rule.
type LabelingConfig struct {
	MismatchThreshold   float64 `yaml:"mismatch_threshold" mapstructure:"mismatch_threshold"`
	DelayThresholdDays  float64 `yaml:"delay_threshold_days" mapstructure:"delay_threshold_days"`
	NullAggregatePolicy string  `yaml:"null_aggregate_policy" mapstructure:"null_aggregate_policy"`
}

// SplitConfig configures the train/evaluation partition.
type SplitConfig struct {
	TestRatio float64 `yaml:"test_ratio" mapstructure:"test_ratio"`
	Seed      uint64  `yaml:"seed" mapstructure:"seed"`
}

// Tie-break modes for hyperparameter search.
const (
	TieBreakSimplest = "simplest"
	TieBreakFirst    = "first"
)

// SearchConfig configures the invoice_flag hyperparameter search.
type SearchConfig struct {
	Folds       int        `yaml:"folds" mapstructure:"folds"`
	Parallelism int        `yaml:"parallelism" mapstructure:"parallelism"`
	TieBreak    string     `yaml:"tie_break" mapstructure:"tie_break"`
	GridFile    string     `yaml:"grid_file" mapstructure:"grid_file"`
	Grid        GridConfig `yaml:"grid" mapstructure:"grid"`
}

// GridConfig is the random forest classifier parameter grid.
// A MaxDepth of 0 means unbounded.
type GridConfig struct {
	Trees           []int    `yaml:"trees" mapstructure:"trees"`
	MaxDepth        []int    `yaml:"max_depth" mapstructure:"max_depth"`
	MinSamplesSplit []int    `yaml:"min_samples_split" mapstructure:"min_samples_split"`
	MinSamplesLeaf  []int    `yaml:"min_samples_leaf" mapstructure:"min_samples_leaf"`
	Criterion       []string `yaml:"criterion" mapstructure:"criterion"`
}

// Size returns the number of configurations in the grid.
func (g GridConfig) Size() int {
	return len(g.Trees) * len(g.MaxDepth) * len(g.MinSamplesSplit) * len(g.MinSamplesLeaf) * len(g.Criterion)
}

// Validate checks every grid value against what the classifier accepts.
func (g GridConfig) Validate() error {
	var errs []string
	if g.Size() == 0 {
		errs = append(errs, "must contain at least one configuration")
	}
	for _, v := range g.Trees {
		if v < 1 {
			errs = append(errs, fmt.Sprintf("trees %d must be >= 1", v))
		}
	}
	for _, v := range g.MaxDepth {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("max_depth %d must be >= 0 (0 or null is unbounded)", v))
		}
	}
	for _, v := range g.MinSamplesSplit {
		if v < 2 {
			errs = append(errs, fmt.Sprintf("min_samples_split %d must be >= 2", v))
		}
	}
	for _, v := range g.MinSamplesLeaf {
		if v < 1 {
			errs = append(errs, fmt.Sprintf("min_samples_leaf %d must be >= 1", v))
		}
	}
	for _, v := range g.Criterion {
		if v != "gini" && v != "entropy" {
			errs = append(errs, fmt.Sprintf("criterion %q must be gini or entropy", v))
		}
	}
	if len(errs) > 0 {
		return eris.New(strings.Join(errs, ", "))
	}
	return nil
}

// FreightConfig configures the freight regressors.
type FreightConfig struct {
	TreeMaxDepth   int `yaml:"tree_max_depth" mapstructure:"tree_max_depth"`
	ForestMaxDepth int `yaml:"forest_max_depth" mapstructure:"forest_max_depth"`
	ForestTrees    int `yaml:"forest_trees" mapstructure:"forest_trees"`
}

// ServerConfig configures the inference API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	RateLimit   float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "inventory.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("artifacts.driver", "file")
	v.SetDefault("artifacts.dir", "models")
	v.SetDefault("labeling.mismatch_threshold", 5.0)
	v.SetDefault("labeling.delay_threshold_days", 10.0)
	v.SetDefault("labeling.null_aggregate_policy", NullPolicyExclude)
	v.SetDefault("split.test_ratio", 0.2)
	v.SetDefault("split.seed", 42)
	v.SetDefault("search.folds", 5)
	v.SetDefault("search.parallelism", 0)
	v.SetDefault("search.tie_break", TieBreakSimplest)
	v.SetDefault("search.grid.trees", []int{100, 200, 300})
	v.SetDefault("search.grid.max_depth", []int{0, 4, 5, 6})
	v.SetDefault("search.grid.min_samples_split", []int{2, 3, 5})
	v.SetDefault("search.grid.min_samples_leaf", []int{1, 2, 5})
	v.SetDefault("search.grid.criterion", []string{"gini", "entropy"})
	v.SetDefault("freight.tree_max_depth", 4)
	v.SetDefault("freight.forest_max_depth", 5)
	v.SetDefault("freight.forest_trees", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults only hold basic types, so decoding cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	switch c.Artifacts.Driver {
	case "file":
		if c.Artifacts.Dir == "" {
			errs = append(errs, "artifacts.dir is required for the file driver")
		}
	case "sqlite", "postgres":
		if c.Artifacts.DatabaseURL == "" && c.Store.Driver != c.Artifacts.Driver {
			errs = append(errs, "artifacts.database_url is required when artifacts.driver differs from store.driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("artifacts.driver %q must be file, sqlite or postgres", c.Artifacts.Driver))
	}

	if c.Labeling.MismatchThreshold < 0 {
		errs = append(errs, "labeling.mismatch_threshold must be >= 0")
	}
	if c.Labeling.DelayThresholdDays < 0 {
		errs = append(errs, "labeling.delay_threshold_days must be >= 0")
	}
	switch c.Labeling.NullAggregatePolicy {
	case NullPolicyExclude, NullPolicyFail:
	default:
		errs = append(errs, fmt.Sprintf("labeling.null_aggregate_policy %q must be exclude or fail", c.Labeling.NullAggregatePolicy))
	}

	if c.Split.TestRatio <= 0 || c.Split.TestRatio >= 1 {
		errs = append(errs, "split.test_ratio must be in (0, 1)")
	}

	if c.Search.Folds < 2 {
		errs = append(errs, "search.folds must be >= 2")
	}
	if c.Search.Parallelism < 0 {
		errs = append(errs, "search.parallelism must be >= 0")
	}
	switch c.Search.TieBreak {
	case TieBreakSimplest, TieBreakFirst:
	default:
		errs = append(errs, fmt.Sprintf("search.tie_break %q must be simplest or first", c.Search.TieBreak))
	}
	if c.Search.GridFile == "" {
		if err := c.Search.Grid.Validate(); err != nil {
			errs = append(errs, "search.grid: "+err.Error())
		}
	}

	if c.Freight.TreeMaxDepth < 1 || c.Freight.ForestMaxDepth < 1 {
		errs = append(errs, "freight max depths must be >= 1")
	}
	if c.Freight.ForestTrees < 1 {
		errs = append(errs, "freight.forest_trees must be >= 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
