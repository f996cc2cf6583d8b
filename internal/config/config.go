package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/mgci/internal/classify"
	"github.com/sells-group/mgci/internal/cluster"
	"github.com/sells-group/mgci/internal/raster/remote"
	"github.com/sells-group/mgci/internal/region"
	"github.com/sells-group/mgci/internal/resilience"
	"github.com/sells-group/mgci/internal/resolution"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig                `yaml:"log" mapstructure:"log"`
	Engine     EngineConfig             `yaml:"engine" mapstructure:"engine"`
	Datasets   DatasetsConfig           `yaml:"datasets" mapstructure:"datasets"`
	Regions    RegionsConfig            `yaml:"regions" mapstructure:"regions"`
	Resolution resolution.Config        `yaml:"resolution" mapstructure:"resolution"`
	Cache      CacheConfig              `yaml:"cache" mapstructure:"cache"`
	Store      StoreConfig              `yaml:"store" mapstructure:"store"`
	Retry      resilience.RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit    resilience.CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
	Series     SeriesConfig             `yaml:"series" mapstructure:"series"`
	Cluster    ClusterConfig            `yaml:"cluster" mapstructure:"cluster"`
	Server     ServerConfig             `yaml:"server" mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Engine kinds.
const (
	EngineMemory = "memory"
	EngineRemote = "remote"
)

// EngineConfig selects the raster engine. Scene is the YAML scene of the
// memory engine; the remaining fields configure the remote engine.
type EngineConfig struct {
	Kind          string        `yaml:"kind" mapstructure:"kind"`
	Scene         string        `yaml:"scene" mapstructure:"scene"`
	BaseURL       string        `yaml:"base_url" mapstructure:"base_url"`
	Token         string        `yaml:"token" mapstructure:"token"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int           `yaml:"burst" mapstructure:"burst"`
}

// DatasetsConfig names the engine datasets the classifiers read.
type DatasetsConfig struct {
	Elevation     string `yaml:"elevation" mapstructure:"elevation"`
	Slope         string `yaml:"slope" mapstructure:"slope"`
	LandCover     string `yaml:"land_cover" mapstructure:"land_cover"`
	LandCoverBand string `yaml:"land_cover_band" mapstructure:"land_cover_band"`
}

// Classify converts the section into classifier datasets.
func (d DatasetsConfig) Classify() classify.Datasets {
	return classify.Datasets{
		Elevation:     d.Elevation,
		Slope:         d.Slope,
		LandCover:     d.LandCover,
		LandCoverBand: d.LandCoverBand,
	}
}

// RegionsConfig lists the boundary catalogs.
type RegionsConfig struct {
	Sources   []region.Source `yaml:"sources" mapstructure:"sources"`
	CacheDir  string          `yaml:"cache_dir" mapstructure:"cache_dir"`
	UserAgent string          `yaml:"user_agent" mapstructure:"user_agent"`
	BatchSize int             `yaml:"batch_size" mapstructure:"batch_size"`
}

// Cache backends.
const (
	CacheBackendNone  = "none"
	CacheBackendStore = "store"
	CacheBackendRedis = "redis"
)

// CacheConfig configures the reduction cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxEntries  int           `yaml:"max_entries" mapstructure:"max_entries"`
	TTL         time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Backend     string        `yaml:"backend" mapstructure:"backend"`
	RedisURL    string        `yaml:"redis_url" mapstructure:"redis_url"`
	RedisPrefix string        `yaml:"redis_prefix" mapstructure:"redis_prefix"`
}

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreNone     = "none"
)

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SeriesConfig configures the time-series driver.
type SeriesConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ClusterConfig configures subregion clustering.
type ClusterConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	Features    string `yaml:"features" mapstructure:"features"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// RemoteConfig assembles the remote engine settings with the shared retry
// and circuit sections.
func (c *Config) RemoteConfig() remote.Config {
	return remote.Config{
		BaseURL:       c.Engine.BaseURL,
		Token:         c.Engine.Token,
		Timeout:       c.Engine.Timeout,
		RatePerSecond: c.Engine.RatePerSecond,
		Burst:         c.Engine.Burst,
		Retry:         c.Retry,
		Circuit:       c.Circuit,
	}
}

// Load reads .env, then the config file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MGCI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("engine.kind", EngineRemote)
	v.SetDefault("engine.scene", "")
	v.SetDefault("engine.base_url", "")
	v.SetDefault("engine.token", "")
	v.SetDefault("engine.timeout", 10*time.Minute)
	v.SetDefault("engine.rate_per_second", 2.0)
	v.SetDefault("engine.burst", 2)
	v.SetDefault("datasets.elevation", "USGS/SRTMGL1_003")
	v.SetDefault("datasets.slope", "USGS/SRTMGL1_003/slope")
	v.SetDefault("datasets.land_cover", "GOOGLE/DYNAMICWORLD/V1")
	v.SetDefault("datasets.land_cover_band", "label")
	v.SetDefault("regions.cache_dir", "data/boundaries")
	v.SetDefault("regions.user_agent", "mgci/1.0")
	v.SetDefault("regions.batch_size", 500)
	rd := resolution.DefaultConfig()
	v.SetDefault("resolution.preview_m", rd.PreviewM)
	v.SetDefault("resolution.standard_m", rd.StandardM)
	v.SetDefault("resolution.final_m", rd.FinalM)
	v.SetDefault("resolution.pixel_ceiling", rd.PixelCeiling)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.backend", CacheBackendStore)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.redis_prefix", "mgci:reduction:")
	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.database_url", "mgci.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	rt := resilience.DefaultRetryConfig()
	v.SetDefault("retry.max_attempts", rt.MaxAttempts)
	v.SetDefault("retry.initial_backoff", rt.InitialBackoff)
	v.SetDefault("retry.max_backoff", rt.MaxBackoff)
	v.SetDefault("retry.multiplier", rt.Multiplier)
	v.SetDefault("retry.jitter_fraction", rt.JitterFraction)
	cc := resilience.DefaultCircuitConfig()
	v.SetDefault("circuit.failure_threshold", cc.FailureThreshold)
	v.SetDefault("circuit.reset_timeout", cc.ResetTimeout)
	v.SetDefault("circuit.half_open_probes", cc.HalfOpenProbes)
	v.SetDefault("series.concurrency", 4)
	v.SetDefault("cluster.concurrency", 4)
	v.SetDefault("cluster.features", string(cluster.FeaturesGreen))
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout", 15*time.Minute)

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

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		add("log.format must be json or console, got %q", c.Log.Format)
	}
	switch c.Engine.Kind {
	case EngineMemory:
		if c.Engine.Scene == "" {
			add("engine.scene is required for the memory engine")
		}
	case EngineRemote:
		if c.Engine.BaseURL == "" {
			add("engine.base_url is required for the remote engine")
		}
	default:
		add("engine.kind must be memory or remote, got %q", c.Engine.Kind)
	}
	if err := c.Datasets.Classify().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Resolution.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	for i, src := range c.Regions.Sources {
		switch src.Format {
		case region.FormatGeoJSON, region.FormatShapefile, region.FormatZip, region.FormatPostGIS:
		default:
			add("regions.sources[%d].format %q is not supported", i, src.Format)
		}
		if src.Format == region.FormatPostGIS && c.Store.Driver != StorePostgres {
			add("regions.sources[%d]: postgis sources need store.driver postgres", i)
		}
		if src.Format != region.FormatPostGIS && src.Path == "" {
			add("regions.sources[%d].path is required", i)
		}
	}
	switch c.Store.Driver {
	case StoreSQLite, StorePostgres:
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for driver %s", c.Store.Driver)
		}
	case StoreNone:
	default:
		add("store.driver must be sqlite, postgres or none, got %q", c.Store.Driver)
	}
	switch c.Cache.Backend {
	case CacheBackendNone:
	case CacheBackendStore:
		if c.Cache.Enabled && c.Store.Driver == StoreNone {
			add("cache.backend store needs a store driver")
		}
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			add("cache.redis_url is required for the redis backend")
		}
	default:
		add("cache.backend must be none, store or redis, got %q", c.Cache.Backend)
	}
	if c.Series.Concurrency < 1 {
		add("series.concurrency must be at least 1")
	}
	if c.Cluster.Concurrency < 1 {
		add("cluster.concurrency must be at least 1")
	}
	if _, err := cluster.ParseFeatures(c.Cluster.Features); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
