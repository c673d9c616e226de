// Package config resolves tfserve settings from defaults, an optional YAML
// file, TFSERVE_* environment variables and bound command-line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/transcriptformer/tfserve/internal/datasets"
)

const EnvPrefix = "TFSERVE"

const (
	KeyAddr            = "addr"
	KeyModelPath       = "model_path"
	KeyExecutable      = "executable"
	KeyEmbedding       = "pretrained_embedding"
	KeyMaxConcurrent   = "max_concurrent"
	KeyQueueSize       = "queue_size"
	KeyPredictTimeout  = "predict_timeout"
	KeyShutdownTimeout = "shutdown_timeout"
	KeyLogFormat       = "log_format"
	KeyLogLevel        = "log_level"
	KeyStatsdAddr      = "statsd_addr"
	KeyDatasetCatalog  = "dataset_catalog"
	KeyDatasetCache    = "dataset_cache"
	KeyDatasetCacheTTL = "dataset_cache_ttl"
)

const (
	CachePresence = "presence"
	CacheChecksum = "checksum"
	CacheTTL      = "ttl"
)

// Config holds the resolved settings. An empty StatsdAddr disables
// DogStatsD telemetry.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	ModelPath       string        `mapstructure:"model_path"`
	Executable      string        `mapstructure:"executable"`
	Embedding       string        `mapstructure:"pretrained_embedding"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	QueueSize       int           `mapstructure:"queue_size"`
	PredictTimeout  time.Duration `mapstructure:"predict_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogFormat       string        `mapstructure:"log_format"`
	LogLevel        string        `mapstructure:"log_level"`
	StatsdAddr      string        `mapstructure:"statsd_addr"`
	DatasetCatalog  string        `mapstructure:"dataset_catalog"`
	DatasetCache    string        `mapstructure:"dataset_cache"`
	DatasetCacheTTL time.Duration `mapstructure:"dataset_cache_ttl"`
}

// Keys lists every setting; a command-line flag named after a key with
// dashes for underscores overrides it.
func Keys() []string {
	return []string{
		KeyAddr,
		KeyModelPath,
		KeyExecutable,
		KeyEmbedding,
		KeyMaxConcurrent,
		KeyQueueSize,
		KeyPredictTimeout,
		KeyShutdownTimeout,
		KeyLogFormat,
		KeyLogLevel,
		KeyStatsdAddr,
		KeyDatasetCatalog,
		KeyDatasetCache,
		KeyDatasetCacheTTL,
	}
}

// New returns a viper instance with defaults registered and environment
// lookup enabled. Every key must have a default for Unmarshal to see its
// environment override.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyAddr, ":8080")
	v.SetDefault(KeyModelPath, "")
	v.SetDefault(KeyExecutable, "transcriptformer")
	v.SetDefault(KeyEmbedding, "")
	v.SetDefault(KeyMaxConcurrent, 1)
	v.SetDefault(KeyQueueSize, 16)
	v.SetDefault(KeyPredictTimeout, time.Duration(0))
	v.SetDefault(KeyShutdownTimeout, 5*time.Second)
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyStatsdAddr, "")
	v.SetDefault(KeyDatasetCatalog, "")
	v.SetDefault(KeyDatasetCache, CachePresence)
	v.SetDefault(KeyDatasetCacheTTL, 7*24*time.Hour)
	return v
}

// Load reads configFile when given and decodes the merged settings.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if path := strings.TrimSpace(configFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be >= 0, got %d", c.QueueSize)
	}
	if c.PredictTimeout < 0 {
		return fmt.Errorf("predict_timeout must be >= 0, got %s", c.PredictTimeout)
	}
	if _, err := c.CacheStrategy(); err != nil {
		return err
	}
	return nil
}

// CacheStrategy maps DatasetCache to the datasets cache strategy.
func (c Config) CacheStrategy() (datasets.CacheStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(c.DatasetCache)) {
	case CachePresence, "":
		return datasets.PresenceStrategy{}, nil
	case CacheChecksum:
		return datasets.ChecksumStrategy{}, nil
	case CacheTTL:
		if c.DatasetCacheTTL <= 0 {
			return nil, fmt.Errorf("dataset_cache_ttl must be > 0 for the ttl cache, got %s", c.DatasetCacheTTL)
		}
		return datasets.TTLStrategy{MaxAge: c.DatasetCacheTTL}, nil
	default:
		return nil, fmt.Errorf("unsupported dataset_cache %q: must be presence, checksum or ttl", c.DatasetCache)
	}
}
