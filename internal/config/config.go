package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	ViaCEP     ViaCEPConfig     `yaml:"viacep" mapstructure:"viacep"`
	Nominatim  NominatimConfig  `yaml:"nominatim" mapstructure:"nominatim"`
	Processing ProcessingConfig `yaml:"processing" mapstructure:"processing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// CacheConfig configures the local lookup cache.
type CacheConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	MaxAge   int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Disabled bool   `yaml:"disabled" mapstructure:"disabled"`
}

// MaxAgeDuration returns the cache retention window.
func (c CacheConfig) MaxAgeDuration() time.Duration {
	return time.Duration(c.MaxAge) * 24 * time.Hour
}

// ViaCEPConfig configures the postal code service client.
type ViaCEPConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	MinIntervalMS int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	MaxAttempts   int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// MinInterval returns the configured request spacing.
func (c ViaCEPConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

// NominatimConfig configures the geocoding service client.
type NominatimConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent     string `yaml:"user_agent" mapstructure:"user_agent"`
	MinIntervalMS int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	MaxAttempts   int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// MinInterval returns the configured request spacing.
func (c NominatimConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

// ProcessingConfig configures the batch pipeline.
type ProcessingConfig struct {
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`
	Workers   int `yaml:"workers" mapstructure:"workers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOGRAFI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("cache.path", "cache.db")
	v.SetDefault("cache.max_age_days", 30)
	v.SetDefault("cache.disabled", false)
	v.SetDefault("viacep.base_url", "https://viacep.com.br/ws")
	v.SetDefault("viacep.min_interval_ms", 150)
	v.SetDefault("viacep.max_attempts", 3)
	v.SetDefault("nominatim.base_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("nominatim.user_agent", "enrich-cli/1.0 (address enrichment pipeline)")
	v.SetDefault("nominatim.min_interval_ms", 1500)
	v.SetDefault("nominatim.max_attempts", 2)
	v.SetDefault("processing.chunk_size", 1000)
	v.SetDefault("processing.workers", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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
