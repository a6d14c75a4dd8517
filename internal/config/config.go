// Package config loads and validates application configuration.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openfleet/bikesweep/internal/geo"
)

// Config holds the full application configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Sweep    SweepConfig    `yaml:"sweep" mapstructure:"sweep"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ProviderConfig configures the upstream bike-position API.
type ProviderConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Token       string  `yaml:"token" mapstructure:"token"`
	CityID      int     `yaml:"cityid" mapstructure:"cityid"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests/sec, 0 = unlimited
}

// Corner is one corner of the sweep rectangle.
type Corner struct {
	Lat float64 `yaml:"lat" mapstructure:"lat"`
	Lng float64 `yaml:"lng" mapstructure:"lng"`
}

// SweepConfig configures the grid sweep.
type SweepConfig struct {
	TopLeft      Corner  `yaml:"top_left" mapstructure:"top_left"`
	BottomRight  Corner  `yaml:"bottom_right" mapstructure:"bottom_right"`
	Offset       float64 `yaml:"offset" mapstructure:"offset"`
	Workers      int     `yaml:"workers" mapstructure:"workers"`
	Coord        string  `yaml:"coord" mapstructure:"coord"`
	AlwaysRun    bool    `yaml:"always_run" mapstructure:"always_run"`
	WaitTimeSecs int     `yaml:"wait_time_secs" mapstructure:"wait_time_secs"`
}

// Rect returns the sweep rectangle in grid form.
func (s SweepConfig) Rect() geo.Rect {
	return geo.Rect{
		TopLat:    s.TopLeft.Lat,
		LeftLng:   s.TopLeft.Lng,
		BottomLat: s.BottomRight.Lat,
		RightLng:  s.BottomRight.Lng,
	}
}

// WaitTime returns the pause between repeated sweeps.
func (s SweepConfig) WaitTime() time.Duration {
	return time.Duration(s.WaitTimeSecs) * time.Second
}

// StoreConfig configures the observation store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ExportConfig configures CSV export.
type ExportConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
	Compress bool   `yaml:"compress" mapstructure:"compress"`
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
	v.SetEnvPrefix("BIKESWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("provider.base_url", "http://www.dancheditu.com")
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("provider.rate_limit", 0)
	v.SetDefault("sweep.offset", 0.002)
	v.SetDefault("sweep.workers", 16)
	v.SetDefault("sweep.coord", "gcj02")
	v.SetDefault("sweep.wait_time_secs", 600)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "temp.db")
	v.SetDefault("export.dir", "db")
	v.SetDefault("export.timezone", "Asia/Chongqing")
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

// Validate rejects configurations that would fail mid-sweep. Runs at
// startup, before any network call.
func (c *Config) Validate() error {
	if c.Provider.Token == "" {
		return eris.New("config: provider.token is required")
	}
	if c.Sweep.Offset <= 0 {
		return eris.Errorf("config: sweep.offset must be positive, got %f", c.Sweep.Offset)
	}
	if c.Sweep.Workers <= 0 {
		return eris.Errorf("config: sweep.workers must be positive, got %d", c.Sweep.Workers)
	}
	if err := c.Sweep.Rect().Validate(); err != nil {
		return eris.Wrap(err, "config: sweep rectangle")
	}
	if _, err := geo.ParseSystem(c.Sweep.Coord); err != nil {
		return eris.Wrap(err, "config: sweep.coord")
	}
	if _, err := time.LoadLocation(c.Export.Timezone); err != nil {
		return eris.Wrapf(err, "config: export.timezone %q", c.Export.Timezone)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
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
