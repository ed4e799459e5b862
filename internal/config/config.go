package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// EngineConfig configures the allocation and ROI pipeline.
type EngineConfig struct {
	Tolerance    float64 `yaml:"tolerance" mapstructure:"tolerance"`
	ROIPolicy    string  `yaml:"roi_policy" mapstructure:"roi_policy"`
	MaxParallel  int     `yaml:"max_parallel" mapstructure:"max_parallel"`
	PipelineFile string  `yaml:"pipeline_file" mapstructure:"pipeline_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the configuration for a runnable setup.
func (c *Config) Validate() error {
	var missing []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required for the sqlite driver (file path or :memory:)")
		}
	default:
		missing = append(missing, "store.driver must be postgres or sqlite")
	}

	if c.Engine.Tolerance <= 0 || c.Engine.Tolerance >= 1 {
		missing = append(missing, "engine.tolerance must be between 0 and 1 exclusive")
	}
	if c.Engine.ROIPolicy != "strict" && c.Engine.ROIPolicy != "permissive" {
		missing = append(missing, "engine.roi_policy must be strict or permissive")
	}
	if c.Engine.MaxParallel < 1 || c.Engine.MaxParallel > 64 {
		missing = append(missing, "engine.max_parallel must be between 1 and 64")
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TBM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("engine.tolerance", 0.0001)
	v.SetDefault("engine.roi_policy", "strict")
	v.SetDefault("engine.max_parallel", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
