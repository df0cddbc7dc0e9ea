package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string  `mapstructure:"PORT"`
	Env               string  `mapstructure:"ENV"`
	LogLevel          string  `mapstructure:"LOG_LEVEL"`
	DatabaseURL       string  `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32   `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32   `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir     string  `mapstructure:"MIGRATIONS_DIR"`
	AuthSecret        string  `mapstructure:"AUTH_SECRET"`
	RateLimitRPS      float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int     `mapstructure:"RATE_LIMIT_BURST"`
	TuningTimeoutSecs int     `mapstructure:"TUNING_TIMEOUT_SECONDS"`
	TuningStaleSecs   int     `mapstructure:"TUNING_STALE_AFTER_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("TUNING_TIMEOUT_SECONDS", 3600)
	v.SetDefault("TUNING_STALE_AFTER_SECONDS", 7200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TUNING_TIMEOUT_SECONDS")
	v.BindEnv("TUNING_STALE_AFTER_SECONDS")

	// Try reading .env, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool { return c.Env == "development" }

// TuningTimeout is the wall-clock deadline for a single tuning job.
func (c *Config) TuningTimeout() time.Duration {
	return time.Duration(c.TuningTimeoutSecs) * time.Second
}

// TuningStaleAfter is the age past which an unfinished tuning job found at
// startup is considered abandoned.
func (c *Config) TuningStaleAfter() time.Duration {
	return time.Duration(c.TuningStaleSecs) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// a signing secret must be configured so the API is not left open.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required when ENV=%q; refusing to serve PII unauthenticated", c.Env)
	}
	if c.TuningTimeoutSecs <= 0 {
		return fmt.Errorf("TUNING_TIMEOUT_SECONDS must be positive, got %d", c.TuningTimeoutSecs)
	}
	if c.DBMaxConns < c.DBMinConns {
		return fmt.Errorf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.DBMaxConns, c.DBMinConns)
	}
	return nil
}
