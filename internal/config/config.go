package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application settings. Load reads the YAML file and
// then lets environment variables override the sensitive values.
type Config struct {
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Pairs []PairConfig `yaml:"pairs"`

	Matching struct {
		BatchSize          int `yaml:"batch_size"`
		CheckingIntervalMS int `yaml:"checking_interval_ms"`
		GuardBandMS        int `yaml:"guard_band_ms"`
		MinDelayMS         int `yaml:"min_delay_ms"`
		MaxDelayMS         int `yaml:"max_delay_ms"`
		EmptyThreshold     int `yaml:"empty_threshold"`
		SettleRetryLimit   int `yaml:"settle_retry_limit"`
	} `yaml:"matching"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

type PairConfig struct {
	Coin     string `yaml:"coin"`
	Currency string `yaml:"currency"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one trading pair is required")
	}
	for _, p := range c.Pairs {
		if p.Coin == "" || p.Currency == "" {
			return fmt.Errorf("pair needs both coin and currency")
		}
	}
	return nil
}

func (c *Config) CheckingInterval() time.Duration {
	return time.Duration(c.Matching.CheckingIntervalMS) * time.Millisecond
}

func (c *Config) GuardBand() time.Duration {
	return time.Duration(c.Matching.GuardBandMS) * time.Millisecond
}

func (c *Config) MinDelay() time.Duration {
	return time.Duration(c.Matching.MinDelayMS) * time.Millisecond
}

func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Matching.MaxDelayMS) * time.Millisecond
}

func overrideWithEnv(cfg *Config) {
	if dsn := os.Getenv("MATCH_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("MATCH_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pass := os.Getenv("MATCH_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}
}
