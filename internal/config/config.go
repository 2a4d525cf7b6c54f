package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Redis struct {
		Addr       string `yaml:"addr"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		ArchiveTTL string `yaml:"archive_ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Progress struct {
		Timezone            string `yaml:"timezone"`
		MaxRetries          int    `yaml:"max_retries"`
		MaxClockSkew        string `yaml:"max_clock_skew"`
		CacheTTL            string `yaml:"cache_ttl"`
		RolloverSchedule    string `yaml:"rollover_schedule"`
		RolloverConcurrency int    `yaml:"rollover_concurrency"`
	} `yaml:"progress"`
}

// Load reads YAML config from path. A .env file next to the working directory,
// when present, is loaded first so environment overrides can come from it.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("LOG_MODE"); v != "" {
		cfg.Log.Mode = v
	}
	if v := os.Getenv("PROGRESS_TIMEZONE"); v != "" {
		cfg.Progress.Timezone = v
	}
	if v := os.Getenv("PROGRESS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Progress.MaxRetries = n
		}
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Location resolves the configured timezone, defaulting to UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Progress.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Progress.Timezone)
}
