package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port       int           `yaml:"port"`
	AdminKey   string        `yaml:"admin_key"`   // shared secret exchanged for a session
	JWTSecret  string        `yaml:"jwt_secret"`  // HMAC key for session tokens
	SessionTTL time.Duration `yaml:"session_ttl"` // default 30m
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // view cache TTL
}

// EngineConfig points at the external workflow engine that runs discovery,
// scraping and extraction.
type EngineConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// ResearchConfig tunes the observer and stall detection.
type ResearchConfig struct {
	StaleThreshold    time.Duration `yaml:"stale_threshold"`    // default 5m
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`  // default 8m
	ExtractionTimeout time.Duration `yaml:"extraction_timeout"` // default 15m
	PollFast          time.Duration `yaml:"poll_fast"`          // early phases, default 3s
	PollSlow          time.Duration `yaml:"poll_slow"`          // from scraping on, default 10s
	RecoveryLockTTL   time.Duration `yaml:"recovery_lock_ttl"`  // default 2m
	SweepInterval     time.Duration `yaml:"sweep_interval"`     // default 1m
	SweepWorkers      int           `yaml:"sweep_workers"`      // default 4
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Research ResearchConfig `yaml:"research"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.SessionTTL <= 0 {
		cfg.Server.SessionTTL = 30 * time.Minute
	}
	if cfg.Engine.Timeout <= 0 {
		cfg.Engine.Timeout = 10 * time.Second
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Minute
	}
	applyResearchDefaults(&cfg.Research)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if !dev && cfg.Engine.BaseURL == "" {
		return nil, errors.New("engine.base_url is required outside dev mode")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyResearchDefaults(r *ResearchConfig) {
	if r.StaleThreshold <= 0 {
		r.StaleThreshold = 5 * time.Minute
	}
	if r.DiscoveryTimeout <= 0 {
		r.DiscoveryTimeout = 8 * time.Minute
	}
	if r.ExtractionTimeout <= 0 {
		r.ExtractionTimeout = 15 * time.Minute
	}
	if r.PollFast <= 0 {
		r.PollFast = 3 * time.Second
	}
	if r.PollSlow <= 0 {
		r.PollSlow = 10 * time.Second
	}
	if r.RecoveryLockTTL <= 0 {
		r.RecoveryLockTTL = 2 * time.Minute
	}
	if r.SweepInterval <= 0 {
		r.SweepInterval = time.Minute
	}
	if r.SweepWorkers <= 0 {
		r.SweepWorkers = 4
	}
}
