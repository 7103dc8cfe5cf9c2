package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	BasePath        string        `yaml:"base_path"`
	Env             string        `yaml:"env"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	SecretKey string `yaml:"secret_key"`
}

// SyncConfig tunes the presence and document synchronization hub.
type SyncConfig struct {
	// IdleThreshold is how long a session may go without a heartbeat
	// before its derived status drops from active to idle.
	IdleThreshold time.Duration `yaml:"idle_threshold"`
	// AwayThreshold is the idle-to-away boundary.
	AwayThreshold time.Duration `yaml:"away_threshold"`
	// SessionTimeout is the inactivity window after which the liveness
	// sweeper evicts a session.
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// SweepInterval is the liveness sweeper period.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// CursorThrottle is the minimum interval between cursor broadcasts
	// for one (session, document) pair.
	CursorThrottle time.Duration `yaml:"cursor_throttle"`
	// DocumentRetention is how long cached document state survives after
	// its room empties.
	DocumentRetention time.Duration `yaml:"document_retention"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            8002,
			BasePath:        "/api/sync",
			Env:             "dev",
			LogLevel:        "debug",
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		Sync: SyncConfig{
			IdleThreshold:     time.Minute,
			AwayThreshold:     5 * time.Minute,
			SessionTimeout:    10 * time.Minute,
			SweepInterval:     time.Minute,
			CursorThrottle:    100 * time.Millisecond,
			DocumentRetention: 30 * time.Minute,
		},
	}

	// Load from yaml file if exists
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override with environment variables
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if basePath := os.Getenv("SERVER_BASE_PATH"); basePath != "" {
		cfg.Server.BasePath = basePath
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Server.Env = env
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			cfg.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if secretKey := os.Getenv("SECRET_KEY"); secretKey != "" {
		cfg.Auth.SecretKey = secretKey
	}
	if v := os.Getenv("SESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.SessionTimeout = d
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.SweepInterval = d
		}
	}
	if v := os.Getenv("CURSOR_THROTTLE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.CursorThrottle = d
		}
	}

	return cfg, nil
}
