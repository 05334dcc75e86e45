package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
)

type (
	Config struct {
		Log      Log      `yaml:"log" envPrefix:"LOG_"`
		Keys     Keys     `yaml:"keys" envPrefix:"KEYS_"`
		Store    Store    `yaml:"store" envPrefix:"STORE_"`
		Delivery Delivery `yaml:"delivery" envPrefix:"DELIVERY_"`
		Server   Server   `yaml:"server" envPrefix:"SERVER_"`
	}

	Log struct {
		Level       string `yaml:"level" env:"LEVEL"`
		Development bool   `yaml:"development" env:"DEVELOPMENT"`
	}

	Keys struct {
		Dir string `yaml:"dir" env:"DIR"`
		// Passphrase seals private keys at rest. It is never read from YAML.
		Passphrase string `yaml:"-" env:"PASSPHRASE"`
	}

	Store struct {
		Backend string `yaml:"backend" env:"BACKEND"`
		Dir     string `yaml:"dir" env:"DIR"`
		SQLite  SQLite `yaml:"sqlite" envPrefix:"SQLITE_"`
		Mongo   Mongo  `yaml:"mongo" envPrefix:"MONGO_"`
		Redis   Redis  `yaml:"redis" envPrefix:"REDIS_"`
	}

	SQLite struct {
		Path string `yaml:"path" env:"PATH"`
	}

	Mongo struct {
		URI      string `yaml:"uri" env:"URI"`
		Database string `yaml:"database" env:"DATABASE"`
	}

	Redis struct {
		Addr     string `yaml:"addr" env:"ADDR"`
		Password string `yaml:"password" env:"PASSWORD"`
		DB       int    `yaml:"db" env:"DB"`
	}

	Delivery struct {
		DefaultTTL time.Duration `yaml:"defaultTTL" env:"DEFAULT_TTL"`
	}

	Server struct {
		Addr         string  `yaml:"addr" env:"ADDR"`
		ReceiveRPS   float64 `yaml:"receiveRPS" env:"RECEIVE_RPS"`
		ReceiveBurst int     `yaml:"receiveBurst" env:"RECEIVE_BURST"`
	}
)

func Default() *Config {
	return &Config{
		Log: Log{
			Level: "info",
		},
		Keys: Keys{
			Dir: "keys",
		},
		Store: Store{
			Backend: BackendFile,
			Dir:     "messages",
			SQLite:  SQLite{Path: "securedrop.db"},
			Mongo: Mongo{
				URI:      "mongodb://localhost:27017",
				Database: "securedrop",
			},
			Redis: Redis{Addr: "localhost:6379"},
		},
		Delivery: Delivery{
			DefaultTTL: 10 * time.Minute,
		},
		Server: Server{
			Addr:         "127.0.0.1:9090",
			ReceiveRPS:   1,
			ReceiveBurst: 5,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then SECUREDROP_* environment variables.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "SECUREDROP_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("log level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	if c.Keys.Dir == "" {
		result = multierror.Append(result, fmt.Errorf("keys dir is required"))
	}

	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Dir == "" {
			result = multierror.Append(result, fmt.Errorf("store dir is required for the file backend"))
		}
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			result = multierror.Append(result, fmt.Errorf("sqlite path is required for the sqlite backend"))
		}
	case BackendMongo:
		if c.Store.Mongo.URI == "" {
			result = multierror.Append(result, fmt.Errorf("mongo uri is required for the mongo backend"))
		}
		if c.Store.Mongo.Database == "" {
			result = multierror.Append(result, fmt.Errorf("mongo database is required for the mongo backend"))
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			result = multierror.Append(result, fmt.Errorf("redis addr is required for the redis backend"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	if c.Delivery.DefaultTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("delivery defaultTTL must not be negative"))
	}

	if c.Server.Addr == "" {
		result = multierror.Append(result, fmt.Errorf("server addr is required"))
	}
	if c.Server.ReceiveRPS <= 0 {
		result = multierror.Append(result, fmt.Errorf("server receiveRPS must be positive"))
	}
	if c.Server.ReceiveBurst < 1 {
		result = multierror.Append(result, fmt.Errorf("server receiveBurst must be at least 1"))
	}

	return result.ErrorOrNil()
}
