// Package configs loads layered configuration: base.yaml, an optional
// per-environment overlay, then ORDERLEDGER_-prefixed environment variables.
package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Client struct {
	ID      string   `koanf:"id"`
	Secret  string   `koanf:"secret"`
	Perms   []string `koanf:"perms"`
	Enabled bool     `koanf:"enabled"`
}

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		LogFile  string `koanf:"log_file"`
		LogLevel string `koanf:"log_level"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout  time.Duration `koanf:"read_timeout"`
		WriteTimeout time.Duration `koanf:"write_timeout"`
		IdleTimeout  time.Duration `koanf:"idle_timeout"`
	} `koanf:"http"`

	Store struct {
		// Backend selects the entity store: memory | mongo | mysql.
		Backend string `koanf:"backend"`
	} `koanf:"store"`

	Mongo struct {
		URI      string        `koanf:"uri"`
		Database string        `koanf:"database"`
		Timeout  time.Duration `koanf:"timeout"`
	} `koanf:"mongo"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"mysql"`

	Engine struct {
		MaxAttempts int `koanf:"max_attempts"`
		FeedBuffer  int `koanf:"feed_buffer"`
	} `koanf:"engine"`

	Redis struct {
		Enabled  bool   `koanf:"enabled"`
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	Rabbit struct {
		Enabled    bool   `koanf:"enabled"`
		URL        string `koanf:"url"`
		Exchange   string `koanf:"exchange"`
		RoutingKey string `koanf:"routing_key"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Enabled bool     `koanf:"enabled"`
		Brokers []string `koanf:"brokers"`
		Topic   string   `koanf:"topic"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret string        `koanf:"jwt_secret"`
		Issuer    string        `koanf:"issuer"`
		Audience  string        `koanf:"audience"`
		TTL       time.Duration `koanf:"ttl"`
		Clients   []Client      `koanf:"clients"`
	} `koanf:"security"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env overlay (dev/staging/prod), optional for local runs
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override, e.g. ORDERLEDGER_MONGO__URI
	if err := k.Load(env.Provider("ORDERLEDGER_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "ORDERLEDGER_")
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	switch c.Store.Backend {
	case "memory":
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri required for the mongo backend")
		}
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn required for the mysql backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory, mongo, or mysql")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required when redis is enabled")
	}
	if c.Rabbit.Enabled && c.Rabbit.URL == "" {
		return fmt.Errorf("rabbitmq.url required when rabbitmq is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	return nil
}
