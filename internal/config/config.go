package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	// Superficie de ops del consumer (healthz/metrics/stats).
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	// Log particionado de operaciones (Redis Streams).
	Stream struct {
		Name   string `yaml:"name"`   // nombre base del stream
		Shards int    `yaml:"shards"` // shards del log: keys <name>:0..N-1
		Redis  struct {
			Addr     string `yaml:"addr"`
			DB       int    `yaml:"db"`
			Password string `yaml:"password"`
		} `yaml:"redis"`
		PollInterval string `yaml:"poll_interval"`
		BatchSize    int    `yaml:"batch_size"`
		// beginning | latest
		StartPosition string `yaml:"start_position"`
	} `yaml:"stream"`

	// Coordinador de shards del store (HTTP).
	Router struct {
		BaseURL  string `yaml:"base_url"`
		APIKey   string `yaml:"api_key"`
		Timeout  string `yaml:"timeout"`
		CacheTTL string `yaml:"cache_ttl"` // TTL del cache tenant-location → shard
	} `yaml:"router"`

	// Pools PG por shard del store.
	Storage struct {
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	// Hub de notificaciones de completitud (best-effort).
	Notifier struct {
		BaseURL   string `yaml:"base_url"`
		Timeout   string `yaml:"timeout"`
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"notifier"`

	// Deduplicación de errores de conectividad.
	Guard struct {
		Cooldown string `yaml:"cooldown"`
	} `yaml:"guard"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default construye una configuración sin YAML (solo defaults + env).
func Default() (*Config, error) {
	var c Config
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Stream.Name == "" {
		c.Stream.Name = "resource-operations"
	}
	if c.Stream.Shards <= 0 {
		c.Stream.Shards = 4
	}
	if c.Stream.Redis.Addr == "" {
		c.Stream.Redis.Addr = "localhost:6379"
	}
	if c.Stream.PollInterval == "" {
		c.Stream.PollInterval = "1s"
	}
	if c.Stream.BatchSize <= 0 {
		c.Stream.BatchSize = 100
	}
	if c.Stream.StartPosition == "" {
		c.Stream.StartPosition = "latest"
	}
	if c.Router.Timeout == "" {
		c.Router.Timeout = "10s"
	}
	if c.Router.CacheTTL == "" {
		c.Router.CacheTTL = "5m"
	}
	if c.Storage.Postgres.MaxOpenConns <= 0 {
		c.Storage.Postgres.MaxOpenConns = 8
	}
	if c.Storage.Postgres.MaxIdleConns <= 0 {
		c.Storage.Postgres.MaxIdleConns = 2
	}
	if c.Storage.Postgres.ConnMaxLifetime == "" {
		c.Storage.Postgres.ConnMaxLifetime = "30m"
	}
	if c.Notifier.Timeout == "" {
		c.Notifier.Timeout = "5s"
	}
	if c.Notifier.QueueSize <= 0 {
		c.Notifier.QueueSize = 256
	}
	if c.Guard.Cooldown == "" {
		c.Guard.Cooldown = "1m"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
// Los secretos (API key, password de redis) normalmente solo viven acá.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("STREAM_NAME"); ok {
		c.Stream.Name = v
	}
	if v, ok := getEnvInt("STREAM_SHARDS"); ok {
		c.Stream.Shards = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Stream.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Stream.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Stream.Redis.Password = v
	}
	if v, ok := getEnvStr("STREAM_START_POSITION"); ok {
		c.Stream.StartPosition = strings.ToLower(v)
	}
	if v, ok := getEnvStr("ROUTER_BASE_URL"); ok {
		c.Router.BaseURL = v
	}
	if v, ok := getEnvStr("ROUTER_API_KEY"); ok {
		c.Router.APIKey = v
	}
	if v, ok := getEnvStr("NOTIFIER_BASE_URL"); ok {
		c.Notifier.BaseURL = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

// Validate chequea invariantes que no tienen default razonable.
func (c *Config) Validate() error {
	if c.Stream.StartPosition != "beginning" && c.Stream.StartPosition != "latest" {
		return fmt.Errorf("config: stream.start_position must be beginning|latest, got %q", c.Stream.StartPosition)
	}
	for name, s := range map[string]string{
		"stream.poll_interval":               c.Stream.PollInterval,
		"router.timeout":                     c.Router.Timeout,
		"router.cache_ttl":                   c.Router.CacheTTL,
		"storage.postgres.conn_max_lifetime": c.Storage.Postgres.ConnMaxLifetime,
		"notifier.timeout":                   c.Notifier.Timeout,
		"guard.cooldown":                     c.Guard.Cooldown,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// Duraciones ya validadas: los getters no devuelven error.

func (c *Config) PollInterval() time.Duration  { return mustDur(c.Stream.PollInterval) }
func (c *Config) RouterTimeout() time.Duration { return mustDur(c.Router.Timeout) }
func (c *Config) RouterCacheTTL() time.Duration {
	return mustDur(c.Router.CacheTTL)
}
func (c *Config) ConnMaxLifetime() time.Duration {
	return mustDur(c.Storage.Postgres.ConnMaxLifetime)
}
func (c *Config) NotifierTimeout() time.Duration { return mustDur(c.Notifier.Timeout) }
func (c *Config) GuardCooldown() time.Duration   { return mustDur(c.Guard.Cooldown) }

func mustDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
