package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"app_env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		// postgres | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns int `yaml:"max_open_conns"`
			MaxIdleConns int `yaml:"max_idle_conns"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Truststore struct {
		RefreshInterval string `yaml:"refresh_interval"`
		ResolveTimeout  string `yaml:"resolve_timeout"`
	} `yaml:"truststore"`

	Verification struct {
		ACP struct {
			// Vacío = cualquier PSP.
			AllowedPSPs []string `yaml:"allowed_psps"`
		} `yaml:"acp"`
	} `yaml:"verification"`

	Webhooks struct {
		Outbound struct {
			Timeout      string `yaml:"timeout"`
			MaxAttempts  int    `yaml:"max_attempts"`
			BaseBackoff  string `yaml:"base_backoff"`
			MaxBackoff   string `yaml:"max_backoff"`
			PollInterval string `yaml:"poll_interval"`
			BatchSize    int    `yaml:"batch_size"`
			Workers      int    `yaml:"workers"`
		} `yaml:"outbound"`
		Inbound struct {
			ACPSecret string `yaml:"acp_secret"`
			Rate      struct {
				Enabled bool   `yaml:"enabled"`
				Limit   int    `yaml:"limit"`
				Window  string `yaml:"window"`
			} `yaml:"rate"`
		} `yaml:"inbound"`
	} `yaml:"webhooks"`

	Security struct {
		// base64 de 32 bytes (AES-256) para cifrar secrets de suscripciones.
		SecretboxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`

	Flags struct {
		Migrate bool `yaml:"migrate"`
	} `yaml:"flags"`
}

// Load lee el YAML (si path no está vacío), aplica defaults, overrides por env y valida.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "15s"
	}
	if c.Storage.Driver == "" {
		if c.Storage.DSN != "" {
			c.Storage.Driver = "postgres"
		} else {
			c.Storage.Driver = "memory"
		}
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "mandato"
	}
	if c.Truststore.RefreshInterval == "" {
		c.Truststore.RefreshInterval = "5m"
	}
	if c.Truststore.ResolveTimeout == "" {
		c.Truststore.ResolveTimeout = "2s"
	}
	o := &c.Webhooks.Outbound
	if o.Timeout == "" {
		o.Timeout = "30s"
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff == "" {
		o.BaseBackoff = "1s"
	}
	if o.MaxBackoff == "" {
		o.MaxBackoff = "16s"
	}
	if o.PollInterval == "" {
		o.PollInterval = "1s"
	}
	if o.BatchSize == 0 {
		o.BatchSize = 100
	}
	if o.Workers == 0 {
		o.Workers = 16
	}
	in := &c.Webhooks.Inbound
	if in.Rate.Limit == 0 {
		in.Rate.Limit = 120
	}
	if in.Rate.Window == "" {
		in.Rate.Window = "1m"
	}
}

// Validate chequea combinaciones inválidas y formatos de duración.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("config: storage.dsn requerido para driver postgres")
		}
	default:
		return fmt.Errorf("config: storage.driver inválido %q (postgres|memory)", c.Storage.Driver)
	}
	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			return errors.New("config: cache.redis.addr requerido para cache redis")
		}
	default:
		return fmt.Errorf("config: cache.kind inválido %q (memory|redis)", c.Cache.Kind)
	}

	durs := map[string]string{
		"server.read_timeout":             c.Server.ReadTimeout,
		"server.write_timeout":            c.Server.WriteTimeout,
		"server.shutdown_timeout":         c.Server.ShutdownTimeout,
		"truststore.refresh_interval":     c.Truststore.RefreshInterval,
		"truststore.resolve_timeout":      c.Truststore.ResolveTimeout,
		"webhooks.outbound.timeout":       c.Webhooks.Outbound.Timeout,
		"webhooks.outbound.base_backoff":  c.Webhooks.Outbound.BaseBackoff,
		"webhooks.outbound.max_backoff":   c.Webhooks.Outbound.MaxBackoff,
		"webhooks.outbound.poll_interval": c.Webhooks.Outbound.PollInterval,
		"webhooks.inbound.rate.window":    c.Webhooks.Inbound.Rate.Window,
	}
	for k, v := range durs {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", k, err)
		}
		if d <= 0 {
			return fmt.Errorf("config: %s debe ser > 0", k)
		}
	}
	if c.Webhooks.Outbound.MaxAttempts < 1 {
		return errors.New("config: webhooks.outbound.max_attempts debe ser >= 1")
	}

	// Guardia dura: en prod el webhook entrante y el cifrado de secrets son obligatorios.
	if strings.EqualFold(c.App.Env, "prod") {
		if strings.TrimSpace(c.Webhooks.Inbound.ACPSecret) == "" {
			return errors.New("config: webhooks.inbound.acp_secret requerido en prod")
		}
		if strings.TrimSpace(c.Security.SecretboxMasterKey) == "" {
			return errors.New("config: security.secretbox_master_key requerido en prod")
		}
	}
	return nil
}

// Duration parsea un campo de duración ya validado. Si v es inválido retorna def.
func Duration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		return def
	}
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
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// TRUSTSTORE
	if v, ok := getEnvStr("TRUSTSTORE_REFRESH_INTERVAL"); ok {
		c.Truststore.RefreshInterval = v
	}

	// VERIFICATION
	if v, ok := getEnvCSV("ACP_ALLOWED_PSPS"); ok {
		c.Verification.ACP.AllowedPSPs = v
	}

	// WEBHOOKS
	if v, ok := getEnvStr("WEBHOOK_TIMEOUT"); ok {
		c.Webhooks.Outbound.Timeout = v
	}
	if v, ok := getEnvInt("WEBHOOK_MAX_ATTEMPTS"); ok {
		c.Webhooks.Outbound.MaxAttempts = v
	}
	if v, ok := getEnvInt("WEBHOOK_WORKERS"); ok {
		c.Webhooks.Outbound.Workers = v
	}
	if v, ok := getEnvStr("ACP_WEBHOOK_SECRET"); ok {
		c.Webhooks.Inbound.ACPSecret = v
	}
	if v, ok := getEnvBool("ACP_WEBHOOK_RATE_ENABLED"); ok {
		c.Webhooks.Inbound.Rate.Enabled = v
	}

	// SECURITY
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretboxMasterKey = v
	}

	// FLAGS
	if v, ok := getEnvBool("FLAGS_MIGRATE"); ok {
		c.Flags.Migrate = v
	}
}
