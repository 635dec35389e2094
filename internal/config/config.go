// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads credkeep settings. Values are layered in order:
// built-in defaults, an optional YAML file, CREDKEEP_* environment variables
// and finally command-line flags. A later layer overrides an earlier one.
//
// Environment variables map to keys by dropping the prefix, lowercasing and
// turning a double underscore into a key separator, so CREDKEEP_SMTP__HOST
// sets smtp.host and CREDKEEP_FRONTEND_URL sets frontend_url.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "CREDKEEP_"

// MinSecretBytes is the shortest accepted session signing secret.
const MinSecretBytes = 32

// Store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Config is the complete runtime configuration.
type Config struct {
	HTTP        HTTPConfig     `koanf:"http" yaml:"http"`
	Metrics     MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Log         LogConfig      `koanf:"log" yaml:"log"`
	Store       string         `koanf:"store" yaml:"store"`
	Database    DatabaseConfig `koanf:"database" yaml:"database"`
	Session     SessionConfig  `koanf:"session" yaml:"session"`
	Reset       ResetConfig    `koanf:"reset" yaml:"reset"`
	Redis       RedisConfig    `koanf:"redis" yaml:"redis"`
	FrontendURL string         `koanf:"frontend_url" yaml:"frontend_url"`
	SMTP        SMTPConfig     `koanf:"smtp" yaml:"smtp"`
	CORS        CORSConfig     `koanf:"cors" yaml:"cors"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// MetricsConfig configures the metrics and health listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// DatabaseConfig configures the PostgreSQL connection. AutoMigrate applies
// pending migrations when the server starts.
type DatabaseConfig struct {
	URL         string `koanf:"url" yaml:"url"`
	MaxConns    int32  `koanf:"max_conns" yaml:"max_conns"`
	AutoMigrate bool   `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// SessionConfig configures session tokens.
type SessionConfig struct {
	Secret string        `koanf:"secret" yaml:"secret"`
	TTL    time.Duration `koanf:"ttl" yaml:"ttl"`
}

// ResetConfig configures password reset tokens. An empty Store means the
// same backend as the user store.
type ResetConfig struct {
	TTL           time.Duration `koanf:"ttl" yaml:"ttl"`
	Store         string        `koanf:"store" yaml:"store"`
	PurgeInterval time.Duration `koanf:"purge_interval" yaml:"purge_interval"`
}

// RedisConfig configures the Redis client used for reset tokens.
type RedisConfig struct {
	Addr     string `koanf:"addr" yaml:"addr"`
	Password string `koanf:"password" yaml:"password"`
	DB       int    `koanf:"db" yaml:"db"`
}

// SMTPConfig configures outgoing mail. An empty Host disables delivery.
type SMTPConfig struct {
	Host     string        `koanf:"host" yaml:"host"`
	Port     int           `koanf:"port" yaml:"port"`
	Username string        `koanf:"username" yaml:"username"`
	Password string        `koanf:"password" yaml:"password"`
	From     string        `koanf:"from" yaml:"from"`
	Secure   bool          `koanf:"secure" yaml:"secure"`
	Timeout  time.Duration `koanf:"timeout" yaml:"timeout"`
}

// Enabled reports whether outgoing mail is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// CORSConfig lists the origins allowed to call the API with credentials.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins" yaml:"allowed_origins"`
}

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"http.addr":             ":5000",
		"metrics.addr":          "127.0.0.1:9100",
		"log.format":            "json",
		"log.level":             "info",
		"store":                 StorePostgres,
		"database.auto_migrate": true,
		"database.max_conns":    0,
		"session.ttl":           "24h",
		"reset.ttl":             "40m",
		"reset.store":           "",
		"reset.purge_interval":  "10m",
		"redis.addr":            "localhost:6379",
		"redis.db":              0,
		"smtp.port":             587,
		"smtp.timeout":          "10s",
		"smtp.secure":           false,
	}
}

// FlagKeys maps command-line flag names to configuration keys. Flags not
// listed here are not configuration.
var FlagKeys = map[string]string{
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"store":        "store",
	"reset-store":  "reset.store",
	"database-url": "database.url",
}

// Load builds a Config from the layers. path and flags may be empty or nil.
// The result is not validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "defaults").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("layer", "file").
				With("path", path).
				Wrapf(err, "read config file")
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "decode config")
	}
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)
	return &cfg, nil
}

func envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(name, "__", ".")
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Redacted returns a copy with secrets replaced by a mask, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.CORS.AllowedOrigins = append([]string(nil), c.CORS.AllowedOrigins...)
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redactedMask
	}
	out.Session.Secret = mask(c.Session.Secret)
	out.SMTP.Password = mask(c.SMTP.Password)
	out.Redis.Password = mask(c.Redis.Password)
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redactedMask)
			out.Database.URL = u.String()
		}
	}
	return &out
}

const redactedMask = "REDACTED"

// ResetStore returns the effective reset token backend.
func (c *Config) ResetStore() string {
	if c.Reset.Store == "" {
		return c.Store
	}
	return c.Reset.Store
}

// UsesPostgres reports whether any store needs a database connection.
func (c *Config) UsesPostgres() bool {
	return c.Store == StorePostgres || c.ResetStore() == StorePostgres
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	invalid := func(key, msg string) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s: %s", key, msg)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "must not be empty")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "must be json or text")
	}
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return invalid("store", "must be postgres or memory")
	}
	switch c.ResetStore() {
	case StorePostgres:
		// Reset rows reference users, so both must live in the database.
		if c.Store != StorePostgres {
			return invalid("reset.store", "postgres requires store to be postgres")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return invalid("redis.addr", "required when reset.store is redis")
		}
		if c.Redis.DB < 0 {
			return invalid("redis.db", "must not be negative")
		}
	case StoreMemory:
	default:
		return invalid("reset.store", "must be postgres, redis or memory")
	}
	if c.UsesPostgres() && c.Database.URL == "" {
		return invalid("database.url", "required when a store is postgres")
	}
	if c.Database.MaxConns < 0 {
		return invalid("database.max_conns", "must not be negative")
	}

	if len(c.Session.Secret) < MinSecretBytes {
		return invalid("session.secret", "must be at least 32 bytes")
	}
	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "must be positive")
	}
	if c.Reset.TTL <= 0 {
		return invalid("reset.ttl", "must be positive")
	}
	if c.Reset.PurgeInterval < 0 {
		return invalid("reset.purge_interval", "must not be negative")
	}

	u, err := url.Parse(c.FrontendURL)
	if c.FrontendURL == "" || err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("frontend_url", "must be an absolute http or https URL")
	}

	if c.SMTP.Enabled() {
		if c.SMTP.From == "" {
			return invalid("smtp.from", "required when smtp.host is set")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return invalid("smtp.port", "must be between 1 and 65535")
		}
	}
	return nil
}
