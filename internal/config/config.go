// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

// Package config loads the tenantkit configuration.
//
// Sources are layered, later ones winning:
//
//  1. built-in defaults
//  2. YAML file (--config)
//  3. environment, after an optional .env file
//  4. command-line flags that were set explicitly
package config

import (
	"errors"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// MinSecretLength is the shortest accepted HMAC signing secret in bytes.
const MinSecretLength = 32

// SupportedAlgorithms lists the accepted token signing algorithms.
var SupportedAlgorithms = []string{"HS256", "HS384", "HS512"}

// Config is the complete runtime configuration.
type Config struct {
	Env      string         `koanf:"env" env:"ENV"`
	Database DatabaseConfig `koanf:"database"`
	Token    TokenConfig    `koanf:"token"`
	Frontend FrontendConfig `koanf:"frontend"`
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	SMTP     SMTPConfig     `koanf:"smtp"`
}

// DatabaseConfig selects and configures storage.
type DatabaseConfig struct {
	Driver   string `koanf:"driver" env:"DATABASE_DRIVER"`
	URL      string `koanf:"url" env:"DATABASE_URL"`
	MaxConns int32  `koanf:"max_conns" env:"DATABASE_MAX_CONNS"`

	// AutoMigrate applies pending migrations when serve starts.
	AutoMigrate bool `koanf:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// TokenConfig configures session token signing.
type TokenConfig struct {
	Secret    string        `koanf:"secret" env:"SECRET_KEY"`
	Algorithm string        `koanf:"algorithm" env:"ALGORITHM"`
	TTL       time.Duration `koanf:"ttl" env:"TOKEN_TTL"`

	// ExpireMinutes overrides TTL when set.
	ExpireMinutes int `koanf:"-" env:"ACCESS_TOKEN_EXPIRE_MINUTES"`
}

// FrontendConfig holds the origin used in emailed links.
type FrontendConfig struct {
	BaseURL string `koanf:"base_url" env:"FE_BASE_URL"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" env:"HTTP_ADDR"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
	// CORSOrigins are extra browser origins allowed besides frontend.base_url.
	// Entries may use glob wildcards, e.g. "https://*.example.com".
	CORSOrigins []string `koanf:"cors_origins" env:"HTTP_CORS_ORIGINS" envSeparator:","`
}

// MetricsConfig configures the metrics and health listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" env:"METRICS_ADDR"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Format string `koanf:"format" env:"LOG_FORMAT"`
	Level  string `koanf:"level" env:"LOG_LEVEL"`
}

// SMTPConfig configures outbound email. Empty Host logs reset links instead.
type SMTPConfig struct {
	Host     string `koanf:"host" env:"SMTP_HOST"`
	Port     int    `koanf:"port" env:"SMTP_PORT"`
	Username string `koanf:"username" env:"SMTP_USERNAME"`
	Password string `koanf:"password" env:"SMTP_PASSWORD"`
	From     string `koanf:"from" env:"SMTP_FROM"`
	// Timeout bounds one delivery, dial to QUIT.
	Timeout time.Duration `koanf:"timeout" env:"SMTP_TIMEOUT"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Env:      "production",
		Database: DatabaseConfig{Driver: DriverPostgres, MaxConns: 10, AutoMigrate: true},
		Token:    TokenConfig{Algorithm: "HS256", TTL: 30 * time.Minute},
		Frontend: FrontendConfig{BaseURL: "http://localhost:3000"},
		HTTP:     HTTPConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:      LogConfig{Format: "json", Level: "info"},
		SMTP:     SMTPConfig{Port: 587, Timeout: 10 * time.Second},
	}
}

// IsDevelopment reports whether Env is "development".
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can start the server.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	case DriverMemory:
		if !c.IsDevelopment() {
			errs = append(errs, errors.New("database.driver memory is only allowed with env development"))
		}
	default:
		errs = append(errs, errors.New("database.driver must be postgres or memory"))
	}

	if c.Token.Secret == "" {
		errs = append(errs, errors.New("token.secret is required"))
	} else if len(c.Token.Secret) < MinSecretLength {
		errs = append(errs, errors.New("token.secret must be at least 32 bytes"))
	}
	if !slices.Contains(SupportedAlgorithms, c.Token.Algorithm) {
		errs = append(errs, errors.New("token.algorithm must be one of HS256, HS384, HS512"))
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("token.ttl must be positive"))
	}

	if u, err := url.Parse(c.Frontend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, errors.New("frontend.base_url must be an absolute URL"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, errors.New("log.format must be json or text"))
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("smtp.from is required when smtp.host is set"))
	}

	if err := errors.Join(errs...); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return nil
}

// LoadOptions controls Load.
type LoadOptions struct {
	// File is an optional YAML config path.
	File string
	// DotEnv is an optional .env path. A missing file is not an error.
	DotEnv string
	// Flags holds command flags named after config keys (e.g. "http.addr").
	// Only flags the user set override other sources.
	Flags *pflag.FlagSet
}

// Load builds a Config from defaults, file, environment and flags.
// The result is not validated.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Defaults()

	if opts.File != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("file", opts.File).
				Wrap(err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("file", opts.File).
				Wrap(err)
		}
	}

	if opts.DotEnv != "" {
		if err := godotenv.Load(opts.DotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("dotenv", opts.DotEnv).
				Wrap(err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").
			With("operation", "parse environment").
			Wrap(err)
	}
	if cfg.Token.ExpireMinutes > 0 {
		cfg.Token.TTL = time.Duration(cfg.Token.ExpireMinutes) * time.Minute
	}

	if opts.Flags != nil {
		k := koanf.New(".")
		changedOnly := func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return f.Name, posflag.FlagVal(opts.Flags, f)
		}
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", nil, changedOnly), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load flags").
				Wrap(err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load flags").
				Wrap(err)
		}
	}

	return &cfg, nil
}

// RegisterFlags adds the overridable config keys to fs with the built-in
// defaults as displayed values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("database.driver", d.Database.Driver, "storage driver (postgres, or memory with env development)")
	fs.String("database.url", "", "PostgreSQL connection URL")
	fs.String("http.addr", d.HTTP.Addr, "API listen address")
	fs.String("metrics.addr", d.Metrics.Addr, "metrics/health listen address (empty = disabled)")
	fs.String("log.format", d.Log.Format, "log format (json or text)")
	fs.String("log.level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("frontend.base_url", d.Frontend.BaseURL, "frontend origin used in emailed links")
	fs.Duration("token.ttl", d.Token.TTL, "session token lifetime")
}
