// Package config loads pawl settings from defaults, an optional file, .env
// and PAWL_ environment variables, in that order.
package config

/*
pawl — Palo Alto firewall URL allow-list tool in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/x-stp/pawl/internal/core"
)

// EnvPrefix is prepended to every environment variable, e.g. PAWL_FIREWALL_HOST.
const EnvPrefix = "PAWL"

type Config struct {
	Firewall FirewallConfig `yaml:"firewall" json:"firewall"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Commit   CommitConfig   `yaml:"commit" json:"commit"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Sentry   SentryConfig   `yaml:"sentry" json:"sentry"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Journal  JournalConfig  `yaml:"journal" json:"journal"`
}

type FirewallConfig struct {
	Host        string        `yaml:"host" json:"host" split_words:"true"`
	User        string        `yaml:"user" json:"user" split_words:"true"`
	Password    string        `yaml:"password" json:"password" split_words:"true"`
	APIKey      string        `yaml:"apiKey" json:"apiKey" split_words:"true"`
	InsecureTLS bool          `yaml:"insecureTLS" json:"insecureTLS" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" split_words:"true"`
	// RequestsPerSecond caps calls to the management API; Burst is the bucket size.
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond" split_words:"true"`
	Burst             int     `yaml:"burst" json:"burst" split_words:"true"`
}

type SearchConfig struct {
	AttemptBudgets     []time.Duration `yaml:"attemptBudgets" json:"attemptBudgets" split_words:"true"`
	AttemptPause       time.Duration   `yaml:"attemptPause" json:"attemptPause" split_words:"true"`
	JobCheckInterval   time.Duration   `yaml:"jobCheckInterval" json:"jobCheckInterval" split_words:"true"`
	MaxRecords         int             `yaml:"maxRecords" json:"maxRecords" split_words:"true"`
	Lookback           time.Duration   `yaml:"lookback" json:"lookback" split_words:"true"`
	EarlyExitThreshold int             `yaml:"earlyExitThreshold" json:"earlyExitThreshold" split_words:"true"`
}

type CommitConfig struct {
	InitialSettle time.Duration `yaml:"initialSettle" json:"initialSettle" split_words:"true"`
	PollInterval  time.Duration `yaml:"pollInterval" json:"pollInterval" split_words:"true"`
	AdaptAfter    int           `yaml:"adaptAfter" json:"adaptAfter" split_words:"true"`
	MaxPolls      int           `yaml:"maxPolls" json:"maxPolls" split_words:"true"`
	SettleRecheck time.Duration `yaml:"settleRecheck" json:"settleRecheck" split_words:"true"`
	MaxPollErrors int           `yaml:"maxPollErrors" json:"maxPollErrors" split_words:"true"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr" split_words:"true"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes" json:"maxBodyBytes" split_words:"true"`
	ReadTimeout  time.Duration `yaml:"readTimeout" json:"readTimeout" split_words:"true"`
	// WriteTimeout must cover a full search plus commit polling.
	WriteTimeout time.Duration `yaml:"writeTimeout" json:"writeTimeout" split_words:"true"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" split_words:"true"`
	Addr    string `yaml:"addr" json:"addr" split_words:"true"`
}

type SentryConfig struct {
	DSN         string  `yaml:"dsn" json:"dsn" split_words:"true"`
	Environment string  `yaml:"environment" json:"environment" split_words:"true"`
	SampleRate  float64 `yaml:"sampleRate" json:"sampleRate" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" split_words:"true"`
	Format string `yaml:"format" json:"format" split_words:"true"`
}

type JournalConfig struct {
	Path          string        `yaml:"path" json:"path" split_words:"true"`
	Gzip          bool          `yaml:"gzip" json:"gzip" split_words:"true"`
	FlushInterval time.Duration `yaml:"flushInterval" json:"flushInterval" split_words:"true"`
}

// Default returns the built-in settings.
func Default() Config {
	sp := core.DefaultSearchPolicy()
	cp := core.DefaultCommitPolicy()
	return Config{
		Firewall: FirewallConfig{
			User:              "admin",
			InsecureTLS:       true,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             2,
		},
		Search: SearchConfig{
			AttemptBudgets:     sp.AttemptBudgets,
			AttemptPause:       sp.AttemptPause,
			JobCheckInterval:   sp.JobCheckInterval,
			MaxRecords:         sp.MaxRecords,
			Lookback:           sp.Lookback,
			EarlyExitThreshold: sp.EarlyExitThreshold,
		},
		Commit: CommitConfig{
			InitialSettle: cp.InitialSettle,
			PollInterval:  cp.PollInterval,
			AdaptAfter:    cp.AdaptAfter,
			MaxPolls:      cp.MaxPolls,
			SettleRecheck: cp.SettleRecheck,
			MaxPollErrors: cp.MaxConsecutiveErrors,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodyBytes: 1 << 20,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Sentry:  SentryConfig{SampleRate: 1.0},
		Log:     LogConfig{Level: "info", Format: "console"},
		Journal: JournalConfig{FlushInterval: 5 * time.Second},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	_ = godotenv.Load()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges. Firewall credentials are checked separately by
// RequireFirewall since not every command talks to a firewall.
func (c Config) Validate() error {
	var errs []error
	if len(c.Search.AttemptBudgets) == 0 {
		errs = append(errs, errors.New("search.attemptBudgets must not be empty"))
	}
	for i, b := range c.Search.AttemptBudgets {
		if b <= 0 {
			errs = append(errs, fmt.Errorf("search.attemptBudgets[%d] must be positive", i))
		}
	}
	if c.Search.MaxRecords <= 0 {
		errs = append(errs, errors.New("search.maxRecords must be positive"))
	}
	if c.Search.EarlyExitThreshold < 0 {
		errs = append(errs, errors.New("search.earlyExitThreshold must not be negative"))
	}
	if c.Commit.MaxPolls <= 0 {
		errs = append(errs, errors.New("commit.maxPolls must be positive"))
	}
	if c.Commit.PollInterval <= 0 {
		errs = append(errs, errors.New("commit.pollInterval must be positive"))
	}
	if c.Firewall.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("firewall.requestsPerSecond must not be negative"))
	}
	if c.Sentry.SampleRate < 0 || c.Sentry.SampleRate > 1 {
		errs = append(errs, errors.New("sentry.sampleRate must be within [0,1]"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// RequireFirewall reports missing connection settings.
func (c Config) RequireFirewall() error {
	if c.Firewall.Host == "" {
		return errors.New("firewall host is required (--host or PAWL_FIREWALL_HOST)")
	}
	if c.Firewall.APIKey == "" && (c.Firewall.User == "" || c.Firewall.Password == "") {
		return errors.New("firewall credentials are required: an API key or user and password")
	}
	return nil
}

// SearchPolicy converts the search section.
func (c Config) SearchPolicy() core.SearchPolicy {
	return core.SearchPolicy{
		AttemptBudgets:     append([]time.Duration(nil), c.Search.AttemptBudgets...),
		AttemptPause:       c.Search.AttemptPause,
		JobCheckInterval:   c.Search.JobCheckInterval,
		MaxRecords:         c.Search.MaxRecords,
		Lookback:           c.Search.Lookback,
		EarlyExitThreshold: c.Search.EarlyExitThreshold,
	}
}

// CommitPolicy converts the commit section.
func (c Config) CommitPolicy() core.CommitPolicy {
	return core.CommitPolicy{
		InitialSettle:        c.Commit.InitialSettle,
		PollInterval:         c.Commit.PollInterval,
		AdaptAfter:           c.Commit.AdaptAfter,
		MaxPolls:             c.Commit.MaxPolls,
		SettleRecheck:        c.Commit.SettleRecheck,
		MaxConsecutiveErrors: c.Commit.MaxPollErrors,
	}
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.Firewall.Password != "" {
		c.Firewall.Password = "***"
	}
	if c.Firewall.APIKey != "" {
		c.Firewall.APIKey = "***"
	}
	if c.Sentry.DSN != "" {
		c.Sentry.DSN = "***"
	}
	c.Search.AttemptBudgets = append([]time.Duration(nil), c.Search.AttemptBudgets...)
	return c
}
