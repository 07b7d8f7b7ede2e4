/*
Package main is the entry point for the pawl command-line application.

pawl maintains the custom URL allow-lists of a Palo Alto firewall. It searches
the URL filtering logs for blocked domains, validates operator-typed entries,
merges the approved domains into a custom URL category and commits the change.

Subcommands:
  - search: find blocked domains matching comma-separated terms.
  - validate: normalize a block of typed URLs.
  - categories: list custom URL categories (shared and per vsys).
  - whitelist: add domains to a category and commit.
  - commit-status: show the status of a commit job.
  - check: verify API connectivity.
  - serve: run the JSON HTTP API.

Settings come from built-in defaults, an optional YAML or JSON file (--config),
a .env file and PAWL_* environment variables, with flags applied last.
*/
package main

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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/x-stp/pawl/internal/config"
	"github.com/x-stp/pawl/internal/logger"
	"github.com/x-stp/pawl/internal/metrics"
	"github.com/x-stp/pawl/internal/telemetry"
)

// Global flags (persistent across commands)
var (
	configPath  string
	fwHost      string
	fwUser      string
	fwAPIKey    string
	logLevel    string
	logFormat   string
	jsonOutput  bool
	withMetrics bool
)

// cfg is loaded once in PersistentPreRunE.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:           "pawl",
	Short:         "pawl - Palo Alto firewall URL allow-list tool",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd)

		logger.Init(logger.Options{
			Level:   cfg.Log.Level,
			Format:  cfg.Log.Format,
			Service: "pawl",
		})
		if cfg.Metrics.Enabled || withMetrics {
			metrics.EnableMetrics()
			// serve exposes /metrics on its own listener.
			if cmd.Name() != "serve" {
				if err := metrics.StartMetricsServer(cfg.Metrics.Addr); err != nil {
					return err
				}
			}
		}
		if err := initSentry(); err != nil {
			return err
		}
		logger.Named("cli").Debug().Interface("config", cfg.Redacted()).Msg("configuration loaded")
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON config file")
	pf.StringVar(&fwHost, "host", "", "Firewall hostname or base URL (PAWL_FIREWALL_HOST)")
	pf.StringVarP(&fwUser, "user", "u", "", "Firewall API user (PAWL_FIREWALL_USER)")
	pf.StringVar(&fwAPIKey, "api-key", "", "Firewall API key, skips keygen (PAWL_FIREWALL_API_KEY)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: console or json")
	pf.BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	pf.BoolVar(&withMetrics, "metrics", false, "Expose Prometheus metrics (PAWL_METRICS_ENABLED)")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(whitelistCmd)
	rootCmd.AddCommand(commitStatusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(serveCmd)
}

// applyFlags lets explicitly set flags win over every other layer.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Firewall.Host = fwHost
	}
	if flags.Changed("user") {
		cfg.Firewall.User = fwUser
	}
	if flags.Changed("api-key") {
		cfg.Firewall.APIKey = fwAPIKey
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if flushSentry != nil {
		flushSentry()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = metrics.ShutdownMetricsServer(shutdownCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flushSentry is set when a command initializes error reporting.
var flushSentry func()

func initSentry() error {
	flush, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.Sentry.DSN,
		Environment:      cfg.Sentry.Environment,
		TracesSampleRate: cfg.Sentry.SampleRate,
	})
	if err != nil {
		return err
	}
	flushSentry = flush
	return nil
}
