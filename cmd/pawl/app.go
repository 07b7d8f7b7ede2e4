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
	"fmt"

	"github.com/rs/zerolog"

	"github.com/x-stp/pawl/internal/client"
	"github.com/x-stp/pawl/internal/core"
	"github.com/x-stp/pawl/internal/journal"
	"github.com/x-stp/pawl/internal/logger"
	"github.com/x-stp/pawl/internal/panos"
)

// app holds the services wired from cfg for one command run.
type app struct {
	fw        *panos.Client
	searcher  *core.Searcher
	whitelist *core.WhitelistService
	journal   *journal.Journal
	limiter   *panos.RateLimiter
}

// connect builds an authenticated firewall client and the core services on
// top of it.
func connect(ctx context.Context) (*app, error) {
	if err := cfg.RequireFirewall(); err != nil {
		return nil, err
	}
	client.ConfigureForFirewall(cfg.Firewall.InsecureTLS, 0)

	limiter := panos.NewRateLimiter(cfg.Firewall.RequestsPerSecond, cfg.Firewall.Burst)
	opts := []panos.Option{
		panos.WithRateLimiter(limiter),
		panos.WithTimeout(cfg.Firewall.Timeout),
	}
	if cfg.Firewall.APIKey != "" {
		opts = append(opts, panos.WithAPIKey(cfg.Firewall.APIKey))
	}
	fw, err := panos.New(cfg.Firewall.Host, opts...)
	if err != nil {
		return nil, err
	}
	if !fw.Authenticated() {
		if err := fw.Authenticate(ctx, cfg.Firewall.User, cfg.Firewall.Password); err != nil {
			return nil, err
		}
	}

	a := &app{
		fw:       fw,
		searcher: core.NewSearcher(fw, core.WithSearchPolicy(cfg.SearchPolicy())),
		limiter:  limiter,
	}

	wopts := []core.WhitelistOption{core.WithFirewallHost(fw.Host())}
	if cfg.Journal.Path != "" {
		path := journal.Resolve(cfg.Journal.Path, fw.Host(), cfg.Journal.Gzip)
		j, err := journal.Open(ctx, path, journal.Options{
			Gzip:          cfg.Journal.Gzip,
			FlushInterval: cfg.Journal.FlushInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("open ticket journal: %w", err)
		}
		a.journal = j
		wopts = append(wopts, core.WithTicketRecorder(j))
	}
	committer := core.NewCommitter(fw, core.WithCommitPolicy(cfg.CommitPolicy()))
	a.whitelist = core.NewWhitelistService(fw, committer, wopts...)
	return a, nil
}

func (a *app) Close() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		logger.Named("journal").Error().Err(err).Str("path", a.journal.Path()).Msg("closing journal failed")
	}
}

func cliLog() *zerolog.Logger { return logger.Named("cli") }
