package core

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
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/x-stp/pawl/internal/logger"
	"github.com/x-stp/pawl/internal/metrics"
)

// SearchPolicy holds the tunables of a search run.
type SearchPolicy struct {
	// AttemptBudgets is the per-attempt timeout ladder; its length is the
	// number of attempts.
	AttemptBudgets   []time.Duration
	AttemptPause     time.Duration
	JobCheckInterval time.Duration
	MaxRecords       int
	Lookback         time.Duration
	// EarlyExitThreshold stops a run after a successful attempt once the
	// accumulated set holds at least this many domains. Zero disables it.
	EarlyExitThreshold int
}

// DefaultSearchPolicy returns the stock policy.
func DefaultSearchPolicy() SearchPolicy {
	return SearchPolicy{
		AttemptBudgets:   append([]time.Duration(nil), DefaultAttemptBudgets...),
		AttemptPause:     DefaultAttemptPause,
		JobCheckInterval: DefaultJobCheckInterval,
		MaxRecords:       DefaultMaxRecords,
		Lookback:         DefaultLookback,
	}
}

type searchState uint8

const (
	stateIdle searchState = iota
	stateAttempt
	stateDone
)

// Searcher runs escalating log searches for blocked domains.
type Searcher struct {
	source LogSource
	clock  Clock
	log    zerolog.Logger
	policy SearchPolicy
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithSearchClock sets the time source.
func WithSearchClock(c Clock) SearcherOption {
	return func(s *Searcher) { s.clock = c }
}

// WithSearchLogger sets the logger.
func WithSearchLogger(l zerolog.Logger) SearcherOption {
	return func(s *Searcher) { s.log = l }
}

// WithSearchPolicy replaces the default policy. Zero fields keep their defaults.
func WithSearchPolicy(p SearchPolicy) SearcherOption {
	return func(s *Searcher) {
		d := DefaultSearchPolicy()
		if len(p.AttemptBudgets) == 0 {
			p.AttemptBudgets = d.AttemptBudgets
		}
		if p.AttemptPause <= 0 {
			p.AttemptPause = d.AttemptPause
		}
		if p.JobCheckInterval <= 0 {
			p.JobCheckInterval = d.JobCheckInterval
		}
		if p.MaxRecords <= 0 {
			p.MaxRecords = d.MaxRecords
		}
		if p.Lookback <= 0 {
			p.Lookback = d.Lookback
		}
		s.policy = p
	}
}

// NewSearcher creates a Searcher reading from source.
func NewSearcher(source LogSource, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		source: source,
		clock:  SystemClock,
		log:    *logger.Named("search"),
		policy: DefaultSearchPolicy(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the active policy.
func (s *Searcher) Policy() SearchPolicy { return s.policy }

// Search parses input into terms and searches the URL logs for blocked
// domains matching them. ActionBoth runs both concrete actions concurrently
// and unions their results.
//
// Validation, auth and cancellation errors are returned alongside a result
// describing what happened so far. Transport and remote failures only show
// up in the result's attempts and Error.
func (s *Searcher) Search(ctx context.Context, input string, action Action) (SearchResult, error) {
	start := s.clock.Now()
	out := SearchResult{Input: input, Action: action}

	if !action.Concrete() && action != ActionBoth {
		out.Error = ErrInvalidAction.Error()
		return out, ErrInvalidAction
	}

	terms, rejected, err := ParseTerms(input)
	out.Rejected = rejected
	if err != nil {
		out.Error = err.Error()
		return out, err
	}
	out.Terms = terms
	for _, r := range rejected {
		s.log.Warn().Str("term", r.Term).Str("reason", r.Reason).Msg("search term rejected")
	}

	actions := action.Expand()
	per := make([]ActionResult, len(actions))
	now := s.clock.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range actions {
		g.Go(func() error {
			r, err := s.runAction(gctx, terms, a, now)
			per[i] = r
			return err
		})
	}
	runErr := g.Wait()

	set := domainSet{}
	for _, pa := range per {
		set.add(pa.Domains...)
	}
	out.PerAction = per
	out.Domains = set.sorted()
	out.Fingerprint = Fingerprint(out.Domains)
	out.Wildcards = SuggestWildcards(out.Domains)
	out.Success = searchSucceeded(out.Domains, out.Attempts(), runErr != nil)
	if runErr != nil || !out.Success {
		out.Error = failureReason(runErr, out.Attempts())
	}
	out.Elapsed = s.clock.Now().Sub(start)

	ev := s.log.Info()
	if !out.Success {
		ev = s.log.Warn().Str("error", out.Error)
	}
	ev.Strs("terms", terms).
		Str("action", string(action)).
		Int("domains", len(out.Domains)).
		Int("attempts", len(out.Attempts())).
		Bool("success", out.Success).
		Dur("elapsed", out.Elapsed).
		Msg("search finished")

	return out, runErr
}

// runAction drives the attempt ladder for one concrete action.
func (s *Searcher) runAction(ctx context.Context, terms []string, action Action, now time.Time) (ActionResult, error) {
	start := s.clock.Now()
	res := ActionResult{Action: action}
	query, err := BuildQuery(terms, action, s.policy.Lookback, now)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Query = query

	log := s.log.With().Str("action", string(action)).Logger()
	runner := NewAttemptRunner(s.source, s.clock, s.policy.JobCheckInterval, s.policy.MaxRecords, log)
	budgets := s.policy.AttemptBudgets
	set := domainSet{}

	var runErr error
	state := stateIdle
	next := 0
	for state != stateDone {
		switch state {
		case stateIdle:
			if len(budgets) == 0 {
				state = stateDone
				continue
			}
			state = stateAttempt

		case stateAttempt:
			if next > 0 {
				if runErr = s.clock.Sleep(ctx, s.policy.AttemptPause); runErr != nil {
					state = stateDone
					continue
				}
			}
			att, err := runner.Run(ctx, AttemptSpec{
				Ordinal: next + 1,
				Action:  action,
				Query:   query,
				Terms:   terms,
				Budget:  budgets[next],
			})
			att.NewDomains = set.add(att.Domains...)
			res.Attempts = append(res.Attempts, att)
			next++

			switch {
			case err != nil:
				runErr = err
				state = stateDone
			case next >= len(budgets):
				state = stateDone
			case s.policy.EarlyExitThreshold > 0 && att.Succeeded() && len(set) >= s.policy.EarlyExitThreshold:
				log.Debug().Int("domains", len(set)).Msg("early exit threshold reached")
				state = stateDone
			}
		}
	}

	res.Domains = set.sorted()
	res.Success = searchSucceeded(res.Domains, res.Attempts, runErr != nil)
	if runErr != nil || !res.Success {
		res.Error = failureReason(runErr, res.Attempts)
	}
	metrics.GetMetrics().RecordSearch(string(action), s.clock.Now().Sub(start), len(res.Domains))
	return res, runErr
}

// searchSucceeded: any domain or successful attempt counts. A run that
// finished every attempt also counts when each came back cleanly empty; an
// interrupted run does not.
func searchSucceeded(domains []string, attempts []SearchAttempt, interrupted bool) bool {
	if len(domains) > 0 {
		return true
	}
	clean := true
	for _, a := range attempts {
		if a.Succeeded() {
			return true
		}
		clean = clean && a.clean()
	}
	return clean && !interrupted
}

func failureReason(err error, attempts []SearchAttempt) string {
	if err != nil {
		return Reason(err)
	}
	var reasons []string
	seen := make(map[string]struct{})
	for _, a := range attempts {
		if a.ErrorKind == "" || a.Reason == "" {
			continue
		}
		if _, ok := seen[a.Reason]; ok {
			continue
		}
		seen[a.Reason] = struct{}{}
		reasons = append(reasons, a.Reason)
	}
	if len(reasons) == 0 {
		return "search failed"
	}
	return "all search attempts failed: " + strings.Join(reasons, "; ")
}
