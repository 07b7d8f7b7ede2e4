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
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/x-stp/pawl/internal/metrics"
)

const (
	reasonEmpty      = "empty result"
	reasonNoEntries  = "job completed but returned no log entries"
	reasonNoMatches  = "no matching domains in results"
	reasonJobFailure = "job timeout or failure"
)

var errJobFailure = NewError(KindRemote, "log-job", reasonJobFailure)

// AttemptSpec is the input to a single search attempt.
type AttemptSpec struct {
	Ordinal int
	Action  Action
	Query   string
	Terms   []string
	Budget  time.Duration
}

// AttemptRunner issues one log query with one timeout budget and extracts
// domains from whatever comes back.
type AttemptRunner struct {
	source      LogSource
	clock       Clock
	jobInterval time.Duration
	maxRecords  int
	log         zerolog.Logger
}

// NewAttemptRunner wires a runner. Zero interval or record cap fall back to defaults.
func NewAttemptRunner(source LogSource, clock Clock, jobInterval time.Duration, maxRecords int, log zerolog.Logger) *AttemptRunner {
	if clock == nil {
		clock = SystemClock
	}
	if jobInterval <= 0 {
		jobInterval = DefaultJobCheckInterval
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &AttemptRunner{
		source:      source,
		clock:       clock,
		jobInterval: jobInterval,
		maxRecords:  maxRecords,
		log:         log,
	}
}

// Run executes the attempt. Transport and remote failures are folded into
// the returned SearchAttempt; only auth failures and cancellation come back
// as an error, together with the attempt recorded so far.
func (r *AttemptRunner) Run(ctx context.Context, spec AttemptSpec) (SearchAttempt, error) {
	start := r.clock.Now()
	att := SearchAttempt{
		Ordinal:    spec.Ordinal,
		Action:     spec.Action,
		Timeout:    spec.Budget,
		MaxRecords: r.maxRecords,
		Outcome:    OutcomeFailure,
		Shape:      ShapeEmpty.String(),
	}
	log := r.log.With().Str("action", string(spec.Action)).Int("attempt", spec.Ordinal).Logger()
	log.Debug().Dur("budget", spec.Budget).Int("nlogs", r.maxRecords).Msg("issuing log query")

	res, err := r.source.RunLogQuery(ctx, spec.Query, r.maxRecords, spec.Budget+QueryGrace)
	if err != nil {
		return r.failed(ctx, att, start, err, log)
	}
	att.Shape = res.Shape.String()

	var records []Record
	switch res.Shape {
	case ShapeDirect:
		records = res.Records
	case ShapeJob:
		log.Debug().Str("job", string(res.Job)).Msg("query queued as job")
		records, err = r.awaitJob(ctx, res.Job, spec.Budget, log)
		if err != nil {
			return r.failed(ctx, att, start, err, log)
		}
		if len(records) == 0 {
			att.Reason = reasonNoEntries
			return r.done(att, start, log), nil
		}
	default:
		att.Reason = reasonEmpty
		return r.done(att, start, log), nil
	}

	att.Records = len(records)
	set := domainSet{}
	counts := make(map[string]int)
	for _, rec := range records {
		a := rec["action"]
		if a == "" {
			a = "unknown"
		}
		counts[a]++
		if d, ok := ExtractDomain(rec, spec.Terms); ok {
			if set.add(d) == 1 {
				log.Debug().Str("domain", d).Str("term", matchingTerm(d, spec.Terms)).Msg("match")
			}
		}
	}
	att.ActionCounts = counts
	att.Domains = set.sorted()
	if len(att.Domains) > 0 {
		att.Outcome = OutcomeSuccess
	} else {
		att.Reason = reasonNoMatches
	}
	return r.done(att, start, log), nil
}

// awaitJob polls a queued query every jobInterval until budget is spent.
func (r *AttemptRunner) awaitJob(ctx context.Context, job JobHandle, budget time.Duration, log zerolog.Logger) ([]Record, error) {
	m := metrics.GetMetrics()
	for waited := time.Duration(0); waited < budget; waited += r.jobInterval {
		poll, err := r.source.PollJob(ctx, job)
		switch {
		case err != nil:
			if IsAuth(err) || ctx.Err() != nil {
				return nil, err
			}
			m.RecordJobPoll("log", "error")
			log.Debug().Err(err).Str("job", string(job)).Msg("job status check failed, still waiting")
		case poll.State == JobFinished:
			m.RecordJobPoll("log", StatusFinished)
			return poll.Records, nil
		case poll.State == JobFailed:
			m.RecordJobPoll("log", StatusFailed)
			return nil, errJobFailure
		default:
			m.RecordJobPoll("log", StatusActive)
			log.Debug().Str("job", string(job)).Int("progress", poll.Progress).Dur("waited", waited).Msg("job pending")
		}
		if err := r.clock.Sleep(ctx, r.jobInterval); err != nil {
			return nil, err
		}
	}
	return nil, errJobFailure
}

func (r *AttemptRunner) failed(ctx context.Context, att SearchAttempt, start time.Time, err error, log zerolog.Logger) (SearchAttempt, error) {
	att.ErrorKind = errorClass(err)
	att.Reason = Reason(err)
	if errors.Is(err, errJobFailure) {
		att.Reason = reasonJobFailure
	}
	att = r.done(att, start, log)
	if ctx.Err() != nil {
		return att, ctx.Err()
	}
	if IsAuth(err) {
		return att, err
	}
	return att, nil
}

func (r *AttemptRunner) done(att SearchAttempt, start time.Time, log zerolog.Logger) SearchAttempt {
	att.Elapsed = r.clock.Now().Sub(start)
	metrics.GetMetrics().RecordSearchAttempt(string(att.Action), string(att.Outcome))
	ev := log.Debug()
	if !att.Succeeded() {
		ev = ev.Str("reason", att.Reason)
	}
	ev.Str("outcome", string(att.Outcome)).Int("records", att.Records).Int("domains", len(att.Domains)).Msg("attempt finished")
	return att
}

// errorClass maps err onto the attempt diagnostics vocabulary:
// timeout, connection, authentication, job, remote or other.
func errorClass(err error) string {
	if errors.Is(err, errJobFailure) {
		return "job"
	}
	switch KindOf(err) {
	case KindTransport:
		if isTimeoutText(Reason(err)) {
			return "timeout"
		}
		return "connection"
	case KindAuth:
		return "authentication"
	case KindRemote:
		return "remote"
	default:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "other"
	}
}
