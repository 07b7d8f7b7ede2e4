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
	"time"

	"github.com/rs/zerolog"

	"github.com/x-stp/pawl/internal/logger"
	"github.com/x-stp/pawl/internal/metrics"
)

// CommitPolicy holds the commit polling schedule.
type CommitPolicy struct {
	InitialSettle time.Duration
	PollInterval  time.Duration
	// AdaptAfter is the zero-based poll index from which the wait doubles.
	AdaptAfter    int
	MaxPolls      int
	SettleRecheck time.Duration
	// MaxConsecutiveErrors ends polling as exhausted after this many failed
	// status fetches in a row.
	MaxConsecutiveErrors int
}

// DefaultCommitPolicy returns the stock schedule.
func DefaultCommitPolicy() CommitPolicy {
	return CommitPolicy{
		InitialSettle:        DefaultCommitSettle,
		PollInterval:         DefaultCommitPollInterval,
		AdaptAfter:           DefaultCommitAdaptAfter,
		MaxPolls:             DefaultCommitMaxPolls,
		SettleRecheck:        DefaultCommitSettle,
		MaxConsecutiveErrors: DefaultMaxConsecutivePollErrors,
	}
}

// interval is the wait following poll index i.
func (p CommitPolicy) interval(i int) time.Duration {
	if i >= p.AdaptAfter {
		return 2 * p.PollInterval
	}
	return p.PollInterval
}

// MaxInterval is the longest single wait the schedule can produce.
func (p CommitPolicy) MaxInterval() time.Duration { return 2 * p.PollInterval }

// Committer submits configuration commits and follows them to a terminal state.
type Committer struct {
	api    CommitAPI
	clock  Clock
	log    zerolog.Logger
	policy CommitPolicy
}

// CommitterOption configures a Committer.
type CommitterOption func(*Committer)

func WithCommitClock(c Clock) CommitterOption {
	return func(cm *Committer) { cm.clock = c }
}

func WithCommitLogger(l zerolog.Logger) CommitterOption {
	return func(cm *Committer) { cm.log = l }
}

// WithCommitPolicy replaces the default schedule. Non-positive fields keep
// their defaults.
func WithCommitPolicy(p CommitPolicy) CommitterOption {
	return func(cm *Committer) {
		d := DefaultCommitPolicy()
		if p.InitialSettle < 0 {
			p.InitialSettle = 0
		}
		if p.PollInterval <= 0 {
			p.PollInterval = d.PollInterval
		}
		if p.AdaptAfter <= 0 {
			p.AdaptAfter = d.AdaptAfter
		}
		if p.MaxPolls <= 0 {
			p.MaxPolls = d.MaxPolls
		}
		if p.SettleRecheck < 0 {
			p.SettleRecheck = 0
		}
		if p.MaxConsecutiveErrors <= 0 {
			p.MaxConsecutiveErrors = d.MaxConsecutiveErrors
		}
		cm.policy = p
	}
}

func NewCommitter(api CommitAPI, opts ...CommitterOption) *Committer {
	cm := &Committer{
		api:    api,
		clock:  SystemClock,
		log:    *logger.Named("commit"),
		policy: DefaultCommitPolicy(),
	}
	for _, o := range opts {
		o(cm)
	}
	return cm
}

// Policy returns the active schedule.
func (cm *Committer) Policy() CommitPolicy { return cm.policy }

// Commit submits a commit and polls it until it finishes, fails or the
// schedule runs out. The returned status is never in the Submitted state.
func (cm *Committer) Commit(ctx context.Context) CommitStatus {
	start := cm.clock.Now()
	st := CommitStatus{State: CommitSubmitted, Status: StatusUnknown}

	job, err := cm.api.SubmitCommit(ctx)
	if err != nil {
		st.State = CommitFailed
		st.Error = "failed to start commit: " + Reason(err)
		return cm.finish(st, start)
	}
	st.JobID = job
	log := cm.log.With().Str("job", string(job)).Logger()
	log.Debug().Msg("commit submitted")

	if err := cm.clock.Sleep(ctx, cm.policy.InitialSettle); err != nil {
		return cm.cancelled(st, start, err)
	}
	st.State = CommitPolling

	m := metrics.GetMetrics()
	failures := 0
	for i := 0; i < cm.policy.MaxPolls; i++ {
		last := i == cm.policy.MaxPolls-1
		st.Polls++

		js, err := cm.api.GetJobStatus(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return cm.cancelled(st, start, ctx.Err())
			}
			m.RecordJobPoll("commit", "error")
			st.Error = Reason(err)
			if IsAuth(err) {
				st.State = CommitFailed
				return cm.finish(st, start)
			}
			failures++
			log.Debug().Err(err).Int("poll", st.Polls).Int("consecutive", failures).Msg("commit status check failed")
			if failures >= cm.policy.MaxConsecutiveErrors {
				st.State = CommitExhausted
				return cm.finish(st, start)
			}
		} else {
			failures = 0
			st.Error = ""
			cm.observe(&st, js)
			m.RecordJobPoll("commit", st.Status)
			log.Debug().Int("poll", st.Polls).Str("status", st.Status).Int("progress", st.Progress).Msg("commit poll")
			if st.State.Terminal() {
				return cm.finish(st, start)
			}

			if js.Progress >= 100 {
				if err := cm.clock.Sleep(ctx, cm.policy.SettleRecheck); err != nil {
					return cm.cancelled(st, start, err)
				}
				if again, err := cm.api.GetJobStatus(ctx, job); err == nil {
					cm.observe(&st, again)
					if st.State.Terminal() {
						return cm.finish(st, start)
					}
				} else {
					log.Debug().Err(err).Msg("recheck after full progress failed")
				}
			}
		}

		if last {
			break
		}
		if err := cm.clock.Sleep(ctx, cm.policy.interval(i)); err != nil {
			return cm.cancelled(st, start, err)
		}
	}

	st.State = CommitExhausted
	return cm.finish(st, start)
}

// Status fetches the current status of a commit job once.
func (cm *Committer) Status(ctx context.Context, job JobHandle) (CommitStatus, error) {
	st := CommitStatus{JobID: job, State: CommitPolling, Status: StatusUnknown, Polls: 1}
	js, err := cm.api.GetJobStatus(ctx, job)
	if err != nil {
		st.Error = Reason(err)
		return st, err
	}
	cm.observe(&st, js)
	return st, nil
}

func (cm *Committer) observe(st *CommitStatus, js JobStatus) {
	if js.Status != "" {
		st.Status = js.Status
	}
	st.Progress = js.Progress
	switch js.Status {
	case StatusFinished:
		st.State = CommitCompleted
	case StatusFailed:
		st.State = CommitFailed
		st.Error = "commit job failed"
	}
}

func (cm *Committer) cancelled(st CommitStatus, start time.Time, err error) CommitStatus {
	st.State = CommitExhausted
	st.Error = "commit polling interrupted: " + err.Error()
	return cm.finish(st, start)
}

func (cm *Committer) finish(st CommitStatus, start time.Time) CommitStatus {
	st.Elapsed = cm.clock.Now().Sub(start)
	metrics.GetMetrics().RecordCommit(string(st.State), st.Elapsed)
	ev := cm.log.Info()
	if st.State != CommitCompleted {
		ev = cm.log.Warn().Str("error", st.Error)
	}
	ev.Str("job", string(st.JobID)).
		Str("state", string(st.State)).
		Str("status", st.Status).
		Int("progress", st.Progress).
		Int("polls", st.Polls).
		Dur("elapsed", st.Elapsed).
		Msg("commit finished")
	return st
}
