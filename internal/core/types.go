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
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// Action is the block disposition a log query filters on.
type Action string

const (
	ActionBlockURL      Action = "block-url"
	ActionBlockContinue Action = "block-continue"
	// ActionBoth runs one search per concrete action and unions the results.
	ActionBoth Action = "both"
)

// ParseAction accepts the wire names above, case-insensitively.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionBlockURL, ActionBlockContinue, ActionBoth:
		return a, nil
	case "":
		return ActionBlockURL, nil
	default:
		return "", ErrInvalidAction
	}
}

// Concrete reports whether a names a single firewall action.
func (a Action) Concrete() bool {
	return a == ActionBlockURL || a == ActionBlockContinue
}

// Expand resolves ActionBoth into its concrete actions.
func (a Action) Expand() []Action {
	if a == ActionBoth {
		return []Action{ActionBlockURL, ActionBlockContinue}
	}
	return []Action{a}
}

// Record is one raw log entry: field name to text.
type Record map[string]string

// JobHandle identifies an asynchronous firewall job (log query or commit).
type JobHandle string

// ParseJobHandle accepts a positive decimal job id as typed by an operator.
func ParseJobHandle(s string) (JobHandle, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err != nil || n <= 0 {
		return "", NewError(KindValidation, "job-id", fmt.Sprintf("invalid job id %q: must be a positive number", s))
	}
	return JobHandle(s), nil
}

// QueryShape tells which of the three answers a log query produced.
type QueryShape uint8

const (
	ShapeEmpty QueryShape = iota
	ShapeDirect
	ShapeJob
)

func (s QueryShape) String() string {
	switch s {
	case ShapeDirect:
		return "direct"
	case ShapeJob:
		return "job"
	default:
		return "empty"
	}
}

// QueryResult is the answer to RunLogQuery.
type QueryResult struct {
	Shape   QueryShape
	Records []Record  // set for ShapeDirect
	Job     JobHandle // set for ShapeJob
}

// JobState is the coarse state of a polled log-query job.
type JobState uint8

const (
	JobPending JobState = iota
	JobFinished
	JobFailed
)

// JobPoll is one observation of a log-query job. Records are populated once
// the job has finished.
type JobPoll struct {
	State    JobState
	Progress int
	Records  []Record
}

// JobStatus is the raw status of a firewall job as reported by "show jobs".
type JobStatus struct {
	Status   string
	Progress int
}

// Terminal reports whether no further state change can happen.
func (s JobStatus) Terminal() bool {
	return s.Status == StatusFinished || s.Status == StatusFailed
}

// Category is a custom URL category on the firewall.
type Category struct {
	Name    string `json:"name"`
	Context string `json:"context"` // "shared" or a vsys name
	XPath   string `json:"xpath"`
}

// Key is the display identifier used to select a category.
func (c Category) Key() string {
	return fmt.Sprintf("%s (%s)", c.Name, c.Context)
}

// AttemptOutcome is the result of a single search attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
)

// SearchAttempt is the record of one attempt. Values are built once when the
// attempt finishes and never modified afterwards.
type SearchAttempt struct {
	Ordinal    int            `json:"attempt_number"`
	Action     Action         `json:"action"`
	Timeout    time.Duration  `json:"timeout"`
	MaxRecords int            `json:"nlogs"`
	Outcome    AttemptOutcome `json:"outcome"`
	Shape      string         `json:"shape"`
	Records    int            `json:"records"`
	Domains    []string       `json:"domains"`
	NewDomains int            `json:"urls_found"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Reason     string         `json:"error,omitempty"`
	// ActionCounts is the per-record action distribution seen in this attempt.
	ActionCounts map[string]int `json:"action_counts,omitempty"`
	Elapsed      time.Duration  `json:"elapsed"`
}

// Succeeded reports whether the attempt extracted at least one domain.
func (a SearchAttempt) Succeeded() bool { return a.Outcome == OutcomeSuccess }

// clean reports whether the attempt failed only because the firewall had
// nothing matching, as opposed to a transport, auth or job failure.
func (a SearchAttempt) clean() bool {
	return a.Outcome == OutcomeSuccess || a.ErrorKind == ""
}

// ActionResult is the per-action slice of a search.
type ActionResult struct {
	Action   Action          `json:"action"`
	Query    string          `json:"query"`
	Domains  []string        `json:"domains"`
	Attempts []SearchAttempt `json:"attempts"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
}

// SearchResult is returned to the caller of Search and owned by it.
type SearchResult struct {
	Domains   []string       `json:"urls"`
	Terms     []string       `json:"search_terms"`
	Input     string         `json:"search_term"`
	Rejected  []TermError    `json:"rejected_terms,omitempty"`
	Action    Action         `json:"action_type"`
	PerAction []ActionResult `json:"per_action"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	// Fingerprint identifies the domain set; equal sets hash equal.
	Fingerprint string        `json:"fingerprint"`
	Wildcards   []string      `json:"wildcard_suggestions,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Count returns the number of distinct domains found.
func (r SearchResult) Count() int { return len(r.Domains) }

// Breakdown returns the number of domains found per concrete action.
// Best-effort diagnostic data.
func (r SearchResult) Breakdown() map[Action]int {
	out := make(map[Action]int, len(r.PerAction))
	for _, pa := range r.PerAction {
		out[pa.Action] = len(pa.Domains)
	}
	return out
}

// Attempts returns every attempt across all actions, in run order per action.
func (r SearchResult) Attempts() []SearchAttempt {
	var out []SearchAttempt
	for _, pa := range r.PerAction {
		out = append(out, pa.Attempts...)
	}
	return out
}

// CommitState is the state of the commit state machine.
type CommitState string

const (
	CommitSubmitted CommitState = "submitted"
	CommitPolling   CommitState = "polling"
	CommitCompleted CommitState = "completed"
	CommitFailed    CommitState = "failed"
	CommitExhausted CommitState = "exhausted"
)

// Terminal reports whether the commit reached Completed or Failed.
func (s CommitState) Terminal() bool {
	return s == CommitCompleted || s == CommitFailed
}

// CommitStatus describes a commit job. Immutable once State is terminal.
type CommitStatus struct {
	JobID    JobHandle     `json:"job_id"`
	State    CommitState   `json:"state"`
	Status   string        `json:"status"`
	Progress int           `json:"progress"`
	Polls    int           `json:"polling_attempts"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// PollingCompleted reports whether a terminal status token was observed.
func (s CommitStatus) PollingCompleted() bool { return s.State.Terminal() }

// MarshalJSON adds the derived polling_completed flag.
func (s CommitStatus) MarshalJSON() ([]byte, error) {
	type plain CommitStatus
	return json.Marshal(struct {
		plain
		PollingCompleted bool `json:"polling_completed"`
	}{plain(s), s.PollingCompleted()})
}

// WhitelistRequest asks for domains to be added to a category and committed.
type WhitelistRequest struct {
	Category string   `json:"category" validate:"required"`
	TicketID string   `json:"ticket_id" validate:"required,min=3,max=50,ticketid"`
	Domains  []string `json:"urls" validate:"required,min=1,dive,required,max=500"`
	Action   Action   `json:"action_type" validate:"omitempty,oneof=block-url block-continue both"`
	// Requester is recorded in the ticket journal only.
	Requester string `json:"-"`
}

// WhitelistOutcome is the result of SubmitWhitelist.
type WhitelistOutcome struct {
	OK      bool          `json:"success"`
	Message string        `json:"message"`
	Added   []string      `json:"urls_added,omitempty"`
	Commit  *CommitStatus `json:"commit,omitempty"`
}

// Ticket is what gets handed to a TicketRecorder after a submission.
type Ticket struct {
	TicketID  string        `json:"ticket_id"`
	Requester string        `json:"username,omitempty"`
	Firewall  string        `json:"hostname,omitempty"`
	Category  string        `json:"category"`
	Context   string        `json:"context"`
	Domains   []string      `json:"urls_added"`
	Action    Action        `json:"action_type"`
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Commit    *CommitStatus `json:"commit,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Fingerprint returns a stable hex hash of a domain set. Order and duplicates
// do not affect the result.
func Fingerprint(domains []string) string {
	uniq := sortedUnique(domains)
	h := xxh3.HashString(strings.Join(uniq, "\n"))
	return fmt.Sprintf("%016x", h)
}

func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// domainSet is a growable set of domains owned by a single run.
type domainSet map[string]struct{}

// add inserts the domains and returns how many were new.
func (s domainSet) add(domains ...string) int {
	n := 0
	for _, d := range domains {
		if _, ok := s[d]; ok {
			continue
		}
		s[d] = struct{}{}
		n++
	}
	return n
}

func (s domainSet) sorted() []string {
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
