/*
Package core constants shared across the search, validation and commit paths.

The values mirror what PAN-OS tolerates in practice: log queries are slow and
frequently answered with a job id instead of entries, and commit jobs report
progress before their status token settles. Most timing values are defaults
for SearchPolicy and CommitPolicy and can be overridden through configuration.
*/
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
	"time"
)

const (
	// --- Search ---

	// DefaultMaxRecords is the nlogs cap sent with every log query.
	DefaultMaxRecords = 3000

	// DefaultLookback is the trailing window searched (three 30-day months).
	DefaultLookback = 3 * 30 * 24 * time.Hour

	// QueryGrace is added to each attempt's budget for the HTTP call itself,
	// covering the firewall's own overhead. Not configurable.
	QueryGrace = 10 * time.Second

	// DefaultAttemptPause is the wait between search attempts, never before the first.
	DefaultAttemptPause = 3 * time.Second

	// DefaultJobCheckInterval is how often a queued log-query job is polled.
	DefaultJobCheckInterval = 2 * time.Second

	// --- Commit ---

	// DefaultCommitMaxPolls caps the number of regular status polls.
	DefaultCommitMaxPolls = 10

	// DefaultCommitPollInterval is the base wait between polls.
	DefaultCommitPollInterval = 6 * time.Second

	// DefaultCommitAdaptAfter is the poll index from which the interval doubles.
	DefaultCommitAdaptAfter = 8

	// DefaultCommitSettle is the pause after submission before the first poll,
	// and the pause before rechecking a job that reports 100% but no terminal status.
	DefaultCommitSettle = 3 * time.Second

	// DefaultMaxConsecutivePollErrors ends polling early after this many failed
	// status fetches in a row.
	DefaultMaxConsecutivePollErrors = 3

	// --- Validation ---

	// MinSearchTermLength is the shortest accepted search term.
	MinSearchTermLength = 2

	// MinDomainLength is the bound an extracted domain must exceed.
	MinDomainLength = 3

	// MaxURLLength is the longest accepted manual entry.
	MaxURLLength = 500

	// MinTicketIDLength and MaxTicketIDLength bound ticket identifiers.
	MinTicketIDLength = 3
	MaxTicketIDLength = 50
)

// DefaultAttemptBudgets is the escalating per-attempt timeout ladder.
var DefaultAttemptBudgets = []time.Duration{
	10 * time.Second,
	15 * time.Second,
	25 * time.Second,
	35 * time.Second,
}

// URLFields lists the log record fields that may carry the URL, in priority
// order. The order is significant.
var URLFields = []string{"misc", "url", "src-location", "dst-location", "hostname", "host"}

// URLSeparators split fields that carry several concatenated URLs.
var URLSeparators = []string{" ", "\t", "\n", "&r=", "&gdpr_consent=", "?r="}

// forbiddenTermSequences may not appear in a search term; they would break
// out of the quoted query expression.
var forbiddenTermSequences = []string{"<", ">", "&", "\"", "'", ";", "()", "--"}

// Job status tokens reported by PAN-OS.
const (
	StatusFinished = "FIN"
	StatusFailed   = "FAIL"
	StatusActive   = "ACT"
	StatusPending  = "PEND"
	StatusQueued   = "QUEUED"
	StatusUnknown  = "Unknown"
)
