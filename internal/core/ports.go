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
)

// LogSource runs URL log queries. Implementations return *Error values so
// callers can tell transport, auth and remote failures apart.
type LogSource interface {
	// RunLogQuery issues query, capped at maxRecords, giving the firewall at
	// most timeout to answer.
	RunLogQuery(ctx context.Context, query string, maxRecords int, timeout time.Duration) (QueryResult, error)
	// PollJob observes a queued log-query job once. Records are returned when
	// the job has finished.
	PollJob(ctx context.Context, job JobHandle) (JobPoll, error)
}

// CategoryStore reads and writes custom URL category membership.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]Category, error)
	FetchCategory(ctx context.Context, c Category) ([]string, error)
	// UpdateCategory replaces the category list with domains. Callers pass the
	// union of existing and new entries.
	UpdateCategory(ctx context.Context, c Category, domains []string) error
}

// CommitAPI submits configuration commits and reports job status.
type CommitAPI interface {
	SubmitCommit(ctx context.Context) (JobHandle, error)
	GetJobStatus(ctx context.Context, job JobHandle) (JobStatus, error)
}

// Firewall is everything the whitelist flow needs from the remote side.
type Firewall interface {
	LogSource
	CategoryStore
	CommitAPI
}

// TicketRecorder persists a record of each whitelist submission.
type TicketRecorder interface {
	Record(ctx context.Context, t Ticket) error
}
