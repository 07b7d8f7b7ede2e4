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
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/x-stp/pawl/internal/logger"
)

// MsgNoNewURLs is returned when every requested domain is already listed.
const MsgNoNewURLs = "No new URLs to add - all URLs already exist in the category"

// WhitelistService adds domains to custom URL categories and commits them.
type WhitelistService struct {
	fw        Firewall
	committer *Committer
	recorder  TicketRecorder
	host      string
	clock     Clock
	log       zerolog.Logger
}

type WhitelistOption func(*WhitelistService)

// WithTicketRecorder journals every submission that reaches the firewall.
func WithTicketRecorder(r TicketRecorder) WhitelistOption {
	return func(s *WhitelistService) { s.recorder = r }
}

// WithFirewallHost sets the hostname written into tickets.
func WithFirewallHost(host string) WhitelistOption {
	return func(s *WhitelistService) { s.host = host }
}

func WithWhitelistClock(c Clock) WhitelistOption {
	return func(s *WhitelistService) { s.clock = c }
}

func WithWhitelistLogger(l zerolog.Logger) WhitelistOption {
	return func(s *WhitelistService) { s.log = l }
}

// NewWhitelistService creates a service; committer may be nil for a
// default one built on fw.
func NewWhitelistService(fw Firewall, committer *Committer, opts ...WhitelistOption) *WhitelistService {
	if committer == nil {
		committer = NewCommitter(fw)
	}
	s := &WhitelistService{
		fw:        fw,
		committer: committer,
		clock:     SystemClock,
		log:       *logger.Named("whitelist"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Categories lists every custom URL category on the firewall.
func (s *WhitelistService) Categories(ctx context.Context) ([]Category, error) {
	cats, err := s.fw.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve categories: %w", err)
	}
	return cats, nil
}

// FindCategory resolves a category by display key or bare name. The key
// wins when both could match.
func FindCategory(cats []Category, ref string) (Category, bool) {
	for _, c := range cats {
		if c.Key() == ref {
			return c, true
		}
	}
	for _, c := range cats {
		if c.Name == ref {
			return c, true
		}
	}
	return Category{}, false
}

// SubmitWhitelist merges req.Domains into the requested category and
// commits the change. The category is only written when at least one
// domain is new; the commit result is attached but does not affect OK.
//
// Once the category has been written the ticket is always journaled. If ctx
// is cancelled while the commit is polled, the outcome is still returned
// together with the ctx error.
func (s *WhitelistService) SubmitWhitelist(ctx context.Context, req WhitelistRequest) (WhitelistOutcome, error) {
	if err := req.Validate(); err != nil {
		return WhitelistOutcome{Message: err.Error()}, err
	}
	submitted := s.clock.Now().UTC()
	log := s.log.With().Str("ticket", req.TicketID).Str("category", req.Category).Logger()

	cats, err := s.Categories(ctx)
	if err != nil {
		return WhitelistOutcome{Message: err.Error()}, err
	}
	cat, ok := FindCategory(cats, req.Category)
	if !ok {
		err := NewError(KindValidation, "whitelist", "Invalid category selected")
		return WhitelistOutcome{Message: "Invalid category selected"}, err
	}

	existing, err := s.fw.FetchCategory(ctx, cat)
	if err != nil {
		err = fmt.Errorf("error reading category %s: %w", cat.Key(), err)
		return WhitelistOutcome{Message: err.Error()}, err
	}

	set := domainSet{}
	set.add(existing...)
	var added []string
	for _, d := range sortedUnique(req.Domains) {
		if set.add(d) == 1 {
			added = append(added, d)
		}
	}

	if len(added) == 0 {
		log.Info().Int("requested", len(req.Domains)).Msg("nothing new to add")
		out := WhitelistOutcome{Message: MsgNoNewURLs}
		s.record(ctx, req, cat, out, submitted)
		return out, nil
	}

	if err := s.fw.UpdateCategory(ctx, cat, set.sorted()); err != nil {
		err = fmt.Errorf("error updating category %s: %w", cat.Key(), err)
		return WhitelistOutcome{Message: err.Error()}, err
	}
	log.Info().Strs("added", added).Int("total", len(set)).Msg("category updated")

	commit := s.committer.Commit(ctx)
	out := WhitelistOutcome{
		OK:      true,
		Message: fmt.Sprintf("Successfully added %d new URLs to category", len(added)),
		Added:   added,
		Commit:  &commit,
	}
	s.record(context.WithoutCancel(ctx), req, cat, out, submitted)
	return out, ctx.Err()
}

// CommitStatus fetches the current state of a commit job.
func (s *WhitelistService) CommitStatus(ctx context.Context, job JobHandle) (CommitStatus, error) {
	return s.committer.Status(ctx, job)
}

func (s *WhitelistService) record(ctx context.Context, req WhitelistRequest, cat Category, out WhitelistOutcome, at time.Time) {
	if s.recorder == nil {
		return
	}
	t := Ticket{
		TicketID:  req.TicketID,
		Requester: req.Requester,
		Firewall:  s.host,
		Category:  cat.Name,
		Context:   cat.Context,
		Domains:   out.Added,
		Action:    req.Action,
		Success:   out.OK,
		Message:   out.Message,
		Commit:    out.Commit,
		Timestamp: at,
	}
	if err := s.recorder.Record(ctx, t); err != nil {
		s.log.Error().Err(err).Str("ticket", req.TicketID).Msg("failed to journal ticket")
	}
}
