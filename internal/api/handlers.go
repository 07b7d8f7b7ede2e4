package api

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
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/x-stp/pawl/internal/core"
	"github.com/x-stp/pawl/internal/logger"
)

// SearchService runs log searches.
type SearchService interface {
	Search(ctx context.Context, input string, action core.Action) (core.SearchResult, error)
}

// WhitelistService manages categories and commits.
type WhitelistService interface {
	Categories(ctx context.Context) ([]core.Category, error)
	SubmitWhitelist(ctx context.Context, req core.WhitelistRequest) (core.WhitelistOutcome, error)
	CommitStatus(ctx context.Context, job core.JobHandle) (core.CommitStatus, error)
}

type Handler struct {
	search    SearchService
	whitelist WhitelistService
}

func NewHandler(search SearchService, whitelist WhitelistService) *Handler {
	return &Handler{search: search, whitelist: whitelist}
}

type SearchRequest struct {
	Terms  string `json:"search_term" validate:"required,max=1000"`
	Action string `json:"action_type" validate:"omitempty,oneof=block-url block-continue both"`
}

type ValidateRequest struct {
	Text string `json:"urls" validate:"required"`
}

type ValidateResponse struct {
	Valid   []string            `json:"valid"`
	Invalid []core.InvalidEntry `json:"invalid"`
}

type CategoryResponse struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Context string `json:"context"`
}

// Search handles POST /api/search. Failed searches are still answered with
// 200 and success=false; only validation, auth and cancellation are errors.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, r, err)
		return
	}
	action, err := core.ParseAction(req.Action)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	res, err := h.search.Search(r.Context(), req.Terms, action)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	Success(w, http.StatusOK, res)
}

// Validate handles POST /api/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, r, err)
		return
	}
	valid, invalid := core.ValidateManual(req.Text)
	if valid == nil {
		valid = []string{}
	}
	if invalid == nil {
		invalid = []core.InvalidEntry{}
	}
	Success(w, http.StatusOK, ValidateResponse{Valid: valid, Invalid: invalid})
}

// Categories handles GET /api/categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.whitelist.Categories(r.Context())
	if err != nil {
		HandleError(w, r, err)
		return
	}
	out := make([]CategoryResponse, len(cats))
	for i, c := range cats {
		out[i] = CategoryResponse{Key: c.Key(), Name: c.Name, Context: c.Context}
	}
	Success(w, http.StatusOK, out)
}

// Whitelist handles POST /api/whitelist. The requester comes from the
// forwarded user header, never from the body.
func (h *Handler) Whitelist(w http.ResponseWriter, r *http.Request) {
	var req core.WhitelistRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, r, err)
		return
	}
	req.Requester = r.Header.Get(headerUser)
	out, err := h.whitelist.SubmitWhitelist(r.Context(), req)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	logger.C(r.Context()).Info().
		Str("ticket", req.TicketID).
		Str("category", req.Category).
		Bool("success", out.OK).
		Int("added", len(out.Added)).
		Msg("whitelist submitted")
	Success(w, http.StatusOK, out)
}

// CommitStatus handles GET /api/commits/{job}.
func (h *Handler) CommitStatus(w http.ResponseWriter, r *http.Request) {
	job, err := core.ParseJobHandle(chi.URLParam(r, "job"))
	if err != nil {
		HandleError(w, r, err)
		return
	}
	st, err := h.whitelist.CommitStatus(r.Context(), job)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	Success(w, http.StatusOK, st)
}
