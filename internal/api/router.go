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
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/x-stp/pawl/internal/metrics"
)

type RouterConfig struct {
	Handler      *Handler
	MaxBodyBytes int64
	// ServeMetrics mounts the Prometheus handler at /metrics.
	ServeMetrics bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Sentry)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(MaxBodyBytes(cfg.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.ServeMetrics {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	h := cfg.Handler
	r.Route("/api", func(r chi.Router) {
		r.Post("/search", h.Search)
		r.Post("/validate", h.Validate)
		r.Get("/categories", h.Categories)
		r.Post("/whitelist", h.Whitelist)
		r.Get("/commits/{job}", h.CommitStatus)
	})

	return r
}
