// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/gwmirror/internal/config"
)

// NewRouter assembles the Chi router over the handler set.
func NewRouter(h *Handlers, cfg *config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

		r.Get("/entries/{id}", h.Entry)
		r.Post("/entries/{id}", h.EnqueueEntry)
		r.Get("/entries/{id}/state", h.EntryState)
		r.Post("/entries/{id}/revive", h.ReviveEntry)

		r.Post("/admin/harvest", h.TriggerHarvest)
		r.Post("/admin/retry-scan", h.TriggerRetryScan)
	})

	return r
}
