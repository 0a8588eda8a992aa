// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

package edge

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/folium-app/folium-server/internal/logging"
	"github.com/folium-app/folium-server/internal/metrics"
	"github.com/folium-app/folium-server/internal/task"
)

// maxRequestBody bounds request bodies below the frame payload cap, leaving
// headroom for the token and routing fields wrapped around the body before
// dispatch.
const maxRequestBody = task.MaxPayloadSize - 8*1024

// router maps the HTTP surface onto task kinds.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(recordMetrics)
	r.Use(middleware.Recoverer)

	r.Get("/ping", s.handlePing)
	r.Get("/ping-core", s.handlePingCore)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.RequestSize(maxRequestBody))
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Server.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))

		api.Route("/auth", func(ar chi.Router) {
			// Brute-force guard on the credential endpoints.
			ar.Use(httprate.LimitByIP(s.cfg.Server.RateLimitReqs, s.cfg.Server.RateLimitWindow))

			ar.Post("/register", s.handleRegister)
			ar.Post("/login", s.handleLogin)
			ar.Post("/logout", s.handleLogout)
			ar.Post("/refresh-token", s.handleRefresh)
			ar.Post("/change-password", s.handleChangePassword)
		})

		api.Get("/classes", s.handleGetClasses)

		api.Route("/me/classes", func(mc chi.Router) {
			mc.Get("/", s.handleGetMeClasses)
			mc.Post("/", s.handlePostMeClasses)

			mc.Route("/{id}", func(cl chi.Router) {
				cl.Get("/", s.handleClassKind(task.KindGetClassDetails))
				cl.Put("/", s.handlePutClass)
				cl.Delete("/", s.handleClassKind(task.KindDeleteClass))

				cl.Get("/owner", s.handleClassKind(task.KindGetClassOwner))
				cl.Get("/name", s.handleClassKind(task.KindGetClassName))
				cl.Get("/description", s.handleClassKind(task.KindGetClassDescription))
				cl.Get("/bigNote", s.handleClassKind(task.KindGetClassBigNote))
				cl.Get("/title", s.handleClassKind(task.KindGetClassTitle))

				cl.Post("/upload-note", s.handleUploadNote)
				cl.Put("/bigNote/edit-note", s.handleEditBigNote)
				cl.Get("/bigNote/history", s.handleClassKind(task.KindGetBigNoteHistory))
				cl.Get("/bigNote/export", s.handleExportBigNote)
			})
		})
	})

	return r
}

// requestLogger logs one line per request through the global logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

// recordMetrics feeds the Prometheus collectors, labelled by the chi route
// pattern rather than the raw path to keep cardinality bounded.
func recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}
