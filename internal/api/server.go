// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/aggregator"
	"github.com/autobrr/trawl/internal/api/handlers"
	"github.com/autobrr/trawl/internal/api/middleware"
	"github.com/autobrr/trawl/internal/config"
	"github.com/autobrr/trawl/internal/models"
	"github.com/autobrr/trawl/internal/ratelimit"
)

//go:embed openapi.yaml
var openAPISpec []byte

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	aggregator  *aggregator.Service
	statusStore *models.TargetStatusStore
	limiter     *ratelimit.Limiter
}

type Dependencies struct {
	Config      *config.AppConfig
	Version     string
	Aggregator  *aggregator.Service
	StatusStore *models.TargetStatusStore
	Limiter     *ratelimit.Limiter
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			// searches are bounded by searchTimeout plus a short grace
			WriteTimeout: 180 * time.Second,
			IdleTimeout:  180 * time.Second,
		},
		logger:      log.Logger.With().Str("module", "api").Logger(),
		config:      deps.Config,
		version:     deps.Version,
		aggregator:  deps.Aggregator,
		statusStore: deps.StatusStore,
		limiter:     deps.Limiter,
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	cfg := s.config.Current()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, cfg.BaseURL, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol, baseURL string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", baseURL).
		Msgf("Starting API server - Search: http://%s%sapi/search", host, normalizeBaseURL(baseURL))

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	// Result lists are large and compress well; keep the level low so big
	// searches are not held up by the encoder.
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
		Debug:            false,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler(s.aggregator, s.version)
	searchHandler := handlers.NewSearchHandler(s.aggregator)
	targetsHandler := handlers.NewTargetsHandler(s.aggregator, s.statusStore, s.limiter)

	apiRouter := chi.NewRouter()
	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))

		r.Get("/search", searchHandler.SearchQuery)
		r.Post("/search", searchHandler.Search)

		r.Get("/categories", handlers.Categories)

		r.Route("/targets", func(r chi.Router) {
			r.Get("/", targetsHandler.List)

			r.Route("/{targetID}", func(r chi.Router) {
				r.Get("/caps", targetsHandler.Capabilities)
				r.Get("/status", targetsHandler.Status)
				r.Delete("/cooldown", targetsHandler.ClearCooldown)
			})
		})
	})

	apiRouter.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openAPISpec)
	})

	baseURL := normalizeBaseURL(s.config.Current().BaseURL)

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	r.Mount(baseURL+"api", apiRouter)

	if baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + baseURL + " instead of /"))
		})
	}

	return r, nil
}

// normalizeBaseURL returns the base path with a leading and trailing slash.
func normalizeBaseURL(baseURL string) string {
	baseURL = strings.Trim(baseURL, "/")
	if baseURL == "" {
		return "/"
	}
	return "/" + baseURL + "/"
}
