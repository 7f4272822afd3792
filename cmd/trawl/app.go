// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/aggregator"
	"github.com/autobrr/trawl/internal/api"
	"github.com/autobrr/trawl/internal/buildinfo"
	"github.com/autobrr/trawl/internal/cache"
	"github.com/autobrr/trawl/internal/config"
	"github.com/autobrr/trawl/internal/database"
	"github.com/autobrr/trawl/internal/definitions"
	"github.com/autobrr/trawl/internal/domain"
	"github.com/autobrr/trawl/internal/executor"
	"github.com/autobrr/trawl/internal/metrics"
	"github.com/autobrr/trawl/internal/models"
	"github.com/autobrr/trawl/internal/plugins"
	"github.com/autobrr/trawl/internal/ratelimit"
	"github.com/autobrr/trawl/internal/registry"
	"github.com/autobrr/trawl/internal/session"
	"github.com/autobrr/trawl/internal/transport"
)

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

// stack is everything a search needs, built once per process.
type stack struct {
	db          *database.DB
	limiter     *ratelimit.Limiter
	registry    *registry.Registry
	aggregator  *aggregator.Service
	statusStore *models.TargetStatusStore
	metrics     *metrics.Metrics
	factory     *plugins.Factory
}

func (app *Application) loadConfig() (*config.AppConfig, error) {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		return nil, errors.Wrap(err, "could not load configuration")
	}

	if app.dataDir != "" {
		os.Setenv("TRAWL__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("TRAWL__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()
	return cfg, nil
}

func buildStack(ctx context.Context, cfg *config.AppConfig) (*stack, error) {
	conf := cfg.Current()

	db, err := database.Open(ctx, cfg.GetDataDir())
	if err != nil {
		return nil, errors.Wrap(err, "could not open database")
	}

	statusStore := models.NewTargetStatusStore(db)

	limiter := ratelimit.New(conf.DefaultMinInterval)
	if cooldowns, err := statusStore.ListCooldowns(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to restore target cooldowns")
	} else if len(cooldowns) > 0 {
		limiter.LoadCooldowns(cooldowns)
		log.Info().Int("targets", len(cooldowns)).Msg("Restored target cooldowns")
	}

	sessions := session.NewStore(session.WithLoginTimeout(conf.LoginTimeout))
	reg := registry.New(sessions, limiter)

	searchCache := cache.New[*aggregator.SearchResponse](conf.CacheSize, conf.CacheTTL)

	m := metrics.New(metrics.Sources{
		Cooldowns:  func() int { return len(limiter.Cooldowns()) },
		CacheStats: searchCache.Stats,
	})

	exec := executor.New(transport.NewClient(nil), sessions, limiter, executor.Config{
		MaxRetries:     conf.MaxRetries,
		RequestTimeout: conf.RequestTimeout,
	}, executor.WithObserver(m))

	agg := aggregator.NewService(reg, exec, aggregator.Config{
		MaxWorkers:    conf.MaxWorkers,
		SearchTimeout: conf.SearchTimeout,
		TargetTimeout: conf.TargetTimeout,
	},
		aggregator.WithCache(searchCache),
		aggregator.WithObserver(m),
		aggregator.WithStatusRecorder(statusStore),
	)

	s := &stack{
		db:          db,
		limiter:     limiter,
		registry:    reg,
		aggregator:  agg,
		statusStore: statusStore,
		metrics:     m,
	}

	if err := s.loadTargets(conf); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// loadTargets rebuilds the target set from conf. Targets that fail to build
// are logged and skipped; only a broken catalog or an invalid target set is
// fatal.
func (s *stack) loadTargets(conf *domain.Config) error {
	catalog, err := definitions.Load(conf.DefinitionsDir)
	if err != nil {
		return errors.Wrapf(err, "could not load definitions from %q", conf.DefinitionsDir)
	}
	s.factory = plugins.NewFactory(catalog)

	targets, err := s.factory.BuildAll(conf.Targets)
	if err != nil {
		log.Warn().Err(err).Msg("Some targets could not be built")
	}

	if err := s.registry.Replace(targets); err != nil {
		return errors.Wrap(err, "could not register targets")
	}
	s.aggregator.PurgeCache()

	enabled := 0
	for _, t := range targets {
		if t.Enabled {
			enabled++
		}
	}
	log.Info().Int("targets", len(targets)).Int("enabled", enabled).Msg("Targets loaded")
	return nil
}

func (s *stack) Close() error {
	return s.db.Close()
}

func (app *Application) runServer() {
	cfg, err := app.loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	log.Info().Str("version", buildinfo.Version).Msg("Starting trawl")

	s, err := buildStack(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize search stack")
	}
	defer s.Close()

	cfg.RegisterReloadListener(func(conf *domain.Config) {
		if err := s.loadTargets(conf); err != nil {
			log.Error().Err(err).Msg("Failed to reload targets, keeping the previous set")
		}
	})

	httpServer := api.NewServer(&api.Dependencies{
		Config:      cfg,
		Version:     buildinfo.Version,
		Aggregator:  s.aggregator,
		StatusStore: s.statusStore,
		Limiter:     s.limiter,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	conf := cfg.Current()

	var metricsServer *metrics.Server
	if conf.MetricsEnabled {
		metricsServer = metrics.NewServer(s.metrics, conf.MetricsHost, conf.MetricsPort)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorChannel <- err
			}
		}()
	}

	if app.pprofFlag {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			log.Info().Msg("Access profiling at: http://localhost:6060/debug/pprof/")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		s.Close()
		os.Exit(1)
	}
}
