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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/subrss/internal/api/handlers"
	"github.com/autobrr/subrss/internal/api/middleware"
	"github.com/autobrr/subrss/internal/config"
	"github.com/autobrr/subrss/internal/domain"
)

//go:embed openapi.yaml
var openAPISpec []byte

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	runCtx            context.Context
	rssService        handlers.RSSRunner
	subscriptionStore handlers.SubscriptionStore
	downloadStore     handlers.DownloadLister
	libraryStore      handlers.LibraryStore
	runStore          handlers.RunLister
	historyStore      handlers.HistoryLister
	metrics           prometheus.Gatherer
}

type Dependencies struct {
	Config  *config.AppConfig
	Version string

	// RunContext bounds runs started in the background from the API.
	RunContext        context.Context
	RSSService        handlers.RSSRunner
	SubscriptionStore handlers.SubscriptionStore
	DownloadStore     handlers.DownloadLister
	LibraryStore      handlers.LibraryStore
	RunStore          handlers.RunLister
	HistoryStore      handlers.HistoryLister
	Metrics           prometheus.Gatherer
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:            log.Logger.With().Str("module", "api").Logger(),
		config:            deps.Config,
		version:           deps.Version,
		runCtx:            deps.RunContext,
		rssService:        deps.RSSService,
		subscriptionStore: deps.SubscriptionStore,
		downloadStore:     deps.DownloadStore,
		libraryStore:      deps.LibraryStore,
		runStore:          deps.RunStore,
		historyStore:      deps.HistoryStore,
		metrics:           deps.Metrics,
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
	cfg := s.config.Snapshot()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
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

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
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
		Msgf("Starting API server - Open: http://%s/api/rss/status", host)

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

	// Global middleware
	r.Use(chimiddleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

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
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
		Debug:            false,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler(s.version)
	rssHandler := handlers.NewRSSHandler(s.runCtx, s.rssService, s.runStore, s.historyStore)
	subscriptionsHandler := handlers.NewSubscriptionsHandler(s.subscriptionStore, s.downloadStore)
	libraryHandler := handlers.NewLibraryHandler(s.libraryStore)
	sitesHandler := handlers.NewSitesHandler(func() []domain.SiteConfig {
		return s.config.Snapshot().Sites
	})

	apiRouter := chi.NewRouter()
	apiRouter.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openAPISpec)
	})

	apiRouter.Route("/rss", func(r chi.Router) {
		r.Post("/run", rssHandler.TriggerRun)
		r.Get("/status", rssHandler.GetStatus)
		r.Get("/runs", rssHandler.ListRuns)
		r.Get("/history", rssHandler.ListHistory)
	})

	apiRouter.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", subscriptionsHandler.List)
		r.Post("/", subscriptionsHandler.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", subscriptionsHandler.Get)
			r.Delete("/", subscriptionsHandler.Delete)
			r.Put("/state", subscriptionsHandler.UpdateState)
			r.Get("/downloads", subscriptionsHandler.ListDownloads)
		})
	})

	apiRouter.Post("/library", libraryHandler.Add)
	apiRouter.Get("/sites", sitesHandler.List)

	r.Get("/health", healthHandler.HandleHealth)

	if s.metrics != nil && s.config.Snapshot().MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}

	r.Mount("/api", apiRouter)

	return r, nil
}
