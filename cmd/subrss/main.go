// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/subrss/internal/api"
	"github.com/autobrr/subrss/internal/buildinfo"
	"github.com/autobrr/subrss/internal/config"
	"github.com/autobrr/subrss/internal/database"
	"github.com/autobrr/subrss/internal/domain"
	"github.com/autobrr/subrss/internal/models"
	"github.com/autobrr/subrss/internal/qbittorrent"
	"github.com/autobrr/subrss/internal/services/feed"
	"github.com/autobrr/subrss/internal/services/filter"
	"github.com/autobrr/subrss/internal/services/media"
	"github.com/autobrr/subrss/internal/services/rss"
	"github.com/autobrr/subrss/internal/services/siteattr"
	"github.com/autobrr/subrss/internal/services/subscribe"
	"github.com/autobrr/subrss/internal/services/tmdb"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "subrss",
		Short: "Subscription-driven RSS downloader",
		Long: `subrss - watches indexer RSS feeds and hands releases matching your
movie and TV subscriptions to qBittorrent.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunOnceCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the RSS scheduler",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/subrss/ or %APPDATA%\\subrss\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and lock file (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath)
		app.runServer()
	}

	return command
}

func RunOnceCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "run",
		Short: "Execute a single RSS run and exit",
		Long: `Execute a single RSS run without starting the server.

The run takes the same file lock as the scheduler, so it fails fast when a
server or another run is already working on the same data directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configDir, dataDir, "")
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return errors.Wrap(err, "failed to initialize database")
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc := newComponents(cfg, db, prometheus.NewRegistry()).rss
			result, err := svc.Run(ctx, "cli")
			if err != nil {
				if errors.Is(err, rss.ErrRunInProgress) {
					return errors.New("another run is already in progress")
				}
				return errors.Wrap(err, "rss run failed")
			}

			s := result.Run.Summary
			cmd.Printf("Run %d finished with status %s\n", result.Run.ID, result.Run.Status)
			cmd.Printf("  sites: %d  items: %d  accepted: %d  duplicates: %d  no match: %d  rejected: %d  satisfied: %d  failed: %d\n",
				s.Sites, s.FeedItems, s.Accepted, s.Duplicates, s.NoMatch, s.Rejected, s.Satisfied, s.Failed)
			for _, plan := range result.Plans {
				cmd.Printf("  %s: %d candidate(s)\n", plan.MatchInfo.Name, len(plan.Candidates))
			}
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")

	return command
}

func RunVersionCommand() *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of subrss",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildinfo.String())
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/subrss/config.toml
- Windows: %APPDATA%\subrss\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
}

func NewApplication(configDir, dataDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
	}
}

func (app *Application) loadConfig() (*config.AppConfig, error) {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("SUBRSS__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("SUBRSS__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()
	return cfg, nil
}

type components struct {
	rss           *rss.Service
	filter        *filter.Engine
	subscriptions *models.SubscriptionStore
	downloads     *models.DownloadStore
	library       *models.LibraryStore
	runs          *models.RSSRunStore
	history       *models.RSSHistoryStore
}

func newComponents(cfg *config.AppConfig, db *database.DB, reg prometheus.Registerer) *components {
	snapshot := cfg.Snapshot()

	c := &components{
		subscriptions: models.NewSubscriptionStore(db),
		downloads:     models.NewDownloadStore(db),
		library:       models.NewLibraryStore(db),
		runs:          models.NewRSSRunStore(db),
		history:       models.NewRSSHistoryStore(db),
		filter:        filter.NewEngine(snapshot.FilterGroups),
	}

	var searcher media.Searcher
	if snapshot.TMDBAPIKey != "" {
		client, err := tmdb.New(snapshot.TMDBAPIKey, snapshot.TMDBBaseURL, snapshot.TMDBLanguage)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize TMDB client, resolving from titles only")
		} else {
			searcher = client
		}
	} else {
		log.Warn().Msg("No TMDB API key configured - exact matching will rely on parsed titles only")
	}
	resolver := media.NewResolver(searcher, time.Duration(snapshot.ResolverCacheTTL)*time.Minute)

	fetchTimeout := time.Duration(snapshot.RSSFetchTimeout) * time.Second

	var downloader subscribe.Downloader
	if snapshot.QBittorrentHost != "" {
		downloader = qbittorrent.NewClient(qbittorrent.Config{
			Host:        snapshot.QBittorrentHost,
			Username:    snapshot.QBittorrentUsername,
			Password:    snapshot.QBittorrentPassword,
			Tags:        splitTags(snapshot.QBittorrentTags),
			StartPaused: snapshot.QBittorrentStartPaused,
			Timeout:     fetchTimeout,
		})
	} else {
		log.Warn().Msg("No qBittorrent host configured - accepted releases will only be recorded")
	}

	c.rss = rss.NewService(rss.Config{
		SiteConcurrency:  snapshot.RSSSiteConcurrency,
		HistoryRetention: time.Duration(snapshot.RSSHistoryRetentionDays) * 24 * time.Hour,
		LockPath:         cfg.GetLockPath(),
	}, rss.Deps{
		Feeds:         feed.NewSource(fetchTimeout, feed.WithProxy(snapshot.ProxyURL)),
		Resolver:      resolver,
		History:       c.history,
		Subscriptions: c.subscriptions,
		Filter:        c.filter,
		Attributes:    siteattr.NewChecker(fetchTimeout, snapshot.ProxyURL),
		Subscriber:    subscribe.NewService(c.library, c.downloads, c.subscriptions, downloader),
		Runs:          c.runs,
		Metrics:       rss.NewMetrics(reg),
	}, snapshot.Sites)

	cfg.RegisterReloadListener(func(updated *domain.Config) {
		c.rss.SetSites(updated.Sites)
		c.filter.Reload(updated.FilterGroups)
		log.Info().Int("sites", len(updated.Sites)).Int("filterGroups", len(updated.FilterGroups)).Msg("Applied reloaded site and filter configuration")
	})

	return c
}

func splitTags(raw string) []string {
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func (app *Application) runServer() {
	cfg, err := app.loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	log.Info().Str("version", buildinfo.Version).Msg("Starting subrss")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := newComponents(cfg, db, registry)

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()

	httpServer := api.NewServer(&api.Dependencies{
		Config:            cfg,
		Version:           buildinfo.Version,
		RunContext:        schedulerCtx,
		RSSService:        c.rss,
		SubscriptionStore: c.subscriptions,
		DownloadStore:     c.downloads,
		LibraryStore:      c.library,
		RunStore:          c.runs,
		HistoryStore:      c.history,
		Metrics:           registry,
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
		c.rss.Start(schedulerCtx, time.Duration(cfg.Snapshot().RSSInterval)*time.Minute)
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	cancelScheduler()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		db.Close()
		os.Exit(1)
	}

	log.Info().Msg("Server stopped")
}
