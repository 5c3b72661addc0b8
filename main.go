// Package main implements a service that scans rental listing sources,
// matches listings against saved search profiles and sends notifications
// over Telegram, WhatsApp and email.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"realty-notifier/agents"
	"realty-notifier/config"
	"realty-notifier/crawler"
	"realty-notifier/dedup"
	"realty-notifier/match"
	"realty-notifier/notify"
	"realty-notifier/profile"
	"realty-notifier/scan"
	"realty-notifier/server"
	"realty-notifier/store"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	}()

	if count, err := db.CountSeen(ctx); err == nil {
		logger.Info("Opened notification store", "db_path", cfg.DBPath, "seen_listings", count)
	}

	profiles, cleanup, err := initProfileStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	for i := range cfg.SeedProfiles {
		p := &cfg.SeedProfiles[i]
		if err := profiles.Save(ctx, p); err != nil {
			return fmt.Errorf("seed profile %s: %w", p.ID, err)
		}
		logger.Info("Seeded search profile", "profile_id", p.ID, "name", p.Name)
	}

	// AI providers are optional. A provider that fails to initialize is
	// skipped; with none left, matching runs on rules alone.
	tracker := agents.NewTracker()
	var providers []agents.Provider
	for _, pc := range cfg.Providers {
		p, err := agents.New(ctx, pc, logger)
		if err != nil {
			logger.Warn("Skipping AI provider", "kind", pc.Kind, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		logger.Info("No AI providers configured, matching on rules alone")
	}

	analyzer := agents.NewAnalyzer(agents.AnalyzerConfig{
		Providers:         providers,
		Tracker:           tracker,
		Logger:            logger,
		OverrideThreshold: cfg.OverrideThreshold,
	})
	defer analyzer.Close()

	dispatcher, err := initDispatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	scorer := match.NewScorer(logger)
	yad2 := crawler.NewYad2(&http.Client{Timeout: 30 * time.Second}, logger)

	scanner := scan.New(scan.Config{
		Profiles:     profiles,
		Sources:      []scan.Source{yad2},
		Seen:         dedup.New(db, logger),
		Audit:        db,
		Scorer:       scorer,
		Engine:       match.NewEngine(scorer, logger),
		Analyzer:     analyzer,
		Dispatcher:   dispatcher,
		Logger:       logger,
		CycleTimeout: cfg.ScanTimeout,
	})

	srv := server.New(&server.Config{
		Scanner: scanner,
		Audit:   db,
		Metrics: tracker,
		Logger:  logger,
	})
	httpServer := srv.HTTPServer(cfg.Port)

	go runScheduler(ctx, scanner, cfg.ScanInterval, logger)

	// Shutdown on SIGINT/SIGTERM; in-flight requests get five seconds.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", "error", err)
		}
	}()

	logger.Info("Starting HTTP server", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// initProfileStore builds the profile store over a GCS bucket when one is
// configured, and over a local directory otherwise. The returned cleanup
// closes the GCS client and is a no-op in local mode.
func initProfileStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*profile.Store, func(), error) {
	if cfg.StorageBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init storage client: %w", err)
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}
		return profile.New(client, cfg.StorageBucket, "", logger), cleanup, nil
	}

	logger.Info("Running in local development mode", "storage_path", cfg.LocalStorage)
	if err := os.MkdirAll(cfg.LocalStorage, 0755); err != nil {
		return nil, nil, fmt.Errorf("create local storage directory: %w", err)
	}
	return profile.New(nil, "", cfg.LocalStorage, logger), func() {}, nil
}

// initDispatcher assembles the notification channels the configuration
// enables. Email is always present, backed by Gmail when credentials are
// available and by a mock sender in local development.
func initDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*notify.Dispatcher, error) {
	var channels []notify.Channel

	if cfg.TelegramBotToken != "" {
		channels = append(channels, notify.NewTelegram(cfg.TelegramBotToken, logger))
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		channels = append(channels, notify.NewWhatsApp(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppFrom, logger))
	}

	mail, err := initMailProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	channels = append(channels, notify.NewEmail(mail, logger))

	if cfg.StorageBucket == "" {
		channels = append(channels, notify.NewMockChannel(logger))
	}

	return notify.NewDispatcher(notify.DispatcherConfig{
		Channels: channels,
		Logger:   logger,
	}), nil
}

// initMailProvider prefers Gmail and falls back to a mock sender in local
// development. In production the Gmail service is required.
func initMailProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.MailProvider, error) {
	svc, err := initGmailService(ctx, cfg.GoogleCredentialsJSON)
	if err != nil {
		if cfg.StorageBucket != "" {
			return nil, fmt.Errorf("init gmail service: %w", err)
		}
		logger.Info("Mock email mode enabled", "reason", err.Error())
		return notify.NewMockMailProvider(logger), nil
	}
	return notify.NewGmailProvider(svc, logger), nil
}

func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	// Try explicit credentials first (for local development or specific use cases)
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// If running in Cloud Run, use Application Default Credentials (ADC)
	// This automatically uses the service account
	// The service account needs Gmail API access (gmail.send scope)
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	// Not in Cloud Run and no explicit credentials
	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

// runScheduler runs one scan cycle immediately and then one per interval
// until ctx is canceled. A cycle still in flight when the tick fires is
// skipped rather than stacked.
func runScheduler(ctx context.Context, scanner *scan.Scanner, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := scanner.Run(ctx); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, scan.ErrBusy):
				logger.Warn("Previous scan cycle still running, skipping this tick")
			default:
				logger.Error("Scan cycle failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
