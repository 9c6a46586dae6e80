package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"calendar-ledger-sync/internal/config"
	"calendar-ledger-sync/internal/db"
	"calendar-ledger-sync/internal/decision"
	"calendar-ledger-sync/internal/handler"
	"calendar-ledger-sync/internal/metrics"
	"calendar-ledger-sync/internal/notify"
	"calendar-ledger-sync/internal/remote"
	"calendar-ledger-sync/internal/repository"
	"calendar-ledger-sync/internal/router"
	"calendar-ledger-sync/internal/scheduler"
	"calendar-ledger-sync/internal/service"
	"calendar-ledger-sync/internal/source"
	"calendar-ledger-sync/internal/subscription"
)

// Run initializes and starts the application
func Run() error {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting Calendar Ledger Sync Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("level", cfg.Log.Level).Warn("Unknown log level, keeping info")
	}

	loc, err := cfg.Sync.Location()
	if err != nil {
		return err
	}

	dbConn, err := db.Init(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := repository.New(dbConn)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	src, err := newSource(cfg, loc, log)
	if err != nil {
		return err
	}

	svc := service.NewSyncService(
		repo,
		src,
		remote.NewClient(&cfg.Remote, log),
		decision.NewEngine(loc),
		subscription.NewRegistry(),
		m,
		log,
		service.OptionsFromConfig(cfg),
	)
	if _, err := svc.RefreshSubscriptions(context.Background()); err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	var poller scheduler.Poller
	if cfg.IMAP.Enabled {
		poller = notify.NewWatcher(&cfg.IMAP, svc, log)
		log.WithField("host", cfg.IMAP.Host).Info("Invitation watcher enabled")
	}

	sched := scheduler.NewScheduler(&cfg.Scheduler, svc, poller, m, log)

	h := handler.NewHandlers(repo, svc, sched, prometheus.DefaultGatherer, log)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		log.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP server shutdown error: %v", err)
	}

	if sqlDB, err := dbConn.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Errorf("Failed to close database: %v", err)
		}
	}

	log.Info("Server stopped gracefully")
	return nil
}

func newSource(cfg *config.Config, loc *time.Location, log logrus.FieldLogger) (service.CalendarSource, error) {
	switch cfg.Source.Kind {
	case "ics":
		log.WithField("feeds", len(cfg.Source.ICSFeeds)).Info("Using ICS feeds as calendar source")
		return source.NewICSFeed(cfg.Source.ICSFeeds, cfg.Source.Timeout, loc, log), nil
	default:
		gc, err := source.NewGoogleCalendar(context.Background(), &cfg.Source, loc, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create Google Calendar source: %w", err)
		}
		log.Info("Using Google Calendar as calendar source")
		return gc, nil
	}
}
