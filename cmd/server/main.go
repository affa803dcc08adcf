package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/Maco21496/remindandpay-live/internal/api"
	"github.com/Maco21496/remindandpay-live/internal/auth"
	"github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
	"github.com/Maco21496/remindandpay-live/internal/pkg/metrics"
	"github.com/Maco21496/remindandpay-live/internal/pkg/secrets"
	"github.com/Maco21496/remindandpay-live/internal/render"
	"github.com/Maco21496/remindandpay-live/internal/repository/postgres"
	"github.com/Maco21496/remindandpay-live/internal/service/outbox"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err.Error())
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Console)

	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("Failed to open database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.Lifetime())

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	cancelPing()
	if err != nil {
		logger.Error("Failed to connect to database", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("Connected to database")

	// The cipher is only needed server-side for Twilio signature
	// validation; deployments without custom-domain accounts skip it.
	cipher, err := secrets.NewFromEnv()
	if err != nil {
		logger.Warn("Secrets cipher unavailable; Twilio signature validation disabled", "error", err.Error())
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	var authManager *auth.Manager
	if cfg.Auth.Enabled {
		authManager = auth.NewManager(cfg.Auth, cfg.Server.BaseURL)
		// Fail fast on bad OAuth client credentials instead of serving
		// logins that can never complete.
		checkCtx, cancelCheck := context.WithTimeout(rootCtx, 10*time.Second)
		err = authManager.ValidateCredentials(checkCtx)
		cancelCheck()
		if err != nil {
			logger.Error("OAuth credential check failed", "error", err.Error())
			os.Exit(1)
		}
		authManager.StartCleanup(rootCtx)
		logger.Info("Google OAuth enabled", "allowed_domain", cfg.Auth.AllowedDomain)
	} else {
		logger.Warn("Auth is disabled; admin API is unauthenticated")
	}

	jobs := postgres.NewOutboxRepo(db)
	runs := postgres.NewRunRepo(db)
	rules := postgres.NewRuleRepo(db)
	customers := postgres.NewCustomerRepo(db)
	settings := postgres.NewSettingsRepo(db)
	events := postgres.NewEventRepo(db)

	m := metrics.New("remindandpay")
	svc := outbox.NewService(jobs, runs, rules, customers, render.NewEngine())

	router := api.NewRouter(api.RouterDeps{
		Handlers:       api.NewHandlers(svc, db),
		Auth:           authManager,
		Postmark:       api.NewPostmarkWebhook(jobs, events, cfg.Webhooks, m),
		Twilio:         api.NewTwilioWebhook(jobs, events, settings, cipher, cfg.Webhooks, m),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := api.NewServer(router)
	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		errCh <- server.ListenAndServe(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("HTTP server failed", "error", err.Error())
		os.Exit(1)
	case sig := <-quit:
		logger.Info("Shutting down server...", "signal", sig.String())
	}

	rootCancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
