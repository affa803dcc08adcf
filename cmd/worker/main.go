package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/gateway"
	"github.com/Maco21496/remindandpay-live/internal/pkg/distlock"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
	"github.com/Maco21496/remindandpay-live/internal/pkg/metrics"
	"github.com/Maco21496/remindandpay-live/internal/pkg/secrets"
	"github.com/Maco21496/remindandpay-live/internal/render"
	"github.com/Maco21496/remindandpay-live/internal/repository/postgres"
	"github.com/Maco21496/remindandpay-live/internal/service/outbox"
	"github.com/Maco21496/remindandpay-live/internal/worker"
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

	// Custom-domain sends need the cipher; platform-only deployments can
	// run without one, those jobs just fail with a precise message.
	cipher, err := secrets.NewFromEnv()
	if err != nil {
		logger.Warn("Secrets cipher unavailable; custom-domain sends will fail", "error", err.Error())
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("Redis unreachable, falling back to PG advisory locks", "error", err.Error())
			redisClient = nil
		}
	}

	jobs := postgres.NewOutboxRepo(db)
	runs := postgres.NewRunRepo(db)
	settings := postgres.NewSettingsRepo(db)
	events := postgres.NewEventRepo(db)
	customers := postgres.NewCustomerRepo(db)
	rules := postgres.NewRuleRepo(db)
	workers := postgres.NewWorkerRepo(db)

	pm := gateway.NewPostmark(cfg.Postmark, nil)
	var sesGateway gateway.EmailGateway
	if cfg.SES.Enabled {
		ses, err := gateway.NewSES(context.Background(), cfg.SES)
		if err != nil {
			logger.Error("Failed to initialize SES", "error", err.Error())
			os.Exit(1)
		}
		sesGateway = ses
	}

	fetcher := gateway.NewAttachmentFetcher(nil, nil)
	if s3Client, err := gateway.NewS3Client(context.Background(), cfg.SES); err != nil {
		logger.Warn("S3 client unavailable; s3 statement urls will send without attachment", "error", err.Error())
	} else {
		fetcher = gateway.NewAttachmentFetcher(nil, s3Client)
	}

	mailer := worker.NewMailer(pm, sesGateway, cfg.SES.Enabled, cipher,
		fetcher, customers, cfg.Server.BaseURL, cfg.Postmark)
	smsSender := worker.NewTwilioSender(gateway.NewTwilio(cfg.Twilio, nil))

	m := metrics.New("remindandpay")
	dispatcher := worker.NewDispatcher(worker.Config{
		WorkerName:       cfg.Worker.Name,
		BatchSize:        cfg.Worker.BatchSize,
		PollInterval:     cfg.Worker.PollInterval(),
		MaxAttempts:      cfg.Worker.MaxAttempts,
		StaleAfter:       cfg.Worker.StaleAfter(),
		PlatformTokenSet: cfg.Postmark.DefaultToken != "",
	}, jobs, runs, settings, events, mailer, smsSender, nil, m)

	svc := outbox.NewService(jobs, runs, rules, customers, render.NewEngine())
	lock := distlock.NewLock(redisClient, db, worker.EnqueueDueLockKey, cfg.Worker.SchedulerInterval())
	scheduler := worker.NewScheduler(svc, lock, cfg.Worker.SchedulerInterval())
	registry := worker.NewRegistry(workers, dispatcher, cfg.Worker.HeartbeatInterval())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); dispatcher.Run(ctx) }()
	go func() { defer wg.Done(); scheduler.Run(ctx) }()
	go func() { defer wg.Done(); registry.Run(ctx) }()

	logger.Info("Dispatch worker started", "worker", dispatcher.WorkerName())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down worker...")

	cancel()
	wg.Wait()
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("Worker stopped")
}
