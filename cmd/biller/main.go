package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"callbilling/internal/auth"
	"callbilling/internal/billing"
	"callbilling/internal/calls"
	"callbilling/internal/config"
	"callbilling/internal/notify"
	"callbilling/internal/reconcile"
	"callbilling/internal/wallet"
	"callbilling/pkg/logger"
	"callbilling/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Stores and services.
	walletSvc := wallet.NewService(wallet.NewPostgresStore(db))
	callRepo := calls.NewPostgresRepo(db)
	callSvc := calls.NewService(callRepo, cfg.Billing.RateMicrosPerSecond, cfg.Billing.FreeWindow)
	reconcileSvc := reconcile.NewService(callRepo)
	sink := notify.NewRedisSink(rdb)

	// Metering loop.
	engine := billing.NewEngine(walletSvc, callRepo, sink, log, cfg.Billing.PollInterval)
	scheduler := billing.NewScheduler(engine, callRepo, billing.SchedulerConfig{
		PollInterval: cfg.Billing.PollInterval,
		BatchSize:    cfg.Billing.BatchSize,
		Workers:      cfg.Billing.Workers,
	}, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("billing scheduler starting",
			"poll_interval", cfg.Billing.PollInterval,
			"batch_size", cfg.Billing.BatchSize,
			"workers", cfg.Billing.Workers,
		)
		scheduler.Run(rootCtx)
		log.Info("billing scheduler stopped")
	}()

	// Gin router for the collaborator API.
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpDeps{
		wallet:    walletSvc,
		calls:     callSvc,
		reconcile: reconcileSvc,
		db:        db,
		redis:     rdb,
		authMW:    auth.RequireServiceToken(authManager),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("biller listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// The scheduler drains in-flight billing steps before returning.
	wg.Wait()
}
