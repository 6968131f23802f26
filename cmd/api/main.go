package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callpay-platform/internal/accounts"
	"callpay-platform/internal/auth"
	"callpay-platform/internal/calls"
	"callpay-platform/internal/config"
	"callpay-platform/internal/httpapi"
	"callpay-platform/internal/ledger"
	"callpay-platform/internal/notify"
	"callpay-platform/internal/presence"
	"callpay-platform/internal/rates"
	"callpay-platform/pkg/logger"
	"callpay-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; absent in production images.
	_ = godotenv.Load()

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

	var dispatch notify.Dispatcher
	if cfg.AMQP.URL != "" {
		amqpDispatch := notify.NewAMQPDispatcher(cfg.AMQP.URL, log)
		defer amqpDispatch.Close()
		dispatch = amqpDispatch
	} else {
		log.Warn("AMQP_URL not set, call events go to the log only")
		dispatch = notify.LogDispatcher{Log: log}
	}

	sched := calls.NewTerminationScheduler()
	defer sched.Shutdown()

	ledgerSvc := ledger.NewService(ledger.NewPostgresRepo(db))
	ratesSvc := rates.NewService(rates.NewPostgresRepo(db))

	callSvc := calls.NewService(calls.Deps{
		Repo:     calls.NewPostgresRepo(db),
		Accounts: accounts.NewPostgresRepo(db),
		Rates:    ratesSvc,
		Ledger:   ledgerSvc,
		Lock:     presence.NewRedisLock(rdb, 0),
		Dispatch: dispatch,
		Sched:    sched,
		Log:      log,
	}, calls.Options{
		RingTimeout:    cfg.Billing.RingTimeout,
		ConnectTimeout: cfg.Billing.ConnectTimeout,
		MinCallSeconds: cfg.Billing.MinCallSeconds,
	})

	// Reclaimer sweep: the persisted deadlines are authoritative, the
	// in-process timers only a fast path. One ticker enforces them.
	go func() {
		t := time.NewTicker(cfg.Billing.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-t.C:
				n, err := callSvc.CleanupStale(rootCtx)
				if err != nil {
					log.Error("stale call sweep failed", "err", err)
					continue
				}
				if n > 0 {
					log.Info("stale call sweep", "reclaimed", n)
				}
			}
		}
	}()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:   authManager,
		Calls:  callSvc,
		Ledger: ledgerSvc,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager), db)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
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
}
