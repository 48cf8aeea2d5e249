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

	"campaign-console/internal/alerts"
	"campaign-console/internal/auth"
	"campaign-console/internal/config"
	"campaign-console/internal/dialer"
	"campaign-console/internal/engine"
	"campaign-console/internal/feed"
	"campaign-console/internal/httpapi"
	"campaign-console/internal/reporting"
	"campaign-console/internal/store"
	"campaign-console/pkg/logger"
	"campaign-console/pkg/utils"

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

	if cfg.App.Env == "production" {
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

	st := store.NewPostgres(db)

	coord := engine.NewCoordinator(engine.Config{
		WorkspaceID: cfg.Engine.WorkspaceID,
		TimeLimit:   cfg.Engine.TimeLimit,
		Tick:        cfg.Engine.TickInterval,
	}, st,
		&dialer.StreamRequester{RDB: rdb, Stream: cfg.Engine.DialStream},
		engine.RedisClaimer{RDB: rdb},
		log,
	)

	sup := &engine.Supervisor{
		Coord: coord,
		Adapter: &feed.Adapter{
			RDB:       rdb,
			Stream:    cfg.Engine.ChangeStream,
			Workspace: cfg.Engine.WorkspaceID,
			Log:       log,
		},
		Store:            st,
		SnapshotPageSize: cfg.Engine.SnapshotPageSize,
		Log:              log,
	}
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := sup.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("engine stopped", "err", err)
			stop()
		}
	}()

	if cfg.Alerts.LowBalanceThresholdMinor > 0 {
		notifier := &alerts.Notifier{
			Source:    st,
			Sender:    alerts.LogSender{Log: log},
			Throttle:  &alerts.RedisThrottle{RDB: rdb},
			Threshold: cfg.Alerts.LowBalanceThresholdMinor,
			Window:    cfg.Alerts.ThrottleWindow,
			Log:       log,
		}
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-rootCtx.Done():
					return
				case <-ticker.C:
					if err := notifier.Check(rootCtx, cfg.Engine.WorkspaceID); err != nil {
						log.Warn("balance check failed", "err", err)
					}
				}
			}
		}()
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:      authManager,
		Store:     st,
		Engine:    coord,
		Reports:   reporting.NewService(st),
		TimeLimit: cfg.Engine.TimeLimit,
		Tick:      cfg.Engine.TickInterval,
	}
	registerRoutes(r, h, db, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE deadline streams stay open up to the pickup limit.
		WriteTimeout: cfg.Engine.TimeLimit + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "workspace_id", cfg.Engine.WorkspaceID)
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
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		log.Error("engine drain timed out")
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
