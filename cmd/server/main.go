package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"quotebot/internal/app"
	"quotebot/internal/config"
	"quotebot/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.New("info", "json").Fatal("config", zap.Error(err))
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	a, err := app.Build(cfg, log)
	if err != nil {
		log.Fatal("build", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close cache", zap.Error(err))
		}
	}()
	for name, c := range a.Chains {
		log.Info("chain ready", zap.String("chain", name), zap.Strings("providers", c.Providers()))
	}

	handler := newRouter(&api{
		agg:         a.Aggregator,
		log:         log.Named("http"),
		timeout:     time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		convertUnit: cfg.Aggregator.ConvertUnit,
		ttl:         a.Cache.TTL(),
	}, a.Metrics, a.Registry, cfg.Server.MaxBodyBytes)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.RequestTimeoutSec+10) * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}
