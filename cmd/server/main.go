package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vendorhub/internal/app"
	"vendorhub/internal/config"
	"vendorhub/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("config")
	}
	log, err := app.NewLogger(cfg.Logging)
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("logger")
	}
	entry := log.WithComponent("server")

	reg, err := app.Build(cfg, log)
	if err != nil {
		entry.WithError(err).Fatal("build registry")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 20*time.Second)
	if failed := reg.ConnectAll(connectCtx); len(failed) > 0 {
		entry.WithField("vendors", failed).Warn("some vendors failed to connect; serving anyway")
	}
	cancelConnect()

	s := &server{
		reg:     reg,
		bulk:    cfg.Bulk,
		timeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		log:     log.WithComponent("bulk"),
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(entry, limitBody(logRequests(entry, s.routes()))))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		entry.WithField("port", cfg.Server.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Fatal("server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Warn("shutdown")
	}
	reg.Close()
}
