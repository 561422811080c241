// Command server runs the signaling relay agents use to find and reach each
// other.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"retroboard/internal/config"
	"retroboard/internal/logging"
	"retroboard/internal/signaling"
)

func main() {
	if err := mainInner(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainInner() error {
	configPath := flag.String("config", "retroboard.yaml", "path to the config file")
	listen := flag.String("listen", "", "address to listen on; overrides the config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *listen != "" {
		cfg.Signaling.Listen = *listen
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("Connected to Redis successfully", zap.String("addr", opts.Addr))

	srv := &http.Server{
		Addr: cfg.Signaling.Listen,
		Handler: signaling.NewServer(signaling.Options{
			Redis:    rdb,
			ClaimTTL: cfg.Signaling.ClaimTTL,
			Logger:   logger,
		}),
	}

	go func() {
		logger.Info("Signaling server starting", zap.String("addr", cfg.Signaling.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down signaling server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	return nil
}
