package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kleeedolinux/rpcprovider/config"
	"github.com/kleeedolinux/rpcprovider/debug"
	"github.com/kleeedolinux/rpcprovider/internal/devnode"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	listen := flag.String("listen", "", "listen address, overrides devnode.listen")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := config.LoggingConfig{Level: "info"}.NewLogger(os.Stderr)
		bootLog.Fatal().Err(err).Msg("cannot load config")
	}
	if *listen != "" {
		cfg.Devnode.Listen = *listen
	}

	log := cfg.Logging.NewLogger(os.Stderr)
	if cfg.Logging.Debug {
		debug.SetOutput(log)
		debug.Enable()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node := devnode.NewServer(
		devnode.WithLogger(log),
		devnode.WithMaxConcurrency(cfg.Devnode.MaxConnections),
		devnode.WithBufferSize(cfg.Devnode.BufferSize),
		devnode.WithCompression(cfg.Devnode.Compression),
	)
	chain := devnode.NewChain(cfg.Devnode.BlockInterval)
	chain.Register(node)

	httpServer := &http.Server{
		Addr:              cfg.Devnode.Listen,
		Handler:           node,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := chain.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("block production stopped")
		}
	}()

	go func() {
		log.Info().Str("listen", cfg.Devnode.Listen).Dur("blockInterval", cfg.Devnode.BlockInterval).Msg("devnode listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := node.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("devnode shutdown")
	}
}
