package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/collabhub/collabhub/hub"
	"github.com/collabhub/collabhub/internal/hub/config"
	"github.com/collabhub/collabhub/internal/hub/wire"
	"github.com/collabhub/collabhub/internal/logging"
)

func runHub(args []string) error {
	fs := flag.NewFlagSet("hub", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	dataDir := fs.String("data-dir", "", "data directory (overrides config)")
	watchDir := fs.String("watch-dir", "", "watched project directory (overrides config)")
	antiEcho := fs.Bool("anti-echo", false, "enable the anti-echo diversity engine")
	noBanner := fs.Bool("no-banner", false, "suppress the startup banner")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *watchDir != "" {
		cfg.WatchDir = *watchDir
	}
	if *antiEcho {
		cfg.AntiEcho = true
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	logging.SetLevel(level)

	srv, err := hub.NewServer(*cfg)
	if err != nil {
		return err
	}

	if !*noBanner {
		logging.PrintBanner(wire.ServerVersion, cfg.Addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	slog.Info("goodbye")
	return nil
}
