// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ffutop/fota-gateway/internal/blockdev"
	"github.com/ffutop/fota-gateway/internal/bootctl"
	"github.com/ffutop/fota-gateway/internal/config"
	"github.com/ffutop/fota-gateway/internal/events"
	"github.com/ffutop/fota-gateway/internal/fota"
	"github.com/ffutop/fota-gateway/internal/gateway"
	"github.com/ffutop/fota-gateway/internal/session"
	"github.com/ffutop/fota-gateway/transport"
	"github.com/ffutop/fota-gateway/transport/http"
	"github.com/ffutop/fota-gateway/transport/serial"
	"github.com/ffutop/fota-gateway/transport/tcp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitRestart asks the supervisor to restart the daemon so the bootloader can
// install the committed image.
const exitRestart = 3

func main() {
	configFile := pflag.StringP("config", "c", "", "Path to config file")
	showVersion := pflag.BoolP("version", "v", false, "Print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting FOTA gateway...", "version", version)

	restart, err := run(cfg)
	if err != nil {
		slog.Error("FOTA gateway stopped with error", "err", err)
		os.Exit(1)
	}
	if restart {
		slog.Info("Restarting to install update.")
		os.Exit(exitRestart)
	}
	slog.Info("Goodbye.")
}

// run serves updates until a signal arrives or a committed update requests a
// restart, which it reports.
func run(cfg *config.Config) (bool, error) {
	store, err := bootctl.Open(cfg.Bootloader)
	if err != nil {
		return false, fmt.Errorf("failed to open boot state: %w", err)
	}
	defer store.Close()
	boot := bootctl.New(store)

	// The running image booted, so keep it.
	if err := boot.Confirm(); err != nil {
		slog.Error("Failed to confirm running image", "err", err)
	}

	dev, err := blockdev.Open(cfg.Device)
	if err != nil {
		return false, err
	}
	if c, ok := dev.(io.Closer); ok {
		defer c.Close()
	}

	// Create Upstreams
	var upstreams []transport.Upstream
	for _, usCfg := range cfg.Transports {
		switch usCfg.Type {
		case "tcp":
			upstreams = append(upstreams, tcp.NewServer(usCfg.Tcp.Address))
		case "serial":
			upstreams = append(upstreams, serial.NewServer(usCfg.Serial))
		case "http":
			upstreams = append(upstreams, http.NewServer(usCfg.Http.Address))
		default:
			slog.Error("Unknown transport type", "type", usCfg.Type)
		}
	}
	if len(upstreams) == 0 {
		return false, errors.New("no valid transports configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := events.NewQueue()
	restart := false

	svc := fota.NewService(version)
	gw := gateway.NewGateway("fota", upstreams, queue, svc)
	sess := session.New(dev, queue, boot, svc,
		session.WithEraseChunk(cfg.Update.EraseChunk),
		session.WithResetDelay(cfg.Update.ResetDelay),
		session.WithRestart(func() {
			restart = true
			queue.Break()
		}),
	)
	defer sess.Close()
	svc.SetEventHandler(sess)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Start(gctx)
	})
	g.Go(func() error {
		// Wait for Signal
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			slog.Info("Shutting down...")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	// The update service runs on this goroutine only.
	err = queue.Dispatch(gctx)
	cancel()
	if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		return false, werr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return false, err
	}
	return restart, nil
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
