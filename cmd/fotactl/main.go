// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command fotactl uploads a firmware image to a FOTA gateway over TCP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ffutop/fota-gateway/internal/config"
	"github.com/ffutop/fota-gateway/internal/fota"
	"github.com/ffutop/fota-gateway/transport/tcp"
)

func main() {
	addr := pflag.StringP("addr", "a", config.DefaultTcpAddress, "Gateway TCP address")
	image := pflag.StringP("image", "i", "", "Path to the firmware image")
	fragment := pflag.IntP("fragment-size", "f", tcp.DefaultFragmentSize, "Bytes per fragment")
	timeout := pflag.DurationP("timeout", "t", 10*time.Second, "Timeout for each request")
	stop := pflag.Bool("stop", false, "Stop the current session instead of uploading")
	verbose := pflag.Bool("verbose", false, "Enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := tcp.NewClient(*addr)
	client.Timeout = *timeout
	client.FragmentSize = *fragment
	if err := client.Connect(ctx); err != nil {
		fail(err)
	}
	defer client.Close()

	if *stop {
		reply, err := client.Control(ctx, fota.OpStop)
		if err != nil {
			fail(err)
		}
		slog.Info("Session stopped", "reply", reply)
		return
	}

	if *image == "" {
		fail(fmt.Errorf("no image given, use --image"))
	}
	data, err := os.ReadFile(*image)
	if err != nil {
		fail(err)
	}

	start := time.Now()
	last := time.Now()
	err = client.Upload(ctx, data, func(sent, total int) {
		if time.Since(last) >= time.Second || sent == total {
			slog.Info("Uploading", "fragment", sent, "total", total)
			last = time.Now()
		}
	})
	if err != nil {
		fail(err)
	}
	slog.Info("Update committed", "bytes", len(data), "elapsed", time.Since(start).Round(time.Millisecond))
}

func fail(err error) {
	slog.Error("Upload failed", "err", err)
	os.Exit(1)
}
