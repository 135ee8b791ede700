// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/grid-x/serial"

	"github.com/ffutop/fota-gateway/internal/config"
)

const (
	// Bounds of the retry interval while the port cannot be opened.
	reopenInitialInterval = 500 * time.Millisecond
	reopenMaxInterval     = 30 * time.Second
)

// openFunc opens a serial port. Tests replace it.
type openFunc func(cfg *serial.Config) (io.ReadWriteCloser, error)

func openSerial(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(cfg)
}

// portConfig maps the internal config to serial.Config.
func portConfig(cfg config.SerialConfig) *serial.Config {
	return &serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout, // Read timeout
		RS485: serial.RS485Config{
			Enabled:            cfg.RS485,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		},
	}
}

// openWithRetry opens the port, retrying with exponential backoff until it
// succeeds or ctx is done.
func openWithRetry(ctx context.Context, open openFunc, cfg *serial.Config) (io.ReadWriteCloser, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reopenInitialInterval
	b.MaxInterval = reopenMaxInterval
	b.MaxElapsedTime = 0

	var port io.ReadWriteCloser
	op := func() error {
		p, err := open(cfg)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", cfg.Address, err)
		}
		port = p
		return nil
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("Serial port unavailable, retrying", "device", cfg.Address, "err", err, "retry_in", next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return port, nil
}
