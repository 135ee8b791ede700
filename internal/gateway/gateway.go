// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ffutop/fota-gateway/internal/events"
	"github.com/ffutop/fota-gateway/internal/fota"
	"github.com/ffutop/fota-gateway/transport"
)

// Poster posts calls to the goroutine that owns the update service.
// *events.Queue satisfies it.
type Poster interface {
	Call(fn func()) events.ID
}

// Gateway represents a single gateway instance.
// It bridges multiple Upstreams (uploaders) to the update service, which runs
// on the event queue.
type Gateway struct {
	Name      string
	Upstreams []transport.Upstream

	queue Poster
	svc   *fota.Service
}

// NewGateway creates a new Gateway instance and installs it as the notifier of svc.
func NewGateway(name string, upstreams []transport.Upstream, queue Poster, svc *fota.Service) *Gateway {
	g := &Gateway{
		Name:      name,
		Upstreams: upstreams,
		queue:     queue,
		svc:       svc,
	}
	svc.SetNotifier(g)
	return g
}

// Start starts all upstream servers and blocks until ctx is done or one of
// them fails.
func (g *Gateway) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i, us := range g.Upstreams {
		eg.Go(func() error {
			slog.Info("Starting upstream", "gateway", g.Name, "index", i)
			if err := us.Start(ctx, g); err != nil {
				slog.Error("Upstream stopped with error", "gateway", g.Name, "index", i, "err", err)
				return fmt.Errorf("upstream %d: %w", i, err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		// Graceful shutdown
		for _, us := range g.Upstreams {
			us.Close()
		}
		return nil
	})

	return eg.Wait()
}

// do runs fn on the event queue and waits for it to finish. If ctx is done
// before the queue reaches the call, fn is skipped.
func (g *Gateway) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	g.queue.Call(func() {
		defer close(done)
		if ctx.Err() != nil {
			return
		}
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) Control(ctx context.Context, payload []byte) (fota.Reply, error) {
	var reply fota.Reply
	if err := g.do(ctx, func() { reply = g.svc.WriteControl(payload) }); err != nil {
		return 0, err
	}
	return reply, nil
}

func (g *Gateway) Data(ctx context.Context, payload []byte) error {
	var werr error
	if err := g.do(ctx, func() { werr = g.svc.WriteBinaryStream(payload) }); err != nil {
		return err
	}
	return werr
}

func (g *Gateway) Status(ctx context.Context) (fota.Notification, error) {
	var n fota.Notification
	if err := g.do(ctx, func() { n = g.svc.Status() }); err != nil {
		return fota.Notification{}, err
	}
	return n, nil
}

func (g *Gateway) Revision() string {
	return g.svc.Revision()
}

// NotifyStatus broadcasts a notification to every upstream. It runs on the
// event queue.
func (g *Gateway) NotifyStatus(n fota.Notification) {
	for _, us := range g.Upstreams {
		us.Notify(n)
	}
}
