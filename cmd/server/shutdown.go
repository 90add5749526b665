package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

type stopStep struct {
	name string
	fn   func(context.Context) error
}

// drain waits for the load balancer to notice the failing readiness probe. A
// second signal cuts the wait short.
func drain(ctx context.Context, L log.Logger, d time.Duration) {
	L.Info(ctx, "draining", "drain_seconds", d.Seconds())
	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	select {
	case <-time.After(d):
		L.Info(ctx, "drain period complete")
	case <-force:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// shutdown runs steps in order, each bounded by an equal share of budget.
func shutdown(ctx context.Context, L log.Logger, budget time.Duration, steps []stopStep) {
	if len(steps) == 0 {
		return
	}
	per := budget / time.Duration(len(steps))
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for _, s := range steps {
		sctx, scancel := context.WithTimeout(ctx, per)
		start := time.Now()
		if err := s.fn(sctx); err != nil {
			L.Error(ctx, err, "shutdown step failed", "step", s.name)
		} else {
			L.Info(ctx, "stopped", "step", s.name, "took", time.Since(start).String())
		}
		scancel()
	}
}
