// Package postgres builds the instrumented pgx connection pool shared by the
// call log store and the query metrics hooks.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the pool beyond what the connection URL carries.
type PoolOptions struct {
	MaxConns        int32
	MaxConnIdleTime time.Duration
	// Queries faster than LogThreshold that succeed are not logged. Zero logs all.
	LogThreshold    time.Duration
}

// NewPool parses databaseURL, attaches the otel and logging query tracers and
// verifies connectivity before returning.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return NewPoolWithOptions(ctx, databaseURL, PoolOptions{})
}

// NewPoolWithOptions is NewPool with explicit pool sizing.
func NewPoolWithOptions(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		pcfg.MaxConns = opts.MaxConns
	}
	if opts.MaxConnIdleTime > 0 {
		pcfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	pcfg.ConnConfig.Tracer = newQueryTracer(otelpgx.NewTracer(), opts.LogThreshold)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
