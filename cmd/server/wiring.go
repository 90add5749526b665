package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/floodvoice/internal/cfg"
	"github.com/linnemanlabs/floodvoice/internal/checkin"
	"github.com/linnemanlabs/floodvoice/internal/checkin/memstore"
	"github.com/linnemanlabs/floodvoice/internal/checkin/pgstore"
	"github.com/linnemanlabs/floodvoice/internal/checkin/sqlitestore"
	"github.com/linnemanlabs/floodvoice/internal/llm"
	"github.com/linnemanlabs/floodvoice/internal/llm/claude"
	"github.com/linnemanlabs/floodvoice/internal/llm/gemini"
	"github.com/linnemanlabs/floodvoice/internal/postgres"
	"github.com/linnemanlabs/floodvoice/internal/seed"
	"github.com/linnemanlabs/floodvoice/internal/voice/vapi"
)

const webhookPath = "/api/v1/vapi/webhook"

// openStore picks the store backend: postgres when a database URL is set, SQLite
// when a file path is set, memory otherwise. The returned closer is never nil.
func openStore(ctx context.Context, c *cfg.Config, L log.Logger) (checkin.Store, func(), error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPoolWithOptions(ctx, c.DatabaseURL, postgres.PoolOptions{
			MaxConns:     int32(c.DBMaxConns), //nolint:gosec // bounded by Validate
			LogThreshold: time.Duration(c.DBQueryLogMillis) * time.Millisecond,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return s, pool.Close, nil

	case c.SQLitePath != "":
		s, err := sqlitestore.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", c.SQLitePath)
		return s, func() { _ = s.Close() }, nil

	default:
		L.Info(ctx, "using in-memory store (no database-url or sqlite-path configured)")
		return memstore.New(), func() {}, nil
	}
}

// seedStore loads the configured dataset, if any.
func seedStore(ctx context.Context, c *cfg.Config, s checkin.Store, L log.Logger) error {
	if c.SeedFile == "" {
		return nil
	}
	ds, err := seed.ReadFile(c.SeedFile)
	if err != nil {
		return err
	}
	st, err := seed.Load(ctx, s, ds)
	if err != nil {
		return err
	}
	L.Info(ctx, "seed dataset loaded", "path", c.SeedFile, "liaisons", st.Liaisons, "residents", st.Residents)
	return nil
}

// newProvider routes claude-* models to Claude and everything else to Gemini.
// A provider without a key is left out; Validate guarantees the chain is covered.
func newProvider(c *cfg.Config) *llm.Router {
	var fallback checkin.Provider
	if c.GeminiAPIKey != "" {
		fallback = gemini.New(gemini.Options{APIKey: c.GeminiAPIKey, BaseURL: c.GeminiBaseURL})
	}
	r := llm.NewRouter(fallback)
	if c.ClaudeAPIKey != "" {
		r.Handle("claude", claude.New(claude.Options{APIKey: c.ClaudeAPIKey}))
	}
	return r
}

// newScriptSource watches the configured assistant script, or serves the built-in one.
func newScriptSource(ctx context.Context, c *cfg.Config, L log.Logger) (vapi.ScriptSource, error) {
	if c.AssistantScript == "" {
		return vapi.StaticScript{S: vapi.DefaultScript()}, nil
	}
	w, err := vapi.WatchScript(ctx, c.AssistantScript, L)
	if err != nil {
		return nil, fmt.Errorf("assistant script: %w", err)
	}
	L.Info(ctx, "watching assistant script", "path", c.AssistantScript)
	return w, nil
}

func webhookURL(publicURL string) string {
	return strings.TrimRight(publicURL, "/") + webhookPath
}

func classifyTimeout(c *cfg.Config) time.Duration {
	return time.Duration(c.ClassifyTimeoutSeconds) * time.Second
}
