// FloodVoice places automated safety check-in calls to residents during floods,
// classifies the calls for distress and alerts community liaisons.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/floodvoice/internal/callapi"
	fc "github.com/linnemanlabs/floodvoice/internal/cfg"
	"github.com/linnemanlabs/floodvoice/internal/checkin"
	"github.com/linnemanlabs/floodvoice/internal/floodnet"
	"github.com/linnemanlabs/floodvoice/internal/notify/telegram"
	"github.com/linnemanlabs/floodvoice/internal/postgres"
	"github.com/linnemanlabs/floodvoice/internal/voice/vapi"
)

const appName = "floodvoice"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var (
		appCfg    fc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// FLOODVOICE_* env vars fill anything not set on the command line
	cfg.FillFromEnv(flag.CommandLine, "FLOODVOICE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "starting floodvoice",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"llm_models", appCfg.Models(),
		"distress_threshold", appCfg.DistressThreshold,
		"voice_enabled", appCfg.VapiAPIKey != "",
		"telegram_enabled", appCfg.TelegramBotToken != "",
		"enable_tracing", traceCfg.EnableTracing,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// profiling starts before any domain wiring so startup is captured
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx == nil {
		shutdownOtelx = func(context.Context) error { return nil }
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	store, closeStore, err := openStore(ctx, &appCfg, L)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := seedStore(ctx, &appCfg, store, L); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	hooks := checkin.NewMetrics(m.Registry()).Hooks()

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "floodvoice_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(operation, route, outcome).Observe(dur.Seconds())
		},
	))

	classifier := checkin.NewClassifier(newProvider(&appCfg), appCfg.Models(), L, hooks)
	L.Info(ctx, "initialized classifier", "models", classifier.Models())

	chat := telegram.New(telegram.Options{Token: appCfg.TelegramBotToken}, L)
	if !chat.Enabled() {
		L.Warn(ctx, "telegram bot token not configured, alerts will not be delivered")
	}

	dispatcher := checkin.NewDispatcher(store, chat, checkin.DispatcherConfig{
		FallbackChatID: checkin.ChatAddress(appCfg.TelegramFallbackChat),
		DashboardURL:   appCfg.DashboardURL,
	}, L, hooks)

	// processor owns background classification; shutdown waits on it
	processor := checkin.NewProcessor(store, classifier, dispatcher, checkin.ProcessorConfig{
		DistressThreshold: appCfg.DistressThreshold,
		ClassifyTimeout:   classifyTimeout(&appCfg),
	}, L, hooks)
	L.Info(ctx, "registered assistant tools", "tools", processor.Tools().Names())

	var trigger callapi.CheckInTrigger
	if appCfg.VapiAPIKey != "" {
		script, err := newScriptSource(ctx, &appCfg, L)
		if err != nil {
			return err
		}
		caller := vapi.New(vapi.Options{
			APIKey:        appCfg.VapiAPIKey,
			BaseURL:       appCfg.VapiBaseURL,
			PhoneNumberID: appCfg.VapiPhoneNumberID,
			ServerURL:     webhookURL(appCfg.PublicURL),
			ServerSecret:  appCfg.VapiWebhookSecret,
		}, script, processor.Tools().ToToolDefs())
		trigger = checkin.NewOrchestrator(store, caller, appCfg.TriggerConcurrency, L, hooks)
		L.Info(ctx, "check-in calls enabled", "webhook_url", webhookURL(appCfg.PublicURL))
	} else {
		L.Warn(ctx, "vapi api key not configured, check-in trigger disabled")
	}

	sensor := floodnet.New(appCfg.FloodNetBaseURL, appCfg.FloodNetDeployment, nil)
	floodMonitor := checkin.NewFloodMonitor(sensor, dispatcher, appCfg.FloodThreshold, L, hooks)
	L.Info(ctx, "flood monitor configured", "deployment", sensor.Deployment(), "threshold_inches", appCfg.FloodThreshold)

	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// ops listener serves metrics, health and pprof on the internal port only
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := newRouter(health.HealthzHandler(liveness), health.ReadyzHandler(readiness))
	callapi.New(L, callapi.Deps{
		Processor: processor,
		Records:   store,
		Trigger:   trigger,
		Flood:     floodMonitor,
		Chat:      chat,
	}, callapi.Secrets{
		OperatorToken:  appCfg.OperatorToken,
		CronSecret:     appCfg.CronSecret,
		VapiSecret:     appCfg.VapiWebhookSecret,
		TelegramSecret: appCfg.TelegramWebhookSecret,
	}).RegisterRoutes(r)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), wrapAPI(r, L, m.Middleware, httpmwCfg), L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		if err := apiHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")
	shutdownGate.Set("draining")
	drain(bg, L, time.Duration(appCfg.DrainSeconds)*time.Second)

	// the api listener stops first so no new webhooks start classification
	// while in-flight ones are awaited
	shutdown(bg, L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, []stopStep{
		{"api http server", apiHTTPStop},
		{"background classification", processor.Wait},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	})

	L.Info(bg, "shutdown complete")
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
