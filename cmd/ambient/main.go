// Ambient watches the desktop for text worth remembering and surfaces
// related memories while the user works.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/ambient/internal/authmw"
	ac "github.com/linnemanlabs/ambient/internal/cfg"
	"github.com/linnemanlabs/ambient/internal/controlapi"
	"github.com/linnemanlabs/ambient/internal/events"
	"github.com/linnemanlabs/ambient/internal/memapi"
	"github.com/linnemanlabs/ambient/internal/notify/slack"
	"github.com/linnemanlabs/ambient/internal/postgres"
	"github.com/linnemanlabs/ambient/internal/probe"
	"github.com/linnemanlabs/ambient/internal/settings"
	"github.com/linnemanlabs/ambient/internal/triage"
	"github.com/linnemanlabs/ambient/internal/triage/memstore"
	"github.com/linnemanlabs/ambient/internal/triage/pgstore"
	"github.com/linnemanlabs/ambient/internal/triage/sqlitestore"
)

const appName = "ambient"
const component = "daemon"

// streamPath is served outside the response-wrapping middleware so the
// websocket upgrade gets the raw connection.
const streamPath = "/api/v1/suggestions/stream"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    ac.Config
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

	// cmdline flags first; env vars only fill what the cmdline left unset
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	cfg.FillFromEnv(flag.CommandLine, "AMBIENT_", func(format string, args ...any) {
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

	// cross-cutting checks that only main can validate
	if appCfg.ControlPort == opsCfg.Port {
		return fmt.Errorf("control and admin ports must differ (both %d)", appCfg.ControlPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	settingsPath := appCfg.SettingsPath
	if settingsPath == "" {
		settingsPath = settings.DefaultPath()
	}

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"tick_interval", appCfg.TickInterval.String(),
		"control_port", appCfg.ControlPort,
		"control_auth", appCfg.ControlToken != "",
		"admin_port", opsCfg.Port,
		"settings_path", settingsPath,
		"dispatch_workers", appCfg.DispatchWorkers,
		"dispatch_queue", appCfg.DispatchQueue,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
	)

	// profiling first so the whole lifetime is covered
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
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	profiling := profErr == nil && profCfg.EnablePyroscope
	if profiling {
		// label profiles with the active span so traces link to flame graphs
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, v.Component, &vi)
	m.SetProfilingActive(profiling)

	triageMetrics := triage.NewMetrics(m.Registry())

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ambient_db_query_duration_seconds",
		Help:    "Duration of individual journal database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"caller", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, caller, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(caller, outcome).Observe(dur.Seconds())
		},
	))

	// connection settings, hot-reloaded from disk
	settingsStore, err := settings.Open(settingsPath, L.With("component", "settings"))
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	settingsStore.OnChange(func(s settings.Settings) {
		L.Info(context.Background(), "settings changed", "api_url", s.APIURL, "connected", s.APIToken != "")
	})
	if !settingsStore.HasCredential() {
		L.Warn(ctx, "no api token configured, monitoring is paused until one is saved", "settings_path", settingsPath)
	}

	journal, closeJournal, err := openJournal(ctx, appCfg, L)
	if err != nil {
		return err
	}
	defer closeJournal()

	memClient := memapi.New(settingsStore, nil)

	clip := probe.NewClipboard()
	if !clip.Supported() {
		L.Warn(ctx, "no clipboard utility found, clipboard monitoring disabled")
	}

	var platform interface {
		triage.ScreenProbe
		triage.AppProbe
	}
	if helper, err := probe.NewHelper(appCfg.CaptureHelper); err != nil {
		L.Warn(ctx, "capture helper unavailable, screen and app monitoring disabled", "error", err)
		platform = probe.Unavailable{Err: err}
	} else {
		L.Info(ctx, "capture helper found", "path", helper.Path())
		platform = helper
	}

	hub := events.NewHub(L.With("component", "events"))
	publisher := triage.MultiPublisher{hub}
	if appCfg.SlackWebhookURL != "" {
		publisher = append(publisher, slack.New(appCfg.SlackWebhookURL, L.With("component", "slack")))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	dispatcher := triage.NewDispatcher(memClient, journal, L.With("component", "dispatcher"), triage.DispatchOptions{
		Workers: appCfg.DispatchWorkers,
		Queue:   appCfg.DispatchQueue,
		Hooks:   triageMetrics.DispatchHooks(),
	})

	scheduler := triage.NewScheduler(triage.SchedulerConfig{
		Gate:        settingsStore,
		Apps:        platform,
		Clipboard:   clip,
		Screen:      platform,
		Captures:    dispatcher,
		Suggestions: memClient,
		Publisher:   publisher,
		Logger:      L.With("component", "scheduler"),
		Hooks:       triageMetrics.Hooks(),
		Interval:    appCfg.TickInterval,
	})

	svc := triage.NewService(settingsStore, memClient, clip, journal, L.With("component", "service"), triageMetrics.ActionHook())

	var shutdownGate health.ShutdownGate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

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

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(1024 * 1024))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	controlapi.New(L.With("component", "controlapi"), controlapi.Deps{
		Actions:     svc,
		Remote:      memClient,
		Loop:        scheduler,
		Settings:    settingsStore,
		Screen:      platform,
		Suggestions: hub,
		Queue:       dispatcher,
		Token:       appCfg.ControlToken,
	}).RegisterRoutes(r)

	// outermost sees the raw request first and the response last
	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	mux := http.NewServeMux()
	mux.Handle(streamPath, authmw.BearerToken(appCfg.ControlToken)(hub))
	mux.Handle("/", h)

	controlOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// loopback only: the control API can read the clipboard and the screen
	controlHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf("127.0.0.1:%d", appCfg.ControlPort), mux, L, controlOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start control http listener")
		return err
	}
	defer func() {
		if err := controlHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop control http listener")
		}
	}()

	// dispatcher outlives the loop so queued captures can flush during drain
	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDispatch()
	dispatcher.Start(dispatchCtx)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		if err := settingsStore.Watch(gctx); err != nil {
			L.Warn(gctx, "settings watch stopped, edits need a restart", "error", err)
		}
		return nil
	})

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	select {
	case <-ctx.Done():
		L.Info(context.Background(), "shutdown signal received")
	case <-scheduler.Quit():
		L.Info(context.Background(), "quit requested")
	}

	shutdownGate.Set("draining")

	// stop sampling, then give queued captures the drain period to go out
	cancelLoop()
	if err := g.Wait(); err != nil {
		L.Error(context.Background(), err, "background task failed")
	}
	dispatcher.Close()

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "draining capture queue", "queued", dispatcher.Len(), "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	if drainDispatch(forceCh, dispatcher.Stopped(), drainDuration) {
		L.Info(context.Background(), "capture queue drained")
	} else {
		L.Warn(context.Background(), "abandoning queued captures", "queued", dispatcher.Len())
	}
	signal.Stop(forceCh)
	cancelDispatch()
	dispatcher.Wait()
	if n := dispatcher.Abandon(); n > 0 {
		L.Warn(context.Background(), "queued captures marked dropped", "count", n)
	}

	hub.Close()

	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"control http server", controlHTTPStop},
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// openJournal picks the capture journal backend: PostgreSQL when a database
// URL is set, SQLite when a journal path is set, memory otherwise.
func openJournal(ctx context.Context, appCfg ac.Config, L log.Logger) (triage.Journal, func(), error) {
	switch {
	case appCfg.DatabaseURL != "":
		store, err := pgstore.New(ctx, appCfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres journal")
		return store, store.Close, nil
	case appCfg.JournalPath != "":
		store, err := sqlitestore.Open(ctx, appCfg.JournalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore init: %w", err)
		}
		L.Info(ctx, "using sqlite journal", "path", appCfg.JournalPath)
		return store, func() {
			if err := store.Close(); err != nil {
				L.Error(context.Background(), err, "failed to close sqlite journal")
			}
		}, nil
	default:
		L.Info(ctx, "using in-memory journal (no journal-path or database-url configured)")
		return memstore.New(memstore.DefaultCapacity), func() {}, nil
	}
}

// drainDispatch waits for the closed dispatcher's workers to finish the
// queue and any in-flight submissions, until limit elapses or a second
// signal arrives. It reports whether the workers finished.
func drainDispatch(force <-chan os.Signal, stopped <-chan struct{}, limit time.Duration) bool {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()

	select {
	case <-stopped:
		return true
	case <-deadline.C:
		return false
	case <-force:
		return false
	}
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
