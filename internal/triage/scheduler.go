// internal/triage/scheduler.go
package triage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

var tracer = otel.Tracer("github.com/linnemanlabs/ambient/internal/triage")

const (
	DefaultTickInterval = 2 * time.Second

	ClipboardEvery = 3  // ~6s
	AppEvery       = 2  // ~4s
	ScreenEvery    = 30 // ~60s

	MinClipboardWords = 5
	MinClipboardChars = 30
	MinScreenWords    = 12
	UnchangedAbove    = 0.75
	MaxCaptureChars   = 3000
)

// suppression reasons
const (
	ReasonClipboardShort = "clipboard_short"
	ReasonSkipApp        = "skip_app"
	ReasonTooShort       = "too_short"
	ReasonUnchanged      = "unchanged"
	ReasonSnoozed        = "snoozed"
	ReasonQueueClosed    = "queue_closed"
)

// SchedulerHooks are optional callbacks for instrumentation.
type SchedulerHooks struct {
	OnTick       func()
	OnSample     func(signal string)
	OnProbeError func(signal string)
	OnSuppressed func(reason string)
	OnAppSwitch  func()
	OnSimilarity func(v float64)
	OnSuggestion func(outcome string, related int, duration float64)
}

// Snapshot is a point-in-time copy of the scheduler's last-seen signals.
type Snapshot struct {
	Ticks      uint64 `json:"ticks"`
	Clipboard  string `json:"-"`
	ScreenText string `json:"-"`
	App        string `json:"app_name"`
}

// SchedulerConfig wires the scheduler's collaborators. Gate, Apps, Clipboard,
// Screen, Captures and Suggestions are required.
type SchedulerConfig struct {
	Gate        CredentialGate
	Apps        AppProbe
	Clipboard   ClipboardProbe
	Screen      ScreenProbe
	Captures    Enqueuer
	Suggestions SuggestionSink
	Publisher   Publisher
	Logger      log.Logger
	Hooks       SchedulerHooks
	Interval    time.Duration
	Now         func() time.Time
}

// Scheduler multiplexes the clipboard, foreground-app and screen signals on a
// single tick loop. Everything except the snooze deadline and the quit flag
// is owned by the goroutine calling Run (or Tick) and needs no locking.
type Scheduler struct {
	cfg    SchedulerConfig
	logger log.Logger

	ticks uint64
	snap  Snapshot

	published atomic.Pointer[Snapshot]

	snoozeUntil atomic.Int64 // unix seconds
	quit        atomic.Bool
	quitOnce    sync.Once
	quitCh      chan struct{}
}

// NewScheduler creates a scheduler from cfg.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	switch {
	case cfg.Gate == nil:
		panic(xerrors.New("credential gate is required"))
	case cfg.Apps == nil, cfg.Clipboard == nil, cfg.Screen == nil:
		panic(xerrors.New("app, clipboard and screen probes are required"))
	case cfg.Captures == nil:
		panic(xerrors.New("capture enqueuer is required"))
	case cfg.Suggestions == nil:
		panic(xerrors.New("suggestion sink is required"))
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Scheduler{
		cfg:    cfg,
		logger: cfg.Logger,
		quitCh: make(chan struct{}),
	}
	s.published.Store(&Snapshot{})
	return s
}

// Run ticks every interval until ctx is cancelled or a quit is requested.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "scheduler started", "interval", s.cfg.Interval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "scheduler stopped", "ticks", s.ticks)
			return nil
		case <-s.quitCh:
			s.logger.Info(ctx, "scheduler stopped on quit request", "ticks", s.ticks)
			return nil
		case <-ticker.C:
		}
		if s.quit.Load() {
			continue
		}
		s.Tick(ctx)
	}
}

// Tick advances the tick counter and samples whichever signals are due, in
// the order clipboard, foreground app, screen. Without a credential the tick
// is a no-op apart from counting.
func (s *Scheduler) Tick(ctx context.Context) {
	s.ticks++
	defer s.publish()

	if s.cfg.Hooks.OnTick != nil {
		s.cfg.Hooks.OnTick()
	}

	if !s.cfg.Gate.HasCredential() {
		return
	}

	if s.ticks%ClipboardEvery == 0 {
		s.sampleClipboard(ctx)
	}
	if s.ticks%AppEvery == 0 {
		s.sampleApp(ctx)
	}
	if s.ticks%ScreenEvery == 0 {
		s.screenCycle(ctx)
	}
}

// Snapshot returns a copy of the signals as of the end of the last tick.
func (s *Scheduler) Snapshot() Snapshot {
	return *s.published.Load()
}

// Snooze suppresses suggestion requests for d from now.
func (s *Scheduler) Snooze(d time.Duration) time.Time {
	until := s.cfg.Now().Add(d)
	s.snoozeUntil.Store(until.Unix())
	return until
}

// SnoozedUntil returns the current snooze deadline, zero if never snoozed.
func (s *Scheduler) SnoozedUntil() time.Time {
	v := s.snoozeUntil.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

// Snoozed reports whether suggestions are currently suppressed.
func (s *Scheduler) Snoozed() bool {
	return s.cfg.Now().Unix() < s.snoozeUntil.Load()
}

// RequestQuit asks the loop, and whoever is watching Quit, to stop.
func (s *Scheduler) RequestQuit() {
	s.quit.Store(true)
	s.quitOnce.Do(func() { close(s.quitCh) })
}

// QuitRequested reports whether RequestQuit has been called.
func (s *Scheduler) QuitRequested() bool {
	return s.quit.Load()
}

// Quit is closed once a quit has been requested.
func (s *Scheduler) Quit() <-chan struct{} {
	return s.quitCh
}

func (s *Scheduler) publish() {
	cp := s.snap
	cp.Ticks = s.ticks
	s.published.Store(&cp)
}

func (s *Scheduler) sampled(signal string) {
	if s.cfg.Hooks.OnSample != nil {
		s.cfg.Hooks.OnSample(signal)
	}
}

func (s *Scheduler) suppressed(reason string) {
	if s.cfg.Hooks.OnSuppressed != nil {
		s.cfg.Hooks.OnSuppressed(reason)
	}
}

func (s *Scheduler) enqueue(ev *CaptureEvent) {
	if !s.cfg.Captures.Enqueue(ev) {
		s.suppressed(ReasonQueueClosed)
	}
}

func (s *Scheduler) sampleClipboard(ctx context.Context) {
	s.sampled("clipboard")

	text, ok := s.cfg.Clipboard.ReadText(ctx)
	if !ok || text == s.snap.Clipboard {
		return
	}
	s.snap.Clipboard = text

	if WordCount(text) < MinClipboardWords || len(text) < MinClipboardChars {
		s.suppressed(ReasonClipboardShort)
		return
	}

	s.enqueue(NewCaptureEvent(text, SourceClipboard, map[string]any{
		"capture_type": string(SourceClipboard),
		"app_name":     s.snap.App,
	}))
}

func (s *Scheduler) sampleApp(ctx context.Context) {
	s.sampled("app")

	app := s.cfg.Apps.ForegroundApp(ctx)
	if !KnownApp(app) {
		return
	}
	switched := s.snap.App != "" && app != s.snap.App
	s.snap.App = app
	if !switched {
		return
	}

	if s.cfg.Hooks.OnAppSwitch != nil {
		s.cfg.Hooks.OnAppSwitch()
	}
	// jump to the tick just before the next screen boundary
	s.ticks += ScreenEvery - 1 - s.ticks%ScreenEvery
}

func (s *Scheduler) screenCycle(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "triage.screen_cycle", trace.WithAttributes(
		attribute.Int64("ambient.tick", int64(s.ticks)),
	))
	defer span.End()

	outcome := s.runScreenCycle(ctx, span)
	span.SetAttributes(attribute.String("ambient.outcome", outcome))
}

// runScreenCycle performs one screen capture cycle and returns its outcome
// for tracing.
func (s *Scheduler) runScreenCycle(ctx context.Context, span trace.Span) string {
	s.sampled("screen")

	capture, err := s.cfg.Screen.CaptureScreen(ctx)
	if err != nil {
		if s.cfg.Hooks.OnProbeError != nil {
			s.cfg.Hooks.OnProbeError("screen")
		}
		s.logger.Warn(ctx, "screen capture failed, skipping cycle", "error", err)
		return "probe_error"
	}

	app := capture.AppName
	if app == "" {
		app = UnknownApp
	}
	span.SetAttributes(attribute.String("ambient.app", app))

	appSwitched := KnownApp(app) && s.snap.App != "" && app != s.snap.App
	if KnownApp(app) {
		s.snap.App = app
	}

	if IsSkipApp(app) {
		s.suppressed(ReasonSkipApp)
		return ReasonSkipApp
	}

	cleaned := Normalize(capture.Text)
	if WordCount(cleaned) < MinScreenWords {
		s.suppressed(ReasonTooShort)
		return ReasonTooShort
	}

	sim := Similarity(s.snap.ScreenText, cleaned)
	span.SetAttributes(attribute.Float64("ambient.similarity", sim))
	if s.cfg.Hooks.OnSimilarity != nil {
		s.cfg.Hooks.OnSimilarity(sim)
	}
	if sim > UnchangedAbove && !appSwitched {
		s.suppressed(ReasonUnchanged)
		return ReasonUnchanged
	}
	s.snap.ScreenText = cleaned

	text := TruncateRunes(cleaned, MaxCaptureChars)

	s.enqueue(NewCaptureEvent(text, SourceScreen, map[string]any{
		"capture_type": string(SourceScreen),
		"app_name":     app,
	}))

	if s.cfg.Now().Unix() < s.snoozeUntil.Load() {
		s.suppressed(ReasonSnoozed)
		return "captured_snoozed"
	}

	return s.suggest(ctx, text, app)
}

// suggest asks the suggestion sink about text and publishes any related
// memories. It runs inline so a slow answer delays the next screen cycle
// rather than overlapping it.
func (s *Scheduler) suggest(ctx context.Context, text, app string) string {
	start := time.Now()
	analysis, err := s.cfg.Suggestions.Analyze(ctx, text, app)
	dur := time.Since(start).Seconds()
	if err != nil {
		if s.cfg.Hooks.OnSuggestion != nil {
			s.cfg.Hooks.OnSuggestion("error", 0, dur)
		}
		s.logger.Warn(ctx, "suggestion request failed", "app", app, "error", err)
		return "suggest_error"
	}
	if analysis == nil || len(analysis.Related) == 0 {
		if s.cfg.Hooks.OnSuggestion != nil {
			s.cfg.Hooks.OnSuggestion("empty", 0, dur)
		}
		return "captured"
	}

	if s.cfg.Hooks.OnSuggestion != nil {
		s.cfg.Hooks.OnSuggestion("surfaced", len(analysis.Related), dur)
	}

	sg := &Suggestion{
		ID:        ulid.Make().String(),
		App:       app,
		Related:   analysis.Related,
		Context:   analysis.Context,
		CreatedAt: s.cfg.Now(),
	}
	if s.cfg.Publisher == nil {
		return "surfaced"
	}
	if err := s.cfg.Publisher.Publish(ctx, sg); err != nil {
		s.logger.Error(ctx, err, "failed to publish suggestion", "suggestion_id", sg.ID)
	}
	s.logger.Info(ctx, "ambient suggestion surfaced",
		"suggestion_id", sg.ID,
		"app", app,
		"related", len(sg.Related),
	)
	return "surfaced"
}
