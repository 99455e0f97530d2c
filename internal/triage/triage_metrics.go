package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TicksTotal        prometheus.Counter
	SamplesTotal      *prometheus.CounterVec
	ProbeErrorsTotal  *prometheus.CounterVec
	SuppressedTotal   *prometheus.CounterVec
	AppSwitchesTotal  prometheus.Counter
	Similarity        prometheus.Histogram
	CapturesTotal     *prometheus.CounterVec
	CaptureDuration   *prometheus.HistogramVec
	CaptureChars      *prometheus.HistogramVec
	DroppedTotal      *prometheus.CounterVec
	SuggestionsTotal  *prometheus.CounterVec
	SuggestionRelated prometheus.Histogram
	SuggestDuration   prometheus.Histogram
	ActionsTotal      *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ambient_ticks_total",
			Help: "Total scheduler ticks.",
		}),
		SamplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambient_samples_total",
			Help: "Total probe samples by signal.",
		}, []string{"signal"}),
		ProbeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambient_probe_errors_total",
			Help: "Total failed probe samples by signal.",
		}, []string{"signal"}),
		SuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambient_suppressed_total",
			Help: "Observations deliberately not dispatched, by reason.",
		}, []string{"reason"}),
		AppSwitchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ambient_app_switches_total",
			Help: "Foreground application switches that forced an early screen capture.",
		}),
		Similarity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ambient_screen_similarity",
			Help:    "Word-set similarity between consecutive cleaned screen texts.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0 .. 1
		}),
		CapturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambient_captures_total",
			Help: "Total capture submissions by source and status.",
		}, []string{"source", "status"}),
		CaptureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ambient_capture_duration_seconds",
			Help:    "Duration of capture submissions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"source"}),
		CaptureChars: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ambient_capture_chars",
			Help:    "Size of submitted capture text in characters.",
			Buckets: prometheus.ExponentialBuckets(32, 2, 8), // 32 .. ~4096
		}, []string{"source"}),
		DroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambient_captures_dropped_total",
			Help: "Captures dropped from a full dispatch queue, by source.",
		}, []string{"source"}),
		SuggestionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambient_suggestions_total",
			Help: "Suggestion requests by outcome.",
		}, []string{"outcome"}),
		SuggestionRelated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ambient_suggestion_related",
			Help:    "Related memories per surfaced suggestion.",
			Buckets: prometheus.LinearBuckets(1, 1, 10), // 1 .. 10
		}),
		SuggestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ambient_suggest_duration_seconds",
			Help:    "Duration of suggestion requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ambient_user_actions_total",
			Help: "Explicit user actions by action and result.",
		}, []string{"action", "result"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.SamplesTotal,
		m.ProbeErrorsTotal,
		m.SuppressedTotal,
		m.AppSwitchesTotal,
		m.Similarity,
		m.CapturesTotal,
		m.CaptureDuration,
		m.CaptureChars,
		m.DroppedTotal,
		m.SuggestionsTotal,
		m.SuggestionRelated,
		m.SuggestDuration,
		m.ActionsTotal,
	)

	return m
}

// Hooks returns SchedulerHooks that increment the corresponding metrics.
func (m *Metrics) Hooks() SchedulerHooks {
	return SchedulerHooks{
		OnTick: func() {
			m.TicksTotal.Inc()
		},
		OnSample: func(signal string) {
			m.SamplesTotal.WithLabelValues(signal).Inc()
		},
		OnProbeError: func(signal string) {
			m.ProbeErrorsTotal.WithLabelValues(signal).Inc()
		},
		OnSuppressed: func(reason string) {
			m.SuppressedTotal.WithLabelValues(reason).Inc()
		},
		OnAppSwitch: func() {
			m.AppSwitchesTotal.Inc()
		},
		OnSimilarity: func(v float64) {
			m.Similarity.Observe(v)
		},
		OnSuggestion: func(outcome string, related int, duration float64) {
			m.SuggestionsTotal.WithLabelValues(outcome).Inc()
			m.SuggestDuration.Observe(duration)
			if related > 0 {
				m.SuggestionRelated.Observe(float64(related))
			}
		},
	}
}

// DispatchHooks returns DispatchHooks that increment the corresponding metrics.
func (m *Metrics) DispatchHooks() DispatchHooks {
	return DispatchHooks{
		OnDrop: func(source SourceKind) {
			m.DroppedTotal.WithLabelValues(string(source)).Inc()
		},
		OnComplete: func(source SourceKind, chars int, duration float64, isError bool) {
			status := string(EntrySent)
			if isError {
				status = string(EntryFailed)
			}
			m.CapturesTotal.WithLabelValues(string(source), status).Inc()
			m.CaptureDuration.WithLabelValues(string(source)).Observe(duration)
			m.CaptureChars.WithLabelValues(string(source)).Observe(float64(chars))
		},
	}
}

// ActionHook returns a callback that counts explicit user actions.
func (m *Metrics) ActionHook() func(action string, err error) {
	return func(action string, err error) {
		result := "success"
		if err != nil {
			result = "error"
		}
		m.ActionsTotal.WithLabelValues(action, result).Inc()
	}
}
