// Package controlapi is the local HTTP surface of the daemon: explicit
// captures, remote search and ask, snooze, status, settings and the
// suggestion stream.
package controlapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/ambient/internal/authmw"
	"github.com/linnemanlabs/ambient/internal/memapi"
	"github.com/linnemanlabs/ambient/internal/settings"
	"github.com/linnemanlabs/ambient/internal/triage"
)

const maxBodyBytes = 1 << 20

// Actions are the explicit user operations backed by triage.Service.
type Actions interface {
	SaveText(ctx context.Context, text string, source triage.SourceKind, meta map[string]any) (*triage.SaveResult, error)
	SaveSelection(ctx context.Context) (*triage.SaveResult, error)
	Get(ctx context.Context, id string) (*triage.Entry, bool, error)
	Recent(ctx context.Context, limit int) ([]*triage.Entry, error)
}

// Remote is the subset of the memory service passed straight through.
type Remote interface {
	Search(ctx context.Context, query string) (json.RawMessage, error)
	Ask(ctx context.Context, question string) (string, error)
	Analyze(ctx context.Context, text, app string) (*triage.Analysis, error)
}

// Loop is the running scheduler.
type Loop interface {
	Snapshot() triage.Snapshot
	Snooze(d time.Duration) time.Time
	SnoozedUntil() time.Time
	Snoozed() bool
	RequestQuit()
}

// SettingsStore reads and writes the connection settings.
type SettingsStore interface {
	Get() settings.Settings
	Save(next settings.Settings) error
	HasCredential() bool
}

// Suggestions exposes the most recent suggestion and a live stream of them.
type Suggestions interface {
	http.Handler
	Latest() (*triage.Suggestion, bool)
}

// Deps are the collaborators the API serves. Queue is optional.
type Deps struct {
	Actions     Actions
	Remote      Remote
	Loop        Loop
	Settings    SettingsStore
	Screen      triage.ScreenProbe
	Suggestions Suggestions
	Queue       interface{ Len() int }

	// Token guards every route when non-empty.
	Token string
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	deps   Deps
}

// New creates a new API handler.
func New(logger log.Logger, deps Deps) *API {
	if logger == nil {
		logger = log.Nop()
	}
	switch {
	case deps.Actions == nil:
		panic(xerrors.New("capture actions are required"))
	case deps.Remote == nil:
		panic(xerrors.New("remote client is required"))
	case deps.Loop == nil:
		panic(xerrors.New("scheduler is required"))
	case deps.Settings == nil:
		panic(xerrors.New("settings store is required"))
	case deps.Screen == nil:
		panic(xerrors.New("screen probe is required"))
	case deps.Suggestions == nil:
		panic(xerrors.New("suggestion hub is required"))
	}
	return &API{logger: logger, deps: deps}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.BearerToken(a.deps.Token))

		r.Get("/config", a.handleGetConfig)
		r.Put("/config", a.handlePutConfig)

		r.Post("/captures", a.handleCreateCapture)
		r.Post("/captures/selection", a.handleSaveSelection)
		r.Get("/captures", a.handleListCaptures)
		r.Get("/captures/{id}", a.handleGetCapture)

		r.Get("/search", a.handleSearch)
		r.Post("/ask", a.handleAsk)
		r.Post("/analyze", a.handleAnalyze)
		r.Post("/ocr", a.handleOCR)

		r.Post("/snooze", a.handleSnooze)
		r.Get("/status", a.handleStatus)
		r.Post("/quit", a.handleQuit)

		r.Get("/suggestions/latest", a.handleLatestSuggestion)
		r.Handle("/suggestions/stream", a.deps.Suggestions)
	})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// fail maps err onto a status and error code. Errors without a more specific
// mapping get fallback; anything answered with a 5xx is logged.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, fallback int, msg string) {
	status, code := classify(err, fallback)
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg, "path", r.URL.Path)
	}
	writeError(w, status, code, err.Error())
}

func classify(err error, fallback int) (int, string) {
	var apiErr *memapi.APIError
	switch {
	case errors.Is(err, triage.ErrNotConnected):
		return http.StatusUnauthorized, "not_connected"
	case errors.Is(err, triage.ErrEmptyText), errors.Is(err, settings.ErrInvalid):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, triage.ErrNoSelection):
		return http.StatusUnprocessableEntity, "no_selection"
	case errors.As(err, &apiErr):
		if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden {
			return http.StatusBadGateway, "upstream_unauthorized"
		}
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	if fallback == http.StatusBadGateway {
		return fallback, "upstream_error"
	}
	return fallback, "internal"
}

// decode reads a JSON body of at most maxBodyBytes into v, answering 400
// itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}
