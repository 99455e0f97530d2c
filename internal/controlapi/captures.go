package controlapi

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/ambient/internal/triage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

type captureRequest struct {
	Text     string            `json:"text"`
	Source   triage.SourceKind `json:"source,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

func validSource(s triage.SourceKind) bool {
	switch s {
	case "", triage.SourceClipboard, triage.SourceScreen, triage.SourceSelection, triage.SourceManual:
		return true
	}
	return false
}

func (a *API) handleCreateCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !decode(w, r, &req) {
		return
	}
	if !validSource(req.Source) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown source "+strconv.Quote(string(req.Source)))
		return
	}

	res, err := a.deps.Actions.SaveText(r.Context(), req.Text, req.Source, req.Metadata)
	if err != nil {
		a.fail(w, r, err, http.StatusBadGateway, "capture failed")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("ambient.capture.id", res.ID))
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleSaveSelection(w http.ResponseWriter, r *http.Request) {
	res, err := a.deps.Actions.SaveSelection(r.Context())
	if err != nil {
		a.fail(w, r, err, http.StatusBadGateway, "save selection failed")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("ambient.capture.id", res.ID))
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("ambient.capture.id", id))

	entry, ok, err := a.deps.Actions.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, http.StatusInternalServerError, "failed to get capture")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no capture with that id")
		return
	}

	span.SetAttributes(attribute.String("ambient.capture.status", string(entry.Status)))
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	entries, err := a.deps.Actions.Recent(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err, http.StatusInternalServerError, "failed to list captures")
		return
	}
	if entries == nil {
		entries = []*triage.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"captures": entries})
}
