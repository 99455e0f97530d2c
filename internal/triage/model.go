package triage

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// SourceKind identifies where captured text came from.
type SourceKind string

const (
	// SourceClipboard is text picked up by the passive clipboard monitor
	SourceClipboard SourceKind = "clipboard"

	// SourceScreen is cleaned OCR text from a screen capture cycle
	SourceScreen SourceKind = "screen"

	// SourceSelection is text the user explicitly selected and saved
	SourceSelection SourceKind = "selection"

	// SourceManual is text typed into the quick capture window
	SourceManual SourceKind = "tray-manual"
)

// UnknownApp is the sentinel identity probes report when the foreground
// application cannot be determined.
const UnknownApp = "Unknown"

// KnownApp reports whether name is a real application identity. Empty and
// "Unknown" identities never match the skip list and never count as a switch.
func KnownApp(name string) bool {
	return name != "" && name != UnknownApp
}

// CaptureEvent is a single piece of text handed to the CaptureSink.
type CaptureEvent struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Source    SourceKind     `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewCaptureEvent builds a CaptureEvent with a fresh ID.
func NewCaptureEvent(text string, source SourceKind, meta map[string]any) *CaptureEvent {
	return &CaptureEvent{
		ID:        ulid.Make().String(),
		Text:      text,
		Source:    source,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
}

// App returns the app_name metadata value, if any.
func (e *CaptureEvent) App() string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata["app_name"].(string)
	return s
}

// ScreenCapture is the output of one screenshot + OCR pass.
type ScreenCapture struct {
	Text       string  `json:"text"`
	AppName    string  `json:"appName"`
	Timestamp  string  `json:"timestamp,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Memory is a previously stored memory the remote service considers related
// to what is currently on screen.
type Memory struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Summary    *string `json:"summary"`
	Similarity float64 `json:"similarity"`
}

// Analysis is the response to a suggestion request.
type Analysis struct {
	Related []Memory `json:"related"`
	Context string   `json:"context,omitempty"`
}

// Suggestion is the ambient-suggestion event surfaced to the rest of the
// application.
type Suggestion struct {
	ID        string    `json:"id"`
	App       string    `json:"app_name"`
	Related   []Memory  `json:"related"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
