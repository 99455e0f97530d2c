package triage

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

const (
	minSelectionWords = 2
	previewLimit      = 60
)

var (
	// ErrNotConnected means no API token is configured.
	ErrNotConnected = errors.New("not connected: set your API token in settings")

	// ErrEmptyText means there was nothing to save.
	ErrEmptyText = errors.New("text is empty")

	// ErrNoSelection means the clipboard did not hold a usable selection.
	ErrNoSelection = errors.New("no text selected: select some text and try again")
)

// SaveResult is the outcome of an explicit save.
type SaveResult struct {
	ID       string `json:"id"`
	RemoteID string `json:"remote_id"`
	Preview  string `json:"preview"`
}

// Service is the business boundary for explicit user actions. Unlike the
// passive loop, these calls are synchronous and report failure to the caller.
type Service struct {
	gate      CredentialGate
	sink      CaptureSink
	clipboard ClipboardProbe
	journal   Journal
	logger    log.Logger
	onAction  func(action string, err error)
}

// NewService creates a new Service. journal and onAction may be nil.
func NewService(gate CredentialGate, sink CaptureSink, clipboard ClipboardProbe, journal Journal, logger log.Logger, onAction func(string, error)) *Service {
	if gate == nil || sink == nil || clipboard == nil {
		panic(xerrors.New("credential gate, capture sink and clipboard probe are required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		gate:      gate,
		sink:      sink,
		clipboard: clipboard,
		journal:   journal,
		logger:    logger,
		onAction:  onAction,
	}
}

// SaveText submits text the user explicitly asked to keep.
func (s *Service) SaveText(ctx context.Context, text string, source SourceKind, meta map[string]any) (res *SaveResult, err error) {
	defer s.observe("save_text", &err)

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if source == "" {
		source = SourceManual
	}
	return s.save(ctx, text, source, meta)
}

// SaveSelection submits the current clipboard as a selection. The caller is
// responsible for copying the selection to the clipboard first.
func (s *Service) SaveSelection(ctx context.Context) (res *SaveResult, err error) {
	defer s.observe("save_selection", &err)

	text, ok := s.clipboard.ReadText(ctx)
	if !ok || WordCount(text) < minSelectionWords {
		return nil, ErrNoSelection
	}
	return s.save(ctx, text, SourceSelection, map[string]any{
		"capture_type": string(SourceSelection),
		"source":       "manual_selection",
	})
}

// Get retrieves a journal entry by ID.
func (s *Service) Get(ctx context.Context, id string) (*Entry, bool, error) {
	if s.journal == nil {
		return nil, false, nil
	}
	return s.journal.Get(ctx, id)
}

// Recent lists the newest journal entries. A non-positive limit yields
// nothing.
func (s *Service) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if s.journal == nil || limit <= 0 {
		return nil, nil
	}
	return s.journal.Recent(ctx, limit)
}

func (s *Service) save(ctx context.Context, text string, source SourceKind, meta map[string]any) (*SaveResult, error) {
	if !s.gate.HasCredential() {
		return nil, ErrNotConnected
	}

	ev := NewCaptureEvent(text, source, meta)
	L := s.logger.With("capture_id", ev.ID, "source", source)

	start := time.Now()
	remoteID, err := s.sink.Capture(ctx, ev)
	record(ctx, s.journal, L, ev, remoteID, err, start)
	if err != nil {
		L.Error(ctx, err, "explicit capture failed")
		return nil, err
	}

	L.Info(ctx, "explicit capture saved", "remote_id", remoteID)
	return &SaveResult{ID: ev.ID, RemoteID: remoteID, Preview: Preview(text)}, nil
}

func (s *Service) observe(action string, err *error) {
	if s.onAction != nil {
		s.onAction(action, *err)
	}
}

// Preview shortens text for notifications: at most 60 characters, with an
// ellipsis when cut.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLimit {
		return text
	}
	return TruncateRunes(text, previewLimit-3) + "..."
}
