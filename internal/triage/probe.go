package triage

import (
	"context"
	"errors"
)

// AppProbe reports the foreground application. Implementations must not
// block indefinitely and return UnknownApp (or "") on failure.
type AppProbe interface {
	ForegroundApp(ctx context.Context) string
}

// ClipboardProbe reads the current clipboard text. ok is false when the
// clipboard is empty or unreadable.
type ClipboardProbe interface {
	ReadText(ctx context.Context) (text string, ok bool)
}

// ScreenProbe takes a screenshot, runs OCR on it and reports the app that was
// in front at capture time.
type ScreenProbe interface {
	CaptureScreen(ctx context.Context) (*ScreenCapture, error)
}

// CaptureSink persists a capture as a memory and returns its remote ID.
type CaptureSink interface {
	Capture(ctx context.Context, ev *CaptureEvent) (string, error)
}

// SuggestionSink asks the remote service for memories related to text.
type SuggestionSink interface {
	Analyze(ctx context.Context, text, app string) (*Analysis, error)
}

// CredentialGate reports whether an API credential is configured.
type CredentialGate interface {
	HasCredential() bool
}

// Publisher surfaces ambient suggestions to the rest of the application.
type Publisher interface {
	Publish(ctx context.Context, s *Suggestion) error
}

// Enqueuer accepts capture events for asynchronous submission.
type Enqueuer interface {
	Enqueue(ev *CaptureEvent) bool
}

// MultiPublisher fans a suggestion out to every publisher and joins errors.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ctx context.Context, s *Suggestion) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
