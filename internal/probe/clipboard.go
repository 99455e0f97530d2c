// Package probe implements the platform signal probes: clipboard text, the
// foreground application and screen OCR via the capture helper.
package probe

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
)

// Clipboard reads the system clipboard.
type Clipboard struct {
	read func() (string, error)
}

// NewClipboard returns a Clipboard backed by the system clipboard.
func NewClipboard() *Clipboard {
	return &Clipboard{read: clipboard.ReadAll}
}

// Supported reports whether a clipboard utility is available on this system.
func (c *Clipboard) Supported() bool {
	return !clipboard.Unsupported
}

// ReadText implements triage.ClipboardProbe. Read failures and blank
// contents both report ok=false.
func (c *Clipboard) ReadText(_ context.Context) (string, bool) {
	text, err := c.read()
	if err != nil || strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}
