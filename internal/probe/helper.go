package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/linnemanlabs/ambient/internal/triage"
)

const (
	// HelperName is the capture helper binary looked up next to the
	// executable and on PATH.
	HelperName = "ambient-capture"

	ScreenTimeout = 20 * time.Second
	AppTimeout    = 3 * time.Second

	maxStderr = 512
)

// ErrHelperNotFound means no capture helper binary could be located.
var ErrHelperNotFound = errors.New("capture helper not found")

// Helper runs the platform capture helper for screenshots, OCR and the
// foreground application name.
type Helper struct {
	path string
}

// NewHelper resolves the helper binary. An explicit path wins, then
// HelperName next to the running executable, then PATH.
func NewHelper(explicit string) (*Helper, error) {
	path, err := resolveHelper(explicit)
	if err != nil {
		return nil, err
	}
	return &Helper{path: path}, nil
}

// Path returns the resolved helper binary.
func (h *Helper) Path() string { return h.path }

func resolveHelper(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrHelperNotFound, explicit, err)
		}
		return explicit, nil
	}

	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), HelperName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(HelperName)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not next to the executable or on PATH", ErrHelperNotFound, HelperName)
	}
	return path, nil
}

// CaptureScreen implements triage.ScreenProbe by running "<helper> screenshot"
// and decoding its JSON output.
func (h *Helper) CaptureScreen(ctx context.Context) (*triage.ScreenCapture, error) {
	out, err := h.run(ctx, ScreenTimeout, "screenshot")
	if err != nil {
		return nil, err
	}
	var sc triage.ScreenCapture
	if err := json.Unmarshal(out, &sc); err != nil {
		return nil, fmt.Errorf("parse screenshot output: %w", err)
	}
	return &sc, nil
}

// ForegroundApp implements triage.AppProbe. Any failure reports
// triage.UnknownApp.
func (h *Helper) ForegroundApp(ctx context.Context) string {
	out, err := h.run(ctx, AppTimeout, "active-app")
	if err != nil {
		return triage.UnknownApp
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return triage.UnknownApp
	}
	return name
}

func (h *Helper) run(ctx context.Context, timeout time.Duration, arg string) ([]byte, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(execCtx, h.path, arg)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execCtx.Err() != nil {
			return nil, fmt.Errorf("capture helper %s: timed out after %s", arg, timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[:maxStderr]
		}
		if msg != "" {
			return nil, fmt.Errorf("capture helper %s: %w: %s", arg, err, msg)
		}
		return nil, fmt.Errorf("capture helper %s: %w", arg, err)
	}
	return stdout.Bytes(), nil
}

// Unavailable stands in for a Helper that could not be resolved. Screen
// captures fail with Err and the foreground app is always unknown, so the
// clipboard monitor keeps working on its own.
type Unavailable struct {
	Err error
}

// CaptureScreen implements triage.ScreenProbe.
func (u Unavailable) CaptureScreen(context.Context) (*triage.ScreenCapture, error) {
	return nil, u.Err
}

// ForegroundApp implements triage.AppProbe.
func (u Unavailable) ForegroundApp(context.Context) string {
	return triage.UnknownApp
}
