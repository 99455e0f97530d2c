package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "ambient", "settings.yaml")
}

func TestOpen_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	s, err := Open(tempPath(t), log.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := s.Get()
	if got.APIURL != DefaultAPIURL {
		t.Errorf("APIURL = %q, want %q", got.APIURL, DefaultAPIURL)
	}
	if s.HasCredential() {
		t.Error("HasCredential = true with no token")
	}
}

func TestOpen_ParsesFile(t *testing.T) {
	t.Parallel()

	path := tempPath(t)
	_ = os.MkdirAll(filepath.Dir(path), 0o700)
	if err := os.WriteFile(path, []byte("api_url: https://mem.example.com/\napi_token: \"  abc123 \"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	base, token := s.Endpoint()
	if base != "https://mem.example.com" {
		t.Errorf("base = %q", base)
	}
	if token != "abc123" {
		t.Errorf("token = %q", token)
	}
	if !s.HasCredential() {
		t.Error("HasCredential = false")
	}
}

func TestOpen_InvalidYAML(t *testing.T) {
	t.Parallel()

	path := tempPath(t)
	_ = os.MkdirAll(filepath.Dir(path), 0o700)
	_ = os.WriteFile(path, []byte("api_url: [unterminated"), 0o600)

	if _, err := Open(path, nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()

	path := tempPath(t)
	s, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Save(Settings{APIURL: "http://localhost:3000", APIToken: "tok"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Get(); got.APIURL != "http://localhost:3000" || got.APIToken != "tok" {
		t.Errorf("reopened = %+v", got)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("perm = %o, want 600", perm)
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".settings-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSave_EmptyURLUsesDefault(t *testing.T) {
	t.Parallel()

	s, _ := Open(tempPath(t), nil)
	if err := s.Save(Settings{APIToken: "tok"}); err != nil {
		t.Fatal(err)
	}
	if got := s.Get().APIURL; got != DefaultAPIURL {
		t.Errorf("APIURL = %q", got)
	}
}

func TestSave_RejectsInvalidURL(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"ftp://example.com", "not a url", "/relative/path"} {
		s, _ := Open(tempPath(t), nil)
		if err := s.Save(Settings{APIURL: u}); !errors.Is(err, ErrInvalid) {
			t.Errorf("Save(%q) err = %v, want ErrInvalid", u, err)
		}
		if s.Get().APIURL != DefaultAPIURL {
			t.Errorf("settings changed after rejected save of %q", u)
		}
	}
}

func TestOnChange(t *testing.T) {
	t.Parallel()

	s, _ := Open(tempPath(t), nil)
	var calls atomic.Int32
	s.OnChange(func(Settings) { calls.Add(1) })

	_ = s.Save(Settings{APIToken: "a"})
	_ = s.Save(Settings{APIToken: "a"}) // unchanged
	_ = s.Save(Settings{APIToken: "b"})

	if got := calls.Load(); got != 2 {
		t.Errorf("OnChange calls = %d, want 2", got)
	}
}

func TestReload_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()

	path := tempPath(t)
	s, err := Open(path, log.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(Settings{APIURL: "https://memory.example.com", APIToken: "keep"}); err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	s.OnChange(func(Settings) { calls.Add(1) })

	if err := os.WriteFile(path, []byte("api_url: ftp://x\napi_token: replaced\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Reload = %v, want ErrInvalid", err)
	}

	got := s.Get()
	if got.APIURL != "https://memory.example.com" || got.APIToken != "keep" {
		t.Errorf("settings = %+v, want the previous values", got)
	}
	if calls.Load() != 0 {
		t.Error("OnChange fired for an invalid edit")
	}
}

func TestWatch_ReloadsExternalEdits(t *testing.T) {
	t.Parallel()

	path := tempPath(t)
	s, err := Open(path, log.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// give the watcher time to register the directory
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Dir(path)); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("api_token: edited\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for time.Now().Before(deadline) {
		if s.Get().APIToken == "edited" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := s.Get().APIToken; got != "edited" {
		t.Errorf("APIToken = %q after edit, want edited", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_BadEditKeepsPrevious(t *testing.T) {
	t.Parallel()

	path := tempPath(t)
	s, _ := Open(path, log.Nop())
	if err := s.Save(Settings{APIToken: "good"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(path, []byte("api_token: [broken"), 0o600)
	time.Sleep(3 * reloadDebounce)

	if got := s.Get().APIToken; got != "good" {
		t.Errorf("APIToken = %q, want previous value kept", got)
	}
}
