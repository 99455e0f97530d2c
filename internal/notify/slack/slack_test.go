package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ambient/internal/triage"
)

func strPtr(s string) *string { return &s }

func sampleSuggestion() *triage.Suggestion {
	return &triage.Suggestion{
		ID:  "01JN123",
		App: "Notion",
		Related: []triage.Memory{
			{ID: "m1", Type: "decision", Title: "Vendor choice", Summary: strPtr("Picked Acme in March"), Similarity: 0.91},
			{ID: "m2", Type: "note", Title: "Contract terms", Similarity: 0.78},
		},
		Context:   "You discussed this vendor in two earlier meetings.",
		CreatedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func TestPublish_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.Publish(context.Background(), sampleSuggestion()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, context, divider, memories, footer
	if len(blocks) != 5 {
		t.Errorf("blocks count = %d, want 5", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "2 related memories") || !strings.Contains(headerText, "Notion") {
		t.Errorf("header text = %q", headerText)
	}

	memories := blocks[3].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(memories, "*Vendor choice* (decision, 91%)") {
		t.Errorf("memories text = %q", memories)
	}
	if !strings.Contains(memories, "Picked Acme in March") {
		t.Errorf("memories text missing summary: %q", memories)
	}
}

func TestPublish_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	if err := n.Publish(context.Background(), sampleSuggestion()); err != nil {
		t.Fatalf("Publish with empty URL should be no-op, got: %v", err)
	}
}

func TestPublish_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.Publish(context.Background(), sampleSuggestion())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestBuildMessage_SingularAndNoContext(t *testing.T) {
	t.Parallel()

	s := &triage.Suggestion{ID: "s1", App: "Mail", Related: []triage.Memory{{Title: "One", Type: "note"}}}
	msg := buildMessage(s)
	blocks := msg["blocks"].([]map[string]any)

	// header, divider, memories, footer
	if len(blocks) != 4 {
		t.Fatalf("blocks count = %d, want 4", len(blocks))
	}
	headerText := blocks[0]["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "1 related memory:") {
		t.Errorf("header text = %q", headerText)
	}
}

func TestBuildMessage_CapsMemories(t *testing.T) {
	t.Parallel()

	s := &triage.Suggestion{ID: "s1", App: "Mail"}
	for range 8 {
		s.Related = append(s.Related, triage.Memory{Title: "m", Type: "note"})
	}
	text := memoriesBlock(s)["text"].(map[string]any)["text"].(string)
	if got := strings.Count(text, "• "); got != maxMemories {
		t.Errorf("listed %d memories, want %d", got, maxMemories)
	}
	if !strings.Contains(text, "and 3 more") {
		t.Errorf("text = %q, want overflow note", text)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	long := strings.Repeat("é", 50)
	got := truncate(long, 10)
	if utf8.RuneCountInString(got) != 10 || !strings.HasSuffix(got, "...") || !utf8.ValidString(got) {
		t.Errorf("truncate long = %q", got)
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("Notion", "Vendor", "summary", "context")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "*bold* _italic_", "~strike~", "```code```")
	f.Add("app\x00\x01", "title\nline", "sum\ttab", strings.Repeat("x", 10000))

	f.Fuzz(func(t *testing.T, app, title, summary, context string) {
		s := &triage.Suggestion{
			ID:        "fuzz-id",
			App:       app,
			Related:   []triage.Memory{{Title: title, Summary: &summary, Similarity: 0.5}},
			Context:   context,
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}

		data, err := json.Marshal(buildMessage(s))
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		if _, ok := decoded["blocks"].([]any); !ok {
			t.Fatal("expected blocks array")
		}
	})
}
