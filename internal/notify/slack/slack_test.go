package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/herald/internal/alert"
)

func testAlert() *alert.Alert {
	return &alert.Alert{
		ID: "01JN123",
		Fields: alert.Fields{
			Title:   "AI startup raises $50M",
			Snippet: "The generative AI company closed its Series B.",
			Source:  "TechCrunch",
			Link:    "https://techcrunch.example/ai-raise",
		},
		Score:      alert.Scored(0.92, "Directly about generative AI startups."),
		ImportedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func TestNotify_PostsToWebhook(t *testing.T) {
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
	if err := n.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, snippet, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "AI startup raises $50M") {
		t.Errorf("header text = %q, want alert title", headerText)
	}
	if !strings.Contains(headerText, "\U0001f525") {
		t.Error("header should contain fire emoji for a high score")
	}

	snippet := blocks[4].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(snippet, "<https://techcrunch.example/ai-raise|Read more>") {
		t.Errorf("snippet block = %q, want link", snippet)
	}

	fields := blocks[2].(map[string]any)["fields"].([]any)
	score := fields[1].(map[string]any)["text"].(string)
	if score != "*Relevancy:* 92%" {
		t.Errorf("score field = %q", score)
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	if n.Enabled() {
		t.Error("Enabled() = true without URL")
	}
	if err := n.Notify(context.Background(), &alert.Alert{}); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_TruncatesLongSnippet(t *testing.T) {
	t.Parallel()

	a := testAlert()
	a.Snippet = strings.Repeat("x", 4000)
	a.Link = ""

	blocks := buildMessage(a)["blocks"].([]map[string]any)
	text := blocks[4]["text"].(map[string]any)["text"].(string)

	if len(text) > maxSnippetLen+len("*Snippet*\n\n") {
		t.Errorf("snippet text length = %d, expected <= %d", len(text), maxSnippetLen+len("*Snippet*\n\n"))
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated snippet to end with ...")
	}
}

func TestScoreEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		score float64
		want  string
	}{
		{"high", 0.95, "\U0001f525"},
		{"boundary high", 0.8, "\U0001f525"},
		{"relevant", 0.5, "\U0001f7e2"},
		{"below", 0.3, "⚪"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := scoreEmoji(tt.score); got != tt.want {
				t.Errorf("scoreEmoji(%v) = %q, want %q", tt.score, got, tt.want)
			}
		})
	}
}

func TestNotify_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.Notify(context.Background(), testAlert())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("AI raise", "snippet", "TechCrunch", "https://x.example", "reason")
	f.Add("", "", "", "", "")
	f.Add("<@U123> mention", "*bold* _italic_ ~strike~", "src", "<http://example.com|link>", "why")
	f.Add("alert\x00\x01\x02", "line\nbreak", "tab\tsrc", "l\x00nk", "r")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("x", 10000), "s", "", strings.Repeat("y", 3000))

	f.Fuzz(func(t *testing.T, title, snippet, source, link, reason string) {
		a := &alert.Alert{
			ID:     "fuzz-id",
			Fields: alert.Fields{Title: title, Snippet: snippet, Source: source, Link: link},
			Score:  alert.Scored(0.7, reason),
		}

		// Must not panic
		msg := buildMessage(a)

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 7 {
			t.Fatalf("blocks count = %d, want 7", len(blocks))
		}
	})
}

func TestEnabled(t *testing.T) {
	t.Parallel()

	if !New("https://hooks.slack.example/T000/B000/xyz", nil).Enabled() {
		t.Error("Enabled() = false with a webhook URL")
	}
	if New("", nil).Enabled() {
		t.Error("Enabled() = true without URL")
	}
}
