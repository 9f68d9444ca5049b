package ocr

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pricelens-dev/pricelens/internal/apperr"
)

func chatReply(content string) chatResponse {
	var resp chatResponse
	resp.Model = "ocr"
	resp.Choices = []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}{{}}
	resp.Choices[0].Message.Content = content
	return resp
}

func TestProcessPage(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}

			var req chatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decoding request: %v", err)
			}
			if req.Temperature != 0 {
				t.Errorf("temperature = %v, want 0", req.Temperature)
			}
			if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
				t.Fatalf("unexpected messages %+v", req.Messages)
			}
			content := req.Messages[0].Content
			if len(content) != 1 || content[0].Type != "image_url" {
				t.Fatalf("unexpected content %+v", content)
			}
			if !strings.HasPrefix(content[0].ImageURL.URL, "data:image/png;base64,") {
				t.Errorf("image url %q", content[0].ImageURL.URL[:30])
			}

			json.NewEncoder(w).Encode(chatReply("# Page 1\n\n<table></table>"))
		}))
		defer server.Close()

		c := NewClient(Config{BaseURL: server.URL, Model: "ocr", APIKey: "test-key"}, slog.Default())
		md, err := c.ProcessPage(context.Background(), []byte("png bytes"), 1)
		if err != nil {
			t.Fatalf("ProcessPage() error = %v", err)
		}
		if md != "# Page 1\n\n<table></table>" {
			t.Errorf("markdown = %q", md)
		}
	})

	t.Run("retries transient errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(chatReply("recovered"))
		}))
		defer server.Close()

		c := NewClient(Config{BaseURL: server.URL, MaxRetries: 4}, slog.Default())
		md, err := c.ProcessPage(context.Background(), []byte("png"), 2)
		if err != nil {
			t.Fatalf("ProcessPage() error = %v", err)
		}
		if md != "recovered" || calls.Load() != 3 {
			t.Errorf("markdown = %q after %d calls", md, calls.Load())
		}
	})

	t.Run("client error does not retry", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, `{"error":{"message":"bad image"}}`, http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(Config{BaseURL: server.URL, MaxRetries: 4}, slog.Default())
		_, err := c.ProcessPage(context.Background(), []byte("png"), 3)
		if err == nil {
			t.Fatal("expected error")
		}
		if !apperr.IsKind(err, apperr.Upstream) {
			t.Errorf("expected upstream kind, got %v", err)
		}
		if !strings.Contains(err.Error(), "bad image") {
			t.Errorf("error should carry the server message: %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("400 retried %d times", calls.Load())
		}
	})

	t.Run("no choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(chatResponse{})
		}))
		defer server.Close()

		c := NewClient(Config{BaseURL: server.URL, MaxRetries: 1}, slog.Default())
		if _, err := c.ProcessPage(context.Background(), []byte("png"), 1); !apperr.IsKind(err, apperr.Upstream) {
			t.Errorf("expected upstream kind, got %v", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		// The handler must unblock on its own once the test finishes,
		// or server.Close hangs on the stalled connection.
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer server.Close()
		defer close(release)

		c := NewClient(Config{BaseURL: server.URL}, slog.Default())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		if _, err := c.ProcessPage(ctx, []byte("png"), 1); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestWorkerCap(t *testing.T) {
	var inflight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		json.NewEncoder(w).Encode(chatReply("x"))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, Workers: 2}, slog.Default())
	if c.Workers() != 2 {
		t.Fatalf("workers = %d", c.Workers())
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			if _, err := c.ProcessPage(context.Background(), []byte("png"), page); err != nil {
				t.Errorf("page %d: %v", page, err)
			}
		}(i)
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, cap is 2", peak.Load())
	}
}

func TestCleanMarkdown(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain", "# Heading\n\ntext", "# Heading\n\ntext"},
		{"role marker stripped", "assistant\n# Heading", "# Heading"},
		{"stacked markers", "system\nuser\nassistant\nbody", "body"},
		{"marker with colon", "Assistant:\nbody", "body"},
		{"fenced markdown", "```markdown\n# H\n```", "# H"},
		{"bare fence", "```\ntext\n```", "text"},
		{"fence with other language kept", "```python\nprint(1)\n```", "```python\nprint(1)\n```"},
		{"marker inside body kept", "intro\nassistant\nmore", "intro\nassistant\nmore"},
		{"whitespace trimmed", "  \n# H\n  ", "# H"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := CleanMarkdown(c.in); got != c.want {
				t.Errorf("CleanMarkdown(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://x/"}, slog.Default())
	if c.Workers() != defaultWorkers {
		t.Errorf("workers = %d", c.Workers())
	}
	if c.maxRetries != defaultMaxRetries {
		t.Errorf("retries = %d", c.maxRetries)
	}
	if c.baseURL != "http://x" {
		t.Errorf("base url = %q, trailing slash must be trimmed", c.baseURL)
	}

	if over := NewClient(Config{Workers: 99}, slog.Default()); over.Workers() != defaultWorkers {
		t.Errorf("worker cap above %d must reset to default, got %d", maxWorkers, over.Workers())
	}
}
