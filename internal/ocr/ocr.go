// Package ocr converts page images to markdown through an OpenAI-compatible
// chat-completions endpoint serving an OCR model.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/pricelens-dev/pricelens/internal/apperr"
)

const (
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 4
	defaultWorkers    = 8
	maxWorkers        = 16

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second

	maxTokens = 8192
)

// Config holds settings for the OCR client.
type Config struct {
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// Workers caps concurrent OCR requests across all uploads.
	Workers int
}

// Client is a chat-completions OCR client. A single Client is shared by all
// uploads so the worker cap holds process-wide.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	maxRetries int
	client     *http.Client
	sem        chan struct{}
	log        *slog.Logger
}

// NewClient creates an OCR client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Workers < 1 || cfg.Workers > maxWorkers {
		cfg.Workers = defaultWorkers
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: cfg.Timeout},
		sem:        make(chan struct{}, cfg.Workers),
		log:        log.With("component", "ocr"),
	}
}

// Workers returns the concurrency cap.
func (c *Client) Workers() int {
	return cap(c.sem)
}

// ProcessPage OCRs a single page image and returns its markdown. It blocks
// while the shared worker cap is saturated.
func (c *Client) ProcessPage(ctx context.Context, image []byte, pageNum int) (string, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	start := time.Now()
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{{
				Type: "image_url",
				ImageURL: &chatImageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
				},
			}},
		}},
		Temperature: 0,
		MaxTokens:   maxTokens,
	}

	var resp *chatResponse
	err := retry.Do(
		func() error {
			var err error
			resp, err = c.doRequest(ctx, &req)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("retrying ocr request", "page", pageNum, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperr.Wrap(apperr.Upstream, err, "ocr failed for page %d", pageNum)
	}

	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.Upstream, "ocr returned no choices for page %d", pageNum)
	}

	markdown := CleanMarkdown(resp.Choices[0].Message.Content)
	c.log.Debug("page ocr complete",
		"page", pageNum,
		"chars", len(markdown),
		"duration", time.Since(start).Round(time.Millisecond))
	return markdown, nil
}

// statusError marks an HTTP-level failure so RetryIf can tell client errors
// from transient ones.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ocr server error (status %d): %s", e.code, e.body)
}

// retryable reports whether a request should be attempted again: network
// failures, 408/429, and 5xx retry; other client errors do not.
func retryable(err error) bool {
	if se, ok := err.(*statusError); ok {
		switch {
		case se.code == http.StatusRequestTimeout, se.code == http.StatusTooManyRequests:
			return true
		case se.code >= 500:
			return true
		default:
			return false
		}
	}
	return true
}

func (c *Client) doRequest(ctx context.Context, body *chatRequest) (*chatResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp chatErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, &statusError{code: resp.StatusCode, body: msg}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}
	return &chatResp, nil
}

// roleMarkers are chat-template artifacts some OCR models echo back at the
// start of their output.
var roleMarkers = map[string]bool{
	"system": true, "user": true, "assistant": true,
	"system:": true, "user:": true, "assistant:": true,
}

// CleanMarkdown strips chat-template role markers and a wrapping code fence
// from model output.
func CleanMarkdown(s string) string {
	s = strings.TrimSpace(s)

	for {
		line, rest, found := strings.Cut(s, "\n")
		if !found {
			break
		}
		if !roleMarkers[strings.ToLower(strings.TrimSpace(line))] {
			break
		}
		s = strings.TrimLeft(rest, "\n")
	}

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 && strings.HasSuffix(s, "```") {
			fence := strings.TrimSpace(s[3:idx])
			if fence == "" || fence == "markdown" || fence == "md" {
				s = strings.TrimSpace(strings.TrimSuffix(s[idx+1:], "```"))
			}
		}
	}
	return s
}

// Chat-completions API types.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
