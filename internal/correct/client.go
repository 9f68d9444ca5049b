package correct

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/pricelens-dev/pricelens/internal/apperr"
)

// Chat is a chat-completions backend. A nil image makes a text-only call.
type Chat interface {
	Complete(ctx context.Context, system, prompt string, image []byte) (string, error)
}

// ClientConfig configures one chat backend.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a chat client for the given backend.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(1),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{client: openai.NewClient(opts...), model: cfg.Model}
}

// Complete sends one system+user exchange and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, prompt string, image []byte) (string, error) {
	var user openai.ChatCompletionMessageParamUnion
	if image != nil {
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
		user = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		})
	} else {
		user = openai.UserMessage(prompt)
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system), user},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", apperr.Wrap(apperr.Upstream, err, "chat completion against %s", c.model)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.Upstream, "chat completion returned no choices")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", apperr.New(apperr.Upstream, "chat completion returned empty content")
	}
	return content, nil
}

var _ Chat = (*Client)(nil)
