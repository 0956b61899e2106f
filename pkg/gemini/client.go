// Package gemini adapts the Google GenAI SDK to the session and
// analysis interfaces: the live bidirectional audio stream, structured
// knowledge extraction, and plain text generation.
package gemini

import (
	"context"
	"log/slog"

	"google.golang.org/genai"

	"github.com/lmonteiro/james/pkg/core"
)

// Client wraps one genai client and the model names it drives.
type Client struct {
	client    *genai.Client
	liveModel string
	textModel string
	logger    *slog.Logger
}

// Options configure the client.
type Options struct {
	APIKey    string
	LiveModel string
	TextModel string
	Logger    *slog.Logger
}

// NewClient builds the shared client used by both the live connector
// and the extraction calls.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewConnectError("creating genai client failed", err)
	}
	return &Client{
		client:    client,
		liveModel: opts.LiveModel,
		textModel: opts.TextModel,
		logger:    logger,
	}, nil
}

// GenerateText runs a single text completion, used by the text chat
// command.
func (c *Client) GenerateText(ctx context.Context, systemInstruction, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), cfg)
	if err != nil {
		return "", core.NewExtractionError("text generation failed", err)
	}
	return resp.Text(), nil
}
