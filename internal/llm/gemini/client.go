// Package gemini implements checkin.Provider against Gemini's OpenAI-compatible
// chat completions endpoint, requesting strict JSON-schema output.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

// DefaultBaseURL is Gemini's OpenAI-compatible API root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

const defaultTimeout = 60 * time.Second

// Client implements the checkin.Provider interface for Gemini.
type Client struct {
	client *openai.Client
}

// Options configures the Gemini client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Gemini client.
func New(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = DefaultBaseURL
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = opts.HTTPClient
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{client: openai.NewClientWithConfig(cfg)}
}

// Complete asks the model for a JSON document matching req.Schema.
func (c *Client) Complete(ctx context.Context, req *checkin.CompletionRequest) (*checkin.CompletionResponse, error) {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: req.Schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("gemini: no completion choices returned")
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &checkin.CompletionResponse{
		Text:  resp.Choices[0].Message.Content,
		Model: model,
		Usage: checkin.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// classifyError marks 429 and quota exhaustion as rate limits.
func classifyError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	msg := strings.ToLower(err.Error())
	if status == http.StatusTooManyRequests || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota") {
		return fmt.Errorf("%w: gemini status %d", checkin.ErrRateLimited, status)
	}
	if status != 0 {
		return fmt.Errorf("gemini status %d: %w", status, err)
	}
	return fmt.Errorf("gemini: %w", err)
}
