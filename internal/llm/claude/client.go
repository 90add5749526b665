// Package claude implements checkin.Provider on the Anthropic Messages API,
// forcing a single tool call so the answer is always schema-shaped JSON.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

const defaultTimeout = 60 * time.Second

// Client implements the checkin.Provider interface for the Claude API.
type Client struct {
	client anthropic.Client
}

// Options configures the Claude client. BaseURL is for tests and proxies.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Claude client. Retries are disabled: the classifier moves to the
// next model on rate limits instead of waiting.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Client{client: anthropic.NewClient(reqOpts...)}
}

// Complete sends one forced-tool request and returns the tool input as JSON text.
func (c *Client) Complete(ctx context.Context, req *checkin.CompletionRequest) (*checkin.CompletionResponse, error) {
	tool, err := toSDKTool(req.SchemaName, req.Schema)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Tools: []anthropic.ToolUnionParam{tool},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.SchemaName},
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	return fromSDKResponse(msg, req.SchemaName)
}

// classifyError marks 429 and 529 (overloaded) as rate limits.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, 529:
			return fmt.Errorf("%w: claude status %d", checkin.ErrRateLimited, apiErr.StatusCode)
		}
		return fmt.Errorf("claude status %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("claude: %w", err)
}

type inputSchema struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

func toSDKTool(name string, schema json.RawMessage) (anthropic.ToolUnionParam, error) {
	var s inputSchema
	if err := json.Unmarshal(schema, &s); err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("decode schema: %w", err)
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String("Record the structured analysis of the check-in call."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: s.Properties,
				Required:   s.Required,
			},
		},
	}, nil
}

func fromSDKResponse(msg *anthropic.Message, toolName string) (*checkin.CompletionResponse, error) {
	out := &checkin.CompletionResponse{
		Model: string(msg.Model),
		Usage: checkin.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == toolName {
			out.Text = string(block.Input)
			return out, nil
		}
	}
	// forced tool use should never fall back to text, but a text answer may still parse
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.Text = block.Text
			return out, nil
		}
	}
	return out, nil
}
