// Package vapi adapts the Vapi voice platform: starting outbound check-in calls,
// building the assistant configuration and normalizing server webhooks.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
	"github.com/linnemanlabs/floodvoice/internal/tools"
)

// DefaultBaseURL is the Vapi API root.
const DefaultBaseURL = "https://api.vapi.ai"

const httpTimeout = 15 * time.Second

// Options configures the Client.
type Options struct {
	APIKey        string
	BaseURL       string
	PhoneNumberID string

	// ServerURL receives the call's webhooks; ServerSecret is echoed back in X-Vapi-Secret.
	ServerURL    string
	ServerSecret string

	HTTPClient *http.Client
}

// Client starts outbound calls. It implements checkin.VoiceCaller.
type Client struct {
	opts   Options
	script ScriptSource
	tools  []tools.ToolDef
	client *http.Client
}

// New creates a Client. The assistant is rebuilt for every call from script and toolDefs.
func New(opts Options, script ScriptSource, toolDefs []tools.ToolDef) *Client {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if script == nil {
		script = StaticScript{S: DefaultScript()}
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: httpTimeout}
	}
	return &Client{opts: opts, script: script, tools: toolDefs, client: hc}
}

// APIError is a non-2xx answer from Vapi. Error returns the raw body so operators
// see the platform's own message.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("vapi: status %d", e.StatusCode)
	}
	return e.Body
}

type createCallRequest struct {
	Assistant     assistant         `json:"assistant"`
	PhoneNumberID string            `json:"phoneNumberId"`
	Customer      customer          `json:"customer"`
	Metadata      map[string]string `json:"metadata"`
}

type customer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type assistant struct {
	Name               string            `json:"name,omitempty"`
	FirstMessage       string            `json:"firstMessage"`
	Model              assistantModel    `json:"model"`
	Voice              *assistantVoice   `json:"voice,omitempty"`
	ServerURL          string            `json:"serverUrl,omitempty"`
	ServerURLSecret    string            `json:"serverUrlSecret,omitempty"`
	EndCallPhrases     []string          `json:"endCallPhrases,omitempty"`
	MaxDurationSeconds int               `json:"maxDurationSeconds,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type assistantModel struct {
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
	Temperature float64         `json:"temperature,omitempty"`
	Messages    []modelMessage  `json:"messages"`
	Tools       []tools.ToolDef `json:"tools,omitempty"`
}

type modelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type assistantVoice struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

type createCallResponse struct {
	ID string `json:"id"`
}

// StartCall asks Vapi to ring the resident and returns the call id.
func (c *Client) StartCall(ctx context.Context, req *checkin.CallRequest) (string, error) {
	if req.Phone == "" {
		return "", errors.New("vapi: phone number required")
	}
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("vapi: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("vapi: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.client.Do(httpReq) //nolint:gosec // base URL is from trusted config
	if err != nil {
		return "", fmt.Errorf("vapi: post call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("vapi: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out createCallResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("vapi: decode response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("vapi: response missing call id")
	}
	return out.ID, nil
}

func (c *Client) buildRequest(req *checkin.CallRequest) *createCallRequest {
	s := c.script.Current()
	meta := map[string]string{"residentId": req.ResidentID}

	a := assistant{
		Name:         s.Name,
		FirstMessage: s.FirstMessage(req.Language, req.Name),
		Model: assistantModel{
			Provider:    s.Model.Provider,
			Model:       s.Model.Model,
			Temperature: s.Model.Temperature,
			Messages:    []modelMessage{{Role: "system", Content: s.SystemPrompt}},
			Tools:       c.tools,
		},
		ServerURL:          c.opts.ServerURL,
		ServerURLSecret:    c.opts.ServerSecret,
		EndCallPhrases:     s.EndCallPhrases,
		MaxDurationSeconds: s.MaxDurationSeconds,
		Metadata:           meta,
	}
	if s.Voice.Provider != "" {
		a.Voice = &assistantVoice{Provider: s.Voice.Provider, VoiceID: s.Voice.VoiceID}
	}

	return &createCallRequest{
		Assistant:     a,
		PhoneNumberID: c.opts.PhoneNumberID,
		Customer:      customer{Number: req.Phone, Name: req.Name},
		Metadata:      meta,
	}
}

var _ checkin.VoiceCaller = (*Client)(nil)
