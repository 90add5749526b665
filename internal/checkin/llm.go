package checkin

import (
	"context"
	"encoding/json"
)

// Provider is the interface for any LLM backend able to return structured JSON.
//
// Implementations wrap rate-limit, quota and overload failures with ErrRateLimited
// so the classifier can move on to the next model.
type Provider interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest asks a single model for a JSON document matching Schema.
type CompletionRequest struct {
	Model      string
	System     string
	Prompt     string
	SchemaName string
	Schema     json.RawMessage
	MaxTokens  int
}

// CompletionResponse carries the raw JSON text the model produced.
type CompletionResponse struct {
	Text  string
	Model string
	Usage Usage
}

// Usage is the token accounting for a single completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
