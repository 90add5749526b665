package checkin

import "encoding/json"

// EventKind classifies an inbound voice platform event.
type EventKind string

const (
	EventToolCalls EventKind = "tool-calls"
	EventEndOfCall EventKind = "end-of-call-report"
	EventIgnored   EventKind = "ignored"
)

// Event is the canonical form of a voice platform webhook, independent of the
// wire shape it arrived in.
type Event struct {
	Kind        EventKind
	RawType     string
	Call        CallRef
	Invocations []Invocation
	Report      *EndOfCallReport
}

// CallRef identifies the voice session and the resident it belongs to.
type CallRef struct {
	SessionID  string
	ResidentID string
}

// Invocation is one function the voice assistant asked the server to execute.
type Invocation struct {
	Name      string
	Arguments json.RawMessage
	CallID    string
}

// EndOfCallReport carries the artifacts delivered after a call completes.
type EndOfCallReport struct {
	Summary      string
	Transcript   string
	RecordingURL string
	EndedReason  string
}

// InvocationResult is returned to the voice platform for each invocation.
type InvocationResult struct {
	Name       string `json:"name"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// EventResponse is the webhook response body.
type EventResponse struct {
	Success *bool              `json:"success,omitempty"`
	Error   string             `json:"error,omitempty"`
	Results []InvocationResult `json:"results,omitempty"`
}

func okResponse() *EventResponse {
	t := true
	return &EventResponse{Success: &t}
}

func failResponse(err error) *EventResponse {
	f := false
	return &EventResponse{Success: &f, Error: err.Error()}
}
