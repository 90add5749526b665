package vapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

// Inbound message types.
const (
	TypeFunctionCall = "function-call"
	TypeToolCalls    = "tool-calls"
	TypeEndOfCall    = "end-of-call-report"
)

// ErrMalformedWebhook is returned for payloads that are not JSON or carry no message.type.
var ErrMalformedWebhook = errors.New("malformed webhook payload")

// ParseWebhook normalizes a server message into a checkin.Event. It accepts the
// legacy function-call shape, the tool-calls shape and end-of-call reports with
// either nested (analysis/artifact) or top-level artifacts. Unknown message types
// come back as EventIgnored.
func ParseWebhook(body []byte) (*checkin.Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedWebhook)
	}
	msg := gjson.GetBytes(body, "message")
	typ := strings.TrimSpace(msg.Get("type").String())
	if typ == "" {
		return nil, fmt.Errorf("%w: missing message.type", ErrMalformedWebhook)
	}

	ev := &checkin.Event{
		RawType: typ,
		Call: checkin.CallRef{
			SessionID:  firstString(msg, "call.id", "callId"),
			ResidentID: firstString(msg, "call.metadata.residentId", "call.assistantOverrides.metadata.residentId", "assistant.metadata.residentId", "metadata.residentId"),
		},
	}

	switch typ {
	case TypeFunctionCall:
		ev.Kind = checkin.EventToolCalls
		fc := msg.Get("functionCall")
		ev.Invocations = []checkin.Invocation{{
			Name:      fc.Get("name").String(),
			Arguments: arguments(fc.Get("parameters")),
			CallID:    fc.Get("id").String(),
		}}

	case TypeToolCalls:
		ev.Kind = checkin.EventToolCalls
		list := msg.Get("toolCallList")
		if !list.Exists() {
			list = msg.Get("toolWithToolCallList.#.toolCall")
		}
		for _, tc := range list.Array() {
			ev.Invocations = append(ev.Invocations, checkin.Invocation{
				Name:      tc.Get("function.name").String(),
				Arguments: arguments(tc.Get("function.arguments")),
				CallID:    tc.Get("id").String(),
			})
		}

	case TypeEndOfCall:
		ev.Kind = checkin.EventEndOfCall
		ev.Report = &checkin.EndOfCallReport{
			Summary:      firstString(msg, "analysis.summary", "summary"),
			Transcript:   firstString(msg, "artifact.transcript", "transcript"),
			RecordingURL: firstString(msg, "artifact.recordingUrl", "recordingUrl", "artifact.recording.url"),
			EndedReason:  msg.Get("endedReason").String(),
		}

	default:
		ev.Kind = checkin.EventIgnored
	}
	return ev, nil
}

// arguments returns function arguments as raw JSON; platforms send them either
// as an object or as a JSON-encoded string.
func arguments(r gjson.Result) json.RawMessage {
	switch {
	case !r.Exists():
		return json.RawMessage(`{}`)
	case r.Type == gjson.String:
		if gjson.Valid(r.Str) {
			return json.RawMessage(r.Str)
		}
		b, _ := json.Marshal(r.Str)
		return b
	default:
		return json.RawMessage(r.Raw)
	}
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(r.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}
