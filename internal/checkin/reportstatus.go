package checkin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/floodvoice/internal/tools"
)

// ReportStatusToolName is the function the voice assistant calls to report a resident's state.
const ReportStatusToolName = "reportStatus"

var reportStatusSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "status": {
      "type": "string",
      "enum": ["safe", "distress", "pending", "unresponsive"],
      "description": "The resident's current safety status."
    },
    "summary": {
      "type": "string",
      "description": "One sentence describing the resident's situation."
    }
  },
  "required": ["status"]
}`)

// reportStatusTool records an inline status report from the voice assistant.
type reportStatusTool struct {
	p *Processor
}

func (t *reportStatusTool) Name() string { return ReportStatusToolName }

func (t *reportStatusTool) Description() string {
	return "Report the resident's safety status as soon as it is known. Use distress when the resident needs urgent help."
}

func (t *reportStatusTool) Parameters() json.RawMessage { return reportStatusSchema }

type reportStatusArgs struct {
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

func (t *reportStatusTool) Execute(ctx context.Context, call *tools.Call) (string, error) {
	var args reportStatusArgs
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	status, ok := ParseResidentStatus(args.Status)
	if !ok {
		return "", fmt.Errorf("invalid status %q", args.Status)
	}
	return t.p.reportStatus(ctx, call.ResidentID, call.SessionID, status, strings.TrimSpace(args.Summary))
}
