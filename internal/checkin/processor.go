package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/floodvoice/internal/tools"
)

const (
	// DefaultClassifyTimeout bounds a single background classification.
	DefaultClassifyTimeout = 45 * time.Second

	// DefaultEndOfCallSummary fills the summary of a report that carried none.
	DefaultEndOfCallSummary = "Call completed."

	simulatedSummary = "Debug call simulation"
)

// TextClassifier assesses call text for distress.
type TextClassifier interface {
	Classify(ctx context.Context, text string) (*CallAnalysis, error)
}

// AlertDispatcher delivers distress alerts.
type AlertDispatcher interface {
	DispatchDistressAlert(ctx context.Context, a Alert) (*DispatchResult, error)
}

// ProcessorConfig holds the thresholds and timeouts of the event processor.
type ProcessorConfig struct {
	DistressThreshold int
	ClassifyTimeout   time.Duration
}

// AnalyzeResult reports a classification and any escalation it caused.
type AnalyzeResult struct {
	CallLogID         string          `json:"call_log_id"`
	Analysis          *CallAnalysis   `json:"analysis,omitempty"`
	DistressTriggered bool            `json:"distress_triggered"`
	AlertSent         bool            `json:"alert_sent"`
	Alert             *DispatchResult `json:"alert,omitempty"`
	AlertError        string          `json:"alert_error,omitempty"`
}

// Processor is the webhook state machine for check-in calls. It reconciles inline
// status reports and end-of-call reports for the same session through the store.
type Processor struct {
	store      Store
	classifier TextClassifier
	dispatcher AlertDispatcher
	tools      *tools.Registry
	cfg        ProcessorConfig
	logger     log.Logger
	hooks      Hooks
	now        func() time.Time

	wg sync.WaitGroup
}

// NewProcessor creates a processor and registers its voice assistant tools.
func NewProcessor(store Store, classifier TextClassifier, dispatcher AlertDispatcher, cfg ProcessorConfig, logger log.Logger, hooks Hooks) *Processor {
	if cfg.DistressThreshold <= 0 {
		cfg.DistressThreshold = DefaultDistressThreshold
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = DefaultClassifyTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	p := &Processor{
		store:      store,
		classifier: classifier,
		dispatcher: dispatcher,
		tools:      tools.NewRegistry(),
		cfg:        cfg,
		logger:     logger,
		hooks:      hooks,
		now:        time.Now,
	}
	p.tools.Register(&reportStatusTool{p: p})
	return p
}

// Tools returns the functions the voice assistant may invoke.
func (p *Processor) Tools() *tools.Registry { return p.tools }

// HandleEvent applies a canonical webhook event. Every recognized event yields a
// response body; failures are reported inside it, never as a transport error.
func (p *Processor) HandleEvent(ctx context.Context, ev *Event) *EventResponse {
	switch ev.Kind {
	case EventToolCalls:
		return p.handleInvocations(ctx, ev)
	case EventEndOfCall:
		return p.handleEndOfCall(ctx, ev)
	default:
		p.hooks.event(EventIgnored, "ok")
		return okResponse()
	}
}

func (p *Processor) handleInvocations(ctx context.Context, ev *Event) *EventResponse {
	L := p.logger.With("session_id", ev.Call.SessionID, "resident_id", ev.Call.ResidentID)

	outcome := "ok"
	results := make([]InvocationResult, 0, len(ev.Invocations))
	for _, inv := range ev.Invocations {
		res := InvocationResult{Name: inv.Name, ToolCallID: inv.CallID}

		tool, ok := p.tools.Get(inv.Name)
		switch {
		case ev.Call.ResidentID == "":
			res.Error = (&MissingInputError{What: "residentId in call metadata"}).Error()
		case !ok:
			res.Error = fmt.Sprintf("unknown function %q", inv.Name)
		default:
			out, err := tool.Execute(ctx, &tools.Call{
				ID:         inv.CallID,
				Name:       tool.Name(),
				Arguments:  inv.Arguments,
				SessionID:  ev.Call.SessionID,
				ResidentID: ev.Call.ResidentID,
			})
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Result = out
			}
		}

		if res.Error != "" {
			outcome = "error"
			L.Warn(ctx, "tool invocation failed", "function", inv.Name, "tool_call_id", inv.CallID, "error", res.Error)
		}
		results = append(results, res)
	}

	p.hooks.event(EventToolCalls, outcome)
	return &EventResponse{Results: results}
}

// reportStatus applies an inline status report: resident status, session log
// and, for distress, an immediate alert.
func (p *Processor) reportStatus(ctx context.Context, residentID, sessionID string, status ResidentStatus, summary string) (string, error) {
	L := p.logger.With("resident_id", residentID, "session_id", sessionID, "status", status)

	stored, err := p.store.UpdateResidentStatus(ctx, residentID, status, false)
	if err != nil {
		if errors.Is(err, ErrResidentNotFound) {
			return "", err
		}
		L.Error(ctx, err, "failed to update resident status")
		return "", persistErr("resident status", err)
	}
	if stored != status {
		L.Info(ctx, "resident stays in distress", "reported", status)
	}

	upd := &CallLogUpdate{
		ResidentID: residentID,
		SessionID:  sessionOrGenerated(sessionID),
		Summary:    summary,
		RiskLabel:  RiskForStatus(status),
	}
	cl, err := p.store.UpsertCallLog(ctx, upd)
	if errors.Is(err, ErrSessionConflict) {
		// the other resident's log stays untouched; this report gets its own
		upd.SessionID = sessionOrGenerated("")
		L.Warn(ctx, "session already logged for another resident, recording under a new session", "new_session_id", upd.SessionID)
		cl, err = p.store.UpsertCallLog(ctx, upd)
	}
	if err != nil {
		L.Error(ctx, err, "failed to upsert call log")
		return "", persistErr("call log", err)
	}

	L.Info(ctx, "status report recorded", "call_log_id", cl.ID)

	if status == StatusDistress {
		if _, _, err := p.escalate(ctx, cl, summary); err != nil {
			// the distress state is already recorded; a lost alert must not undo it
			L.Error(ctx, err, "distress alert failed", "call_log_id", cl.ID)
		}
	}

	return fmt.Sprintf("Status %s recorded.", stored), nil
}

func (p *Processor) handleEndOfCall(ctx context.Context, ev *Event) *EventResponse {
	L := p.logger.With("session_id", ev.Call.SessionID, "resident_id", ev.Call.ResidentID)

	if ev.Call.ResidentID == "" {
		p.hooks.event(EventEndOfCall, "missing_resident")
		L.Warn(ctx, "end-of-call report without residentId")
		return failResponse(&MissingInputError{What: "residentId in call metadata"})
	}

	rep := ev.Report
	if rep == nil {
		rep = &EndOfCallReport{}
	}

	cl, err := p.store.UpsertCallLog(ctx, &CallLogUpdate{
		ResidentID:      ev.Call.ResidentID,
		SessionID:       sessionOrGenerated(ev.Call.SessionID),
		Summary:         strings.TrimSpace(rep.Summary),
		FallbackSummary: DefaultEndOfCallSummary,
		Transcript:      rep.Transcript,
		RecordingURL:    rep.RecordingURL,
		RiskLabel:       RiskSafe,
	})
	if errors.Is(err, ErrSessionConflict) {
		p.hooks.event(EventEndOfCall, "session_conflict")
		L.Warn(ctx, "end-of-call report for a session logged under another resident")
		return failResponse(err)
	}
	if err != nil {
		p.hooks.event(EventEndOfCall, "persist_error")
		L.Error(ctx, err, "failed to persist end-of-call report")
		return failResponse(persistErr("call log", err))
	}

	L = L.With("call_log_id", cl.ID)
	L.Info(ctx, "end-of-call report stored", "ended_reason", rep.EndedReason)

	text := strings.TrimSpace(rep.Transcript)
	if text == "" {
		text = strings.TrimSpace(rep.Summary)
	}
	if text == "" {
		p.hooks.event(EventEndOfCall, "no_text")
		return okResponse()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		bg := context.WithoutCancel(ctx)
		if _, err := p.classifyAndEscalate(bg, cl, text); err != nil {
			L.Error(bg, err, "background classification failed")
		}
	}()

	p.hooks.event(EventEndOfCall, "ok")
	return okResponse()
}

// classifyAndEscalate classifies text for a call log, persists the analysis and
// escalates when the score reaches the distress threshold.
func (p *Processor) classifyAndEscalate(ctx context.Context, cl *CallLog, text string) (*AnalyzeResult, error) {
	L := p.logger.With("call_log_id", cl.ID, "resident_id", cl.ResidentID)

	cctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
	analysis, err := p.classifier.Classify(cctx, text)
	cancel()
	if err != nil {
		return nil, err
	}

	if err := p.store.SaveAnalysis(ctx, cl.ID, analysis, p.now()); err != nil {
		return nil, persistErr("analysis", err)
	}

	res := &AnalyzeResult{CallLogID: cl.ID, Analysis: analysis}
	if analysis.SentimentScore < p.cfg.DistressThreshold {
		L.Info(ctx, "no distress detected", "score", analysis.SentimentScore)
		return res, nil
	}

	res.DistressTriggered = true
	L.Warn(ctx, "distress detected", "score", analysis.SentimentScore, "tags", analysis.Tags)

	if _, err := p.store.UpdateResidentStatus(ctx, cl.ResidentID, StatusDistress, false); err != nil {
		return res, persistErr("resident status", err)
	}
	if err := p.store.MarkDistress(ctx, cl.ID); err != nil {
		return res, persistErr("call log risk label", err)
	}

	summary := analysis.KeyTopics
	if summary == "" {
		summary = cl.Summary
	}
	dr, sent, err := p.escalate(ctx, cl, summary)
	if err != nil {
		res.AlertError = err.Error()
		L.Error(ctx, err, "distress alert failed")
		return res, nil
	}
	res.Alert = dr
	res.AlertSent = sent
	return res, nil
}

// escalate claims the alert for a call log and dispatches it. It returns
// sent=false without error when another delivery already claimed it; a failed
// dispatch releases the claim so a later event can retry.
func (p *Processor) escalate(ctx context.Context, cl *CallLog, summary string) (*DispatchResult, bool, error) {
	L := p.logger.With("call_log_id", cl.ID, "resident_id", cl.ResidentID)

	won, err := p.store.ClaimAlert(ctx, cl.ID, p.now())
	if err != nil {
		return nil, false, persistErr("alert claim", err)
	}
	if !won {
		L.Info(ctx, "distress alert already dispatched for call")
		return nil, false, nil
	}

	name := ""
	if r, ok, err := p.store.GetResident(ctx, cl.ResidentID); err != nil {
		L.Warn(ctx, "resident lookup for alert failed", "error", err)
	} else if ok {
		name = r.Name
	}

	dr, err := p.dispatcher.DispatchDistressAlert(ctx, Alert{
		ResidentID:   cl.ResidentID,
		ResidentName: name,
		Summary:      summary,
	})
	if err != nil {
		if rerr := p.store.ReleaseAlert(ctx, cl.ID); rerr != nil {
			L.Error(ctx, rerr, "failed to release alert claim")
		}
		return nil, false, err
	}
	return dr, true, nil
}

// Analyze re-runs classification for a stored call log synchronously.
func (p *Processor) Analyze(ctx context.Context, callLogID string) (*AnalyzeResult, error) {
	cl, ok, err := p.store.GetCallLog(ctx, callLogID)
	if err != nil {
		return nil, persistErr("load call log", err)
	}
	if !ok {
		return nil, ErrCallLogNotFound
	}
	text := cl.AnalysisText()
	if text == "" {
		return nil, &MissingInputError{What: "call text"}
	}
	return p.classifyAndEscalate(ctx, cl, text)
}

// SimulateRequest describes a synthetic call for testing the pipeline end to end.
type SimulateRequest struct {
	ResidentID string `json:"residentId"`
	Transcript string `json:"transcript"`
	Summary    string `json:"summary,omitempty"`
}

// Simulate records a synthetic call log and classifies it synchronously. The
// returned result carries the call log id even when classification fails.
func (p *Processor) Simulate(ctx context.Context, req *SimulateRequest) (*AnalyzeResult, error) {
	if strings.TrimSpace(req.ResidentID) == "" {
		return nil, &MissingInputError{What: "residentId"}
	}
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, &MissingInputError{What: "transcript"}
	}
	if _, ok, err := p.store.GetResident(ctx, req.ResidentID); err != nil {
		return nil, persistErr("load resident", err)
	} else if !ok {
		return nil, ErrResidentNotFound
	}

	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		summary = simulatedSummary
	}
	cl, err := p.store.UpsertCallLog(ctx, &CallLogUpdate{
		ResidentID: req.ResidentID,
		SessionID:  "debug-" + ulid.Make().String(),
		Summary:    summary,
		Transcript: req.Transcript,
		RiskLabel:  RiskSafe,
	})
	if err != nil {
		if errors.Is(err, ErrSessionConflict) {
			return nil, err
		}
		return nil, persistErr("call log", err)
	}

	res, err := p.classifyAndEscalate(ctx, cl, req.Transcript)
	if err != nil {
		return &AnalyzeResult{CallLogID: cl.ID}, err
	}
	return res, nil
}

// SetResidentStatus is the operator override; it is the only way out of distress.
func (p *Processor) SetResidentStatus(ctx context.Context, residentID string, status ResidentStatus) (ResidentStatus, error) {
	if !status.Valid() {
		return "", fmt.Errorf("invalid status %q", status)
	}
	stored, err := p.store.UpdateResidentStatus(ctx, residentID, status, true)
	if err != nil {
		if errors.Is(err, ErrResidentNotFound) {
			return "", err
		}
		return "", persistErr("resident status", err)
	}
	p.logger.Info(ctx, "resident status set by operator", "resident_id", residentID, "status", stored)
	return stored, nil
}

// Wait blocks until background classifications finish or ctx is done.
func (p *Processor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sessionOrGenerated keeps a row per event even when the platform sent no call id.
func sessionOrGenerated(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return "local-" + ulid.Make().String()
}
