package checkin

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultTriggerConcurrency bounds parallel outbound call starts.
const DefaultTriggerConcurrency = 5

// CallRequest asks the voice platform to ring a resident.
type CallRequest struct {
	ResidentID string
	Name       string
	Phone      string
	Language   string
}

// VoiceCaller starts outbound check-in calls and returns the platform session id.
type VoiceCaller interface {
	StartCall(ctx context.Context, req *CallRequest) (string, error)
}

// TriggerResult is the outcome for one resident.
type TriggerResult struct {
	ResidentID string `json:"residentId"`
	OK         bool   `json:"ok"`
	SessionID  string `json:"sessionId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TriggerReport lists per-resident outcomes in selection order.
type TriggerReport struct {
	Message string          `json:"message"`
	Results []TriggerResult `json:"results"`
}

// Succeeded counts the residents whose call was started.
func (r *TriggerReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK {
			n++
		}
	}
	return n
}

// Orchestrator fans out check-in calls with bounded concurrency.
type Orchestrator struct {
	store       Store
	caller      VoiceCaller
	concurrency int
	logger      log.Logger
	hooks       Hooks
}

// NewOrchestrator creates an orchestrator. A non-positive concurrency uses DefaultTriggerConcurrency.
func NewOrchestrator(store Store, caller VoiceCaller, concurrency int, logger log.Logger, hooks Hooks) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultTriggerConcurrency
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{
		store:       store,
		caller:      caller,
		concurrency: concurrency,
		logger:      logger,
		hooks:       hooks,
	}
}

// TriggerCheckIns calls one resident, or every resident not marked unresponsive
// when targetResidentID is empty. Residents without a phone are skipped. One
// resident's failure never affects the others.
func (o *Orchestrator) TriggerCheckIns(ctx context.Context, targetResidentID string) (*TriggerReport, error) {
	targeted := strings.TrimSpace(targetResidentID) != ""

	var selected []Resident
	if targeted {
		r, ok, err := o.store.GetResident(ctx, targetResidentID)
		if err != nil {
			return nil, persistErr("load resident", err)
		}
		if !ok {
			return nil, ErrResidentNotFound
		}
		selected = []Resident{*r}
	} else {
		all, err := o.store.ListResidentsForCheckIn(ctx)
		if err != nil {
			return nil, persistErr("list residents", err)
		}
		for _, r := range all {
			if r.Status != StatusUnresponsive {
				selected = append(selected, r)
			}
		}
	}

	eligible := selected[:0:0]
	for _, r := range selected {
		if strings.TrimSpace(r.Phone) != "" {
			eligible = append(eligible, r)
		}
	}

	results := make([]TriggerResult, len(eligible))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, r := range eligible {
		g.Go(func() error {
			results[i] = o.call(ctx, &r, targeted)
			return nil
		})
	}
	_ = g.Wait()

	report := &TriggerReport{Results: results}
	report.Message = fmt.Sprintf("Triggered %d calls, %d succeeded", len(results), report.Succeeded())
	o.logger.Info(ctx, "check-in calls triggered",
		"selected", len(selected),
		"attempted", len(results),
		"succeeded", report.Succeeded(),
	)
	return report, nil
}

func (o *Orchestrator) call(ctx context.Context, r *Resident, override bool) TriggerResult {
	L := o.logger.With("resident_id", r.ID)
	res := TriggerResult{ResidentID: r.ID}

	if _, err := o.store.UpdateResidentStatus(ctx, r.ID, StatusPending, override); err != nil {
		o.hooks.checkInCall("persist_error")
		L.Error(ctx, err, "failed to mark resident pending")
		res.Error = persistErr("resident status", err).Error()
		return res
	}

	sessionID, err := o.caller.StartCall(ctx, &CallRequest{
		ResidentID: r.ID,
		Name:       r.Name,
		Phone:      NormalizePhone(r.Phone),
		Language:   r.Language,
	})
	if err != nil {
		o.hooks.checkInCall("error")
		L.Warn(ctx, "check-in call failed", "error", err)
		res.Error = err.Error()
		return res
	}

	o.hooks.checkInCall("ok")
	res.OK = true
	res.SessionID = sessionID
	return res
}

// NormalizePhone turns a stored number into E.164-ish form: ten digits get a +1
// country code, eleven digits starting with 1 get a +, anything else gets a +
// in front of its digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	digits := b.String()
	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return "+" + digits
	}
}
