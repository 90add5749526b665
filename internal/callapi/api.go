// Package callapi exposes the check-in pipeline over HTTP: platform webhooks,
// operator actions and the flood monitor cron endpoint.
package callapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/floodvoice/internal/authmw"
	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

const maxBodyBytes = 1 << 20

// Header names of the inbound webhook shared secrets.
const (
	VapiSecretHeader     = "X-Vapi-Secret"
	TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// CallProcessor is the slice of checkin.Processor the handlers drive.
type CallProcessor interface {
	HandleEvent(ctx context.Context, ev *checkin.Event) *checkin.EventResponse
	Analyze(ctx context.Context, callLogID string) (*checkin.AnalyzeResult, error)
	Simulate(ctx context.Context, req *checkin.SimulateRequest) (*checkin.AnalyzeResult, error)
	SetResidentStatus(ctx context.Context, residentID string, status checkin.ResidentStatus) (checkin.ResidentStatus, error)
}

// CheckInTrigger starts outbound check-in calls.
type CheckInTrigger interface {
	TriggerCheckIns(ctx context.Context, targetResidentID string) (*checkin.TriggerReport, error)
}

// FloodChecker runs one flood monitor pass.
type FloodChecker interface {
	Check(ctx context.Context) (*checkin.FloodCheckResult, error)
}

// Records is the read and delete access the operator endpoints need.
type Records interface {
	GetResident(ctx context.Context, id string) (*checkin.Resident, bool, error)
	DeleteResident(ctx context.Context, id string) (bool, error)
	GetCallLog(ctx context.Context, id string) (*checkin.CallLog, bool, error)
}

// Deps are the services behind the API. Trigger, Flood and Chat are optional;
// their routes are not mounted when nil.
type Deps struct {
	Processor CallProcessor
	Records   Records
	Trigger   CheckInTrigger
	Flood     FloodChecker
	Chat      checkin.Sender
}

// Secrets configures request authentication. Empty webhook secrets disable the
// check; an empty OperatorToken locks the operator routes.
type Secrets struct {
	OperatorToken  string
	CronSecret     string
	VapiSecret     string
	TelegramSecret string
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	deps    Deps
	secrets Secrets
}

// New creates a new API handler.
func New(logger log.Logger, deps Deps, secrets Secrets) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if deps.Processor == nil {
		panic(xerrors.New("call processor is required"))
	}
	if deps.Records == nil {
		panic(xerrors.New("records store is required"))
	}
	return &API{
		logger:  logger,
		deps:    deps,
		secrets: secrets,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.With(authmw.SharedSecretHeader(VapiSecretHeader, a.secrets.VapiSecret)).
			Post("/vapi/webhook", a.handleVapiWebhook)

		if a.deps.Chat != nil {
			r.With(authmw.SharedSecretHeader(TelegramSecretHeader, a.secrets.TelegramSecret)).
				Post("/telegram/webhook", a.handleTelegramWebhook)
		}

		if a.deps.Flood != nil {
			r.With(authmw.BearerToken(a.secrets.CronSecret, a.secrets.OperatorToken)).
				Get("/cron/flood-monitor", a.handleFloodMonitor)
		}

		r.Group(func(r chi.Router) {
			r.Use(authmw.BearerToken(a.secrets.OperatorToken))

			if a.deps.Trigger != nil {
				r.Post("/checkins", a.handleTriggerCheckIns)
			}
			r.Post("/calls/simulate", a.handleSimulateCall)
			r.Post("/calls/{id}/analyze", a.handleAnalyzeCall)
			r.Get("/calls/{id}", a.handleGetCall)
			r.Get("/residents/{id}", a.handleGetResident)
			r.Delete("/residents/{id}", a.handleDeleteResident)
			r.Post("/residents/{id}/status", a.handleSetResidentStatus)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	CallLogID string `json:"call_log_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// writeError maps domain errors onto HTTP statuses. Classification failures are
// upstream failures and surface as 502 with the call marked unprocessed.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, callLogID string) {
	var (
		missing    *checkin.MissingInputError
		exhausted  *checkin.AllModelsExhaustedError
		classErr   *checkin.ClassificationError
		malformed  *checkin.MalformedResponseError
		persistErr *checkin.PersistenceError
	)

	body := errorBody{Error: err.Error(), CallLogID: callLogID}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, checkin.ErrResidentNotFound), errors.Is(err, checkin.ErrCallLogNotFound):
		status = http.StatusNotFound
	case errors.Is(err, checkin.ErrSessionConflict):
		status = http.StatusConflict
	case errors.As(err, &missing):
		status = http.StatusBadRequest
	case errors.As(err, &exhausted), errors.As(err, &classErr), errors.As(err, &malformed):
		status = http.StatusBadGateway
		body.Status = "unprocessed"
	case errors.As(err, &persistErr):
		a.logger.Error(r.Context(), err, "persistence failure", "path", r.URL.Path)
		body.Error = "internal error"
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
	}
	writeJSON(w, status, body)
}

// decodeBody reads an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
