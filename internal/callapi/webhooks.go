package callapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
	"github.com/linnemanlabs/floodvoice/internal/notify/telegram"
	"github.com/linnemanlabs/floodvoice/internal/voice/vapi"
)

// handleVapiWebhook answers 200 for every recognized event, even when processing
// failed; only unparseable payloads get a 400.
func (a *API) handleVapiWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body"})
		return
	}

	ev, err := vapi.ParseWebhook(body)
	if err != nil {
		a.logger.Warn(r.Context(), "rejected voice webhook", "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("floodvoice.event.type", ev.RawType),
		attribute.String("floodvoice.call.session_id", ev.Call.SessionID),
		attribute.String("floodvoice.resident.id", ev.Call.ResidentID),
	)

	resp := a.deps.Processor.HandleEvent(r.Context(), ev)
	writeJSON(w, http.StatusOK, resp)
}

// handleTelegramWebhook replies to /start with the chat id a liaison registers in
// their profile. Other updates are acknowledged and dropped. Delivery failures
// are logged but still acknowledged so the Bot API does not redeliver.
func (a *API) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var upd telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	if upd.IsStart() {
		chatID := upd.Message.Chat.ID
		chat := checkin.ChatAddress(strconv.FormatInt(chatID, 10))
		if err := a.deps.Chat.Send(r.Context(), chat, telegram.StartReply(chatID), "Markdown"); err != nil {
			var apiErr *telegram.APIError
			if !errors.As(err, &apiErr) {
				a.logger.Error(r.Context(), err, "failed to answer /start", "chat_id", chatID)
			} else {
				a.logger.Warn(r.Context(), "telegram rejected /start reply", "chat_id", chatID, "status", apiErr.StatusCode)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
