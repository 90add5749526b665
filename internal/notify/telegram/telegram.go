// Package telegram delivers liaison alerts through the Telegram Bot API.
package telegram

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

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

// DefaultBaseURL is the Telegram Bot API root.
const DefaultBaseURL = "https://api.telegram.org"

const (
	// maxMessageLen is Telegram's limit for a sendMessage text.
	maxMessageLen      = 4096
	httpTimeout        = 10 * time.Second
	defaultMaxAttempts = 3
	defaultMaxElapsed  = 15 * time.Second
	// maxRetryAfter is the longest flood-control wait Send will sit out.
	maxRetryAfter = 5 * time.Second
)

// Options configures the Sender.
type Options struct {
	Token       string
	BaseURL     string
	HTTPClient  *http.Client
	MaxAttempts uint

	// MaxElapsed bounds one Send including retries. Defaults to 15s.
	MaxElapsed time.Duration

	// InitialBackoff overrides the first retry delay; tests set it low.
	InitialBackoff time.Duration
}

// Sender implements checkin.Sender on the Bot API sendMessage method.
type Sender struct {
	token       string
	baseURL     string
	client      *http.Client
	maxAttempts uint
	maxElapsed  time.Duration
	initial     time.Duration
	logger      log.Logger
}

// New creates a Sender. If the token is empty, Send returns checkin.ErrSenderDisabled.
func New(opts Options, logger log.Logger) *Sender {
	s := &Sender{
		token:       opts.Token,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		client:      opts.HTTPClient,
		maxAttempts: opts.MaxAttempts,
		maxElapsed:  opts.MaxElapsed,
		initial:     opts.InitialBackoff,
		logger:      logger,
	}
	if s.baseURL == "" {
		s.baseURL = DefaultBaseURL
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: httpTimeout}
	}
	if s.maxAttempts == 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.maxElapsed <= 0 {
		s.maxElapsed = defaultMaxElapsed
	}
	if s.logger == nil {
		s.logger = log.Nop()
	}
	return s
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// APIError is a non-OK Bot API answer.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: status %d: %s", e.StatusCode, e.Description)
}

// Enabled reports whether the Sender has a bot token.
func (s *Sender) Enabled() bool { return s.token != "" }

// Send posts text to chat. 429 and 5xx answers are retried with exponential
// backoff, honoring a short retry_after; other failures return immediately.
// The whole call, retries included, is bounded by MaxElapsed.
func (s *Sender) Send(ctx context.Context, chat checkin.ChatAddress, text, parseMode string) error {
	if s.token == "" {
		s.logger.Warn(ctx, "telegram bot token not configured, dropping message", "chat_id", string(chat))
		return checkin.ErrSenderDisabled
	}
	if chat == "" {
		return errors.New("telegram: empty chat id")
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    string(chat),
		Text:      truncate(text, maxMessageLen),
		ParseMode: parseMode,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal message: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	if s.initial > 0 {
		b.InitialInterval = s.initial
	}

	ctx, cancel := context.WithTimeout(ctx, s.maxElapsed)
	defer cancel()

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.post(ctx, body)
		if err != nil {
			s.logger.Warn(ctx, "telegram send attempt failed", "chat_id", string(chat), "attempt", attempt, "error", err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxAttempts), backoff.WithMaxElapsedTime(s.maxElapsed))
	return err
}

func (s *Sender) post(ctx context.Context, body []byte) error {
	url := s.baseURL + "/bot" + s.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("telegram: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req) //nolint:gosec // base URL is from trusted config
	if err != nil {
		return fmt.Errorf("telegram: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ar apiResponse
	_ = json.Unmarshal(raw, &ar)
	if resp.StatusCode == http.StatusOK && ar.OK {
		return nil
	}

	desc := ar.Description
	if desc == "" {
		desc = strings.TrimSpace(string(raw))
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Description: desc}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests && time.Duration(ar.Parameters.RetryAfter)*time.Second > maxRetryAfter:
		return backoff.Permanent(apiErr)
	case resp.StatusCode == http.StatusTooManyRequests && ar.Parameters.RetryAfter > 0:
		return errors.Join(apiErr, backoff.RetryAfter(ar.Parameters.RetryAfter))
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return apiErr
	default:
		return backoff.Permanent(apiErr)
	}
}

// StartReply is the answer to a /start command, telling a liaison which chat id to register.
func StartReply(chatID int64) string {
	return fmt.Sprintf("Welcome to FloodVoice! 🌊\n\nYour Chat ID is: `%d`\n\nPlease enter this ID in your Dashboard Settings to receive alerts.", chatID)
}

// Update is the subset of a Bot API update the webhook reads.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an incoming chat message.
type Message struct {
	Text string `json:"text"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// IsStart reports whether the update is a /start command (with or without a bot mention or payload).
func (u *Update) IsStart() bool {
	if u == nil || u.Message == nil {
		return false
	}
	cmd, _, _ := strings.Cut(strings.TrimSpace(u.Message.Text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == "/start"
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

var _ checkin.Sender = (*Sender)(nil)
