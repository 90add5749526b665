package checkin

import (
	"strings"
	"time"
)

// ResidentStatus is the safety state shown for a resident on the dashboard.
type ResidentStatus string

const (
	// StatusPending means a check-in call is outstanding
	StatusPending ResidentStatus = "pending"

	// StatusSafe means the last check-in found the resident safe
	StatusSafe ResidentStatus = "safe"

	// StatusDistress means the resident needs urgent help. Sticky until cleared by an operator.
	StatusDistress ResidentStatus = "distress"

	// StatusUnresponsive means the resident could not be reached and is excluded from batch check-ins
	StatusUnresponsive ResidentStatus = "unresponsive"
)

// Valid reports whether s is one of the known resident statuses.
func (s ResidentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSafe, StatusDistress, StatusUnresponsive:
		return true
	}
	return false
}

// ParseResidentStatus parses a status reported by the voice assistant or an operator.
func ParseResidentStatus(s string) (ResidentStatus, bool) {
	st := ResidentStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// RiskLabel is the per-call risk classification.
type RiskLabel string

const (
	RiskPending  RiskLabel = "pending"
	RiskSafe     RiskLabel = "safe"
	RiskDistress RiskLabel = "distress"
)

// rank orders labels so merges only ever move upward: pending < safe < distress.
func (l RiskLabel) rank() int {
	switch l {
	case RiskDistress:
		return 2
	case RiskSafe:
		return 1
	default:
		return 0
	}
}

// MaxRisk returns the more severe of two labels.
func MaxRisk(a, b RiskLabel) RiskLabel {
	if b.rank() > a.rank() {
		return b
	}
	if a == "" {
		return RiskPending
	}
	return a
}

// RiskForStatus maps a reported resident status onto a call risk label.
func RiskForStatus(s ResidentStatus) RiskLabel {
	switch s {
	case StatusDistress:
		return RiskDistress
	case StatusSafe:
		return RiskSafe
	default:
		return RiskPending
	}
}

// Resident is a person enrolled for automated safety check-ins.
type Resident struct {
	ID               string         `json:"id" yaml:"id"`
	Name             string         `json:"name" yaml:"name"`
	Phone            string         `json:"phone,omitempty" yaml:"phone"`
	Age              int            `json:"age,omitempty" yaml:"age"`
	Address          string         `json:"address,omitempty" yaml:"address"`
	Language         string         `json:"language,omitempty" yaml:"language"`
	HealthConditions []string       `json:"health_conditions,omitempty" yaml:"health_conditions"`
	LiaisonID        string         `json:"liaison_id,omitempty" yaml:"liaison_id"`
	Status           ResidentStatus `json:"status" yaml:"status"`
	UpdatedAt        time.Time      `json:"updated_at" yaml:"-"`
}

// LiaisonProfile maps a liaison to the chat address that receives their alerts.
type LiaisonProfile struct {
	ID             string      `json:"id" yaml:"id"`
	DisplayName    string      `json:"display_name,omitempty" yaml:"display_name"`
	OrgName        string      `json:"org_name,omitempty" yaml:"org_name"`
	TelegramChatID ChatAddress `json:"telegram_chat_id,omitempty" yaml:"telegram_chat_id"`
}

// ChatAddress is a chat-bot destination (a Telegram chat id).
type ChatAddress string

// CallLog is one record per check-in call session.
type CallLog struct {
	ID             string     `json:"id"`
	ResidentID     string     `json:"resident_id"`
	SessionID      string     `json:"session_id"`
	Summary        string     `json:"summary,omitempty"`
	Transcript     string     `json:"transcript,omitempty"`
	RecordingURL   string     `json:"recording_url,omitempty"`
	RiskLabel      RiskLabel  `json:"risk_label"`
	Tags           []Tag      `json:"tags,omitempty"`
	SentimentScore *int       `json:"sentiment_score,omitempty"`
	KeyTopics      string     `json:"key_topics,omitempty"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	AlertedAt      *time.Time `json:"alerted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Processed reports whether the AI enrichment has been persisted.
func (c *CallLog) Processed() bool { return c.ProcessedAt != nil }

// AnalysisText returns the text to classify: the raw transcript, or the summary when there is none.
// The placeholder summary stored for empty reports is not classifiable text.
func (c *CallLog) AnalysisText() string {
	if t := strings.TrimSpace(c.Transcript); t != "" {
		return t
	}
	if s := strings.TrimSpace(c.Summary); s != DefaultEndOfCallSummary {
		return s
	}
	return ""
}

// CallAnalysis is the structured distress assessment produced by the classifier.
type CallAnalysis struct {
	Tags           []Tag  `json:"tags"`
	SentimentScore int    `json:"sentiment_score"`
	KeyTopics      string `json:"key_topics"`
	Model          string `json:"model,omitempty"`
}

// CallLogUpdate carries the fields an event contributes to a session's call log.
// Empty strings leave stored values untouched. FallbackSummary is written only
// when the log has no summary yet.
type CallLogUpdate struct {
	ResidentID      string
	SessionID       string
	Summary         string
	FallbackSummary string
	Transcript      string
	RecordingURL    string
	RiskLabel       RiskLabel
}

// Apply merges u into c the way every store does: non-empty fields overwrite,
// the risk label only moves toward distress.
func (u *CallLogUpdate) Apply(c *CallLog) {
	if u.ResidentID != "" && c.ResidentID == "" {
		c.ResidentID = u.ResidentID
	}
	switch {
	case u.Summary != "":
		c.Summary = u.Summary
	case c.Summary == "":
		c.Summary = u.FallbackSummary
	}
	if u.Transcript != "" {
		c.Transcript = u.Transcript
	}
	if u.RecordingURL != "" {
		c.RecordingURL = u.RecordingURL
	}
	c.RiskLabel = MaxRisk(c.RiskLabel, u.RiskLabel)
}
