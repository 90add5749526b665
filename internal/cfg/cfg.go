package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// DefaultModels is the classifier fallback chain, fastest quota first.
const DefaultModels = "gemini-2.5-flash-lite,gemini-2.5-flash,gemini-2.0-flash-lite,gemini-2.0-flash"

// Config holds floodvoice settings alongside the go-core package configs
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL      string
	DBMaxConns       int
	DBQueryLogMillis int
	SQLitePath       string
	SeedFile         string

	LLMModels              string
	GeminiAPIKey           string
	GeminiBaseURL          string
	ClaudeAPIKey           string
	DistressThreshold      int
	ClassifyTimeoutSeconds int

	TelegramBotToken      string
	TelegramFallbackChat  string
	TelegramWebhookSecret string
	DashboardURL          string

	VapiAPIKey         string
	VapiBaseURL        string
	VapiPhoneNumberID  string
	VapiWebhookSecret  string
	PublicURL          string
	AssistantScript    string
	TriggerConcurrency int

	OperatorToken string
	CronSecret    string

	FloodNetBaseURL    string
	FloodNetDeployment string
	FloodThreshold     float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 0, "PostgreSQL pool size (0 = pgx default)")
	fs.IntVar(&c.DBQueryLogMillis, "db-query-log-millis", 0, "only log successful queries slower than this (0 = log all)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file (used when database-url is empty; both empty = in-memory store)")
	fs.StringVar(&c.SeedFile, "seed-file", "", "YAML dataset of liaisons and residents loaded at startup")

	fs.StringVar(&c.LLMModels, "llm-models", DefaultModels, "comma separated classifier model chain; claude-* models use Claude, others Gemini")
	fs.StringVar(&c.GeminiAPIKey, "gemini-api-key", "", "API key for Gemini")
	fs.StringVar(&c.GeminiBaseURL, "gemini-base-url", "", "Gemini OpenAI-compatible base URL (empty = public endpoint)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for Claude")
	fs.IntVar(&c.DistressThreshold, "distress-threshold", 7, "sentiment score at which a call is distress (1..10)")
	fs.IntVar(&c.ClassifyTimeoutSeconds, "classify-timeout-seconds", 45, "timeout for one background classification (1..300)")

	fs.StringVar(&c.TelegramBotToken, "telegram-bot-token", "", "Telegram bot token (empty = alerts are logged only)")
	fs.StringVar(&c.TelegramFallbackChat, "telegram-fallback-chat-id", "", "chat id that receives alerts when no liaison has one (empty = built-in default)")
	fs.StringVar(&c.TelegramWebhookSecret, "telegram-webhook-secret", "", "secret token Telegram sends with bot webhooks")
	fs.StringVar(&c.DashboardURL, "dashboard-url", "", "dashboard base URL linked from alerts")

	fs.StringVar(&c.VapiAPIKey, "vapi-api-key", "", "Vapi API key (empty = check-in calls disabled)")
	fs.StringVar(&c.VapiBaseURL, "vapi-base-url", "", "Vapi API base URL (empty = public endpoint)")
	fs.StringVar(&c.VapiPhoneNumberID, "vapi-phone-number-id", "", "Vapi phone number id used for outbound calls")
	fs.StringVar(&c.VapiWebhookSecret, "vapi-webhook-secret", "", "shared secret expected in X-Vapi-Secret")
	fs.StringVar(&c.PublicURL, "public-url", "", "externally reachable base URL of this server, for Vapi webhooks")
	fs.StringVar(&c.AssistantScript, "assistant-script", "", "YAML voice assistant script, reloaded on change (empty = built-in)")
	fs.IntVar(&c.TriggerConcurrency, "trigger-concurrency", 5, "maximum concurrent outbound calls per trigger (1..50)")

	fs.StringVar(&c.OperatorToken, "operator-token", "", "bearer token for operator endpoints")
	fs.StringVar(&c.CronSecret, "cron-secret", "", "bearer token for the flood monitor cron endpoint")

	fs.StringVar(&c.FloodNetBaseURL, "floodnet-base-url", "", "FloodNet API base URL (empty = public endpoint)")
	fs.StringVar(&c.FloodNetDeployment, "floodnet-deployment", "", "FloodNet deployment id to monitor (empty = default sensor)")
	fs.Float64Var(&c.FloodThreshold, "flood-threshold-inches", 4, "water depth that triggers a flood broadcast")
}

// Models returns the classifier model chain in order.
func (c *Config) Models() []string {
	var out []string
	for _, m := range strings.Split(c.LLMModels, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// IsClaudeModel reports whether a model id is served by Claude.
func IsClaudeModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "claude")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}
	if c.DBMaxConns < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be >= 0)", c.DBMaxConns))
	}
	if c.DBQueryLogMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_QUERY_LOG_MILLIS %d (must be >= 0)", c.DBQueryLogMillis))
	}

	// every model in the chain needs a key for the provider that serves it
	models := c.Models()
	if len(models) == 0 {
		errs = append(errs, errors.New("LLM_MODELS must name at least one model"))
	}
	for _, m := range models {
		if IsClaudeModel(m) && c.ClaudeAPIKey == "" {
			errs = append(errs, fmt.Errorf("CLAUDE_API_KEY is required for model %s", m))
			break
		}
	}
	for _, m := range models {
		if !IsClaudeModel(m) && c.GeminiAPIKey == "" {
			errs = append(errs, fmt.Errorf("GEMINI_API_KEY is required for model %s", m))
			break
		}
	}

	if c.DistressThreshold < 1 || c.DistressThreshold > 10 {
		errs = append(errs, fmt.Errorf("invalid DISTRESS_THRESHOLD %d (must be 1..10)", c.DistressThreshold))
	}
	if c.ClassifyTimeoutSeconds <= 0 || c.ClassifyTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid CLASSIFY_TIMEOUT_SECONDS %d (must be 1..300)", c.ClassifyTimeoutSeconds))
	}
	if c.TriggerConcurrency < 1 || c.TriggerConcurrency > 50 {
		errs = append(errs, fmt.Errorf("invalid TRIGGER_CONCURRENCY %d (must be 1..50)", c.TriggerConcurrency))
	}
	if c.FloodThreshold <= 0 {
		errs = append(errs, fmt.Errorf("invalid FLOOD_THRESHOLD_INCHES %g (must be > 0)", c.FloodThreshold))
	}

	// Vapi needs a number to call from and a URL to send webhooks to
	if c.VapiAPIKey != "" {
		if c.VapiPhoneNumberID == "" {
			errs = append(errs, errors.New("VAPI_PHONE_NUMBER_ID is required when VAPI_API_KEY is set"))
		}
		if c.PublicURL == "" {
			errs = append(errs, errors.New("PUBLIC_URL is required when VAPI_API_KEY is set"))
		}
	}

	// Operator token protects trigger, analysis and resident endpoints
	if c.OperatorToken == "" {
		errs = append(errs, errors.New("OPERATOR_TOKEN is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
