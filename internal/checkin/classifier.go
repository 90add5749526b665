package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultDistressThreshold is the sentiment score at which a call counts as distress.
	DefaultDistressThreshold = 7

	// AnalysisSchemaName names the structured output for providers that need one.
	AnalysisSchemaName = "call_analysis"

	maxKeyTopicWords  = 15
	analysisMaxTokens = 512
	maxSentimentScore = 10
)

var tracer = otel.Tracer("github.com/linnemanlabs/floodvoice/internal/checkin")

// AnalysisSchema is the JSON schema the model output must satisfy.
var AnalysisSchema = func() json.RawMessage {
	enum := make([]string, len(Vocabulary))
	for i, t := range Vocabulary {
		enum[i] = string(t)
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "enum": enum},
			},
			"sentiment_score": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"maximum": maxSentimentScore,
			},
			"key_topics": map[string]any{"type": "string"},
		},
		"required":             []string{"tags", "sentiment_score", "key_topics"},
		"additionalProperties": false,
	}
	b, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return b
}()

// Classifier turns call text into a CallAnalysis, walking an ordered model chain.
type Classifier struct {
	provider Provider
	models   []string
	logger   log.Logger
	hooks    Hooks
}

// NewClassifier creates a classifier that tries models in order.
func NewClassifier(provider Provider, models []string, logger log.Logger, hooks Hooks) *Classifier {
	if logger == nil {
		logger = log.Nop()
	}
	chain := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			chain = append(chain, m)
		}
	}
	return &Classifier{
		provider: provider,
		models:   chain,
		logger:   logger,
		hooks:    hooks,
	}
}

// Models returns the fallback chain in the order it is tried.
func (c *Classifier) Models() []string {
	return append([]string(nil), c.models...)
}

// Classify assesses text for distress. A rate-limited model falls through to the
// next one; any other provider error fails immediately.
func (c *Classifier) Classify(ctx context.Context, text string) (*CallAnalysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &MissingInputError{What: "call text"}
	}
	if len(c.models) == 0 {
		return nil, &ClassificationError{Model: "none", Err: errors.New("no models configured")}
	}

	ctx, span := tracer.Start(ctx, "checkin.Classify")
	defer span.End()

	req := &CompletionRequest{
		System:     systemPrompt,
		Prompt:     buildPrompt(text),
		SchemaName: AnalysisSchemaName,
		Schema:     AnalysisSchema,
		MaxTokens:  analysisMaxTokens,
	}

	var lastErr error
	for i, model := range c.models {
		L := c.logger.With("model", model, "attempt", i+1)
		req.Model = model

		start := time.Now()
		resp, err := c.complete(ctx, req)
		dur := time.Since(start).Seconds()

		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				c.hooks.llmCall(model, "rate_limited", dur, Usage{})
				L.Warn(ctx, "model rate limited, trying next", "error", err)
				lastErr = err
				continue
			}
			c.hooks.llmCall(model, "error", dur, Usage{})
			c.hooks.classified("error")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, &ClassificationError{Model: model, Err: err}
		}
		c.hooks.llmCall(model, "ok", dur, resp.Usage)

		analysis, err := c.parse(ctx, model, resp.Text)
		if err != nil {
			c.hooks.classified("malformed")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		span.SetAttributes(
			attribute.String("floodvoice.model", model),
			attribute.Int("floodvoice.sentiment_score", analysis.SentimentScore),
		)
		c.hooks.classified("ok")
		L.Info(ctx, "call classified", "score", analysis.SentimentScore, "tags", analysis.Tags)
		return analysis, nil
	}

	c.hooks.classified("exhausted")
	err := &AllModelsExhaustedError{Models: c.Models(), Err: lastErr}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func (c *Classifier) complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("gen_ai.request.model", req.Model),
	))
	defer span.End()

	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("floodvoice.rate_limited", errors.Is(err, ErrRateLimited)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

type rawAnalysis struct {
	Tags           []string        `json:"tags"`
	SentimentScore json.RawMessage `json:"sentiment_score"`
	KeyTopics      *string         `json:"key_topics"`
}

// parse validates the model payload. Nothing is defaulted: a missing or out of
// range field is a MalformedResponseError.
func (c *Classifier) parse(ctx context.Context, model, text string) (*CallAnalysis, error) {
	malformed := func(err error) error {
		return &MalformedResponseError{Model: model, Payload: text, Err: err}
	}

	dec := json.NewDecoder(strings.NewReader(stripCodeFence(text)))
	dec.DisallowUnknownFields()

	var raw rawAnalysis
	if err := dec.Decode(&raw); err != nil {
		return nil, malformed(fmt.Errorf("decode: %w", err))
	}
	if dec.More() {
		return nil, malformed(errors.New("trailing data after analysis object"))
	}
	if len(raw.SentimentScore) == 0 || string(raw.SentimentScore) == "null" {
		return nil, malformed(errors.New("sentiment_score missing"))
	}
	if raw.KeyTopics == nil {
		return nil, malformed(errors.New("key_topics missing"))
	}
	if raw.Tags == nil {
		return nil, malformed(errors.New("tags missing"))
	}

	// a quoted number is a schema violation, not something to coerce
	f, err := strconv.ParseFloat(string(raw.SentimentScore), 64)
	if err != nil {
		return nil, malformed(fmt.Errorf("sentiment_score %s is not a number", raw.SentimentScore))
	}
	if f != math.Trunc(f) || f < 0 || f > maxSentimentScore {
		return nil, malformed(fmt.Errorf("sentiment_score %s outside 0..%d", raw.SentimentScore, maxSentimentScore))
	}

	tags, rejected := FilterTags(raw.Tags)
	if len(rejected) > 0 {
		c.logger.Warn(ctx, "dropped tags outside vocabulary", "model", model, "rejected", rejected)
	}

	return &CallAnalysis{
		Tags:           tags,
		SentimentScore: int(f),
		KeyTopics:      limitWords(strings.TrimSpace(*raw.KeyTopics), maxKeyTopicWords),
		Model:          model,
	}, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func limitWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ")
}

const systemPrompt = `You are an emergency response AI for a flood-response liaison dashboard.
You analyze transcripts of automated safety check-in calls with vulnerable residents.
Respond only with the requested JSON object.`

// buildPrompt encodes the scoring bands, the closed tag vocabulary and the key topics contract.
func buildPrompt(text string) string {
	tags := make([]string, len(Vocabulary))
	for i, t := range Vocabulary {
		tags[i] = fmt.Sprintf("%q", t)
	}
	return fmt.Sprintf(`Analyze this check-in call transcript.

TRANSCRIPT:
"""
%s
"""

RULES:
1. sentiment_score (integer 0-10):
   - 1-3: calm, informational, safe.
   - 4-6: concerned, anxious, mild needs.
   - 7-8: distressed, urgent needs, crying.
   - 9-10: panic, life-threatening, screaming.
2. tags: choose strictly from [%s]. If uncertain use "Safe".
3. key_topics: one sentence, at most %d words, focused on the resident's needs.

Return JSON: {"tags": [...], "sentiment_score": <int>, "key_topics": "<sentence>"}`,
		text, strings.Join(tags, ", "), maxKeyTopicWords)
}
