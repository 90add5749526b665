package callapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
	"github.com/linnemanlabs/floodvoice/internal/checkin/memstore"
)

const (
	operatorToken = "op-token"
	cronSecret    = "cron-secret"
	liaisonChat   = checkin.ChatAddress("111")
)

type keywordClassifier struct {
	mu  sync.Mutex
	n   int
	err error
}

func (c *keywordClassifier) Classify(_ context.Context, text string) (*checkin.CallAnalysis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if c.err != nil {
		return nil, c.err
	}
	if strings.Contains(strings.ToLower(text), "help") {
		return &checkin.CallAnalysis{Tags: []checkin.Tag{checkin.TagEvacuation}, SentimentScore: 9, KeyTopics: "Trapped by water."}, nil
	}
	return &checkin.CallAnalysis{Tags: []checkin.Tag{checkin.TagSafe}, SentimentScore: 2, KeyTopics: "Resident is fine."}, nil
}

type sentMessage struct {
	chat checkin.ChatAddress
	text string
	mode string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *recordingSender) Send(_ context.Context, chat checkin.ChatAddress, text, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{chat: chat, text: text, mode: mode})
	return nil
}

func (s *recordingSender) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fakeCaller struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]string
}

func (f *fakeCaller) StartCall(_ context.Context, req *checkin.CallRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.ResidentID)
	if msg, ok := f.fail[req.ResidentID]; ok {
		return "", errors.New(msg)
	}
	return "call-" + req.ResidentID, nil
}

type fixedFloodSource struct {
	depth float64
}

func (f fixedFloodSource) LatestReading(_ context.Context, _ time.Time) (*checkin.FloodReading, bool, error) {
	return &checkin.FloodReading{SensorName: "sensor-1", DepthInches: f.depth}, true, nil
}

type harness struct {
	router     chi.Router
	store      *memstore.Store
	processor  *checkin.Processor
	classifier *keywordClassifier
	sender     *recordingSender
	caller     *fakeCaller
}

type harnessOption func(*Deps, *Secrets)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		store:      memstore.New(),
		classifier: &keywordClassifier{},
		sender:     &recordingSender{},
		caller:     &fakeCaller{fail: map[string]string{}},
	}
	mustPut(t, h.store.PutLiaison(ctx, &checkin.LiaisonProfile{ID: "liaison-1", DisplayName: "Ana", TelegramChatID: liaisonChat}))
	mustPut(t, h.store.PutResident(ctx, &checkin.Resident{ID: "res-1", Name: "Maria", Phone: "7185550100", LiaisonID: "liaison-1"}))
	mustPut(t, h.store.PutResident(ctx, &checkin.Resident{ID: "res-2", Name: "John", Phone: "7185550101"}))

	dispatcher := checkin.NewDispatcher(h.store, h.sender, checkin.DispatcherConfig{}, nil, checkin.Hooks{})
	h.processor = checkin.NewProcessor(h.store, h.classifier, dispatcher, checkin.ProcessorConfig{}, nil, checkin.Hooks{})

	deps := Deps{
		Processor: h.processor,
		Records:   h.store,
		Trigger:   checkin.NewOrchestrator(h.store, h.caller, 2, nil, checkin.Hooks{}),
		Flood:     checkin.NewFloodMonitor(fixedFloodSource{depth: 6}, dispatcher, 0, nil, checkin.Hooks{}),
		Chat:      h.sender,
	}
	secrets := Secrets{OperatorToken: operatorToken, CronSecret: cronSecret}
	for _, o := range opts {
		o(&deps, &secrets)
	}

	h.router = chi.NewRouter()
	New(nil, deps, secrets).RegisterRoutes(h.router)
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.processor.Wait(ctx); err != nil {
		t.Fatalf("background work did not finish: %v", err)
	}
}

func mustPut(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
