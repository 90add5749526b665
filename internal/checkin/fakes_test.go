package checkin_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
	"github.com/linnemanlabs/floodvoice/internal/checkin/memstore"
)

// fakeClassifier scores text by keyword so tests read like the scenarios they cover.
type fakeClassifier struct {
	mu    sync.Mutex
	err   error
	calls []string
	delay time.Duration
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (*checkin.CallAnalysis, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	err, delay := f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "help") || strings.Contains(lower, "rising"):
		return &checkin.CallAnalysis{
			Tags:           []checkin.Tag{checkin.TagEvacuation, checkin.TagMedical},
			SentimentScore: 9,
			KeyTopics:      "Water rising, resident cannot move.",
			Model:          "fake",
		}, nil
	case strings.Contains(lower, "worried"):
		return &checkin.CallAnalysis{Tags: []checkin.Tag{checkin.TagPower}, SentimentScore: 5, KeyTopics: "Power is out.", Model: "fake"}, nil
	default:
		return &checkin.CallAnalysis{Tags: []checkin.Tag{checkin.TagSafe}, SentimentScore: 2, KeyTopics: "Resident is fine.", Model: "fake"}, nil
	}
}

func (f *fakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeDispatcher records alerts; errs are returned in order, then nil.
type fakeDispatcher struct {
	mu     sync.Mutex
	alerts []checkin.Alert
	errs   []error
}

func (f *fakeDispatcher) DispatchDistressAlert(_ context.Context, a checkin.Alert) (*checkin.DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, &checkin.DispatchError{Recipient: "chat", Err: err}
		}
	}
	f.alerts = append(f.alerts, a)
	return &checkin.DispatchResult{Recipient: "chat", Tier: checkin.TierLiaison}, nil
}

func (f *fakeDispatcher) Alerts() []checkin.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]checkin.Alert(nil), f.alerts...)
}

// fakeSender records chat messages; failFor lists chats that error and
// disabled fails every send as an unconfigured sender does.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sentMessage
	failFor  map[checkin.ChatAddress]bool
	disabled bool
}

type sentMessage struct {
	chat      checkin.ChatAddress
	text      string
	parseMode string
}

func (f *fakeSender) Send(_ context.Context, chat checkin.ChatAddress, text, parseMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled {
		return checkin.ErrSenderDisabled
	}
	if f.failFor[chat] {
		return errors.New("telegram: 502 bad gateway")
	}
	f.sent = append(f.sent, sentMessage{chat: chat, text: text, parseMode: parseMode})
	return nil
}

func (f *fakeSender) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// failingStore wraps memstore and fails selected operations.
type failingStore struct {
	*memstore.Store
	failUpsert      bool
	failGetResident bool
	failGetLiaison  bool
	failFirst       bool
}

var errDB = errors.New("connection refused")

func (s *failingStore) UpsertCallLog(ctx context.Context, u *checkin.CallLogUpdate) (*checkin.CallLog, error) {
	if s.failUpsert {
		return nil, errDB
	}
	return s.Store.UpsertCallLog(ctx, u)
}

func (s *failingStore) GetResident(ctx context.Context, id string) (*checkin.Resident, bool, error) {
	if s.failGetResident {
		return nil, false, errDB
	}
	return s.Store.GetResident(ctx, id)
}

func (s *failingStore) GetLiaison(ctx context.Context, id string) (*checkin.LiaisonProfile, bool, error) {
	if s.failGetLiaison {
		return nil, false, errDB
	}
	return s.Store.GetLiaison(ctx, id)
}

func (s *failingStore) FirstLiaisonWithChat(ctx context.Context) (*checkin.LiaisonProfile, bool, error) {
	if s.failFirst {
		return nil, false, errDB
	}
	return s.Store.FirstLiaisonWithChat(ctx)
}

func newStore(t *testing.T, residents ...checkin.Resident) *memstore.Store {
	t.Helper()
	s := memstore.New()
	for _, r := range residents {
		if err := s.PutResident(context.Background(), &r); err != nil {
			t.Fatalf("PutResident: %v", err)
		}
	}
	return s
}

func mustResident(t *testing.T, s checkin.Store, id string) *checkin.Resident {
	t.Helper()
	r, ok, err := s.GetResident(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("GetResident(%q) = %v, %v", id, ok, err)
	}
	return r
}

func mustSession(t *testing.T, s checkin.Store, session string) *checkin.CallLog {
	t.Helper()
	cl, ok, err := s.GetCallLogBySession(context.Background(), session)
	if err != nil || !ok {
		t.Fatalf("GetCallLogBySession(%q) = %v, %v", session, ok, err)
	}
	return cl
}
