package checkin_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
	"github.com/linnemanlabs/floodvoice/internal/checkin/memstore"
)

func putLiaisons(t *testing.T, s *memstore.Store, ls ...checkin.LiaisonProfile) {
	t.Helper()
	for _, l := range ls {
		if err := s.PutLiaison(context.Background(), &l); err != nil {
			t.Fatalf("PutLiaison: %v", err)
		}
	}
}

func TestDispatcher_RecipientTiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		resident checkin.Resident
		liaisons []checkin.LiaisonProfile
		wantChat checkin.ChatAddress
		wantTier checkin.RecipientTier
	}{
		{
			name:     "own liaison",
			resident: checkin.Resident{ID: "r-1", Name: "Alice", LiaisonID: "l-2"},
			liaisons: []checkin.LiaisonProfile{{ID: "l-1", TelegramChatID: "100"}, {ID: "l-2", TelegramChatID: "200"}},
			wantChat: "200",
			wantTier: checkin.TierLiaison,
		},
		{
			name:     "own liaison without chat",
			resident: checkin.Resident{ID: "r-1", Name: "Alice", LiaisonID: "l-2"},
			liaisons: []checkin.LiaisonProfile{{ID: "l-1", TelegramChatID: "100"}, {ID: "l-2"}},
			wantChat: "100",
			wantTier: checkin.TierAnyLiaison,
		},
		{
			name:     "no liaison assigned",
			resident: checkin.Resident{ID: "r-1", Name: "Alice"},
			liaisons: []checkin.LiaisonProfile{{ID: "l-3", TelegramChatID: "300"}},
			wantChat: "300",
			wantTier: checkin.TierAnyLiaison,
		},
		{
			name:     "nobody configured",
			resident: checkin.Resident{ID: "r-1", Name: "Alice", LiaisonID: "l-1"},
			liaisons: []checkin.LiaisonProfile{{ID: "l-1"}},
			wantChat: "999",
			wantTier: checkin.TierFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newStore(t, tt.resident)
			putLiaisons(t, s, tt.liaisons...)
			sender := &fakeSender{}
			d := checkin.NewDispatcher(s, sender, checkin.DispatcherConfig{FallbackChatID: "999"}, log.Nop(), checkin.Hooks{})

			res, err := d.DispatchDistressAlert(context.Background(), checkin.Alert{ResidentID: "r-1", ResidentName: "Alice"})
			if err != nil {
				t.Fatalf("DispatchDistressAlert: %v", err)
			}
			if res.Recipient != tt.wantChat || res.Tier != tt.wantTier {
				t.Errorf("result = %+v, want %s via %s", res, tt.wantChat, tt.wantTier)
			}
			sent := sender.Sent()
			if len(sent) != 1 || sent[0].chat != tt.wantChat {
				t.Errorf("sent = %+v", sent)
			}
		})
	}
}

func TestDispatcher_LookupErrorsFallThrough(t *testing.T) {
	t.Parallel()

	base := newStore(t, checkin.Resident{ID: "r-1", Name: "Alice", LiaisonID: "l-1"})
	putLiaisons(t, base, checkin.LiaisonProfile{ID: "l-1", TelegramChatID: "100"})
	s := &failingStore{Store: base, failGetResident: true, failFirst: true}

	sender := &fakeSender{}
	d := checkin.NewDispatcher(s, sender, checkin.DispatcherConfig{}, log.Nop(), checkin.Hooks{})

	res, err := d.DispatchDistressAlert(context.Background(), checkin.Alert{ResidentID: "r-1", ResidentName: "Alice"})
	if err != nil {
		t.Fatalf("DispatchDistressAlert: %v", err)
	}
	if res.Tier != checkin.TierFallback || res.Recipient != checkin.DefaultFallbackChatID {
		t.Errorf("result = %+v, want default fallback", res)
	}
}

func TestDispatcher_LiaisonLookupErrorUsesAnyLiaison(t *testing.T) {
	t.Parallel()

	base := newStore(t, checkin.Resident{ID: "r-1", Name: "Alice", LiaisonID: "l-1"})
	putLiaisons(t, base, checkin.LiaisonProfile{ID: "l-0", TelegramChatID: "50"})
	s := &failingStore{Store: base, failGetLiaison: true}

	d := checkin.NewDispatcher(s, &fakeSender{}, checkin.DispatcherConfig{}, log.Nop(), checkin.Hooks{})
	chat, tier := d.ResolveRecipient(context.Background(), "r-1")
	if chat != "50" || tier != checkin.TierAnyLiaison {
		t.Errorf("resolved %s via %s", chat, tier)
	}
}

func TestDispatcher_TransportError(t *testing.T) {
	t.Parallel()

	s := newStore(t, checkin.Resident{ID: "r-1", Name: "Alice"})
	sender := &fakeSender{failFor: map[checkin.ChatAddress]bool{"999": true}}

	var outcomes []string
	hooks := checkin.Hooks{OnAlert: func(tier checkin.RecipientTier, outcome string) {
		outcomes = append(outcomes, string(tier)+":"+outcome)
	}}
	d := checkin.NewDispatcher(s, sender, checkin.DispatcherConfig{FallbackChatID: "999"}, log.Nop(), hooks)

	_, err := d.DispatchDistressAlert(context.Background(), checkin.Alert{ResidentID: "r-1", ResidentName: "Alice"})
	var de *checkin.DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DispatchError", err)
	}
	if de.Recipient != "999" {
		t.Errorf("recipient = %q", de.Recipient)
	}
	if len(outcomes) != 1 || outcomes[0] != "fallback:error" {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestDispatcher_DisabledSender(t *testing.T) {
	t.Parallel()

	s := newStore(t, checkin.Resident{ID: "r-1", Name: "Alice"})

	var outcomes []string
	hooks := checkin.Hooks{OnAlert: func(tier checkin.RecipientTier, outcome string) {
		outcomes = append(outcomes, string(tier)+":"+outcome)
	}}
	d := checkin.NewDispatcher(s, &fakeSender{disabled: true}, checkin.DispatcherConfig{FallbackChatID: "999"}, log.Nop(), hooks)

	dr, err := d.DispatchDistressAlert(context.Background(), checkin.Alert{ResidentID: "r-1", ResidentName: "Alice"})
	if dr != nil {
		t.Errorf("result = %+v, want none for an undelivered alert", dr)
	}
	if !errors.Is(err, checkin.ErrSenderDisabled) {
		t.Fatalf("err = %v, want ErrSenderDisabled", err)
	}
	if len(outcomes) != 1 || outcomes[0] != "fallback:disabled" {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestDispatcher_MessageFormat(t *testing.T) {
	t.Parallel()

	s := newStore(t, checkin.Resident{ID: "r-1", Name: "Alice <Ann>"})
	sender := &fakeSender{}
	d := checkin.NewDispatcher(s, sender, checkin.DispatcherConfig{DashboardURL: "https://dash.example/"}, log.Nop(), checkin.Hooks{})

	if _, err := d.DispatchDistressAlert(context.Background(), checkin.Alert{
		ResidentID:   "r-1",
		ResidentName: "Alice <Ann>",
		Summary:      "trapped in basement",
	}); err != nil {
		t.Fatalf("DispatchDistressAlert: %v", err)
	}

	msg := sender.Sent()[0]
	if msg.parseMode != checkin.ParseModeHTML {
		t.Errorf("parse mode = %q", msg.parseMode)
	}
	for _, want := range []string{
		"<b>Alice &lt;Ann&gt;</b>",
		"IN DISTRESS",
		"trapped in basement",
		"https://dash.example/dashboard/residents",
	} {
		if !strings.Contains(msg.text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.text)
		}
	}
}

func TestFormatDistressAlert_NoSummary(t *testing.T) {
	t.Parallel()

	msg := checkin.FormatDistressAlert("", "", checkin.DefaultDashboardURL)
	if !strings.Contains(msg, "<b>Unknown resident</b>") {
		t.Errorf("message = %q", msg)
	}
	if strings.Contains(msg, "<i>") {
		t.Errorf("empty summary rendered: %q", msg)
	}
}

func TestDispatcher_BroadcastFloodAlert(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	putLiaisons(t, s,
		checkin.LiaisonProfile{ID: "l-1", TelegramChatID: "100"},
		checkin.LiaisonProfile{ID: "l-2", TelegramChatID: "200"},
		checkin.LiaisonProfile{ID: "l-3", TelegramChatID: "100"},
		checkin.LiaisonProfile{ID: "l-4"},
	)
	sender := &fakeSender{failFor: map[checkin.ChatAddress]bool{"200": true}}
	d := checkin.NewDispatcher(s, sender, checkin.DispatcherConfig{}, log.Nop(), checkin.Hooks{})

	res, err := d.BroadcastFloodAlert(context.Background(), checkin.FloodReading{SensorName: "sensor-1", DepthInches: 4.567})
	if err == nil {
		t.Fatal("expected joined error for failed recipient")
	}
	var de *checkin.DispatchError
	if !errors.As(err, &de) || de.Recipient != "200" {
		t.Errorf("err = %v", err)
	}
	if res.Recipients != 2 || res.Delivered != 1 {
		t.Errorf("result = %+v, want 2 recipients, 1 delivered", res)
	}
	if msg := sender.Sent()[0].text; !strings.Contains(msg, "4.57 inches") || !strings.Contains(msg, "sensor-1") {
		t.Errorf("message = %q", msg)
	}
}

func TestDispatcher_BroadcastWithoutLiaisonsUsesFallback(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	d := checkin.NewDispatcher(newStore(t), sender, checkin.DispatcherConfig{FallbackChatID: "42"}, log.Nop(), checkin.Hooks{})

	res, err := d.BroadcastFloodAlert(context.Background(), checkin.FloodReading{SensorName: "s", DepthInches: 5})
	if err != nil {
		t.Fatalf("BroadcastFloodAlert: %v", err)
	}
	if res.Delivered != 1 || sender.Sent()[0].chat != "42" {
		t.Errorf("result = %+v sent = %+v", res, sender.Sent())
	}
}
