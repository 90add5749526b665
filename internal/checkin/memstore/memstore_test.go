package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	ctx := context.Background()
	for _, r := range []checkin.Resident{
		{ID: "r-1", Name: "Alice", Phone: "5551234567", LiaisonID: "l-1"},
		{ID: "r-2", Name: "Bob", Status: checkin.StatusUnresponsive},
		{ID: "r-3", Name: "Carol", Status: checkin.StatusSafe},
	} {
		if err := s.PutResident(ctx, &r); err != nil {
			t.Fatalf("PutResident: %v", err)
		}
	}
	return s
}

func TestStore_PutAndGetResident(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	got, ok, err := s.GetResident(context.Background(), "r-1")
	if err != nil {
		t.Fatalf("GetResident: %v", err)
	}
	if !ok {
		t.Fatal("expected resident to be found")
	}
	if got.Status != checkin.StatusPending {
		t.Errorf("Status = %q, want default %q", got.Status, checkin.StatusPending)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestStore_GetResidentMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.GetResident(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetResident: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_ListResidentsForCheckInSkipsUnresponsive(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	got, err := s.ListResidentsForCheckIn(context.Background())
	if err != nil {
		t.Fatalf("ListResidentsForCheckIn: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "r-1" || got[1].ID != "r-3" {
		t.Errorf("ids = %s, %s; want r-1, r-3", got[0].ID, got[1].ID)
	}
}

func TestStore_UpdateResidentStatusStickyDistress(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()

	tests := []struct {
		status   checkin.ResidentStatus
		override bool
		want     checkin.ResidentStatus
	}{
		{checkin.StatusDistress, false, checkin.StatusDistress},
		{checkin.StatusSafe, false, checkin.StatusDistress},
		{checkin.StatusPending, false, checkin.StatusDistress},
		{checkin.StatusSafe, true, checkin.StatusSafe},
		{checkin.StatusPending, false, checkin.StatusPending},
	}
	for i, tt := range tests {
		got, err := s.UpdateResidentStatus(ctx, "r-1", tt.status, tt.override)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != tt.want {
			t.Errorf("step %d: status = %q, want %q", i, got, tt.want)
		}
	}
}

func TestStore_UpdateResidentStatusMissing(t *testing.T) {
	t.Parallel()

	_, err := New().UpdateResidentStatus(context.Background(), "nope", checkin.StatusSafe, false)
	if !errors.Is(err, checkin.ErrResidentNotFound) {
		t.Fatalf("err = %v, want ErrResidentNotFound", err)
	}
}

func TestStore_UpsertCallLogMergesBySession(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()

	first, err := s.UpsertCallLog(ctx, &checkin.CallLogUpdate{
		ResidentID: "r-1",
		SessionID:  "call-1",
		Summary:    "trapped in basement",
		RiskLabel:  checkin.RiskDistress,
	})
	if err != nil {
		t.Fatalf("UpsertCallLog: %v", err)
	}

	second, err := s.UpsertCallLog(ctx, &checkin.CallLogUpdate{
		ResidentID:      "r-1",
		SessionID:       "call-1",
		FallbackSummary: "Call completed.",
		Transcript:      "help",
		RecordingURL:    "https://rec/1",
		RiskLabel:       checkin.RiskSafe,
	})
	if err != nil {
		t.Fatalf("UpsertCallLog: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("ID = %q, want same row %q", second.ID, first.ID)
	}
	if second.RiskLabel != checkin.RiskDistress {
		t.Errorf("RiskLabel = %q, want distress (no downgrade)", second.RiskLabel)
	}
	if second.Summary != "trapped in basement" {
		t.Errorf("Summary = %q, fallback must not overwrite", second.Summary)
	}
	if second.Transcript != "help" || second.RecordingURL != "https://rec/1" {
		t.Errorf("artifacts not merged: %+v", second)
	}
}

func TestStore_UpsertCallLogRejectsForeignSession(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()

	first, err := s.UpsertCallLog(ctx, &checkin.CallLogUpdate{
		ResidentID: "r-1", SessionID: "call-1", Summary: "I'm fine", RiskLabel: checkin.RiskSafe,
	})
	if err != nil {
		t.Fatalf("UpsertCallLog: %v", err)
	}

	_, err = s.UpsertCallLog(ctx, &checkin.CallLogUpdate{
		ResidentID: "r-2", SessionID: "call-1", Transcript: "help", RiskLabel: checkin.RiskDistress,
	})
	if !errors.Is(err, checkin.ErrSessionConflict) {
		t.Fatalf("err = %v, want ErrSessionConflict", err)
	}

	got, ok, err := s.GetCallLogBySession(ctx, "call-1")
	if err != nil || !ok {
		t.Fatalf("GetCallLogBySession = %v, %v", ok, err)
	}
	if got.ID != first.ID || got.ResidentID != "r-1" || got.RiskLabel != checkin.RiskSafe || got.Transcript != "" {
		t.Errorf("row changed by foreign update: %+v", got)
	}
}

func TestStore_UpsertCallLogFallbackSummaryOnCreate(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	cl, err := s.UpsertCallLog(context.Background(), &checkin.CallLogUpdate{
		ResidentID:      "r-1",
		SessionID:       "call-2",
		FallbackSummary: "Call completed.",
		RiskLabel:       checkin.RiskSafe,
	})
	if err != nil {
		t.Fatalf("UpsertCallLog: %v", err)
	}
	if cl.Summary != "Call completed." {
		t.Errorf("Summary = %q", cl.Summary)
	}
	if cl.RiskLabel != checkin.RiskSafe {
		t.Errorf("RiskLabel = %q, want safe", cl.RiskLabel)
	}
}

func TestStore_UpsertCallLogUnknownResident(t *testing.T) {
	t.Parallel()

	_, err := New().UpsertCallLog(context.Background(), &checkin.CallLogUpdate{ResidentID: "x", SessionID: "s"})
	if !errors.Is(err, checkin.ErrResidentNotFound) {
		t.Fatalf("err = %v, want ErrResidentNotFound", err)
	}
}

func TestStore_SaveAnalysisIdempotent(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()
	cl, err := s.UpsertCallLog(ctx, &checkin.CallLogUpdate{ResidentID: "r-1", SessionID: "call-3"})
	if err != nil {
		t.Fatalf("UpsertCallLog: %v", err)
	}

	a := &checkin.CallAnalysis{Tags: []checkin.Tag{checkin.TagMedical}, SentimentScore: 8, KeyTopics: "needs insulin"}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for range 2 {
		if err := s.SaveAnalysis(ctx, cl.ID, a, at); err != nil {
			t.Fatalf("SaveAnalysis: %v", err)
		}
	}

	got, _, _ := s.GetCallLog(ctx, cl.ID)
	if got.SentimentScore == nil || *got.SentimentScore != 8 {
		t.Errorf("SentimentScore = %v, want 8", got.SentimentScore)
	}
	if !got.Processed() || !got.ProcessedAt.Equal(at) {
		t.Errorf("ProcessedAt = %v, want %v", got.ProcessedAt, at)
	}
	if len(got.Tags) != 1 || got.Tags[0] != checkin.TagMedical {
		t.Errorf("Tags = %v", got.Tags)
	}

	if err := s.SaveAnalysis(ctx, "missing", a, at); !errors.Is(err, checkin.ErrCallLogNotFound) {
		t.Errorf("err = %v, want ErrCallLogNotFound", err)
	}
}

func TestStore_ClaimAlertOnce(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()
	cl, err := s.UpsertCallLog(ctx, &checkin.CallLogUpdate{ResidentID: "r-1", SessionID: "call-4"})
	if err != nil {
		t.Fatalf("UpsertCallLog: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.ClaimAlert(ctx, cl.ID, time.Now())
			if err != nil {
				t.Errorf("ClaimAlert: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}

	if err := s.ReleaseAlert(ctx, cl.ID); err != nil {
		t.Fatalf("ReleaseAlert: %v", err)
	}
	won, err := s.ClaimAlert(ctx, cl.ID, time.Now())
	if err != nil || !won {
		t.Fatalf("ClaimAlert after release = %v, %v; want true", won, err)
	}
}

func TestStore_DeleteResidentCascades(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()
	cl, err := s.UpsertCallLog(ctx, &checkin.CallLogUpdate{ResidentID: "r-1", SessionID: "call-5"})
	if err != nil {
		t.Fatalf("UpsertCallLog: %v", err)
	}

	deleted, err := s.DeleteResident(ctx, "r-1")
	if err != nil || !deleted {
		t.Fatalf("DeleteResident = %v, %v", deleted, err)
	}
	if _, ok, _ := s.GetCallLog(ctx, cl.ID); ok {
		t.Error("call log survived resident deletion")
	}
	if _, ok, _ := s.GetCallLogBySession(ctx, "call-5"); ok {
		t.Error("session index survived resident deletion")
	}

	deleted, err = s.DeleteResident(ctx, "r-1")
	if err != nil || deleted {
		t.Errorf("second DeleteResident = %v, %v; want false", deleted, err)
	}
}

func TestStore_LiaisonLookups(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for _, l := range []checkin.LiaisonProfile{
		{ID: "l-2", TelegramChatID: "200"},
		{ID: "l-1"},
		{ID: "l-3", TelegramChatID: "300"},
	} {
		if err := s.PutLiaison(ctx, &l); err != nil {
			t.Fatalf("PutLiaison: %v", err)
		}
	}

	first, ok, err := s.FirstLiaisonWithChat(ctx)
	if err != nil || !ok {
		t.Fatalf("FirstLiaisonWithChat = %v, %v", ok, err)
	}
	if first.ID != "l-2" {
		t.Errorf("first = %q, want l-2", first.ID)
	}

	all, err := s.ListLiaisonsWithChat(ctx)
	if err != nil {
		t.Fatalf("ListLiaisonsWithChat: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len = %d, want 2", len(all))
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()
	r, _, _ := s.GetResident(ctx, "r-1")
	r.Name = "mutated"

	again, _, _ := s.GetResident(ctx, "r-1")
	if again.Name != "Alice" {
		t.Errorf("Name = %q, store was mutated through returned pointer", again.Name)
	}
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			label := checkin.RiskSafe
			if i%7 == 0 {
				label = checkin.RiskDistress
			}
			_, err := s.UpsertCallLog(ctx, &checkin.CallLogUpdate{
				ResidentID: "r-1",
				SessionID:  fmt.Sprintf("call-%d", i%5),
				RiskLabel:  label,
			})
			if err != nil {
				t.Errorf("UpsertCallLog: %v", err)
			}
		}()
	}
	wg.Wait()

	for i := range 5 {
		cl, ok, err := s.GetCallLogBySession(ctx, fmt.Sprintf("call-%d", i))
		if err != nil || !ok {
			t.Fatalf("session call-%d: %v %v", i, ok, err)
		}
		wantDistress := false
		for j := range 50 {
			if j%5 == i && j%7 == 0 {
				wantDistress = true
			}
		}
		if wantDistress && cl.RiskLabel != checkin.RiskDistress {
			t.Errorf("session call-%d risk = %q, want distress", i, cl.RiskLabel)
		}
	}
}
