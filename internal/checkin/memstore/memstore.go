// Package memstore provides an in-memory implementation of checkin.Store.
package memstore

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

// Store holds residents, liaisons and call logs in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	residents map[string]*checkin.Resident
	liaisons  map[string]*checkin.LiaisonProfile
	logs      map[string]*checkin.CallLog // call log ID -> log
	sessions  map[string]string           // session ID -> call log ID
	now       func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		residents: make(map[string]*checkin.Resident),
		liaisons:  make(map[string]*checkin.LiaisonProfile),
		logs:      make(map[string]*checkin.CallLog),
		sessions:  make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetResident retrieves a resident by ID. Returns a copy.
func (s *Store) GetResident(_ context.Context, id string) (*checkin.Resident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.residents[id]
	if !ok {
		return nil, false, nil
	}
	return cloneResident(r), true, nil
}

// ListResidentsForCheckIn returns every resident not marked unresponsive, ordered by name.
func (s *Store) ListResidentsForCheckIn(_ context.Context) ([]checkin.Resident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]checkin.Resident, 0, len(s.residents))
	for _, r := range s.residents {
		if r.Status == checkin.StatusUnresponsive {
			continue
		}
		out = append(out, *cloneResident(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PutResident stores a copy of the resident.
func (s *Store) PutResident(_ context.Context, r *checkin.Resident) error {
	if r.ID == "" {
		return errors.New("resident id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneResident(r)
	if cp.Status == "" {
		cp.Status = checkin.StatusPending
	}
	cp.UpdatedAt = s.now()
	s.residents[r.ID] = cp
	return nil
}

// DeleteResident removes a resident and its call logs.
func (s *Store) DeleteResident(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.residents[id]; !ok {
		return false, nil
	}
	delete(s.residents, id)
	for logID, cl := range s.logs {
		if cl.ResidentID == id {
			delete(s.sessions, cl.SessionID)
			delete(s.logs, logID)
		}
	}
	return true, nil
}

// UpdateResidentStatus sets a resident's status. Distress is kept unless override is set.
func (s *Store) UpdateResidentStatus(_ context.Context, id string, status checkin.ResidentStatus, override bool) (checkin.ResidentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.residents[id]
	if !ok {
		return "", checkin.ErrResidentNotFound
	}
	if r.Status == checkin.StatusDistress && !override {
		return r.Status, nil
	}
	r.Status = status
	r.UpdatedAt = s.now()
	return r.Status, nil
}

// GetLiaison retrieves a liaison profile by ID. Returns a copy.
func (s *Store) GetLiaison(_ context.Context, id string) (*checkin.LiaisonProfile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.liaisons[id]
	if !ok {
		return nil, false, nil
	}
	cp := *l
	return &cp, true, nil
}

// FirstLiaisonWithChat returns the liaison with the lowest ID that has a chat address.
func (s *Store) FirstLiaisonWithChat(ctx context.Context) (*checkin.LiaisonProfile, bool, error) {
	all, err := s.ListLiaisonsWithChat(ctx)
	if err != nil || len(all) == 0 {
		return nil, false, err
	}
	return &all[0], true, nil
}

// ListLiaisonsWithChat returns every liaison with a chat address, ordered by ID.
func (s *Store) ListLiaisonsWithChat(_ context.Context) ([]checkin.LiaisonProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []checkin.LiaisonProfile
	for _, l := range s.liaisons {
		if l.TelegramChatID != "" {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutLiaison stores a copy of the liaison profile.
func (s *Store) PutLiaison(_ context.Context, l *checkin.LiaisonProfile) error {
	if l.ID == "" {
		return errors.New("liaison id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.liaisons[l.ID] = &cp
	return nil
}

// GetCallLog retrieves a call log by ID. Returns a copy.
func (s *Store) GetCallLog(_ context.Context, id string) (*checkin.CallLog, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cl, ok := s.logs[id]
	if !ok {
		return nil, false, nil
	}
	return cloneLog(cl), true, nil
}

// GetCallLogBySession retrieves the call log for a voice session. Returns a copy.
func (s *Store) GetCallLogBySession(_ context.Context, sessionID string) (*checkin.CallLog, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	return cloneLog(s.logs[id]), true, nil
}

// UpsertCallLog creates or merges the log for the update's session.
func (s *Store) UpsertCallLog(_ context.Context, u *checkin.CallLogUpdate) (*checkin.CallLog, error) {
	if u.SessionID == "" {
		return nil, errors.New("session id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cl, ok := s.logs[s.sessions[u.SessionID]]
	if !ok {
		if _, exists := s.residents[u.ResidentID]; !exists {
			return nil, checkin.ErrResidentNotFound
		}
		cl = &checkin.CallLog{
			ID:         ulid.Make().String(),
			ResidentID: u.ResidentID,
			SessionID:  u.SessionID,
			CreatedAt:  now,
		}
		s.logs[cl.ID] = cl
		s.sessions[u.SessionID] = cl.ID
	} else if cl.ResidentID != u.ResidentID {
		return nil, checkin.ErrSessionConflict
	}
	u.Apply(cl)
	cl.UpdatedAt = now
	return cloneLog(cl), nil
}

// SaveAnalysis overwrites the AI fields of a call log.
func (s *Store) SaveAnalysis(_ context.Context, id string, a *checkin.CallAnalysis, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.logs[id]
	if !ok {
		return checkin.ErrCallLogNotFound
	}
	score := a.SentimentScore
	at := processedAt.UTC()
	cl.Tags = slices.Clone(a.Tags)
	cl.SentimentScore = &score
	cl.KeyTopics = a.KeyTopics
	cl.ProcessedAt = &at
	cl.UpdatedAt = s.now()
	return nil
}

// MarkDistress raises the call log's risk label to distress.
func (s *Store) MarkDistress(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.logs[id]
	if !ok {
		return checkin.ErrCallLogNotFound
	}
	cl.RiskLabel = checkin.RiskDistress
	cl.UpdatedAt = s.now()
	return nil
}

// ClaimAlert sets alerted_at when unset and reports whether this call did it.
func (s *Store) ClaimAlert(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.logs[id]
	if !ok {
		return false, checkin.ErrCallLogNotFound
	}
	if cl.AlertedAt != nil {
		return false, nil
	}
	t := at.UTC()
	cl.AlertedAt = &t
	return true, nil
}

// ReleaseAlert clears alerted_at.
func (s *Store) ReleaseAlert(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.logs[id]
	if !ok {
		return checkin.ErrCallLogNotFound
	}
	cl.AlertedAt = nil
	return nil
}

func cloneResident(r *checkin.Resident) *checkin.Resident {
	cp := *r
	cp.HealthConditions = slices.Clone(r.HealthConditions)
	return &cp
}

func cloneLog(cl *checkin.CallLog) *checkin.CallLog {
	cp := *cl
	cp.Tags = slices.Clone(cl.Tags)
	if cl.SentimentScore != nil {
		v := *cl.SentimentScore
		cp.SentimentScore = &v
	}
	if cl.ProcessedAt != nil {
		v := *cl.ProcessedAt
		cp.ProcessedAt = &v
	}
	if cl.AlertedAt != nil {
		v := *cl.AlertedAt
		cp.AlertedAt = &v
	}
	return &cp
}

var _ checkin.Store = (*Store)(nil)
