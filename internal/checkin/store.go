package checkin

import (
	"context"
	"time"
)

// Store is the persistence interface for residents, liaisons and call logs.
//
// Writes are single-row and conditional so concurrent webhook deliveries for the
// same call session reconcile without locks.
type Store interface {
	GetResident(ctx context.Context, id string) (*Resident, bool, error)
	ListResidentsForCheckIn(ctx context.Context) ([]Resident, error)
	PutResident(ctx context.Context, r *Resident) error
	DeleteResident(ctx context.Context, id string) (bool, error)

	// UpdateResidentStatus sets the status and returns the stored result. Unless
	// override is set, a resident in distress stays in distress.
	UpdateResidentStatus(ctx context.Context, id string, status ResidentStatus, override bool) (ResidentStatus, error)

	GetLiaison(ctx context.Context, id string) (*LiaisonProfile, bool, error)
	FirstLiaisonWithChat(ctx context.Context) (*LiaisonProfile, bool, error)
	ListLiaisonsWithChat(ctx context.Context) ([]LiaisonProfile, error)
	PutLiaison(ctx context.Context, l *LiaisonProfile) error

	GetCallLog(ctx context.Context, id string) (*CallLog, bool, error)
	GetCallLogBySession(ctx context.Context, sessionID string) (*CallLog, bool, error)

	// UpsertCallLog creates or merges the log for u.SessionID. Non-empty fields
	// overwrite, the risk label only moves toward distress. A session already
	// logged for a different resident yields ErrSessionConflict and is left untouched.
	UpsertCallLog(ctx context.Context, u *CallLogUpdate) (*CallLog, error)

	// SaveAnalysis overwrites the AI fields; repeating it is a no-op.
	SaveAnalysis(ctx context.Context, callLogID string, a *CallAnalysis, processedAt time.Time) error

	// MarkDistress raises the call's risk label to distress.
	MarkDistress(ctx context.Context, callLogID string) error

	// ClaimAlert sets alerted_at if it is unset and reports whether this caller won.
	ClaimAlert(ctx context.Context, callLogID string, at time.Time) (bool, error)

	// ReleaseAlert clears a claim after a failed delivery so a retry can send again.
	ReleaseAlert(ctx context.Context, callLogID string) error
}
