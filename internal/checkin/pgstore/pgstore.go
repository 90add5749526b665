// Package pgstore provides a PostgreSQL implementation of checkin.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

var tracer = otel.Tracer("github.com/linnemanlabs/floodvoice/internal/checkin/pgstore")

//go:embed schema.sql
var schema string

// foreign_key_violation
const pgForeignKeyViolation = "23503"

// Store persists residents, liaisons and call logs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const residentColumns = `id, name, phone, age, address, language, health_conditions, liaison_id, status, updated_at`

const liaisonColumns = `id, display_name, org_name, telegram_chat_id`

const callLogColumns = `id, resident_id, session_id, summary, transcript, recording_url, risk_label,
	tags, sentiment_score, key_topics, processed_at, alerted_at, created_at, updated_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetResident retrieves a resident by ID.
func (s *Store) GetResident(ctx context.Context, id string) (*checkin.Resident, bool, error) {
	ctx, span := startSpan(ctx, "GetResident", "SELECT")
	defer span.End()

	r, err := scanResident(s.pool.QueryRow(ctx, `SELECT `+residentColumns+` FROM residents WHERE id = $1`, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return r, r != nil, nil
}

// ListResidentsForCheckIn returns every resident not marked unresponsive, ordered by name.
func (s *Store) ListResidentsForCheckIn(ctx context.Context) ([]checkin.Resident, error) {
	ctx, span := startSpan(ctx, "ListResidentsForCheckIn", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+residentColumns+` FROM residents
		WHERE status <> 'unresponsive' ORDER BY name, id`)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query residents: %w", err)
	}
	defer rows.Close()

	var out []checkin.Resident
	for rows.Next() {
		r, err := scanResident(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate residents: %w", err)
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// PutResident inserts or replaces a resident.
func (s *Store) PutResident(ctx context.Context, r *checkin.Resident) error {
	ctx, span := startSpan(ctx, "PutResident", "UPSERT")
	defer span.End()

	if r.ID == "" {
		err := errors.New("resident id required")
		fail(span, err)
		return err
	}
	status := r.Status
	if status == "" {
		status = checkin.StatusPending
	}
	conditions := r.HealthConditions
	if conditions == nil {
		conditions = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO residents (id, name, phone, age, address, language, health_conditions, liaison_id, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			age = EXCLUDED.age,
			address = EXCLUDED.address,
			language = EXCLUDED.language,
			health_conditions = EXCLUDED.health_conditions,
			liaison_id = EXCLUDED.liaison_id,
			status = EXCLUDED.status,
			updated_at = now()`,
		r.ID, r.Name, r.Phone, r.Age, r.Address, r.Language, conditions, r.LiaisonID, string(status),
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("upsert resident: %w", err)
	}
	return nil
}

// DeleteResident removes a resident; call logs go with it via ON DELETE CASCADE.
func (s *Store) DeleteResident(ctx context.Context, id string) (bool, error) {
	ctx, span := startSpan(ctx, "DeleteResident", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM residents WHERE id = $1`, id)
	if err != nil {
		fail(span, err)
		return false, fmt.Errorf("delete resident: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateResidentStatus sets the status in one statement. Distress is kept unless override is set.
func (s *Store) UpdateResidentStatus(ctx context.Context, id string, status checkin.ResidentStatus, override bool) (checkin.ResidentStatus, error) {
	ctx, span := startSpan(ctx, "UpdateResidentStatus", "UPDATE")
	defer span.End()

	var stored string
	err := s.pool.QueryRow(ctx, `
		UPDATE residents SET
			status = CASE WHEN status = 'distress' AND NOT $3 THEN status ELSE $2 END,
			updated_at = CASE WHEN status = 'distress' AND NOT $3 THEN updated_at ELSE now() END
		WHERE id = $1
		RETURNING status`,
		id, string(status), override,
	).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", checkin.ErrResidentNotFound
	}
	if err != nil {
		fail(span, err)
		return "", fmt.Errorf("update resident status: %w", err)
	}
	return checkin.ResidentStatus(stored), nil
}

// GetLiaison retrieves a liaison profile by ID.
func (s *Store) GetLiaison(ctx context.Context, id string) (*checkin.LiaisonProfile, bool, error) {
	ctx, span := startSpan(ctx, "GetLiaison", "SELECT")
	defer span.End()

	l, err := scanLiaison(s.pool.QueryRow(ctx, `SELECT `+liaisonColumns+` FROM liaison_profiles WHERE id = $1`, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return l, l != nil, nil
}

// FirstLiaisonWithChat returns the liaison with the lowest ID that has a chat address.
func (s *Store) FirstLiaisonWithChat(ctx context.Context) (*checkin.LiaisonProfile, bool, error) {
	ctx, span := startSpan(ctx, "FirstLiaisonWithChat", "SELECT")
	defer span.End()

	l, err := scanLiaison(s.pool.QueryRow(ctx, `SELECT `+liaisonColumns+` FROM liaison_profiles
		WHERE telegram_chat_id <> '' ORDER BY id LIMIT 1`))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return l, l != nil, nil
}

// ListLiaisonsWithChat returns every liaison with a chat address, ordered by ID.
func (s *Store) ListLiaisonsWithChat(ctx context.Context) ([]checkin.LiaisonProfile, error) {
	ctx, span := startSpan(ctx, "ListLiaisonsWithChat", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+liaisonColumns+` FROM liaison_profiles
		WHERE telegram_chat_id <> '' ORDER BY id`)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query liaisons: %w", err)
	}
	defer rows.Close()

	var out []checkin.LiaisonProfile
	for rows.Next() {
		l, err := scanLiaison(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate liaisons: %w", err)
	}
	return out, nil
}

// PutLiaison inserts or replaces a liaison profile.
func (s *Store) PutLiaison(ctx context.Context, l *checkin.LiaisonProfile) error {
	ctx, span := startSpan(ctx, "PutLiaison", "UPSERT")
	defer span.End()

	if l.ID == "" {
		err := errors.New("liaison id required")
		fail(span, err)
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO liaison_profiles (id, display_name, org_name, telegram_chat_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			org_name = EXCLUDED.org_name,
			telegram_chat_id = EXCLUDED.telegram_chat_id`,
		l.ID, l.DisplayName, l.OrgName, string(l.TelegramChatID),
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("upsert liaison: %w", err)
	}
	return nil
}

// GetCallLog retrieves a call log by ID.
func (s *Store) GetCallLog(ctx context.Context, id string) (*checkin.CallLog, bool, error) {
	ctx, span := startSpan(ctx, "GetCallLog", "SELECT")
	defer span.End()

	cl, err := scanCallLog(s.pool.QueryRow(ctx, `SELECT `+callLogColumns+` FROM call_logs WHERE id = $1`, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return cl, cl != nil, nil
}

// GetCallLogBySession retrieves the call log for a voice session.
func (s *Store) GetCallLogBySession(ctx context.Context, sessionID string) (*checkin.CallLog, bool, error) {
	ctx, span := startSpan(ctx, "GetCallLogBySession", "SELECT")
	defer span.End()

	cl, err := scanCallLog(s.pool.QueryRow(ctx, `SELECT `+callLogColumns+` FROM call_logs WHERE session_id = $1`, sessionID))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return cl, cl != nil, nil
}

// UpsertCallLog creates or merges the log for the update's session in a single
// statement, so concurrent deliveries for one session converge on one row.
func (s *Store) UpsertCallLog(ctx context.Context, u *checkin.CallLogUpdate) (*checkin.CallLog, error) {
	ctx, span := startSpan(ctx, "UpsertCallLog", "UPSERT")
	defer span.End()

	if u.SessionID == "" {
		err := errors.New("session id required")
		fail(span, err)
		return nil, err
	}
	risk := u.RiskLabel
	if risk == "" {
		risk = checkin.RiskPending
	}

	cl, err := scanCallLog(s.pool.QueryRow(ctx, `
		INSERT INTO call_logs (id, resident_id, session_id, summary, transcript, recording_url, risk_label)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4::text, ''), $5::text), $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			summary = CASE
				WHEN $4::text <> '' THEN $4::text
				WHEN call_logs.summary = '' THEN $5::text
				ELSE call_logs.summary END,
			transcript = COALESCE(NULLIF(EXCLUDED.transcript, ''), call_logs.transcript),
			recording_url = COALESCE(NULLIF(EXCLUDED.recording_url, ''), call_logs.recording_url),
			risk_label = CASE
				WHEN risk_rank(EXCLUDED.risk_label) > risk_rank(call_logs.risk_label) THEN EXCLUDED.risk_label
				ELSE call_logs.risk_label END,
			updated_at = now()
		WHERE call_logs.resident_id = EXCLUDED.resident_id
		RETURNING `+callLogColumns,
		ulid.Make().String(), u.ResidentID, u.SessionID, u.Summary, u.FallbackSummary,
		u.Transcript, u.RecordingURL, string(risk),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, checkin.ErrResidentNotFound
		}
		fail(span, err)
		return nil, err
	}
	if cl == nil {
		// the conflict row belongs to another resident, so the update was skipped
		fail(span, checkin.ErrSessionConflict)
		return nil, checkin.ErrSessionConflict
	}
	return cl, nil
}

// SaveAnalysis overwrites the AI fields of a call log.
func (s *Store) SaveAnalysis(ctx context.Context, id string, a *checkin.CallAnalysis, processedAt time.Time) error {
	ctx, span := startSpan(ctx, "SaveAnalysis", "UPDATE")
	defer span.End()

	tags := make([]string, len(a.Tags))
	for i, t := range a.Tags {
		tags[i] = string(t)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE call_logs SET tags = $2, sentiment_score = $3, key_topics = $4, processed_at = $5, updated_at = now()
		WHERE id = $1`,
		id, tags, a.SentimentScore, a.KeyTopics, processedAt.UTC(),
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("save analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return checkin.ErrCallLogNotFound
	}
	return nil
}

// MarkDistress raises the call log's risk label to distress.
func (s *Store) MarkDistress(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "MarkDistress", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE call_logs SET risk_label = 'distress', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("mark distress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return checkin.ErrCallLogNotFound
	}
	return nil
}

// ClaimAlert sets alerted_at when unset and reports whether this call did it.
func (s *Store) ClaimAlert(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, span := startSpan(ctx, "ClaimAlert", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE call_logs SET alerted_at = $2 WHERE id = $1 AND alerted_at IS NULL`, id, at.UTC())
	if err != nil {
		fail(span, err)
		return false, fmt.Errorf("claim alert: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM call_logs WHERE id = $1)`, id).Scan(&exists); err != nil {
		fail(span, err)
		return false, fmt.Errorf("claim alert: %w", err)
	}
	if !exists {
		return false, checkin.ErrCallLogNotFound
	}
	span.SetAttributes(attribute.Bool("floodvoice.alert.already_claimed", true))
	return false, nil
}

// ReleaseAlert clears alerted_at.
func (s *Store) ReleaseAlert(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "ReleaseAlert", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE call_logs SET alerted_at = NULL WHERE id = $1`, id)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("release alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return checkin.ErrCallLogNotFound
	}
	return nil
}

func scanResident(row pgx.Row) (*checkin.Resident, error) {
	var (
		r      checkin.Resident
		status string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Phone, &r.Age, &r.Address, &r.Language,
		&r.HealthConditions, &r.LiaisonID, &status, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan resident: %w", err)
	}
	r.Status = checkin.ResidentStatus(status)
	if len(r.HealthConditions) == 0 {
		r.HealthConditions = nil
	}
	return &r, nil
}

func scanLiaison(row pgx.Row) (*checkin.LiaisonProfile, error) {
	var (
		l    checkin.LiaisonProfile
		chat string
	)
	err := row.Scan(&l.ID, &l.DisplayName, &l.OrgName, &chat)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan liaison: %w", err)
	}
	l.TelegramChatID = checkin.ChatAddress(chat)
	return &l, nil
}

func scanCallLog(row pgx.Row) (*checkin.CallLog, error) {
	var (
		cl   checkin.CallLog
		risk string
		tags []string
	)
	err := row.Scan(&cl.ID, &cl.ResidentID, &cl.SessionID, &cl.Summary, &cl.Transcript, &cl.RecordingURL,
		&risk, &tags, &cl.SentimentScore, &cl.KeyTopics, &cl.ProcessedAt, &cl.AlertedAt, &cl.CreatedAt, &cl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan call log: %w", err)
	}
	cl.RiskLabel = checkin.RiskLabel(risk)
	for _, t := range tags {
		cl.Tags = append(cl.Tags, checkin.Tag(t))
	}
	return &cl, nil
}

var _ checkin.Store = (*Store)(nil)
