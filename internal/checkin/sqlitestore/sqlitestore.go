// Package sqlitestore provides a single-file SQLite implementation of checkin.Store
// for deployments without PostgreSQL.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

var tracer = otel.Tracer("github.com/linnemanlabs/floodvoice/internal/checkin/sqlitestore")

const timeLayout = time.RFC3339Nano

// Store persists residents, liaisons and call logs in a SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; conditional updates stay atomic and busy errors never surface
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS liaison_profiles (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			org_name TEXT NOT NULL DEFAULT '',
			telegram_chat_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS residents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			age INTEGER NOT NULL DEFAULT 0,
			address TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			health_conditions TEXT NOT NULL DEFAULT '[]',
			liaison_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS call_logs (
			id TEXT PRIMARY KEY,
			resident_id TEXT NOT NULL REFERENCES residents(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL UNIQUE,
			summary TEXT NOT NULL DEFAULT '',
			transcript TEXT NOT NULL DEFAULT '',
			recording_url TEXT NOT NULL DEFAULT '',
			risk_label TEXT NOT NULL DEFAULT 'pending',
			tags TEXT NOT NULL DEFAULT '[]',
			sentiment_score INTEGER,
			key_topics TEXT NOT NULL DEFAULT '',
			processed_at TEXT,
			alerted_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_logs_resident ON call_logs(resident_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlitestore."+name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

const residentColumns = `id, name, phone, age, address, language, health_conditions, liaison_id, status, updated_at`

const liaisonColumns = `id, display_name, org_name, telegram_chat_id`

const callLogColumns = `id, resident_id, session_id, summary, transcript, recording_url, risk_label,
	tags, sentiment_score, key_topics, processed_at, alerted_at, created_at, updated_at`

// GetResident retrieves a resident by ID.
func (s *Store) GetResident(ctx context.Context, id string) (*checkin.Resident, bool, error) {
	ctx, span := startSpan(ctx, "GetResident", "SELECT")
	defer span.End()

	r, err := scanResident(s.db.QueryRowContext(ctx, `SELECT `+residentColumns+` FROM residents WHERE id = ?`, id))
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

	rows, err := s.db.QueryContext(ctx, `SELECT `+residentColumns+` FROM residents
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
	conditions, err := encodeList(r.HealthConditions)
	if err != nil {
		fail(span, err)
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO residents (id, name, phone, age, address, language, health_conditions, liaison_id, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			age = excluded.age,
			address = excluded.address,
			language = excluded.language,
			health_conditions = excluded.health_conditions,
			liaison_id = excluded.liaison_id,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Phone, r.Age, r.Address, r.Language, conditions, r.LiaisonID, string(status), s.stamp(),
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

	res, err := s.db.ExecContext(ctx, `DELETE FROM residents WHERE id = ?`, id)
	if err != nil {
		fail(span, err)
		return false, fmt.Errorf("delete resident: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateResidentStatus sets the status. Distress is kept unless override is set.
func (s *Store) UpdateResidentStatus(ctx context.Context, id string, status checkin.ResidentStatus, override bool) (checkin.ResidentStatus, error) {
	ctx, span := startSpan(ctx, "UpdateResidentStatus", "UPDATE")
	defer span.End()

	var stored string
	err := s.db.QueryRowContext(ctx, `
		UPDATE residents SET
			status = CASE WHEN status = 'distress' AND NOT ? THEN status ELSE ? END,
			updated_at = ?
		WHERE id = ?
		RETURNING status`,
		override, string(status), s.stamp(), id,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
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

	l, err := scanLiaison(s.db.QueryRowContext(ctx, `SELECT `+liaisonColumns+` FROM liaison_profiles WHERE id = ?`, id))
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

	l, err := scanLiaison(s.db.QueryRowContext(ctx, `SELECT `+liaisonColumns+` FROM liaison_profiles
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

	rows, err := s.db.QueryContext(ctx, `SELECT `+liaisonColumns+` FROM liaison_profiles
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO liaison_profiles (id, display_name, org_name, telegram_chat_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			org_name = excluded.org_name,
			telegram_chat_id = excluded.telegram_chat_id`,
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

	cl, err := scanCallLog(s.db.QueryRowContext(ctx, `SELECT `+callLogColumns+` FROM call_logs WHERE id = ?`, id))
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

	cl, err := scanCallLog(s.db.QueryRowContext(ctx, `SELECT `+callLogColumns+` FROM call_logs WHERE session_id = ?`, sessionID))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return cl, cl != nil, nil
}

// UpsertCallLog creates or merges the log for the update's session.
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
	now := s.stamp()

	cl, err := scanCallLog(s.db.QueryRowContext(ctx, `
		INSERT INTO call_logs (id, resident_id, session_id, summary, transcript, recording_url, risk_label, created_at, updated_at)
		VALUES (?1, ?2, ?3, COALESCE(NULLIF(?4, ''), ?5), ?6, ?7, ?8, ?9, ?9)
		ON CONFLICT (session_id) DO UPDATE SET
			summary = CASE
				WHEN ?4 <> '' THEN ?4
				WHEN call_logs.summary = '' THEN ?5
				ELSE call_logs.summary END,
			transcript = COALESCE(NULLIF(excluded.transcript, ''), call_logs.transcript),
			recording_url = COALESCE(NULLIF(excluded.recording_url, ''), call_logs.recording_url),
			risk_label = CASE
				WHEN `+riskRank("excluded.risk_label")+` > `+riskRank("call_logs.risk_label")+` THEN excluded.risk_label
				ELSE call_logs.risk_label END,
			updated_at = excluded.updated_at
		WHERE call_logs.resident_id = excluded.resident_id
		RETURNING `+callLogColumns,
		ulid.Make().String(), u.ResidentID, u.SessionID, u.Summary, u.FallbackSummary,
		u.Transcript, u.RecordingURL, string(risk), now,
	))
	if err != nil {
		if isForeignKeyViolation(err) {
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

func riskRank(col string) string {
	return `(CASE ` + col + ` WHEN 'distress' THEN 2 WHEN 'safe' THEN 1 ELSE 0 END)`
}

// SaveAnalysis overwrites the AI fields of a call log.
func (s *Store) SaveAnalysis(ctx context.Context, id string, a *checkin.CallAnalysis, processedAt time.Time) error {
	ctx, span := startSpan(ctx, "SaveAnalysis", "UPDATE")
	defer span.End()

	tags := make([]string, len(a.Tags))
	for i, t := range a.Tags {
		tags[i] = string(t)
	}
	encoded, err := encodeList(tags)
	if err != nil {
		fail(span, err)
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_logs SET tags = ?, sentiment_score = ?, key_topics = ?, processed_at = ?, updated_at = ?
		WHERE id = ?`,
		encoded, a.SentimentScore, a.KeyTopics, processedAt.UTC().Format(timeLayout), s.stamp(), id,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("save analysis: %w", err)
	}
	return requireRow(res)
}

// MarkDistress raises the call log's risk label to distress.
func (s *Store) MarkDistress(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "MarkDistress", "UPDATE")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `UPDATE call_logs SET risk_label = 'distress', updated_at = ? WHERE id = ?`, s.stamp(), id)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("mark distress: %w", err)
	}
	return requireRow(res)
}

// ClaimAlert sets alerted_at when unset and reports whether this call did it.
func (s *Store) ClaimAlert(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, span := startSpan(ctx, "ClaimAlert", "UPDATE")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `UPDATE call_logs SET alerted_at = ? WHERE id = ? AND alerted_at IS NULL`,
		at.UTC().Format(timeLayout), id)
	if err != nil {
		fail(span, err)
		return false, fmt.Errorf("claim alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM call_logs WHERE id = ?)`, id).Scan(&exists); err != nil {
		fail(span, err)
		return false, fmt.Errorf("claim alert: %w", err)
	}
	if !exists {
		return false, checkin.ErrCallLogNotFound
	}
	return false, nil
}

// ReleaseAlert clears alerted_at.
func (s *Store) ReleaseAlert(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "ReleaseAlert", "UPDATE")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `UPDATE call_logs SET alerted_at = NULL WHERE id = ?`, id)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("release alert: %w", err)
	}
	return requireRow(res)
}

func (s *Store) stamp() string {
	return s.now().Format(timeLayout)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return checkin.ErrCallLogNotFound
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "FOREIGN KEY"))
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	var out []string
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResident(row rowScanner) (*checkin.Resident, error) {
	var (
		r                  checkin.Resident
		conditions, status string
		updatedAt          string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Phone, &r.Age, &r.Address, &r.Language,
		&conditions, &r.LiaisonID, &status, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan resident: %w", err)
	}
	if r.HealthConditions, err = decodeList(conditions); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	r.Status = checkin.ResidentStatus(status)
	return &r, nil
}

func scanLiaison(row rowScanner) (*checkin.LiaisonProfile, error) {
	var (
		l    checkin.LiaisonProfile
		chat string
	)
	err := row.Scan(&l.ID, &l.DisplayName, &l.OrgName, &chat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan liaison: %w", err)
	}
	l.TelegramChatID = checkin.ChatAddress(chat)
	return &l, nil
}

func scanCallLog(row rowScanner) (*checkin.CallLog, error) {
	var (
		cl                   checkin.CallLog
		risk, tags           string
		score                sql.NullInt64
		processed, alerted   sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&cl.ID, &cl.ResidentID, &cl.SessionID, &cl.Summary, &cl.Transcript, &cl.RecordingURL,
		&risk, &tags, &score, &cl.KeyTopics, &processed, &alerted, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan call log: %w", err)
	}

	cl.RiskLabel = checkin.RiskLabel(risk)
	raw, err := decodeList(tags)
	if err != nil {
		return nil, err
	}
	for _, t := range raw {
		cl.Tags = append(cl.Tags, checkin.Tag(t))
	}
	if score.Valid {
		v := int(score.Int64)
		cl.SentimentScore = &v
	}
	if cl.ProcessedAt, err = parseNullTime(processed); err != nil {
		return nil, err
	}
	if cl.AlertedAt, err = parseNullTime(alerted); err != nil {
		return nil, err
	}
	if cl.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if cl.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &cl, nil
}

var _ checkin.Store = (*Store)(nil)
