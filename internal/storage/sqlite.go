package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/interview-live/internal/transcribe"
)

// Per-sink upload states recorded in the journal.
const (
	SinkPending   = "pending"
	SinkSucceeded = "succeeded"
	SinkFailed    = "failed"
	SinkSkipped   = "skipped"
)

// Sink names used as journal columns.
const (
	SinkDurable = "durable"
	SinkIngest  = "ingest"
)

type Attempt struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
}

// Upload is one journaled recording upload with the outcome of each sink,
// enough to retry a failed sink by hand.
type Upload struct {
	ID              string     `json:"id"`
	AttemptID       string     `json:"attempt_id"`
	Channel         string     `json:"channel"`
	ContentType     string     `json:"content_type"`
	Size            int        `json:"size"`
	UserID          string     `json:"user_id"`
	CoachID         string     `json:"coach_id"`
	SessionID       string     `json:"session_id"`
	MessageID       string     `json:"message_id"`
	ObjectKey       string     `json:"object_key"`
	CreatedAt       time.Time  `json:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurableStatus   string     `json:"durable_status"`
	DurableLocation string     `json:"durable_location,omitempty"`
	DurableError    string     `json:"durable_error,omitempty"`
	IngestStatus    string     `json:"ingest_status"`
	IngestError     string     `json:"ingest_error,omitempty"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "interview-live.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create attempts table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS caption_segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			attempt_id TEXT NOT NULL,
			speaker INTEGER NOT NULL,
			text TEXT NOT NULL,
			start_time REAL NOT NULL,
			end_time REAL NOT NULL,
			timestamp TEXT NOT NULL,
			FOREIGN KEY(attempt_id) REFERENCES attempts(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create caption_segments table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS uploads (
			id TEXT PRIMARY KEY,
			attempt_id TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			coach_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			object_key TEXT NOT NULL,
			created_at TEXT NOT NULL,
			finished_at TEXT,
			durable_status TEXT NOT NULL DEFAULT 'pending',
			durable_location TEXT NOT NULL DEFAULT '',
			durable_error TEXT NOT NULL DEFAULT '',
			ingest_status TEXT NOT NULL DEFAULT 'pending',
			ingest_error TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create uploads table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_attempts_started_at ON attempts(started_at)"); err != nil {
		return fmt.Errorf("create attempts index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_caption_segments_attempt ON caption_segments(attempt_id, timestamp)"); err != nil {
		return fmt.Errorf("create caption_segments index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_uploads_created_at ON uploads(created_at)"); err != nil {
		return fmt.Errorf("create uploads index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateAttempt(id string, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("attempt id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO attempts(id, started_at, status) VALUES(?, ?, 'active')`,
		id,
		startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create attempt %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) EndAttempt(id string, endedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE attempts SET ended_at = ?, status = 'ended' WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("end attempt %s: %w", id, err)
	}
	return requireRow(res, "end attempt")
}

func (s *SQLiteStore) GetAttempt(id string) (Attempt, error) {
	row := s.db.QueryRow(`SELECT id, started_at, ended_at, status FROM attempts WHERE id = ?`, id)

	var a Attempt
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&a.ID, &startedAt, &endedAt, &a.Status); err != nil {
		return Attempt{}, fmt.Errorf("query attempt %s: %w", id, err)
	}

	var err error
	if a.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Attempt{}, fmt.Errorf("parse attempt %s started_at: %w", id, err)
	}
	if a.EndedAt, err = parseNullTime(endedAt); err != nil {
		return Attempt{}, fmt.Errorf("parse attempt %s ended_at: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) AppendSegment(attemptID string, seg transcribe.Segment) error {
	_, err := s.db.Exec(
		`INSERT INTO caption_segments(attempt_id, speaker, text, start_time, end_time, timestamp) VALUES(?, ?, ?, ?, ?, ?)`,
		attemptID,
		seg.Speaker,
		strings.TrimSpace(seg.Text),
		seg.StartTime,
		seg.EndTime,
		seg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append segment for attempt %s: %w", attemptID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSegments(attemptID string) ([]transcribe.Segment, error) {
	rows, err := s.db.Query(
		`SELECT speaker, text, start_time, end_time, timestamp
		 FROM caption_segments
		 WHERE attempt_id = ?
		 ORDER BY id ASC`,
		attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments for attempt %s: %w", attemptID, err)
	}
	defer func() { _ = rows.Close() }()

	segments := make([]transcribe.Segment, 0, 32)
	for rows.Next() {
		var seg transcribe.Segment
		var ts string
		if err := rows.Scan(&seg.Speaker, &seg.Text, &seg.StartTime, &seg.EndTime, &ts); err != nil {
			return nil, fmt.Errorf("scan segment for attempt %s: %w", attemptID, err)
		}
		if seg.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse segment timestamp for attempt %s: %w", attemptID, err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows for attempt %s: %w", attemptID, err)
	}

	return segments, nil
}

// BeginUpload journals an upload before either sink runs. Both sinks start
// out pending.
func (s *SQLiteStore) BeginUpload(u Upload) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("upload id is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO uploads(id, attempt_id, channel, content_type, size, user_id, coach_id, session_id, message_id, object_key, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.AttemptID, u.Channel, u.ContentType, u.Size,
		u.UserID, u.CoachID, u.SessionID, u.MessageID, u.ObjectKey,
		u.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("begin upload %s: %w", u.ID, err)
	}
	return nil
}

// FinishSink records the outcome of one sink. location is only stored for
// the durable sink.
func (s *SQLiteStore) FinishSink(id, sink, status, location, errMsg string) error {
	var query string
	var args []any
	switch sink {
	case SinkDurable:
		query = `UPDATE uploads SET durable_status = ?, durable_location = ?, durable_error = ? WHERE id = ?`
		args = []any{status, location, errMsg, id}
	case SinkIngest:
		query = `UPDATE uploads SET ingest_status = ?, ingest_error = ? WHERE id = ?`
		args = []any{status, errMsg, id}
	default:
		return fmt.Errorf("unknown sink %q", sink)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("finish %s sink for upload %s: %w", sink, id, err)
	}
	return requireRow(res, "finish sink")
}

func (s *SQLiteStore) CompleteUpload(id string, finishedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE uploads SET finished_at = ? WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("complete upload %s: %w", id, err)
	}
	return requireRow(res, "complete upload")
}

const uploadColumns = `id, attempt_id, channel, content_type, size, user_id, coach_id, session_id, message_id, object_key,
	created_at, finished_at, durable_status, durable_location, durable_error, ingest_status, ingest_error`

// ListUploads returns the most recent uploads first.
func (s *SQLiteStore) ListUploads(limit int) ([]Upload, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+uploadColumns+` FROM uploads ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanUploads(rows)
}

// FailedUploads returns uploads where at least one sink failed.
func (s *SQLiteStore) FailedUploads() ([]Upload, error) {
	rows, err := s.db.Query(
		`SELECT `+uploadColumns+` FROM uploads WHERE durable_status = ? OR ingest_status IN (?, ?) ORDER BY created_at ASC`,
		SinkFailed, SinkFailed, SinkSkipped,
	)
	if err != nil {
		return nil, fmt.Errorf("query failed uploads: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanUploads(rows)
}

func (s *SQLiteStore) GetUpload(id string) (Upload, error) {
	rows, err := s.db.Query(`SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	if err != nil {
		return Upload{}, fmt.Errorf("query upload %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	uploads, err := scanUploads(rows)
	if err != nil {
		return Upload{}, err
	}
	if len(uploads) == 0 {
		return Upload{}, fmt.Errorf("query upload %s: %w", id, sql.ErrNoRows)
	}
	return uploads[0], nil
}

func scanUploads(rows *sql.Rows) ([]Upload, error) {
	uploads := make([]Upload, 0, 16)
	for rows.Next() {
		var u Upload
		var createdAt string
		var finishedAt sql.NullString
		if err := rows.Scan(
			&u.ID, &u.AttemptID, &u.Channel, &u.ContentType, &u.Size,
			&u.UserID, &u.CoachID, &u.SessionID, &u.MessageID, &u.ObjectKey,
			&createdAt, &finishedAt,
			&u.DurableStatus, &u.DurableLocation, &u.DurableError,
			&u.IngestStatus, &u.IngestError,
		); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}

		var err error
		if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse upload created_at: %w", err)
		}
		if u.FinishedAt, err = parseNullTime(finishedAt); err != nil {
			return nil, fmt.Errorf("parse upload finished_at: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload rows: %w", err)
	}
	return uploads, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func requireRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
