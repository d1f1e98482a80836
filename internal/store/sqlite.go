package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"InterviewMonitor/internal/monitor"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS interviews (
	id                    TEXT PRIMARY KEY,
	job_posting_id        TEXT NOT NULL DEFAULT '',
	candidate_id          TEXT NOT NULL DEFAULT '',
	job_title             TEXT NOT NULL DEFAULT '',
	job_requirements      TEXT NOT NULL DEFAULT '[]',
	candidate_name        TEXT NOT NULL DEFAULT '',
	scheduled_at          TEXT,
	interview_type        TEXT NOT NULL DEFAULT '',
	duration              INTEGER NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'SCHEDULED',
	monitoring_session_id TEXT,
	transcript_id         TEXT,
	ai_score              REAL,
	updated_at            TEXT
);

CREATE TABLE IF NOT EXISTS monitoring_sessions (
	session_id   TEXT PRIMARY KEY,
	interview_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	document     TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS interview_transcripts (
	id           TEXT PRIMARY KEY,
	interview_id TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	transcript   TEXT NOT NULL,
	analysis     TEXT NOT NULL,
	scores       TEXT NOT NULL,
	status       TEXT NOT NULL,
	duration     REAL NOT NULL,
	created_at   TEXT NOT NULL
);
`

// SQLiteStore 嵌入式存储后端。写事务以 BEGIN IMMEDIATE 开始，单连接串行化。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 打开（或创建）数据库文件并建表。path为":memory:"时使用内存库。
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// 内存库每个连接独立，文件库也只用一个写连接
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping 健康检查
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create 插入会话文档
func (s *SQLiteStore) Create(ctx context.Context, session *monitor.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitoring_sessions (session_id, interview_id, status, document, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.InterviewID, string(session.Status), string(doc),
		formatTime(session.StartedAt), formatTime(session.LastUpdated))
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: session %s", ErrDuplicate, session.SessionID)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get 读取会话文档
func (s *SQLiteStore) Get(ctx context.Context, id string) (*monitor.Session, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM monitoring_sessions WHERE session_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, monitor.SessionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return decodeSession([]byte(doc))
}

// Append 写事务内读-改-写
func (s *SQLiteStore) Append(ctx context.Context, id string, entry monitor.TranscriptEntry, snapshot monitor.AnalysisSnapshot, now time.Time) (*monitor.Session, error) {
	var out *monitor.Session
	err := s.update(ctx, id, func(session *monitor.Session) bool {
		session.ApplyChunk(entry, snapshot, now)
		out = session
		return true
	})
	return out, err
}

// Complete 写事务内条件完成
func (s *SQLiteStore) Complete(ctx context.Context, id string, c monitor.Completion) (*monitor.Session, bool, error) {
	var (
		out     *monitor.Session
		applied bool
	)
	err := s.update(ctx, id, func(session *monitor.Session) bool {
		applied = session.Complete(c)
		out = session
		return applied
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

func (s *SQLiteStore) update(ctx context.Context, id string, mutate func(*monitor.Session) bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT document FROM monitoring_sessions WHERE session_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return monitor.SessionNotFound(id)
	}
	if err != nil {
		return fmt.Errorf("query session: %w", err)
	}

	session, err := decodeSession([]byte(doc))
	if err != nil {
		return err
	}
	if !mutate(session) {
		return nil
	}

	updated, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE monitoring_sessions SET status = ?, document = ?, updated_at = ? WHERE session_id = ?`,
		string(session.Status), string(updated), formatTime(session.LastUpdated), id); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session update: %w", err)
	}
	return nil
}

// PutInterview 新增或替换面试记录
func (s *SQLiteStore) PutInterview(ctx context.Context, iv *monitor.Interview) error {
	reqs, err := json.Marshal(nonNil(iv.JobRequirements))
	if err != nil {
		return fmt.Errorf("encode requirements: %w", err)
	}
	var scheduled sql.NullString
	if iv.ScheduledAt != nil {
		scheduled = sql.NullString{String: formatTime(*iv.ScheduledAt), Valid: true}
	}
	status := iv.Status
	if status == "" {
		status = "SCHEDULED"
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO interviews
			(id, job_posting_id, candidate_id, job_title, job_requirements, candidate_name, scheduled_at, interview_type, duration, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iv.ID, iv.JobPostingID, iv.CandidateID, iv.JobTitle, string(reqs), iv.CandidateName,
		scheduled, iv.InterviewType, iv.Duration, status)
	if err != nil {
		return fmt.Errorf("insert interview: %w", err)
	}
	return nil
}

// Lookup 查询面试
func (s *SQLiteStore) Lookup(ctx context.Context, id string) (*monitor.Interview, error) {
	var (
		iv        monitor.Interview
		reqs      string
		scheduled sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_posting_id, candidate_id, job_title, job_requirements, candidate_name,
		       scheduled_at, interview_type, duration, status
		FROM interviews WHERE id = ?`, id).Scan(
		&iv.ID, &iv.JobPostingID, &iv.CandidateID, &iv.JobTitle, &reqs, &iv.CandidateName,
		&scheduled, &iv.InterviewType, &iv.Duration, &iv.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, monitor.InterviewNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query interview: %w", err)
	}
	if err := json.Unmarshal([]byte(reqs), &iv.JobRequirements); err != nil {
		return nil, fmt.Errorf("decode requirements: %w", err)
	}
	if scheduled.Valid {
		t, err := time.Parse(time.RFC3339Nano, scheduled.String)
		if err != nil {
			return nil, fmt.Errorf("parse scheduled_at: %w", err)
		}
		iv.ScheduledAt = &t
	}
	return &iv, nil
}

// MarkInProgress 面试进入IN_PROGRESS
func (s *SQLiteStore) MarkInProgress(ctx context.Context, interviewID, sessionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE interviews SET status = ?, monitoring_session_id = ?, updated_at = ? WHERE id = ?`,
		InterviewStatusInProgress, sessionID, formatTime(at), interviewID)
	return checkAffected(res, err, interviewID)
}

// MarkCompleted 面试完成
func (s *SQLiteStore) MarkCompleted(ctx context.Context, interviewID, transcriptID string, aiScore float64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE interviews SET status = ?, transcript_id = ?, ai_score = ?, updated_at = ? WHERE id = ?`,
		InterviewStatusCompleted, transcriptID, aiScore, formatTime(at), interviewID)
	return checkAffected(res, err, interviewID)
}

// SaveTranscript 写入转录记录
func (s *SQLiteStore) SaveTranscript(ctx context.Context, r *monitor.TranscriptRecord) error {
	analysis, err := json.Marshal(r.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	scores, err := json.Marshal(r.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interview_transcripts (id, interview_id, session_id, transcript, analysis, scores, status, duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.InterviewID, r.SessionID, r.Transcript, string(analysis), string(scores), r.Status,
		r.DurationSeconds, formatTime(r.CreatedAt))
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: transcript %s", ErrDuplicate, r.ID)
		}
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// Transcript 按ID读取转录记录
func (s *SQLiteStore) Transcript(ctx context.Context, id string) (*monitor.TranscriptRecord, error) {
	var (
		r         monitor.TranscriptRecord
		analysis  string
		scores    string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, interview_id, session_id, transcript, analysis, scores, status, duration, created_at
		FROM interview_transcripts WHERE id = ?`, id).Scan(
		&r.ID, &r.InterviewID, &r.SessionID, &r.Transcript, &analysis, &scores, &r.Status, &r.DurationSeconds, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &monitor.NotFoundError{Kind: "transcript", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(analysis), &r.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &r, nil
}

// InterviewState 面试状态、转录ID和AI得分
func (s *SQLiteStore) InterviewState(ctx context.Context, id string) (status, transcriptID string, aiScore *float64, err error) {
	var (
		tid   sql.NullString
		score sql.NullFloat64
	)
	err = s.db.QueryRowContext(ctx, `SELECT status, transcript_id, ai_score FROM interviews WHERE id = ?`, id).
		Scan(&status, &tid, &score)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil, monitor.InterviewNotFound(id)
	}
	if err != nil {
		return "", "", nil, fmt.Errorf("query interview: %w", err)
	}
	if score.Valid {
		aiScore = &score.Float64
	}
	return status, tid.String, aiScore, nil
}

func checkAffected(res sql.Result, err error, interviewID string) error {
	if err != nil {
		return fmt.Errorf("update interview: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update interview: %w", err)
	}
	if n == 0 {
		return monitor.InterviewNotFound(interviewID)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isSQLiteConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
