package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"InterviewMonitor/internal/monitor"
)

const pgUniqueViolation = "23505"

// PostgresStore 基于pgx连接池的存储后端
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 使用已建立的连接池
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create 插入会话文档
func (s *PostgresStore) Create(ctx context.Context, session *monitor.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO monitoring_sessions (session_id, interview_id, status, document, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		session.SessionID, session.InterviewID, string(session.Status), doc, session.StartedAt, session.LastUpdated)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: session %s", ErrDuplicate, session.SessionID)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get 读取会话文档
func (s *PostgresStore) Get(ctx context.Context, id string) (*monitor.Session, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM monitoring_sessions WHERE session_id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, monitor.SessionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return decodeSession(doc)
}

// Append 行锁内读-改-写
func (s *PostgresStore) Append(ctx context.Context, id string, entry monitor.TranscriptEntry, snapshot monitor.AnalysisSnapshot, now time.Time) (*monitor.Session, error) {
	var out *monitor.Session
	err := s.update(ctx, id, func(session *monitor.Session) bool {
		session.ApplyChunk(entry, snapshot, now)
		out = session
		return true
	})
	return out, err
}

// Complete 行锁内条件完成
func (s *PostgresStore) Complete(ctx context.Context, id string, c monitor.Completion) (*monitor.Session, bool, error) {
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

// update 在事务中以 SELECT ... FOR UPDATE 锁定会话行，mutate返回false时不写回
func (s *PostgresStore) update(ctx context.Context, id string, mutate func(*monitor.Session) bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx, `SELECT document FROM monitoring_sessions WHERE session_id = $1 FOR UPDATE`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.SessionNotFound(id)
	}
	if err != nil {
		return fmt.Errorf("failed to lock session: %w", err)
	}

	session, err := decodeSession(doc)
	if err != nil {
		return err
	}
	if !mutate(session) {
		return nil
	}

	updated, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE monitoring_sessions SET status = $2, document = $3, updated_at = $4
		WHERE session_id = $1`,
		id, string(session.Status), updated, session.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session update: %w", err)
	}
	return nil
}

// PutInterview 写入面试及其职位、候选人（存在则更新）
func (s *PostgresStore) PutInterview(ctx context.Context, iv *monitor.Interview) error {
	reqs, err := json.Marshal(nonNil(iv.JobRequirements))
	if err != nil {
		return fmt.Errorf("failed to encode job requirements: %w", err)
	}
	status := iv.Status
	if status == "" {
		status = "SCHEDULED"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if iv.JobPostingID != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO job_postings (id, title, requirements) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, requirements = EXCLUDED.requirements`,
			iv.JobPostingID, iv.JobTitle, reqs)
		if err != nil {
			return fmt.Errorf("failed to upsert job posting: %w", err)
		}
	}
	if iv.CandidateID != "" {
		first, last, _ := strings.Cut(iv.CandidateName, " ")
		_, err = tx.Exec(ctx, `
			INSERT INTO candidates (id, first_name, last_name) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name`,
			iv.CandidateID, first, last)
		if err != nil {
			return fmt.Errorf("failed to upsert candidate: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO interviews (id, job_posting_id, candidate_id, scheduled_at, interview_type, duration, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			job_posting_id = EXCLUDED.job_posting_id, candidate_id = EXCLUDED.candidate_id,
			scheduled_at = EXCLUDED.scheduled_at, interview_type = EXCLUDED.interview_type,
			duration = EXCLUDED.duration, status = EXCLUDED.status, updated_at = now()`,
		iv.ID, nullIfEmpty(iv.JobPostingID), nullIfEmpty(iv.CandidateID), iv.ScheduledAt,
		iv.InterviewType, iv.Duration, status)
	if err != nil {
		return fmt.Errorf("failed to upsert interview: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit interview: %w", err)
	}
	return nil
}

// Lookup 联表查询面试、职位和候选人
func (s *PostgresStore) Lookup(ctx context.Context, id string) (*monitor.Interview, error) {
	var (
		iv           monitor.Interview
		jobPostingID *string
		candidateID  *string
		jobTitle     *string
		requirements []byte
		firstName    *string
		lastName     *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT i.id, i.job_posting_id, i.candidate_id, i.scheduled_at, i.interview_type, i.duration, i.status,
		       j.title, j.requirements, c.first_name, c.last_name
		FROM interviews i
		LEFT JOIN job_postings j ON j.id = i.job_posting_id
		LEFT JOIN candidates c ON c.id = i.candidate_id
		WHERE i.id = $1`, id).Scan(
		&iv.ID, &jobPostingID, &candidateID, &iv.ScheduledAt, &iv.InterviewType, &iv.Duration, &iv.Status,
		&jobTitle, &requirements, &firstName, &lastName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, monitor.InterviewNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query interview: %w", err)
	}

	iv.JobPostingID = deref(jobPostingID)
	iv.CandidateID = deref(candidateID)
	iv.JobTitle = deref(jobTitle)
	iv.CandidateName = candidateName(deref(firstName), deref(lastName))
	if len(requirements) > 0 {
		if err := json.Unmarshal(requirements, &iv.JobRequirements); err != nil {
			return nil, fmt.Errorf("failed to decode job requirements: %w", err)
		}
	}
	return &iv, nil
}

// MarkInProgress 面试进入IN_PROGRESS并关联会话
func (s *PostgresStore) MarkInProgress(ctx context.Context, interviewID, sessionID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE interviews SET status = $2, monitoring_session_id = $3, updated_at = $4
		WHERE id = $1`, interviewID, InterviewStatusInProgress, sessionID, at)
	if err != nil {
		return fmt.Errorf("failed to update interview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.InterviewNotFound(interviewID)
	}
	return nil
}

// MarkCompleted 面试完成并记录转录ID和AI得分
func (s *PostgresStore) MarkCompleted(ctx context.Context, interviewID, transcriptID string, aiScore float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE interviews SET status = $2, transcript_id = $3, ai_score = $4, updated_at = $5
		WHERE id = $1`, interviewID, InterviewStatusCompleted, transcriptID, aiScore, at)
	if err != nil {
		return fmt.Errorf("failed to update interview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.InterviewNotFound(interviewID)
	}
	return nil
}

// SaveTranscript 写入面试转录记录
func (s *PostgresStore) SaveTranscript(ctx context.Context, r *monitor.TranscriptRecord) error {
	analysis, err := json.Marshal(r.Analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	scores, err := json.Marshal(r.Scores)
	if err != nil {
		return fmt.Errorf("failed to encode scores: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO interview_transcripts (id, interview_id, session_id, transcript, analysis, scores, status, duration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.InterviewID, r.SessionID, r.Transcript, analysis, scores, r.Status, r.DurationSeconds, r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: transcript %s", ErrDuplicate, r.ID)
		}
		return fmt.Errorf("failed to insert transcript: %w", err)
	}
	return nil
}

// Ping 健康检查
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 连接池由database包管理，这里不关闭
func (s *PostgresStore) Close() error { return nil }

func decodeSession(doc []byte) (*monitor.Session, error) {
	var session monitor.Session
	if err := json.Unmarshal(doc, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if session.Transcript == nil {
		session.Transcript = []monitor.TranscriptEntry{}
	}
	if session.Analysis == nil {
		session.Analysis = []monitor.AnalysisSnapshot{}
	}
	return &session, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func candidateName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
