package database

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema 监控服务使用的表。会话以JSONB文档存储。
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS job_postings (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	requirements JSONB NOT NULL DEFAULT '[]'::jsonb
);

CREATE TABLE IF NOT EXISTS candidates (
	id         TEXT PRIMARY KEY,
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS interviews (
	id                    TEXT PRIMARY KEY,
	job_posting_id        TEXT REFERENCES job_postings(id),
	candidate_id          TEXT REFERENCES candidates(id),
	scheduled_at          TIMESTAMPTZ,
	interview_type        TEXT NOT NULL DEFAULT '',
	duration              INTEGER NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'SCHEDULED',
	monitoring_session_id TEXT,
	transcript_id         TEXT,
	ai_score              DOUBLE PRECISION,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS monitoring_sessions (
	session_id   TEXT PRIMARY KEY,
	interview_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	document     JSONB NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_monitoring_sessions_interview ON monitoring_sessions(interview_id);

CREATE TABLE IF NOT EXISTS interview_transcripts (
	id           TEXT PRIMARY KEY,
	interview_id TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	transcript   TEXT NOT NULL,
	analysis     JSONB NOT NULL,
	scores       JSONB NOT NULL,
	status       TEXT NOT NULL,
	duration     DOUBLE PRECISION NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema 建表（幂等）
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Println("✅ 数据库表结构已就绪")
	return nil
}
