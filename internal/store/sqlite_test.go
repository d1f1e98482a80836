package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewMonitor/internal/monitor"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "monitor.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, openTestSQLite(t))
}

func TestSQLiteDirectoryAndTranscripts(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	scheduled := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.PutInterview(ctx, &monitor.Interview{
		ID:              "iv-1",
		JobTitle:        "Backend Engineer",
		JobRequirements: []string{"go", "postgres"},
		CandidateName:   "Sam Lee",
		CandidateID:     "c-1",
		ScheduledAt:     &scheduled,
		InterviewType:   "VIDEO",
		Duration:        60,
	}))

	iv, err := s.Lookup(ctx, "iv-1")
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", iv.JobTitle)
	assert.Equal(t, []string{"go", "postgres"}, iv.JobRequirements)
	assert.Equal(t, "Sam Lee", iv.CandidateName)
	require.NotNil(t, iv.ScheduledAt)
	assert.True(t, scheduled.Equal(*iv.ScheduledAt))
	assert.Equal(t, 60, iv.Duration)

	_, err = s.Lookup(ctx, "iv-missing")
	assert.True(t, errors.Is(err, monitor.ErrNotFound))

	now := time.Now()
	require.NoError(t, s.MarkInProgress(ctx, "iv-1", "s-1", now))
	status, _, _, err := s.InterviewState(ctx, "iv-1")
	require.NoError(t, err)
	assert.Equal(t, InterviewStatusInProgress, status)

	require.NoError(t, s.MarkCompleted(ctx, "iv-1", "t-1", 73, now))
	status, transcriptID, score, err := s.InterviewState(ctx, "iv-1")
	require.NoError(t, err)
	assert.Equal(t, InterviewStatusCompleted, status)
	assert.Equal(t, "t-1", transcriptID)
	require.NotNil(t, score)
	assert.Equal(t, 73.0, *score)

	assert.True(t, errors.Is(s.MarkInProgress(ctx, "iv-missing", "s", now), monitor.ErrNotFound))

	overall := 73.0
	rec := &monitor.TranscriptRecord{
		ID:              "t-1",
		InterviewID:     "iv-1",
		SessionID:       "s-1",
		Transcript:      "hello world",
		Analysis:        &monitor.Report{OverallScore: &overall, Strengths: []string{}},
		Scores:          monitor.TranscriptScores{AIScore: 73, ConfidenceScore: 0.5},
		Status:          monitor.TranscriptStatusAnalyzed,
		DurationSeconds: 1800,
		CreatedAt:       now,
	}
	require.NoError(t, s.SaveTranscript(ctx, rec))
	assert.True(t, errors.Is(s.SaveTranscript(ctx, rec), ErrDuplicate))

	got, err := s.Transcript(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Transcript)
	assert.Equal(t, 73.0, got.Scores.AIScore)
	assert.Equal(t, 1800.0, got.DurationSeconds)
	require.NotNil(t, got.Analysis.OverallScore)
	assert.Equal(t, 73.0, *got.Analysis.OverallScore)
}

func TestSQLiteSessionSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.sqlite")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, newTestSession("s-persist")))
	e, snap := chunk(55)
	_, err = s.Append(ctx, "s-persist", e, snap, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "s-persist")
	require.NoError(t, err)
	assert.Len(t, got.Analysis, 1)
	assert.Equal(t, 55.0, got.Scores.Current)
}
