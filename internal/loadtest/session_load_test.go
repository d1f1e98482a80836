package loadtest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewMonitor/internal/loadtest"
	"InterviewMonitor/internal/testutil"
)

func TestRunnerCompletesAllSessions(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())

	cfg := loadtest.DefaultConfig("iv-1", "iv-2")
	cfg.Sessions = 6
	cfg.Concurrency = 3
	cfg.ChunksPerSession = 3

	result, err := loadtest.NewRunner(h.Client("ADMIN"), cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6), result.CompletedSessions)
	assert.Zero(t, result.FailedSessions)
	assert.Equal(t, int64(18), result.RemoteChunks)
	assert.Zero(t, result.FallbackChunks)
	assert.Equal(t, 6, result.Latency[loadtest.OpStart].Count)
	assert.Equal(t, 18, result.Latency[loadtest.OpIngest].Count)
	assert.Equal(t, 6, result.Latency[loadtest.OpEnd].Count)
	assert.Greater(t, result.AvgFinalScore, 0.0)
	assert.Empty(t, result.ErrorsByCode)
	assert.Len(t, h.WaitForNotifications(6), 6)
}

func TestRunnerRecordsFailures(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())

	cfg := loadtest.DefaultConfig("missing-interview")
	cfg.Sessions = 2
	result, err := loadtest.NewRunner(h.Client("ADMIN"), cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.FailedSessions)
	assert.Equal(t, int64(2), result.ErrorsByCode["start:404"])
}

func TestRunnerCountsFallbackChunks(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	h.Engine.SetFailAnalyze(true)

	cfg := loadtest.DefaultConfig("iv-1")
	cfg.Sessions = 1
	cfg.ChunksPerSession = 2
	cfg.ChunkRate = 100
	result, err := loadtest.NewRunner(h.Client("ADMIN"), cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.FallbackChunks)
	assert.Equal(t, int64(1), result.CompletedSessions)
}

func TestRunnerRequiresInterview(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	_, err := loadtest.NewRunner(h.Client("ADMIN"), loadtest.Config{}).Run(context.Background())
	assert.Error(t, err)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	cfg := loadtest.DefaultConfig("iv-1")
	cfg.Sessions = 3
	cfg.Concurrency = 1
	cfg.ChunkInterval = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	result, err := loadtest.NewRunner(h.Client("ADMIN"), cfg).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.CompletedSessions)
}
