package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcusHSmith/StoryLift/internal/models"
)

func seedJobs(t *testing.T, repo *memRepo, status models.JobStatus, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		job := &models.RenderJob{
			Identity:       "user-1",
			Status:         status,
			SourceFilename: "clip.mp4",
		}
		require.NoError(t, repo.Create(context.Background(), job))
	}
}

func TestSnapshot_AggregatesCounts(t *testing.T) {
	repo := newMemRepo()
	seedJobs(t, repo, models.JobStatusPending, 2)
	seedJobs(t, repo, models.JobStatusProcessing, 1)
	seedJobs(t, repo, models.JobStatusCompleted, 6)
	seedJobs(t, repo, models.JobStatusFailed, 2)

	s := NewMonitoringService(repo, time.Second, 100)
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), snap.ActiveJobs)
	assert.Equal(t, int64(6), snap.CompletedJobs)
	assert.Equal(t, int64(2), snap.FailedJobs)
	assert.InDelta(t, 0.25, snap.ErrorRate, 1e-9)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestSnapshot_ZeroTerminalJobsHasZeroErrorRate(t *testing.T) {
	repo := newMemRepo()
	seedJobs(t, repo, models.JobStatusPending, 1)

	s := NewMonitoringService(repo, time.Second, 100)
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.ErrorRate)
}

func TestSnapshot_RepositoryError(t *testing.T) {
	repo := newMemRepo()
	repo.err = errors.New("database locked")

	s := NewMonitoringService(repo, time.Second, 100)
	_, err := s.Snapshot(context.Background())
	assert.Error(t, err)
	assert.Empty(t, s.History())
}

func TestSnapshot_ThroughputAndAverage(t *testing.T) {
	s := NewMonitoringService(newMemRepo(), time.Second, 100)

	s.RecordCompletion(2 * time.Second)
	s.RecordCompletion(4 * time.Second)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ThroughputPerMin)
	assert.Equal(t, int64(3000), snap.AvgCompletionMs)
}

func TestSnapshot_StaleCompletionsPruned(t *testing.T) {
	s := NewMonitoringService(newMemRepo(), time.Second, 100)

	s.RecordCompletion(time.Second)
	s.mu.Lock()
	s.completions[0].at = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.ThroughputPerMin)
	assert.Zero(t, snap.AvgCompletionMs)
}

func TestHistory_BoundedRing(t *testing.T) {
	repo := newMemRepo()
	s := NewMonitoringService(repo, time.Second, 3)

	for i := 0; i < 5; i++ {
		_, err := s.Snapshot(context.Background())
		require.NoError(t, err)
	}

	history := s.History()
	require.Len(t, history, 3)
	// Oldest first and strictly ordered.
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, history[2].Timestamp, latest.Timestamp)
}

func TestLatest_EmptyHistory(t *testing.T) {
	s := NewMonitoringService(newMemRepo(), time.Second, 100)
	_, ok := s.Latest()
	assert.False(t, ok)
}

func TestStartStop_SamplesOnInterval(t *testing.T) {
	repo := newMemRepo()
	s := NewMonitoringService(repo, 10*time.Millisecond, 100)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return len(s.History()) >= 2
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	n := len(s.History())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(s.History()))
}
