package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob() *RenderJob {
	return &RenderJob{
		Identity:       "user-1",
		SourceFilename: "clip.mp4",
		SourceFormat:   "mp4",
		Style:          StyleCrop,
		Status:         JobStatusPending,
	}
}

func TestRenderJob_Validate(t *testing.T) {
	t.Run("valid job", func(t *testing.T) {
		assert.NoError(t, newTestJob().Validate())
	})

	t.Run("missing identity", func(t *testing.T) {
		j := newTestJob()
		j.Identity = ""
		assert.ErrorIs(t, j.Validate(), ErrIdentityRequired)
	})

	t.Run("missing filename", func(t *testing.T) {
		j := newTestJob()
		j.SourceFilename = ""
		assert.ErrorIs(t, j.Validate(), ErrFilenameRequired)
	})

	t.Run("bad style", func(t *testing.T) {
		j := newTestJob()
		j.Style = "stretch"
		assert.ErrorIs(t, j.Validate(), ErrInvalidFrameStyle)
	})
}

func TestRenderJob_Transitions(t *testing.T) {
	j := newTestJob()

	j.MarkProcessing()
	assert.Equal(t, JobStatusProcessing, j.Status)
	require.NotNil(t, j.StartedAt)
	assert.Zero(t, j.Progress)

	j.MarkCompleted(RenderResult{
		OutputPath:      "/data/output/story.mp4",
		SizeBytes:       1234,
		DurationSeconds: 2.0,
		FrameCount:      60,
		AudioOmitted:    true,
	})
	assert.Equal(t, JobStatusCompleted, j.Status)
	assert.Equal(t, float64(100), j.Progress)
	assert.Equal(t, 60, j.FrameCount)
	assert.True(t, j.AudioOmitted)
	assert.True(t, j.Status.IsTerminal())
}

func TestRenderJob_MarkFailed(t *testing.T) {
	j := newTestJob()
	j.MarkProcessing()
	j.MarkFailed(errors.New("encoder died"))

	assert.Equal(t, JobStatusFailed, j.Status)
	assert.Equal(t, "encoder died", j.LastError)
	require.NotNil(t, j.CompletedAt)
}

func TestRenderJob_ApplyProgress(t *testing.T) {
	j := newTestJob()
	j.MarkProcessing()

	j.ApplyProgress(50)
	assert.Equal(t, float64(50), j.Progress)

	// Monotonic while processing: lower values are ignored.
	j.ApplyProgress(25)
	assert.Equal(t, float64(50), j.Progress)

	// Clamped to 100.
	j.ApplyProgress(150)
	assert.Equal(t, float64(100), j.Progress)

	// Clamped to 0 before start.
	fresh := newTestJob()
	fresh.ApplyProgress(-10)
	assert.Zero(t, fresh.Progress)
}

func TestRenderJob_StyleConfig(t *testing.T) {
	j := newTestJob()
	j.Style = StyleBlur
	j.ShowSafeZones = true
	j.Title = "My Video"
	j.ChannelName = "Creator"
	j.SubscriberLbl = "1.2M subscribers"

	style := j.StyleConfig()
	assert.Equal(t, StyleBlur, style.Style)
	assert.True(t, style.ShowSafeZones)
	assert.Equal(t, "My Video", style.Metadata.Title)
	assert.Equal(t, "Creator", style.Metadata.ChannelName)
	assert.Equal(t, "1.2M subscribers", style.Metadata.SubscriberLabel)
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("connection reset")
	perr := &ProcessingError{
		Kind:        ErrKindNetwork,
		Message:     "fetching source",
		Recoverable: true,
		MaxRetries:  3,
		Strategy:    RecoveryRetry,
		Cause:       cause,
	}

	assert.ErrorIs(t, perr, cause)
	assert.Contains(t, perr.Error(), "network_error")
	assert.False(t, perr.Exhausted())

	perr.RetryCount = 3
	assert.True(t, perr.Exhausted())
}

func TestErrorKind_Category(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want ErrorCategory
	}{
		{ErrKindUnsupportedFormat, CategoryVideoInput},
		{ErrKindOversizeInput, CategoryVideoInput},
		{ErrKindEncodeFailure, CategoryProcessing},
		{ErrKindMuxFailure, CategoryProcessing},
		{ErrKindCapabilityAbsent, CategorySystem},
		{ErrKindNetwork, CategoryNetwork},
		{ErrKindUnknown, CategoryUnknown},
		{ErrorKind("mystery"), CategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.Category(), string(tt.kind))
	}
}

func TestAsProcessingError(t *testing.T) {
	t.Run("passthrough", func(t *testing.T) {
		perr := &ProcessingError{Kind: ErrKindTimeout, Message: "slow"}
		assert.Same(t, perr, AsProcessingError(perr))
	})

	t.Run("wraps unclassified", func(t *testing.T) {
		got := AsProcessingError(errors.New("mystery"))
		assert.Equal(t, ErrKindUnknown, got.Kind)
		assert.True(t, got.Recoverable)
	})
}

func TestULID_RoundTrip(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())

	parsed, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseULID("not-a-ulid")
	assert.Error(t, err)
}
