package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// VideoSession drives a VideoBackend through the session lifecycle
// uninitialized -> configured -> encoding -> flushing -> stopped. Chunks are
// emitted in submission order; the session never reorders.
type VideoSession struct {
	mu      sync.Mutex
	state   State
	backend VideoBackend
	cfg     codec.EncoderConfig
	logger  *slog.Logger

	onChunk ChunkCallback
	onError ErrorCallback

	chunks      []models.EncodedChunk
	timestamps  []int64
	collected   int
	collectDone chan struct{}
	backendErr  error
	destroyed   bool
}

// NewVideoSession creates a session over the backend.
func NewVideoSession(backend VideoBackend) *VideoSession {
	return &VideoSession{
		state:   StateUninitialized,
		backend: backend,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger for the session.
func (s *VideoSession) WithLogger(logger *slog.Logger) *VideoSession {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// State returns the current session state.
func (s *VideoSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the configured encode parameters.
func (s *VideoSession) Config() codec.EncoderConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Configure validates the exact config against the backend. The config is
// immutable once encoding starts.
func (s *VideoSession) Configure(ctx context.Context, cfg codec.EncoderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return fmt.Errorf("configure in state %s: %w", s.state, ErrAlreadyStarted)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigRejected, err)
	}
	if err := s.backend.Configure(ctx, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigRejected, err)
	}
	s.cfg = cfg
	s.state = StateConfigured
	return nil
}

// Start transitions to encoding and begins collecting chunks from the
// backend. Chunks reach onChunk in emission order, which matches submission
// order for the single video track.
func (s *VideoSession) Start(onChunk ChunkCallback, onError ErrorCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUninitialized:
		return ErrNotConfigured
	case StateConfigured:
	default:
		return fmt.Errorf("start in state %s: %w", s.state, ErrAlreadyStarted)
	}
	s.onChunk = onChunk
	s.onError = onError
	s.collectDone = make(chan struct{})
	s.state = StateEncoding
	go s.collect()
	return nil
}

// collect drains the backend's unit channel until it closes, converting
// units to chunks in arrival order.
func (s *VideoSession) collect() {
	frameDur := int64(1_000_000 / s.cfg.FrameRate)
	for unit := range s.backend.Units() {
		s.mu.Lock()
		var ts int64
		if s.collected < len(s.timestamps) {
			ts = s.timestamps[s.collected]
		} else if len(s.chunks) > 0 {
			ts = s.chunks[len(s.chunks)-1].TimestampMicros + frameDur
		}
		s.collected++

		chunkType := models.ChunkDelta
		if unit.Keyframe {
			chunkType = models.ChunkKey
		}
		chunk := models.EncodedChunk{
			Type:            chunkType,
			TimestampMicros: ts,
			DurationMicros:  frameDur,
			Payload:         unit.Payload,
		}
		s.chunks = append(s.chunks, chunk)
		cb := s.onChunk
		s.mu.Unlock()

		if cb != nil {
			cb(chunk)
		}
	}

	s.mu.Lock()
	s.backendErr = s.backend.Err()
	hardError := s.backendErr != nil && s.state == StateEncoding
	if hardError {
		s.state = StateStopped
	}
	onError := s.onError
	s.mu.Unlock()

	if hardError && onError != nil {
		onError(s.backendErr)
	}
	close(s.collectDone)
}

// EncodeFrame submits one canvas-sized RGBA frame with its presentation
// timestamp. Blocks while the backend applies backpressure.
func (s *VideoSession) EncodeFrame(ctx context.Context, pix []byte, timestampMicros int64) error {
	s.mu.Lock()
	if s.state != StateEncoding {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("encode frame in state %s: %w", state, ErrNotEncoding)
	}
	s.timestamps = append(s.timestamps, timestampMicros)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.backend.Submit(pix); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return fmt.Errorf("submitting frame: %w", err)
	}
	return nil
}

// Stop transitions to flushing, waits for all in-flight chunks to be emitted
// in order, then returns the complete ordered chunk list.
func (s *VideoSession) Stop(ctx context.Context) ([]models.EncodedChunk, error) {
	s.mu.Lock()
	if s.state != StateEncoding {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("stop in state %s: %w", state, ErrNotEncoding)
	}
	s.state = StateFlushing
	done := s.collectDone
	s.mu.Unlock()

	if err := s.backend.Finish(); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return nil, fmt.Errorf("flushing encoder: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateStopped
	if s.backendErr != nil {
		return nil, fmt.Errorf("encoder failed during flush: %w", s.backendErr)
	}
	return s.chunks, nil
}

// Destroy releases encoder resources and clears queued chunk buffers. It is
// idempotent and safe to call from any state.
func (s *VideoSession) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.state = StateStopped
	s.chunks = nil
	s.timestamps = nil
	s.mu.Unlock()

	if err := s.backend.Close(); err != nil {
		s.logger.Debug("closing video backend", slog.String("error", err.Error()))
	}
}
