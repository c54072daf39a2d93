package encoder

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// AudioSession drives an AudioBackend through the same lifecycle as
// VideoSession. Chunk timestamps are derived from the cumulative sample
// position, so they are strictly increasing.
type AudioSession struct {
	mu      sync.Mutex
	state   State
	backend AudioBackend
	cfg     codec.AudioConfig
	logger  *slog.Logger

	onChunk ChunkCallback
	onError ErrorCallback

	chunks         []models.EncodedChunk
	samplesEmitted int64
	collectDone    chan struct{}
	backendErr     error
	destroyed      bool
}

// NewAudioSession creates a session over the backend.
func NewAudioSession(backend AudioBackend) *AudioSession {
	return &AudioSession{
		state:   StateUninitialized,
		backend: backend,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger for the session.
func (s *AudioSession) WithLogger(logger *slog.Logger) *AudioSession {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// State returns the current session state.
func (s *AudioSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the configured encode parameters.
func (s *AudioSession) Config() codec.AudioConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Configure validates the exact config against the backend.
func (s *AudioSession) Configure(ctx context.Context, cfg codec.AudioConfig) error {
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

// Start transitions to encoding and begins collecting chunks.
func (s *AudioSession) Start(onChunk ChunkCallback, onError ErrorCallback) error {
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

func (s *AudioSession) collect() {
	for unit := range s.backend.Units() {
		s.mu.Lock()
		ts := s.samplesEmitted * 1_000_000 / int64(s.cfg.SampleRate)
		dur := int64(unit.Samples) * 1_000_000 / int64(s.cfg.SampleRate)
		s.samplesEmitted += int64(unit.Samples)

		// Every AAC frame is independently decodable.
		chunk := models.EncodedChunk{
			Type:            models.ChunkKey,
			TimestampMicros: ts,
			DurationMicros:  dur,
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

// EncodeSamples interleaves multi-channel planar sample buffers into the
// encoder's expected layout and submits them. All planar arrays must agree
// on sample count, and the channel count must match the config.
func (s *AudioSession) EncodeSamples(ctx context.Context, planar [][]int16) error {
	s.mu.Lock()
	if s.state != StateEncoding {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("encode samples in state %s: %w", state, ErrNotEncoding)
	}
	channels := s.cfg.ChannelCount
	s.mu.Unlock()

	if len(planar) != channels {
		return fmt.Errorf("%d planar buffers for %d channels: %w", len(planar), channels, ErrPlanarMismatch)
	}
	interleaved, err := InterleavePlanar(planar)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.backend.Submit(interleaved); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return fmt.Errorf("submitting samples: %w", err)
	}
	return nil
}

// Stop flushes the backend and returns the complete ordered chunk list.
func (s *AudioSession) Stop(ctx context.Context) ([]models.EncodedChunk, error) {
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

// Destroy releases encoder resources. Idempotent and safe from any state.
func (s *AudioSession) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.state = StateStopped
	s.chunks = nil
	s.mu.Unlock()

	if err := s.backend.Close(); err != nil {
		s.logger.Debug("closing audio backend", slog.String("error", err.Error()))
	}
}

// InterleavePlanar converts per-channel planar int16 buffers into an
// interleaved little-endian byte stream. All buffers must have the same
// sample count.
func InterleavePlanar(planar [][]int16) ([]byte, error) {
	if len(planar) == 0 {
		return nil, ErrNoPlanarBuffers
	}
	samples := len(planar[0])
	for _, ch := range planar[1:] {
		if len(ch) != samples {
			return nil, ErrPlanarMismatch
		}
	}

	out := make([]byte, 0, samples*len(planar)*2)
	var buf [2]byte
	for i := 0; i < samples; i++ {
		for _, ch := range planar {
			binary.LittleEndian.PutUint16(buf[:], uint16(ch[i]))
			out = append(out, buf[0], buf[1])
		}
	}
	return out, nil
}
