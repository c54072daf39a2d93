package encoder

import (
	"context"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
)

// VideoUnit is one encoded access unit from a video backend.
type VideoUnit struct {
	Payload  []byte
	Keyframe bool
}

// AudioUnit is one encoded audio frame from an audio backend.
type AudioUnit struct {
	Payload []byte
	// Samples is the PCM sample count the frame covers, per channel.
	Samples int
}

// VideoBackend is the raw-frame to H.264 encode primitive behind a
// VideoSession. Submit applies backpressure by blocking until the encoder
// accepts the frame. After Finish returns, Units is closed and Err reports
// any hard failure.
type VideoBackend interface {
	Configure(ctx context.Context, cfg codec.EncoderConfig) error
	Submit(pix []byte) error
	Finish() error
	Units() <-chan VideoUnit
	Err() error
	Close() error
}

// AudioBackend is the PCM to AAC encode primitive behind an AudioSession.
// Same contract as VideoBackend.
type AudioBackend interface {
	Configure(ctx context.Context, cfg codec.AudioConfig) error
	Submit(pcm []byte) error
	Finish() error
	Units() <-chan AudioUnit
	Err() error
	Close() error
}
