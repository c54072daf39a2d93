package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"time"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
)

// EncoderSupport verifies exact encode configurations against the detected
// ffmpeg binary. Presence of the encoder is necessary but not sufficient; a
// short null-sink test encode confirms the specific config.
type EncoderSupport struct {
	detector *BinaryDetector
	timeout  time.Duration
}

// NewEncoderSupport creates a support checker backed by the detector.
func NewEncoderSupport(detector *BinaryDetector) *EncoderSupport {
	return &EncoderSupport{
		detector: detector,
		timeout:  15 * time.Second,
	}
}

// WithTimeout sets the per-check test encode timeout.
func (s *EncoderSupport) WithTimeout(timeout time.Duration) *EncoderSupport {
	s.timeout = timeout
	return s
}

// SupportsVideo reports whether the exact video config is encodable.
func (s *EncoderSupport) SupportsVideo(ctx context.Context, cfg codec.EncoderConfig) (bool, error) {
	if cfg.Codec != codec.VideoH264 {
		return false, nil
	}
	info, err := s.detector.Detect(ctx)
	if err != nil {
		return false, fmt.Errorf("detecting ffmpeg: %w", err)
	}
	if !info.HasEncoder("libx264") {
		return false, nil
	}
	return s.testVideoEncode(ctx, info.FFmpegPath, cfg)
}

// SupportsAudio reports whether the exact audio config is encodable.
func (s *EncoderSupport) SupportsAudio(ctx context.Context, cfg codec.AudioConfig) (bool, error) {
	if cfg.Codec != codec.AudioAAC {
		return false, nil
	}
	info, err := s.detector.Detect(ctx)
	if err != nil {
		return false, fmt.Errorf("detecting ffmpeg: %w", err)
	}
	if !info.HasEncoder("aac") {
		return false, nil
	}
	return s.testAudioEncode(ctx, info.FFmpegPath, cfg)
}

// testVideoEncode pushes one black frame through the encoder at the exact
// config and checks the process exits cleanly.
func (s *EncoderSupport) testVideoEncode(ctx context.Context, ffmpegPath string, cfg codec.EncoderConfig) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := NewCommandBuilder().
		RawVideoInput(cfg.Width, cfg.Height, cfg.FrameRate).
		OutputArgs(
			"-c:v", "libx264",
			"-profile:v", cfg.Profile.String(),
			"-b:v", fmt.Sprintf("%d", cfg.BitrateBps),
			"-pix_fmt", "yuv420p",
			"-frames:v", "1",
		).
		NullSink().
		Build()

	frame := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Stdin = bytes.NewReader(frame.Pix)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("video support check timed out: %w", ctx.Err())
		}
		return false, nil
	}
	return true, nil
}

// testAudioEncode pushes a short run of silence through the encoder.
func (s *EncoderSupport) testAudioEncode(ctx context.Context, ffmpegPath string, cfg codec.AudioConfig) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := NewCommandBuilder().
		PCMInput(cfg.SampleRate, cfg.ChannelCount).
		OutputArgs(
			"-c:a", "aac",
			"-b:a", fmt.Sprintf("%d", cfg.BitrateBps),
		).
		NullSink().
		Build()

	// 100ms of silence.
	silence := make([]byte, cfg.SampleRate/10*cfg.ChannelCount*2)
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Stdin = bytes.NewReader(silence)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("audio support check timed out: %w", ctx.Err())
		}
		return false, nil
	}
	return true, nil
}
