package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"os/exec"
	"strconv"

	"github.com/MarcusHSmith/StoryLift/internal/ffmpeg"
	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// FFmpegFrameSource decodes single frames from the source file by seeking
// with ffmpeg. Each call is an independent seek, which keeps frame timing
// exact at the cost of decoder reuse.
type FFmpegFrameSource struct {
	ffmpegPath string
	sourcePath string
	width      int
	height     int
}

// NewFFmpegFrameSource creates a frame source for a probed input file.
func NewFFmpegFrameSource(ffmpegPath, sourcePath string, info *models.VideoInfo) (*FFmpegFrameSource, error) {
	if info == nil || info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("frame source requires probed video dimensions")
	}
	return &FFmpegFrameSource{
		ffmpegPath: ffmpegPath,
		sourcePath: sourcePath,
		width:      info.Width,
		height:     info.Height,
	}, nil
}

// FrameAt decodes the frame at the given playback position as packed RGBA.
func (s *FFmpegFrameSource) FrameAt(ctx context.Context, positionSeconds float64) (image.Image, error) {
	args := ffmpeg.NewCommandBuilder().
		InputArgs("-ss", strconv.FormatFloat(positionSeconds, 'f', 6, 64)).
		Input(s.sourcePath).
		OutputArgs(
			"-frames:v", "1",
			"-f", "rawvideo",
			"-pix_fmt", "rgba",
		).
		Output("pipe:1").
		Build()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("decoding frame at %.3fs: %w: %s", positionSeconds, err, stderr.String())
	}

	want := s.width * s.height * 4
	if stdout.Len() < want {
		return nil, fmt.Errorf("decoding frame at %.3fs: got %d bytes, want %d", positionSeconds, stdout.Len(), want)
	}

	img := &image.RGBA{
		Pix:    stdout.Bytes()[:want],
		Stride: s.width * 4,
		Rect:   image.Rect(0, 0, s.width, s.height),
	}
	return img, nil
}

// Close releases the source. Seeking decoders hold no persistent state.
func (s *FFmpegFrameSource) Close() error {
	return nil
}

// FFmpegAudioSource extracts the source's full audio track as planar PCM in
// one pass.
type FFmpegAudioSource struct {
	ffmpegPath string
	sourcePath string
	sampleRate int
	channels   int
}

// NewFFmpegAudioSource creates an audio source resampling to the encode
// session's target rate and channel layout.
func NewFFmpegAudioSource(ffmpegPath, sourcePath string, sampleRate, channels int) *FFmpegAudioSource {
	return &FFmpegAudioSource{
		ffmpegPath: ffmpegPath,
		sourcePath: sourcePath,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// ExtractSamples decodes the complete audio track and returns one sample
// slice per channel.
func (s *FFmpegAudioSource) ExtractSamples(ctx context.Context) ([][]int16, error) {
	args := ffmpeg.NewCommandBuilder().
		AudioExtract(s.sourcePath, s.sampleRate, s.channels).
		Build()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("extracting audio: %w: %s", err, stderr.String())
	}

	return deinterleavePCM(stdout.Bytes(), s.channels)
}

// deinterleavePCM splits interleaved little-endian s16 PCM into per-channel
// planes. Trailing partial sample groups are dropped.
func deinterleavePCM(data []byte, channels int) ([][]int16, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	groupBytes := channels * 2
	groups := len(data) / groupBytes

	planar := make([][]int16, channels)
	for ch := range planar {
		planar[ch] = make([]int16, groups)
	}
	for g := 0; g < groups; g++ {
		base := g * groupBytes
		for ch := 0; ch < channels; ch++ {
			planar[ch][g] = int16(binary.LittleEndian.Uint16(data[base+ch*2:]))
		}
	}
	return planar, nil
}
