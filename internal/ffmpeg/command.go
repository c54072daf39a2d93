package ffmpeg

import (
	"fmt"
	"strconv"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
)

// CommandBuilder assembles ffmpeg argument lists for the encode paths the
// pipeline uses: raw frames to H.264, PCM to AAC, and source audio
// extraction.
type CommandBuilder struct {
	logLevel   string
	overwrite  bool
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
}

// NewCommandBuilder creates a builder with quiet logging.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{logLevel: "error"}
}

// LogLevel sets the ffmpeg loglevel.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// Overwrite allows overwriting the output destination.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// RawVideoInput configures stdin as packed RGBA frames at the given geometry.
func (b *CommandBuilder) RawVideoInput(width, height, fps int) *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", strconv.Itoa(fps),
	)
	b.input = "pipe:0"
	return b
}

// H264Output configures an Annex B H.264 elementary stream on stdout using
// libx264 at the exact profile and bitrate of the config.
func (b *CommandBuilder) H264Output(cfg codec.EncoderConfig) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-c:v", "libx264",
		"-profile:v", cfg.Profile.String(),
		"-b:v", strconv.Itoa(cfg.BitrateBps),
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(cfg.FrameRate*2),
		"-f", "h264",
	)
	b.output = "pipe:1"
	return b
}

// PCMInput configures stdin as interleaved signed 16-bit PCM.
func (b *CommandBuilder) PCMInput(sampleRate, channels int) *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
	)
	b.input = "pipe:0"
	return b
}

// AACOutput configures an ADTS AAC stream on stdout.
func (b *CommandBuilder) AACOutput(cfg codec.AudioConfig) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-c:a", "aac",
		"-b:a", strconv.Itoa(cfg.BitrateBps),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", strconv.Itoa(cfg.ChannelCount),
		"-f", "adts",
	)
	b.output = "pipe:1"
	return b
}

// AudioExtract configures decoding the source's audio track to interleaved
// signed 16-bit PCM on stdout.
func (b *CommandBuilder) AudioExtract(sourcePath string, sampleRate, channels int) *CommandBuilder {
	b.input = sourcePath
	b.outputArgs = append(b.outputArgs,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
	)
	b.output = "pipe:1"
	return b
}

// InputArgs appends raw input arguments, placed before -i.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// OutputArgs appends raw output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// NullSink configures a null muxer output, used for support test encodes.
func (b *CommandBuilder) NullSink() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", "null")
	b.output = "-"
	return b
}

// Build assembles the final argument list.
func (b *CommandBuilder) Build() []string {
	var args []string
	args = append(args, "-loglevel", b.logLevel)
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)
	return args
}
