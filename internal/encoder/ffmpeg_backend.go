package encoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
	"github.com/MarcusHSmith/StoryLift/internal/ffmpeg"
)

// FFmpegVideoBackend encodes raw RGBA frames to H.264 access units through
// an ffmpeg subprocess. The encoder inserts access unit delimiters so the
// output stream can be split back into per-frame units.
type FFmpegVideoBackend struct {
	ffmpegPath string
	logger     *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	units   chan VideoUnit
	drained chan struct{}
	waited  bool
	procErr error
	closed  bool
}

// NewFFmpegVideoBackend creates a backend using the given ffmpeg binary.
func NewFFmpegVideoBackend(ffmpegPath string) *FFmpegVideoBackend {
	return &FFmpegVideoBackend{
		ffmpegPath: ffmpegPath,
		logger:     slog.Default(),
		units:      make(chan VideoUnit, 16),
		drained:    make(chan struct{}),
	}
}

// WithLogger sets the logger for the backend.
func (b *FFmpegVideoBackend) WithLogger(logger *slog.Logger) *FFmpegVideoBackend {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Configure starts the encoder process for the exact config.
func (b *FFmpegVideoBackend) Configure(ctx context.Context, cfg codec.EncoderConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd != nil {
		return fmt.Errorf("backend already configured")
	}

	args := ffmpeg.NewCommandBuilder().
		RawVideoInput(cfg.Width, cfg.Height, cfg.FrameRate).
		H264Output(cfg).
		OutputArgs("-bsf:v", "h264_metadata=aud=insert").
		Build()

	cmd := exec.CommandContext(ctx, b.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting encoder: %w", err)
	}

	b.cmd = cmd
	b.stdin = stdin
	go b.readAccessUnits(stdout)
	return nil
}

// readAccessUnits splits the Annex B stream into access units on delimiter
// boundaries and forwards them in order.
func (b *FFmpegVideoBackend) readAccessUnits(stdout io.Reader) {
	defer close(b.drained)
	defer close(b.units)

	var pending []byte
	var current [][]byte

	flush := func() {
		if len(current) == 0 {
			return
		}
		b.units <- VideoUnit{
			Payload:  marshalAnnexB(current),
			Keyframe: containsIDR(current),
		}
		current = nil
	}

	buf := make([]byte, 64*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			nalus, rest := splitCompleteNALUs(pending)
			pending = rest
			for _, nalu := range nalus {
				if len(nalu) == 0 {
					continue
				}
				if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeAccessUnitDelimiter {
					flush()
					continue
				}
				current = append(current, nalu)
			}
		}
		if err != nil {
			if err != io.EOF {
				b.setErr(fmt.Errorf("reading encoder output: %w", err))
			}
			break
		}
	}

	// Final partial buffer holds the last NALU of the stream.
	if nalu := trimStartCode(pending); len(nalu) > 0 {
		if h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeAccessUnitDelimiter {
			current = append(current, nalu)
		}
	}
	flush()
}

// Submit writes one frame of packed RGBA pixels. Blocks while the encoder
// applies backpressure.
func (b *FFmpegVideoBackend) Submit(pix []byte) error {
	b.mu.Lock()
	stdin := b.stdin
	b.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("backend not configured")
	}
	if _, err := stdin.Write(pix); err != nil {
		b.setErr(fmt.Errorf("writing frame: %w", err))
		return err
	}
	return nil
}

// Finish closes the encoder's input and waits for it to drain. The reader
// goroutine must reach EOF before Wait, which closes the stdout pipe under
// it and would drop trailing access units.
func (b *FFmpegVideoBackend) Finish() error {
	b.mu.Lock()
	stdin := b.stdin
	cmd := b.cmd
	waited := b.waited
	b.waited = true
	b.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil {
		<-b.drained
		if !waited {
			if err := cmd.Wait(); err != nil {
				b.setErr(fmt.Errorf("encoder exited: %w", err))
				return b.Err()
			}
		}
	}
	return nil
}

// Units returns the ordered access unit channel.
func (b *FFmpegVideoBackend) Units() <-chan VideoUnit {
	return b.units
}

// Err returns the first hard error seen by the backend.
func (b *FFmpegVideoBackend) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.procErr
}

// Close releases the encoder process. Idempotent.
func (b *FFmpegVideoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.stdin != nil {
		_ = b.stdin.Close()
	}
	if b.cmd != nil && b.cmd.Process != nil && !b.waited {
		b.waited = true
		_ = b.cmd.Process.Kill()
		_ = b.cmd.Wait()
	}
	return nil
}

func (b *FFmpegVideoBackend) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.procErr == nil {
		b.procErr = err
	}
}

// FFmpegAudioBackend encodes interleaved PCM to raw AAC frames through an
// ffmpeg subprocess emitting ADTS.
type FFmpegAudioBackend struct {
	ffmpegPath string
	logger     *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	units   chan AudioUnit
	drained chan struct{}
	waited  bool
	procErr error
	closed  bool
}

// NewFFmpegAudioBackend creates a backend using the given ffmpeg binary.
func NewFFmpegAudioBackend(ffmpegPath string) *FFmpegAudioBackend {
	return &FFmpegAudioBackend{
		ffmpegPath: ffmpegPath,
		logger:     slog.Default(),
		units:      make(chan AudioUnit, 32),
		drained:    make(chan struct{}),
	}
}

// WithLogger sets the logger for the backend.
func (b *FFmpegAudioBackend) WithLogger(logger *slog.Logger) *FFmpegAudioBackend {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Configure starts the encoder process for the exact config.
func (b *FFmpegAudioBackend) Configure(ctx context.Context, cfg codec.AudioConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd != nil {
		return fmt.Errorf("backend already configured")
	}

	args := ffmpeg.NewCommandBuilder().
		PCMInput(cfg.SampleRate, cfg.ChannelCount).
		AACOutput(cfg).
		Build()

	cmd := exec.CommandContext(ctx, b.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting encoder: %w", err)
	}

	b.cmd = cmd
	b.stdin = stdin
	go b.readADTSFrames(stdout)
	return nil
}

// aacSamplesPerFrame is the PCM sample count covered by one AAC frame.
const aacSamplesPerFrame = 1024

// readADTSFrames strips ADTS headers from the encoder output and forwards
// raw AAC frames in order.
func (b *FFmpegAudioBackend) readADTSFrames(stdout io.Reader) {
	defer close(b.drained)
	defer close(b.units)

	var pending []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			frames, rest := splitADTSFrames(pending)
			pending = rest
			for _, frame := range frames {
				b.units <- AudioUnit{Payload: frame, Samples: aacSamplesPerFrame}
			}
		}
		if err != nil {
			if err != io.EOF {
				b.setErr(fmt.Errorf("reading encoder output: %w", err))
			}
			return
		}
	}
}

// Submit writes interleaved signed 16-bit PCM.
func (b *FFmpegAudioBackend) Submit(pcm []byte) error {
	b.mu.Lock()
	stdin := b.stdin
	b.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("backend not configured")
	}
	if _, err := stdin.Write(pcm); err != nil {
		b.setErr(fmt.Errorf("writing samples: %w", err))
		return err
	}
	return nil
}

// Finish closes the encoder's input and waits for it to drain. The reader
// goroutine must reach EOF before Wait, which closes the stdout pipe under
// it and would drop trailing frames.
func (b *FFmpegAudioBackend) Finish() error {
	b.mu.Lock()
	stdin := b.stdin
	cmd := b.cmd
	waited := b.waited
	b.waited = true
	b.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil {
		<-b.drained
		if !waited {
			if err := cmd.Wait(); err != nil {
				b.setErr(fmt.Errorf("encoder exited: %w", err))
				return b.Err()
			}
		}
	}
	return nil
}

// Units returns the ordered frame channel.
func (b *FFmpegAudioBackend) Units() <-chan AudioUnit {
	return b.units
}

// Err returns the first hard error seen by the backend.
func (b *FFmpegAudioBackend) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.procErr
}

// Close releases the encoder process. Idempotent.
func (b *FFmpegAudioBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.stdin != nil {
		_ = b.stdin.Close()
	}
	if b.cmd != nil && b.cmd.Process != nil && !b.waited {
		b.waited = true
		_ = b.cmd.Process.Kill()
		_ = b.cmd.Wait()
	}
	return nil
}

func (b *FFmpegAudioBackend) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.procErr == nil {
		b.procErr = err
	}
}
