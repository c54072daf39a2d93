// Package pipeline drives the full story render: capability negotiation,
// frame-by-frame composition and encoding, the single up-front audio pass,
// and final muxing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
	"github.com/MarcusHSmith/StoryLift/internal/compositor"
	"github.com/MarcusHSmith/StoryLift/internal/encoder"
	"github.com/MarcusHSmith/StoryLift/internal/models"
	"github.com/MarcusHSmith/StoryLift/internal/muxer"
)

// State is the orchestrator lifecycle state.
type State string

// Orchestrator states.
const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateEncoding     State = "encoding"
	StateFinalizing   State = "finalizing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Orchestrator errors.
var (
	ErrCancelled      = errors.New("render cancelled")
	ErrAlreadyRunning = errors.New("render already running")
	ErrNotInitialized = errors.New("orchestrator not initialized")
)

// FrameSource yields decoded source frames at exact playback positions. The
// orchestrator advances the position by exactly one frame interval per step;
// implementations must seek before drawing.
type FrameSource interface {
	FrameAt(ctx context.Context, positionSeconds float64) (image.Image, error)
	Close() error
}

// AudioSource yields the source's complete audio as planar PCM, extracted
// once up front rather than interleaved with the frame loop.
type AudioSource interface {
	ExtractSamples(ctx context.Context) ([][]int16, error)
}

// VideoEncoder is the video session surface the orchestrator drives.
type VideoEncoder interface {
	Configure(ctx context.Context, cfg codec.EncoderConfig) error
	Start(onChunk encoder.ChunkCallback, onError encoder.ErrorCallback) error
	EncodeFrame(ctx context.Context, pix []byte, timestampMicros int64) error
	Stop(ctx context.Context) ([]models.EncodedChunk, error)
	Destroy()
}

// AudioEncoder is the audio session surface the orchestrator drives.
type AudioEncoder interface {
	Configure(ctx context.Context, cfg codec.AudioConfig) error
	Start(onChunk encoder.ChunkCallback, onError encoder.ErrorCallback) error
	EncodeSamples(ctx context.Context, planar [][]int16) error
	Stop(ctx context.Context) ([]models.EncodedChunk, error)
	Destroy()
}

// ChunkMuxer assembles the final container from the ordered chunk sets.
type ChunkMuxer interface {
	Mux(videoChunks, audioChunks []models.EncodedChunk, params muxer.Params) ([]byte, muxer.Metadata, error)
}

// ProgressFunc receives progress updates after every frame.
type ProgressFunc func(percent float64, step string)

// Result is the completed render output.
type Result struct {
	Data         []byte
	Meta         muxer.Metadata
	FrameCount   int
	AudioOmitted bool
	VideoConfig  codec.EncoderConfig
}

// Orchestrator runs one render job. It is single-use: one Initialize, one
// Run, then Destroy.
type Orchestrator struct {
	prober     *codec.Prober
	compositor *compositor.Compositor
	video      VideoEncoder
	audio      AudioEncoder
	mux        ChunkMuxer
	logger     *slog.Logger

	frameRate  int
	style      models.StyleConfig
	onProgress ProgressFunc

	mu          sync.Mutex
	state       State
	videoCfg    codec.EncoderConfig
	audioCfg    *codec.AudioConfig
	initialized bool

	cancelRequested atomic.Bool
	encoderErr      atomic.Value
}

// Config wires an orchestrator.
type Config struct {
	Prober     *codec.Prober
	Compositor *compositor.Compositor
	Video      VideoEncoder
	Audio      AudioEncoder
	Muxer      ChunkMuxer
	FrameRate  int
	Style      models.StyleConfig
	OnProgress ProgressFunc
	Logger     *slog.Logger
}

// New creates an orchestrator in the idle state.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		prober:     cfg.Prober,
		compositor: cfg.Compositor,
		video:      cfg.Video,
		audio:      cfg.Audio,
		mux:        cfg.Muxer,
		frameRate:  cfg.FrameRate,
		style:      cfg.Style,
		onProgress: cfg.OnProgress,
		logger:     logger,
		state:      StateIdle,
	}
}

// State returns the current orchestrator state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Initialize probes capabilities and configures both encode sessions. Fails
// when minimum H.264 support is absent.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("initialize in state %s: %w", state, ErrAlreadyRunning)
	}
	o.state = StateInitializing
	o.mu.Unlock()

	list, err := o.prober.Probe(ctx)
	if err != nil {
		return o.fail(&models.ProcessingError{
			Kind:       models.ErrKindCapabilityAbsent,
			Message:    "capability probe failed",
			Strategy:   models.RecoveryAbort,
			MaxRetries: 0,
			Cause:      err,
		})
	}

	videoCfg, err := list.BestVideoConfig()
	if err != nil {
		return o.fail(&models.ProcessingError{
			Kind:       models.ErrKindCapabilityAbsent,
			Message:    "no viable H.264 configuration",
			Strategy:   models.RecoveryAbort,
			MaxRetries: 0,
			Cause:      err,
		})
	}

	if err := o.video.Configure(ctx, videoCfg); err != nil {
		return o.fail(classifyEncodeError("configuring video encoder", err))
	}

	var audioCfg *codec.AudioConfig
	if list.AudioSupported && list.AudioConfig != nil {
		if err := o.audio.Configure(ctx, *list.AudioConfig); err != nil {
			// Audio capability failure degrades to a video-only render.
			o.logger.Warn("audio encoder rejected config, omitting audio",
				slog.String("error", err.Error()))
		} else {
			cfg := *list.AudioConfig
			audioCfg = &cfg
		}
	}

	o.mu.Lock()
	o.videoCfg = videoCfg
	o.audioCfg = audioCfg
	o.initialized = true
	o.state = StateIdle
	o.mu.Unlock()

	o.logger.Info("render pipeline initialized",
		slog.String("video_config", videoCfg.String()),
		slog.Bool("audio_enabled", audioCfg != nil),
	)
	return nil
}

// Run executes the render over totalFrames frames. Re-entrant starts are
// rejected while a run is in flight.
func (o *Orchestrator) Run(ctx context.Context, frames FrameSource, audio AudioSource, totalFrames int) (*Result, error) {
	o.mu.Lock()
	if !o.initialized {
		o.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("start in state %s: %w", state, ErrAlreadyRunning)
	}
	if totalFrames <= 0 {
		o.mu.Unlock()
		return nil, fmt.Errorf("total frame count must be positive, got %d", totalFrames)
	}
	o.state = StateEncoding
	videoCfg := o.videoCfg
	audioCfg := o.audioCfg
	o.mu.Unlock()

	o.cancelRequested.Store(false)

	onEncoderErr := func(err error) {
		o.encoderErr.Store(err)
	}
	if err := o.video.Start(nil, onEncoderErr); err != nil {
		return nil, o.fail(classifyEncodeError("starting video session", err))
	}

	audioOmitted := audioCfg == nil
	audioRunning := false
	if !audioOmitted {
		if err := o.audio.Start(nil, onEncoderErr); err != nil {
			return nil, o.fail(classifyEncodeError("starting audio session", err))
		}
		audioRunning = true
	}

	cleanup := func() {
		o.video.Destroy()
		if o.audio != nil {
			o.audio.Destroy()
		}
	}

	// Audio is a single up-front pass. Extraction failure degrades to a
	// video-only result, which is reported, never hidden.
	if audioRunning {
		if audio == nil {
			audioOmitted = true
		} else if planar, err := audio.ExtractSamples(ctx); err != nil {
			o.logger.Warn("audio extraction failed, omitting audio",
				slog.String("error", err.Error()))
			audioOmitted = true
		} else if err := o.audio.EncodeSamples(ctx, planar); err != nil {
			cleanup()
			return nil, o.fail(classifyEncodeError("encoding audio samples", err))
		}
	}

	frameIntervalMicros := int64(1_000_000 / o.frameRate)
	framesProcessed := 0

	for i := 0; i < totalFrames; i++ {
		// Cooperative cancel: checked once per iteration, the in-flight
		// frame is never interrupted.
		if o.cancelRequested.Load() || ctx.Err() != nil {
			cleanup()
			o.setState(StateCancelled)
			return nil, ErrCancelled
		}
		if err, ok := o.encoderErr.Load().(error); ok && err != nil {
			cleanup()
			return nil, o.fail(classifyEncodeError("encoder reported hard error", err))
		}

		position := float64(i) / float64(o.frameRate)
		src, err := frames.FrameAt(ctx, position)
		if err != nil {
			cleanup()
			return nil, o.fail(&models.ProcessingError{
				Kind:        models.ErrKindFrameExtraction,
				Message:     fmt.Sprintf("capturing frame %d", i),
				Recoverable: true,
				MaxRetries:  3,
				Strategy:    models.RecoveryRetry,
				Cause:       err,
			})
		}

		canvas, err := o.compositor.ComposeFrame(src, o.style)
		if err != nil {
			cleanup()
			return nil, o.fail(&models.ProcessingError{
				Kind:       models.ErrKindFrameExtraction,
				Message:    fmt.Sprintf("composing frame %d", i),
				Strategy:   models.RecoveryAbort,
				MaxRetries: 0,
				Cause:      err,
			})
		}

		// Frame-indexed timestamps guarantee exact spacing regardless of
		// system load.
		ts := int64(i) * frameIntervalMicros
		if err := o.video.EncodeFrame(ctx, canvas.Pix, ts); err != nil {
			cleanup()
			return nil, o.fail(classifyEncodeError(fmt.Sprintf("encoding frame %d", i), err))
		}

		framesProcessed++
		if o.onProgress != nil {
			o.onProgress(float64(framesProcessed)/float64(totalFrames)*100, "encoding frames")
		}
	}

	o.setState(StateFinalizing)
	if o.onProgress != nil {
		o.onProgress(100, "finalizing")
	}

	videoChunks, err := o.video.Stop(ctx)
	if err != nil {
		cleanup()
		return nil, o.fail(classifyEncodeError("flushing video encoder", err))
	}

	var audioChunks []models.EncodedChunk
	if audioRunning && !audioOmitted {
		audioChunks, err = o.audio.Stop(ctx)
		if err != nil {
			cleanup()
			return nil, o.fail(classifyEncodeError("flushing audio encoder", err))
		}
	}

	muxAudioCfg := audioCfg
	if audioOmitted {
		muxAudioCfg = nil
	}
	data, meta, err := o.mux.Mux(videoChunks, audioChunks, muxer.Params{
		VideoConfig:     videoCfg,
		AudioConfig:     muxAudioCfg,
		DurationSeconds: float64(totalFrames) / float64(o.frameRate),
	})
	if err != nil {
		cleanup()
		return nil, o.fail(&models.ProcessingError{
			Kind:       models.ErrKindMuxFailure,
			Message:    "muxing output container",
			Strategy:   models.RecoveryAbort,
			MaxRetries: 0,
			Cause:      err,
		})
	}

	o.setState(StateCompleted)
	return &Result{
		Data:         data,
		Meta:         meta,
		FrameCount:   framesProcessed,
		AudioOmitted: audioOmitted,
		VideoConfig:  videoCfg,
	}, nil
}

// Cancel requests a cooperative stop. The flag is checked once per loop
// iteration; no partial output is returned.
func (o *Orchestrator) Cancel() {
	o.cancelRequested.Store(true)
}

// Destroy releases both encode sessions. Safe to call at any time.
func (o *Orchestrator) Destroy() {
	if o.video != nil {
		o.video.Destroy()
	}
	if o.audio != nil {
		o.audio.Destroy()
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// fail records the failed state and returns the error for recovery routing.
func (o *Orchestrator) fail(err error) error {
	o.setState(StateFailed)
	return err
}

// classifyEncodeError wraps encoder failures in the processing taxonomy.
func classifyEncodeError(message string, err error) *models.ProcessingError {
	var perr *models.ProcessingError
	if errors.As(err, &perr) {
		return perr
	}
	return &models.ProcessingError{
		Kind:        models.ErrKindEncodeFailure,
		Message:     message,
		Recoverable: true,
		MaxRetries:  2,
		Strategy:    models.RecoveryRetry,
		Cause:       err,
	}
}
