package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
	"github.com/MarcusHSmith/StoryLift/internal/compositor"
	"github.com/MarcusHSmith/StoryLift/internal/encoder"
	"github.com/MarcusHSmith/StoryLift/internal/models"
	"github.com/MarcusHSmith/StoryLift/internal/muxer"
)

type fakeSupport struct {
	videoOK bool
	audioOK bool
}

func (f *fakeSupport) SupportsVideo(_ context.Context, _ codec.EncoderConfig) (bool, error) {
	return f.videoOK, nil
}

func (f *fakeSupport) SupportsAudio(_ context.Context, _ codec.AudioConfig) (bool, error) {
	return f.audioOK, nil
}

type fakeFrameSource struct {
	calls     int
	failAt    int
	positions []float64
}

func newFakeFrameSource() *fakeFrameSource {
	return &fakeFrameSource{failAt: -1}
}

func (f *fakeFrameSource) FrameAt(_ context.Context, positionSeconds float64) (image.Image, error) {
	if f.failAt >= 0 && f.calls == f.failAt {
		return nil, errors.New("decode failed")
	}
	f.calls++
	f.positions = append(f.positions, positionSeconds)
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 0x40
	}
	return img, nil
}

func (f *fakeFrameSource) Close() error { return nil }

type fakeAudioSource struct {
	planar [][]int16
	err    error
}

func (f *fakeAudioSource) ExtractSamples(_ context.Context) ([][]int16, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.planar, nil
}

type fakeVideoEncoder struct {
	mu           sync.Mutex
	cfg          codec.EncoderConfig
	configured   bool
	started      bool
	destroyed    int
	configureErr error
	encodeErr    error
	stopErr      error
	onError      encoder.ErrorCallback
	timestamps   []int64
	chunks       []models.EncodedChunk
}

func (f *fakeVideoEncoder) Configure(_ context.Context, cfg codec.EncoderConfig) error {
	if f.configureErr != nil {
		return f.configureErr
	}
	f.cfg = cfg
	f.configured = true
	return nil
}

func (f *fakeVideoEncoder) Start(_ encoder.ChunkCallback, onError encoder.ErrorCallback) error {
	f.started = true
	f.onError = onError
	return nil
}

func (f *fakeVideoEncoder) EncodeFrame(_ context.Context, pix []byte, timestampMicros int64) error {
	if f.encodeErr != nil {
		return f.encodeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timestamps = append(f.timestamps, timestampMicros)
	f.chunks = append(f.chunks, models.EncodedChunk{
		Type:            models.ChunkKey,
		TimestampMicros: timestampMicros,
		DurationMicros:  33333,
		Payload:         []byte{0x01},
	})
	return nil
}

func (f *fakeVideoEncoder) Stop(_ context.Context) ([]models.EncodedChunk, error) {
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks, nil
}

func (f *fakeVideoEncoder) Destroy() {
	f.destroyed++
}

type fakeAudioEncoder struct {
	configured   bool
	started      bool
	destroyed    int
	configureErr error
	encodeErr    error
	samples      [][]int16
	chunks       []models.EncodedChunk
}

func (f *fakeAudioEncoder) Configure(_ context.Context, _ codec.AudioConfig) error {
	if f.configureErr != nil {
		return f.configureErr
	}
	f.configured = true
	return nil
}

func (f *fakeAudioEncoder) Start(_ encoder.ChunkCallback, _ encoder.ErrorCallback) error {
	f.started = true
	return nil
}

func (f *fakeAudioEncoder) EncodeSamples(_ context.Context, planar [][]int16) error {
	if f.encodeErr != nil {
		return f.encodeErr
	}
	f.samples = planar
	f.chunks = append(f.chunks, models.EncodedChunk{
		Type:            models.ChunkKey,
		TimestampMicros: 0,
		DurationMicros:  23219,
		Payload:         []byte{0x02},
	})
	return nil
}

func (f *fakeAudioEncoder) Stop(_ context.Context) ([]models.EncodedChunk, error) {
	return f.chunks, nil
}

func (f *fakeAudioEncoder) Destroy() {
	f.destroyed++
}

type fakeMuxer struct {
	videoCount int
	audioCount int
	params     muxer.Params
	err        error
}

func (f *fakeMuxer) Mux(videoChunks, audioChunks []models.EncodedChunk, params muxer.Params) ([]byte, muxer.Metadata, error) {
	if f.err != nil {
		return nil, muxer.Metadata{}, f.err
	}
	f.videoCount = len(videoChunks)
	f.audioCount = len(audioChunks)
	f.params = params
	return []byte("container"), muxer.Metadata{
		SizeBytes:        9,
		DurationSeconds:  params.DurationSeconds,
		VideoSampleCount: len(videoChunks),
		AudioSampleCount: len(audioChunks),
	}, nil
}

type testHarness struct {
	orch  *Orchestrator
	video *fakeVideoEncoder
	audio *fakeAudioEncoder
	mux   *fakeMuxer
}

func audioTarget() codec.AudioConfig {
	return codec.AudioConfig{
		SampleRate:   44100,
		ChannelCount: 2,
		BitrateBps:   128000,
		Codec:        codec.AudioAAC,
	}
}

func newTestHarness(t *testing.T, support *fakeSupport, onProgress ProgressFunc) *testHarness {
	t.Helper()

	comp, err := compositor.New(90, 160)
	require.NoError(t, err)

	h := &testHarness{
		video: &fakeVideoEncoder{},
		audio: &fakeAudioEncoder{},
		mux:   &fakeMuxer{},
	}
	h.orch = New(Config{
		Prober:     codec.NewProber(support, 30, 4_000_000, audioTarget()),
		Compositor: comp,
		Video:      h.video,
		Audio:      h.audio,
		Muxer:      h.mux,
		FrameRate:  30,
		Style:      models.StyleConfig{Style: models.StyleCrop},
		OnProgress: onProgress,
	})
	return h
}

func TestInitialize_NoCapabilityFailsClosed(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: false, audioOK: true}, nil)

	err := h.orch.Initialize(context.Background())
	require.Error(t, err)

	var perr *models.ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrKindCapabilityAbsent, perr.Kind)
	assert.Equal(t, models.RecoveryAbort, perr.Strategy)
	assert.Equal(t, StateFailed, h.orch.State())
	assert.False(t, h.video.configured)
}

func TestInitialize_SelectsBestConfig(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true, audioOK: true}, nil)

	require.NoError(t, h.orch.Initialize(context.Background()))

	assert.Equal(t, codec.ProfileHigh, h.video.cfg.Profile)
	assert.Equal(t, 1080, h.video.cfg.Width)
	assert.Equal(t, 1920, h.video.cfg.Height)
	assert.True(t, h.audio.configured)
	assert.Equal(t, StateIdle, h.orch.State())
}

func TestInitialize_AudioRejectionDegradesToVideoOnly(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true, audioOK: true}, nil)
	h.audio.configureErr = errors.New("aac encoder unavailable")

	require.NoError(t, h.orch.Initialize(context.Background()))

	result, err := h.orch.Run(context.Background(), newFakeFrameSource(), &fakeAudioSource{}, 3)
	require.NoError(t, err)
	assert.True(t, result.AudioOmitted)
	assert.False(t, h.audio.started)
	assert.Nil(t, h.mux.params.AudioConfig)
}

func TestRun_RequiresInitialize(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)

	_, err := h.orch.Run(context.Background(), newFakeFrameSource(), nil, 10)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestRun_RejectsNonPositiveFrameCount(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)
	require.NoError(t, h.orch.Initialize(context.Background()))

	_, err := h.orch.Run(context.Background(), newFakeFrameSource(), nil, 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotInitialized)
}

func TestRun_RejectsReentrantStart(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)

	var reentrantErr error
	h.orch.onProgress = func(percent float64, step string) {
		if reentrantErr == nil {
			_, reentrantErr = h.orch.Run(context.Background(), newFakeFrameSource(), nil, 1)
		}
	}
	require.NoError(t, h.orch.Initialize(context.Background()))

	_, err := h.orch.Run(context.Background(), newFakeFrameSource(), nil, 3)
	require.NoError(t, err)
	assert.ErrorIs(t, reentrantErr, ErrAlreadyRunning)
}

func TestRun_FrameIndexedTimestamps(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)
	require.NoError(t, h.orch.Initialize(context.Background()))

	frames := newFakeFrameSource()
	result, err := h.orch.Run(context.Background(), frames, nil, 10)
	require.NoError(t, err)

	require.Len(t, h.video.timestamps, 10)
	for i, ts := range h.video.timestamps {
		assert.Equal(t, int64(i)*33333, ts, "frame %d", i)
	}
	// Source positions follow the frame index, never wall-clock time.
	assert.InDelta(t, 0.0, frames.positions[0], 1e-9)
	assert.InDelta(t, 9.0/30.0, frames.positions[9], 1e-9)
	assert.Equal(t, 10, result.FrameCount)
	assert.Equal(t, StateCompleted, h.orch.State())
}

func TestRun_ProgressPerFrame(t *testing.T) {
	var percents []float64
	var steps []string
	h := newTestHarness(t, &fakeSupport{videoOK: true}, func(percent float64, step string) {
		percents = append(percents, percent)
		steps = append(steps, step)
	})
	require.NoError(t, h.orch.Initialize(context.Background()))

	_, err := h.orch.Run(context.Background(), newFakeFrameSource(), nil, 4)
	require.NoError(t, err)

	require.Len(t, percents, 5)
	assert.InDelta(t, 25, percents[0], 1e-9)
	assert.InDelta(t, 100, percents[3], 1e-9)
	assert.InDelta(t, 100, percents[4], 1e-9)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	assert.Equal(t, "encoding frames", steps[0])
	assert.Equal(t, "finalizing", steps[4])
}

func TestRun_CooperativeCancel(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)
	h.orch.onProgress = func(percent float64, step string) {
		h.orch.Cancel()
	}
	require.NoError(t, h.orch.Initialize(context.Background()))

	result, err := h.orch.Run(context.Background(), newFakeFrameSource(), nil, 100)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, result)
	assert.Equal(t, StateCancelled, h.orch.State())
	// Cancel lands between iterations, so exactly one frame was submitted and
	// the sessions were torn down without producing output.
	assert.Len(t, h.video.timestamps, 1)
	assert.Equal(t, 0, h.mux.videoCount)
	assert.GreaterOrEqual(t, h.video.destroyed, 1)
}

func TestRun_ContextCancelStopsLoop(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.orch.onProgress = func(percent float64, step string) {
		cancel()
	}
	require.NoError(t, h.orch.Initialize(context.Background()))

	_, err := h.orch.Run(ctx, newFakeFrameSource(), nil, 100)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, h.orch.State())
}

func TestRun_AudioExtractionFailureOmitsAudio(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true, audioOK: true}, nil)
	require.NoError(t, h.orch.Initialize(context.Background()))

	result, err := h.orch.Run(context.Background(), newFakeFrameSource(),
		&fakeAudioSource{err: errors.New("no audio track")}, 5)
	require.NoError(t, err)

	assert.True(t, result.AudioOmitted)
	assert.Equal(t, 5, result.FrameCount)
	assert.Nil(t, h.mux.params.AudioConfig)
	assert.Equal(t, 0, h.mux.audioCount)
	assert.Equal(t, StateCompleted, h.orch.State())
}

func TestRun_AudioPassPrecedesFrames(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true, audioOK: true}, nil)
	require.NoError(t, h.orch.Initialize(context.Background()))

	planar := [][]int16{make([]int16, 2048), make([]int16, 2048)}
	result, err := h.orch.Run(context.Background(), newFakeFrameSource(),
		&fakeAudioSource{planar: planar}, 5)
	require.NoError(t, err)

	assert.False(t, result.AudioOmitted)
	assert.Equal(t, planar, h.audio.samples)
	require.NotNil(t, h.mux.params.AudioConfig)
	assert.Equal(t, 44100, h.mux.params.AudioConfig.SampleRate)
	assert.Equal(t, 1, h.mux.audioCount)
}

func TestRun_FrameSourceErrorClassified(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)
	require.NoError(t, h.orch.Initialize(context.Background()))

	frames := newFakeFrameSource()
	frames.failAt = 2
	_, err := h.orch.Run(context.Background(), frames, nil, 10)
	require.Error(t, err)

	var perr *models.ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrKindFrameExtraction, perr.Kind)
	assert.Equal(t, models.RecoveryRetry, perr.Strategy)
	assert.True(t, perr.Recoverable)
	assert.Equal(t, StateFailed, h.orch.State())
	assert.GreaterOrEqual(t, h.video.destroyed, 1)
}

func TestRun_EncodeErrorClassified(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)
	h.video.encodeErr = errors.New("encoder pipe closed")
	require.NoError(t, h.orch.Initialize(context.Background()))

	_, err := h.orch.Run(context.Background(), newFakeFrameSource(), nil, 5)
	require.Error(t, err)

	var perr *models.ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrKindEncodeFailure, perr.Kind)
	assert.Equal(t, StateFailed, h.orch.State())
}

func TestRun_AsyncEncoderErrorStopsLoop(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)
	h.orch.onProgress = func(percent float64, step string) {
		if h.video.onError != nil {
			h.video.onError(errors.New("backend died"))
		}
	}
	require.NoError(t, h.orch.Initialize(context.Background()))

	_, err := h.orch.Run(context.Background(), newFakeFrameSource(), nil, 100)
	require.Error(t, err)

	var perr *models.ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrKindEncodeFailure, perr.Kind)
	assert.Equal(t, StateFailed, h.orch.State())
	assert.Less(t, len(h.video.timestamps), 100)
}

func TestRun_MuxFailureClassified(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)
	h.mux.err = errors.New("sample table overflow")
	require.NoError(t, h.orch.Initialize(context.Background()))

	_, err := h.orch.Run(context.Background(), newFakeFrameSource(), nil, 3)
	require.Error(t, err)

	var perr *models.ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrKindMuxFailure, perr.Kind)
	assert.Equal(t, models.RecoveryAbort, perr.Strategy)
	assert.Equal(t, StateFailed, h.orch.State())
}

func TestDestroy_ReleasesSessions(t *testing.T) {
	h := newTestHarness(t, &fakeSupport{videoOK: true}, nil)
	h.orch.Destroy()
	assert.Equal(t, 1, h.video.destroyed)
	assert.Equal(t, 1, h.audio.destroyed)
}

// e2eVideoBackend feeds canned Annex B access units through a real video
// session so the full session-to-muxer path gets exercised.
type e2eVideoBackend struct {
	mu          sync.Mutex
	units       chan encoder.VideoUnit
	submitted   int
	keyInterval int
}

var (
	e2eSPS = []byte{
		0x67, 0x64, 0x00, 0x0c, 0xac, 0x3b, 0x50, 0xb0,
		0x4b, 0x42, 0x00, 0x00, 0x03, 0x00, 0x02, 0x00,
		0x00, 0x03, 0x00, 0x3d, 0x08,
	}
	e2ePPS = []byte{0x68, 0xee, 0x3c, 0x80}
	e2eIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff}
	e2eP   = []byte{0x41, 0x9a, 0x24, 0x6c, 0x41, 0x4f}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func (b *e2eVideoBackend) Configure(_ context.Context, _ codec.EncoderConfig) error {
	b.units = make(chan encoder.VideoUnit, 256)
	return nil
}

func (b *e2eVideoBackend) Submit(_ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitted%b.keyInterval == 0 {
		b.units <- encoder.VideoUnit{Payload: annexB(e2eSPS, e2ePPS, e2eIDR), Keyframe: true}
	} else {
		b.units <- encoder.VideoUnit{Payload: annexB(e2eP), Keyframe: false}
	}
	b.submitted++
	return nil
}

func (b *e2eVideoBackend) Finish() error {
	close(b.units)
	return nil
}

func (b *e2eVideoBackend) Units() <-chan encoder.VideoUnit { return b.units }
func (b *e2eVideoBackend) Err() error                      { return nil }
func (b *e2eVideoBackend) Close() error                    { return nil }

func TestRun_EndToEndVideoOnly(t *testing.T) {
	comp, err := compositor.New(90, 160)
	require.NoError(t, err)

	session := encoder.NewVideoSession(&e2eVideoBackend{keyInterval: 30})
	orch := New(Config{
		Prober:     codec.NewProber(&fakeSupport{videoOK: true, audioOK: false}, 30, 4_000_000, audioTarget()),
		Compositor: comp,
		Video:      session,
		Audio:      &fakeAudioEncoder{},
		Muxer:      muxer.New(),
		FrameRate:  30,
		Style:      models.StyleConfig{Style: models.StyleCrop},
	})
	defer orch.Destroy()

	require.NoError(t, orch.Initialize(context.Background()))

	result, err := orch.Run(context.Background(), newFakeFrameSource(), nil, 60)
	require.NoError(t, err)

	assert.True(t, result.AudioOmitted)
	assert.Equal(t, 60, result.FrameCount)
	assert.Equal(t, 60, result.Meta.VideoSampleCount)
	assert.Equal(t, 0, result.Meta.AudioSampleCount)
	assert.InDelta(t, 2.0, result.Meta.DurationSeconds, 0.05)
	require.Greater(t, len(result.Data), 8)
	assert.Equal(t, "ftyp", string(result.Data[4:8]))
	assert.Equal(t, StateCompleted, orch.State())
}

func TestDeinterleavePCM(t *testing.T) {
	t.Run("stereo", func(t *testing.T) {
		// L0=1 R0=-1 L1=2 R1=-2, little endian.
		data := []byte{0x01, 0x00, 0xff, 0xff, 0x02, 0x00, 0xfe, 0xff}
		planar, err := deinterleavePCM(data, 2)
		require.NoError(t, err)
		require.Len(t, planar, 2)
		assert.Equal(t, []int16{1, 2}, planar[0])
		assert.Equal(t, []int16{-1, -2}, planar[1])
	})

	t.Run("trailing partial group dropped", func(t *testing.T) {
		data := []byte{0x01, 0x00, 0x02, 0x00, 0x03}
		planar, err := deinterleavePCM(data, 2)
		require.NoError(t, err)
		assert.Equal(t, []int16{1}, planar[0])
		assert.Equal(t, []int16{2}, planar[1])
	})

	t.Run("invalid channel count", func(t *testing.T) {
		_, err := deinterleavePCM(nil, 0)
		assert.Error(t, err)
	})
}

func TestClassifyEncodeError(t *testing.T) {
	t.Run("passthrough", func(t *testing.T) {
		orig := &models.ProcessingError{Kind: models.ErrKindMuxFailure, Message: "boom"}
		wrapped := fmt.Errorf("outer: %w", orig)
		assert.Same(t, orig, classifyEncodeError("ctx", wrapped))
	})

	t.Run("wraps plain errors", func(t *testing.T) {
		perr := classifyEncodeError("encoding frame 3", errors.New("pipe closed"))
		assert.Equal(t, models.ErrKindEncodeFailure, perr.Kind)
		assert.True(t, perr.Recoverable)
		assert.Equal(t, models.RecoveryRetry, perr.Strategy)
	})
}
