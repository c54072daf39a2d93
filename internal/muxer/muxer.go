// Package muxer assembles ordered encoded chunk sets into a self-contained
// fragmented MP4 buffer with one video and one audio track.
package muxer

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// videoTimeScale is the fixed 90kHz tick rate for the video track.
const videoTimeScale = 90000

// Track IDs inside the container.
const (
	videoTrackID = 1
	audioTrackID = 2
)

// Mux failures that callers must handle explicitly.
var (
	ErrNoVideoChunks       = errors.New("no video chunks to mux")
	ErrTimestampRegression = errors.New("chunk timestamp regression within track")
	ErrMissingParameters   = errors.New("H.264 SPS/PPS not found in key chunks")
)

// Params carries the timing metadata for one mux invocation.
type Params struct {
	VideoConfig codec.EncoderConfig
	// AudioConfig may be nil when audio was omitted; the audio track is
	// still declared so the container stays well-formed.
	AudioConfig     *codec.AudioConfig
	DurationSeconds float64
}

// Metadata reports what was written alongside the buffer.
type Metadata struct {
	SizeBytes        int64   `json:"size_bytes"`
	DurationSeconds  float64 `json:"duration_seconds"`
	VideoSampleCount int     `json:"video_sample_count"`
	AudioSampleCount int     `json:"audio_sample_count"`
	VideoTimeScale   uint32  `json:"video_time_scale"`
	AudioTimeScale   uint32  `json:"audio_time_scale"`
}

// Muxer writes fragmented MP4 output.
type Muxer struct {
	logger *slog.Logger
}

// New creates a muxer.
func New() *Muxer {
	return &Muxer{logger: slog.Default()}
}

// WithLogger sets the logger for the muxer.
func (m *Muxer) WithLogger(logger *slog.Logger) *Muxer {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Mux produces one independently playable fMP4 buffer from the complete
// ordered chunk sets. Both tracks are declared even when the audio set is
// empty. Fails explicitly on an empty video set or a timestamp regression.
func (m *Muxer) Mux(videoChunks, audioChunks []models.EncodedChunk, params Params) ([]byte, Metadata, error) {
	if len(videoChunks) == 0 {
		return nil, Metadata{}, ErrNoVideoChunks
	}
	if err := checkMonotonic(videoChunks); err != nil {
		return nil, Metadata{}, fmt.Errorf("video track: %w", err)
	}
	if err := checkMonotonic(audioChunks); err != nil {
		return nil, Metadata{}, fmt.Errorf("audio track: %w", err)
	}

	sps, pps, err := extractH264Params(videoChunks)
	if err != nil {
		return nil, Metadata{}, err
	}

	audioCfg := params.AudioConfig
	if audioCfg == nil {
		audioCfg = &codec.AudioConfig{
			SampleRate:   44100,
			ChannelCount: 2,
			BitrateBps:   128000,
			Codec:        codec.AudioAAC,
		}
	}
	audioTimeScale := uint32(audioCfg.SampleRate)

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        videoTrackID,
				TimeScale: videoTimeScale,
				Codec:     &mp4.CodecH264{SPS: sps, PPS: pps},
			},
			{
				ID:        audioTrackID,
				TimeScale: audioTimeScale,
				Codec: &mp4.CodecMPEG4Audio{
					Config: mpeg4audio.AudioSpecificConfig{
						Type:         mpeg4audio.ObjectTypeAACLC,
						SampleRate:   audioCfg.SampleRate,
						ChannelCount: audioCfg.ChannelCount,
					},
				},
			},
		},
	}

	videoSamples, err := m.buildVideoSamples(videoChunks, params.VideoConfig)
	if err != nil {
		return nil, Metadata{}, err
	}
	audioSamples := m.buildAudioSamples(audioChunks, audioTimeScale)

	part := &fmp4.Part{
		SequenceNumber: 1,
		Tracks: []*fmp4.PartTrack{
			{
				ID:       videoTrackID,
				BaseTime: scaleMicros(videoChunks[0].TimestampMicros, videoTimeScale),
				Samples:  videoSamples,
			},
		},
	}
	if len(audioSamples) > 0 {
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       audioTrackID,
			BaseTime: scaleMicros(audioChunks[0].TimestampMicros, audioTimeScale),
			Samples:  audioSamples,
		})
	}

	var buf bytes.Buffer
	w := &seekableBuffer{Buffer: &buf}
	if err := init.Marshal(w); err != nil {
		return nil, Metadata{}, fmt.Errorf("marshaling init segment: %w", err)
	}
	if err := part.Marshal(w); err != nil {
		return nil, Metadata{}, fmt.Errorf("marshaling fragment: %w", err)
	}

	meta := Metadata{
		SizeBytes:        int64(buf.Len()),
		DurationSeconds:  params.DurationSeconds,
		VideoSampleCount: len(videoSamples),
		AudioSampleCount: len(audioSamples),
		VideoTimeScale:   videoTimeScale,
		AudioTimeScale:   audioTimeScale,
	}
	if meta.DurationSeconds == 0 {
		last := videoChunks[len(videoChunks)-1]
		meta.DurationSeconds = float64(last.TimestampMicros+chunkDuration(last, params.VideoConfig.FrameRate)) / 1_000_000
	}

	m.logger.Debug("muxed story container",
		slog.Int64("size_bytes", meta.SizeBytes),
		slog.Int("video_samples", meta.VideoSampleCount),
		slog.Int("audio_samples", meta.AudioSampleCount),
	)
	return buf.Bytes(), meta, nil
}

// buildVideoSamples converts video chunks into fMP4 samples. Key chunks
// become sync samples, delta chunks non-sync. Durations come from timestamp
// deltas, falling back to the chunk's own duration or one frame interval.
func (m *Muxer) buildVideoSamples(chunks []models.EncodedChunk, cfg codec.EncoderConfig) ([]*fmp4.Sample, error) {
	samples := make([]*fmp4.Sample, 0, len(chunks))
	for i, chunk := range chunks {
		var durMicros int64
		if i+1 < len(chunks) {
			durMicros = chunks[i+1].TimestampMicros - chunk.TimestampMicros
		} else {
			durMicros = chunkDuration(chunk, cfg.FrameRate)
		}

		au := payloadToAccessUnit(chunk.Payload)
		if len(au) == 0 {
			return nil, fmt.Errorf("video chunk %d has no NAL units", i)
		}

		sample := &fmp4.Sample{
			Duration:        uint32(scaleMicros(durMicros, videoTimeScale)),
			IsNonSyncSample: !chunk.IsKey(),
		}
		if err := sample.FillH264(0, au); err != nil {
			return nil, fmt.Errorf("filling video sample %d: %w", i, err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// buildAudioSamples converts audio chunks into fMP4 samples. Every AAC frame
// is a sync sample.
func (m *Muxer) buildAudioSamples(chunks []models.EncodedChunk, timeScale uint32) []*fmp4.Sample {
	samples := make([]*fmp4.Sample, 0, len(chunks))
	for i, chunk := range chunks {
		var durMicros int64
		if i+1 < len(chunks) {
			durMicros = chunks[i+1].TimestampMicros - chunk.TimestampMicros
		} else {
			durMicros = chunk.DurationMicros
		}
		samples = append(samples, &fmp4.Sample{
			Duration:        uint32(scaleMicros(durMicros, timeScale)),
			IsNonSyncSample: false,
			Payload:         chunk.Payload,
		})
	}
	return samples
}

// chunkDuration returns the chunk's own duration, falling back to one frame
// interval when unset.
func chunkDuration(chunk models.EncodedChunk, frameRate int) int64 {
	if chunk.DurationMicros > 0 {
		return chunk.DurationMicros
	}
	if frameRate > 0 {
		return int64(1_000_000 / frameRate)
	}
	return 0
}

// scaleMicros converts microseconds into track timescale units.
func scaleMicros(micros int64, timeScale uint32) uint64 {
	if micros <= 0 {
		return 0
	}
	return uint64(micros) * uint64(timeScale) / 1_000_000
}

// checkMonotonic rejects chunk sets whose timestamps are not strictly
// increasing.
func checkMonotonic(chunks []models.EncodedChunk) error {
	for i := 1; i < len(chunks); i++ {
		if chunks[i].TimestampMicros <= chunks[i-1].TimestampMicros {
			return fmt.Errorf("%w: chunk %d at %dus after %dus",
				ErrTimestampRegression, i, chunks[i].TimestampMicros, chunks[i-1].TimestampMicros)
		}
	}
	return nil
}

// extractH264Params scans key chunks for SPS and PPS NAL units.
func extractH264Params(chunks []models.EncodedChunk) (sps, pps []byte, err error) {
	for _, chunk := range chunks {
		if !chunk.IsKey() {
			continue
		}
		for _, nalu := range payloadToAccessUnit(chunk.Payload) {
			if len(nalu) == 0 {
				continue
			}
			switch h264.NALUType(nalu[0] & 0x1F) {
			case h264.NALUTypeSPS:
				sps = append([]byte(nil), nalu...)
			case h264.NALUTypePPS:
				pps = append([]byte(nil), nalu...)
			}
		}
		if len(sps) > 0 && len(pps) > 0 {
			return sps, pps, nil
		}
	}
	return nil, nil, ErrMissingParameters
}

// payloadToAccessUnit converts a chunk payload to NAL unit slices. Annex B
// payloads are unmarshaled; anything else is treated as a single raw NALU.
func payloadToAccessUnit(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if len(data) >= 4 && data[0] == 0x00 && data[1] == 0x00 &&
		(data[2] == 0x01 || (data[2] == 0x00 && data[3] == 0x01)) {
		var au h264.AnnexB
		if err := au.Unmarshal(data); err == nil {
			return au
		}
	}
	return [][]byte{data}
}
