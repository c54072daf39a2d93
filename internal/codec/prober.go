package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoViableConfig is returned when not even the minimum viable encode
// configuration is supported by the runtime.
var ErrNoViableConfig = errors.New("no viable encoder configuration supported")

// EncoderSupport answers whether an exact encode configuration is usable.
// Implementations must verify the specific config, not just encoder presence.
type EncoderSupport interface {
	SupportsVideo(ctx context.Context, cfg EncoderConfig) (bool, error)
	SupportsAudio(ctx context.Context, cfg AudioConfig) (bool, error)
}

// CandidateList holds the probed encode configurations, video candidates
// ordered best-first.
type CandidateList struct {
	VideoConfigs   []EncoderConfig
	AudioConfig    *AudioConfig
	AudioSupported bool
}

// BestVideoConfig returns the highest-preference supported profile at the
// highest supported resolution. It fails closed with ErrNoViableConfig when
// nothing was confirmed supported.
func (cl CandidateList) BestVideoConfig() (EncoderConfig, error) {
	if len(cl.VideoConfigs) == 0 {
		return EncoderConfig{}, ErrNoViableConfig
	}
	return cl.VideoConfigs[0], nil
}

// Prober negotiates encode configurations against an EncoderSupport backend.
type Prober struct {
	support EncoderSupport
	logger  *slog.Logger

	frameRate       int
	videoBitrateBps int
	audioTarget     AudioConfig
}

// NewProber creates a capability prober.
func NewProber(support EncoderSupport, frameRate, videoBitrateBps int, audioTarget AudioConfig) *Prober {
	return &Prober{
		support:         support,
		logger:          slog.Default(),
		frameRate:       frameRate,
		videoBitrateBps: videoBitrateBps,
		audioTarget:     audioTarget,
	}
}

// WithLogger sets the logger for the prober.
func (p *Prober) WithLogger(logger *slog.Logger) *Prober {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Probe queries the support backend for every candidate (profile, resolution)
// pair and for the target audio config. Each pair is confirmed through an
// explicit per-config query. The returned list orders video candidates by
// profile preference first, then resolution.
func (p *Prober) Probe(ctx context.Context) (CandidateList, error) {
	var list CandidateList

	for _, profile := range ProfilesByPreference() {
		for _, res := range ResolutionsByPreference() {
			cfg := EncoderConfig{
				Width:      res.Width,
				Height:     res.Height,
				FrameRate:  p.frameRate,
				BitrateBps: p.videoBitrateBps,
				Codec:      VideoH264,
				Profile:    profile,
			}
			ok, err := p.support.SupportsVideo(ctx, cfg)
			if err != nil {
				return CandidateList{}, fmt.Errorf("checking video support for %s: %w", cfg, err)
			}
			if ok {
				list.VideoConfigs = append(list.VideoConfigs, cfg)
			} else {
				p.logger.Debug("video config unsupported", slog.String("config", cfg.String()))
			}
		}
	}

	audioOK, err := p.support.SupportsAudio(ctx, p.audioTarget)
	if err != nil {
		return CandidateList{}, fmt.Errorf("checking audio support for %s: %w", p.audioTarget, err)
	}
	list.AudioSupported = audioOK
	if audioOK {
		audio := p.audioTarget
		list.AudioConfig = &audio
	}

	p.logger.Info("capability probe complete",
		slog.Int("video_candidates", len(list.VideoConfigs)),
		slog.Bool("audio_supported", list.AudioSupported),
	)
	return list, nil
}

// IsEncodingSupported reports whether at least the minimum viable video
// configuration is available.
func (p *Prober) IsEncodingSupported(ctx context.Context) (bool, error) {
	list, err := p.Probe(ctx)
	if err != nil {
		return false, err
	}
	return len(list.VideoConfigs) > 0, nil
}

// SupportDescription returns a human-readable summary of probed capabilities.
func (p *Prober) SupportDescription(ctx context.Context) (string, error) {
	list, err := p.Probe(ctx)
	if err != nil {
		return "", err
	}
	if len(list.VideoConfigs) == 0 {
		return "no supported H.264 encode configurations", nil
	}

	var sb strings.Builder
	sb.WriteString("h264 profiles:")
	seen := make(map[H264Profile]bool)
	for _, cfg := range list.VideoConfigs {
		if !seen[cfg.Profile] {
			seen[cfg.Profile] = true
			sb.WriteString(" ")
			sb.WriteString(cfg.Profile.String())
		}
	}
	best := list.VideoConfigs[0]
	fmt.Fprintf(&sb, "; best %s@%s", best.Profile, best.Resolution())
	if list.AudioSupported {
		fmt.Fprintf(&sb, "; audio %s", p.audioTarget.Codec)
	} else {
		sb.WriteString("; audio unavailable")
	}
	return sb.String(), nil
}
