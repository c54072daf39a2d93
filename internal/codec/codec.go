// Package codec defines the codec types, encoder configurations, and
// capability probing used to negotiate story render encodes.
package codec

import "fmt"

// Video represents a video codec.
type Video string

// Video codec constants.
const (
	VideoH264 Video = "h264" // H.264/AVC
	VideoH265 Video = "h265" // H.265/HEVC
	VideoVP9  Video = "vp9"  // VP9
)

// Audio represents an audio codec.
type Audio string

// Audio codec constants.
const (
	AudioAAC  Audio = "aac"  // AAC
	AudioOpus Audio = "opus" // Opus
)

// H264Profile represents an H.264 encoding profile.
type H264Profile string

// H.264 profile constants, ordered by preference (high is preferred).
const (
	ProfileBaseline H264Profile = "baseline"
	ProfileMain     H264Profile = "main"
	ProfileHigh     H264Profile = "high"
)

// String returns the string representation of the video codec.
func (v Video) String() string {
	return string(v)
}

// String returns the string representation of the audio codec.
func (a Audio) String() string {
	return string(a)
}

// String returns the string representation of the profile.
func (p H264Profile) String() string {
	return string(p)
}

// Rank returns the preference rank of the profile. Higher is better.
func (p H264Profile) Rank() int {
	switch p {
	case ProfileHigh:
		return 3
	case ProfileMain:
		return 2
	case ProfileBaseline:
		return 1
	default:
		return 0
	}
}

// ProfilesByPreference lists H.264 profiles from most to least preferred.
func ProfilesByPreference() []H264Profile {
	return []H264Profile{ProfileHigh, ProfileMain, ProfileBaseline}
}

// Resolution is a candidate encode resolution.
type Resolution struct {
	Width  int
	Height int
}

// String returns the WxH form of the resolution.
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Pixels returns the pixel count of the resolution.
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// Candidate vertical story resolutions from full to reduced.
var (
	ResolutionFull    = Resolution{Width: 1080, Height: 1920}
	ResolutionReduced = Resolution{Width: 720, Height: 1280}
)

// ResolutionsByPreference lists candidate resolutions from full to reduced.
func ResolutionsByPreference() []Resolution {
	return []Resolution{ResolutionFull, ResolutionReduced}
}

// EncoderConfig describes one video encode configuration. It is immutable
// once an encode session starts.
type EncoderConfig struct {
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	FrameRate  int         `json:"frame_rate"`
	BitrateBps int         `json:"bitrate_bps"`
	Codec      Video       `json:"codec"`
	Profile    H264Profile `json:"profile"`
}

// Resolution returns the config's resolution.
func (c EncoderConfig) Resolution() Resolution {
	return Resolution{Width: c.Width, Height: c.Height}
}

// String returns a compact description of the config.
func (c EncoderConfig) String() string {
	return fmt.Sprintf("%s %s %dx%d@%dfps %dbps", c.Codec, c.Profile, c.Width, c.Height, c.FrameRate, c.BitrateBps)
}

// Validate checks the config for basic sanity.
func (c EncoderConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", c.Width, c.Height)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate %d", c.FrameRate)
	}
	if c.BitrateBps <= 0 {
		return fmt.Errorf("invalid bitrate %d", c.BitrateBps)
	}
	return nil
}

// AudioConfig describes one audio encode configuration. Same immutability
// rule as EncoderConfig.
type AudioConfig struct {
	SampleRate   int   `json:"sample_rate"`
	ChannelCount int   `json:"channel_count"`
	BitrateBps   int   `json:"bitrate_bps"`
	Codec        Audio `json:"codec"`
}

// String returns a compact description of the config.
func (c AudioConfig) String() string {
	return fmt.Sprintf("%s %dHz %dch %dbps", c.Codec, c.SampleRate, c.ChannelCount, c.BitrateBps)
}

// Validate checks the config for basic sanity.
func (c AudioConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.ChannelCount <= 0 {
		return fmt.Errorf("invalid channel count %d", c.ChannelCount)
	}
	if c.BitrateBps <= 0 {
		return fmt.Errorf("invalid bitrate %d", c.BitrateBps)
	}
	return nil
}
