package models

// ChunkType distinguishes self-contained from differentially-encoded chunks.
type ChunkType string

// Chunk types.
const (
	// ChunkKey is a self-contained chunk and a valid sync point.
	ChunkKey ChunkType = "key"
	// ChunkDelta depends on preceding chunks.
	ChunkDelta ChunkType = "delta"
)

// EncodedChunk is one unit of encoder output. Chunks are produced in strictly
// increasing TimestampMicros order per track; ownership transfers to the
// muxer once collected.
type EncodedChunk struct {
	Type            ChunkType
	TimestampMicros int64
	DurationMicros  int64
	Payload         []byte
}

// IsKey returns true for key (sync) chunks.
func (c EncodedChunk) IsKey() bool {
	return c.Type == ChunkKey
}

// FrameStyle selects how the source frame fills the portrait canvas.
type FrameStyle string

// Frame styles.
const (
	// StyleBlur letterboxes the frame over a blurred scaled-to-fill copy.
	StyleBlur FrameStyle = "blur"
	// StyleCrop scales the frame to fill, cropping the excess dimension.
	StyleCrop FrameStyle = "crop"
)

// Valid reports whether the style is a known framing mode.
func (s FrameStyle) Valid() bool {
	return s == StyleBlur || s == StyleCrop
}

// StoryMetadata is the overlay text drawn onto every frame. Empty strings
// suppress the corresponding overlay element.
type StoryMetadata struct {
	Title           string `json:"title"`
	ChannelName     string `json:"channel_name"`
	SubscriberLabel string `json:"subscriber_label"`
}

// StyleConfig describes the visual transform applied to every frame of one
// job. It must remain constant for the job's duration so output is visually
// consistent.
type StyleConfig struct {
	Style            FrameStyle    `json:"style"`
	ShowSafeZones    bool          `json:"show_safe_zones"`
	TopSafeZonePx    int           `json:"top_safe_zone_px"`
	BottomSafeZonePx int           `json:"bottom_safe_zone_px"`
	Metadata         StoryMetadata `json:"metadata"`
}

// VideoInfo describes a source video as reported by probing.
type VideoInfo struct {
	Filename        string  `json:"filename"`
	Format          string  `json:"format"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FrameRate       float64 `json:"frame_rate"`
	HasAudio        bool    `json:"has_audio"`
	AudioSampleRate int     `json:"audio_sample_rate,omitempty"`
	AudioChannels   int     `json:"audio_channels,omitempty"`
}

// RenderResult describes a finished story render.
type RenderResult struct {
	OutputPath      string  `json:"output_path"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	FrameCount      int     `json:"frame_count"`
	AudioOmitted    bool    `json:"audio_omitted"`
}
