package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// probeResult mirrors the ffprobe -print_format json output.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

// Prober extracts source-video metadata via ffprobe.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober using the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe runs ffprobe against a file and returns its video metadata.
func (p *Prober) Probe(ctx context.Context, path string) (*models.VideoInfo, error) {
	if p.ffprobePath == "" {
		return nil, fmt.Errorf("ffprobe not available")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return simplify(path, &result)
}

// simplify reduces raw ffprobe output to the fields the pipeline needs.
func simplify(path string, result *probeResult) (*models.VideoInfo, error) {
	info := &models.VideoInfo{
		Filename: filepath.Base(path),
		Format:   primaryFormat(result.Format.FormatName),
	}
	info.SizeBytes, _ = strconv.ParseInt(result.Format.Size, 10, 64)
	info.DurationSeconds, _ = strconv.ParseFloat(result.Format.Duration, 64)

	var haveVideo bool
	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			if haveVideo {
				continue
			}
			haveVideo = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.FrameRate = parseFramerate(stream.AvgFrameRate)
			if info.FrameRate == 0 {
				info.FrameRate = parseFramerate(stream.RFrameRate)
			}
		case "audio":
			if info.HasAudio {
				continue
			}
			info.HasAudio = true
			info.AudioSampleRate, _ = strconv.Atoi(stream.SampleRate)
			info.AudioChannels = stream.Channels
		}
	}

	if !haveVideo {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid video dimensions %dx%d in %s", info.Width, info.Height, path)
	}
	return info, nil
}

// primaryFormat picks the first name from ffprobe's comma-separated
// format_name (e.g. "mov,mp4,m4a,3gp,3g2,mj2").
func primaryFormat(formatName string) string {
	names := strings.Split(formatName, ",")
	for _, n := range names {
		// Prefer the widely recognised name when the mov family matches.
		if n == "mp4" {
			return "mp4"
		}
	}
	return names[0]
}

// parseFramerate parses an ffprobe rational framerate like "30000/1001".
func parseFramerate(fr string) float64 {
	if fr == "" || fr == "0/0" {
		return 0
	}
	parts := strings.Split(fr, "/")
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil || den == 0 {
			return 0
		}
		return num / den
	}
	val, err := strconv.ParseFloat(fr, 64)
	if err != nil {
		return 0
	}
	return val
}
