package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
	"github.com/MarcusHSmith/StoryLift/internal/compositor"
	"github.com/MarcusHSmith/StoryLift/internal/config"
	"github.com/MarcusHSmith/StoryLift/internal/encoder"
	"github.com/MarcusHSmith/StoryLift/internal/ffmpeg"
	"github.com/MarcusHSmith/StoryLift/internal/models"
	"github.com/MarcusHSmith/StoryLift/internal/muxer"
	"github.com/MarcusHSmith/StoryLift/internal/pipeline"
	"github.com/MarcusHSmith/StoryLift/internal/service"
)

// renderRetryDelay is the pause between retries of a recoverable failure.
const renderRetryDelay = 5 * time.Second

var renderCmd = &cobra.Command{
	Use:   "render <input>",
	Short: "Render a source video into a vertical story clip",
	Long: `Render a landscape source video into a 9:16 vertical story clip.

The source is probed, composed frame by frame (blurred-fill or center-crop),
encoded to H.264 with AAC audio when the source has an audio track, and
muxed into a fragmented MP4. Recoverable failures are retried a bounded
number of times before giving up.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().String("output", "", "output file path (default <output dir>/<input>_story.mp4)")
	renderCmd.Flags().String("style", "blur", "framing style (blur, crop)")
	renderCmd.Flags().String("title", "", "title overlay text")
	renderCmd.Flags().String("channel", "", "channel name overlay text")
	renderCmd.Flags().String("subscribers", "", "subscriber count label overlay text")
	renderCmd.Flags().Bool("safe-zones", false, "draw safe zone guides on the output")
}

func runRender(cmd *cobra.Command, args []string) error {
	input := args[0]
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	styleFlag, _ := cmd.Flags().GetString("style")
	style := models.StyleConfig{
		Style: models.FrameStyle(strings.ToLower(styleFlag)),
	}
	if !style.Style.Valid() {
		return fmt.Errorf("unknown style %q (want blur or crop)", styleFlag)
	}
	style.ShowSafeZones, _ = cmd.Flags().GetBool("safe-zones")
	style.Metadata.Title, _ = cmd.Flags().GetString("title")
	style.Metadata.ChannelName, _ = cmd.Flags().GetString("channel")
	style.Metadata.SubscriberLabel, _ = cmd.Flags().GetString("subscribers")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector := ffmpeg.NewBinaryDetector()
	bin, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("locating ffmpeg: %w", err)
	}
	if bin.FFprobePath == "" {
		return fmt.Errorf("ffprobe not found; install it next to ffmpeg or set STORYLIFT_FFPROBE_BINARY")
	}

	info, err := ffmpeg.NewProber(bin.FFprobePath).Probe(ctx, input)
	if err != nil {
		return fmt.Errorf("probing %s: %w", input, err)
	}

	support := ffmpeg.NewEncoderSupport(detector)
	capProber := codec.NewProber(support, cfg.Encoding.FrameRate, cfg.Encoding.VideoBitrate, codec.AudioConfig{
		SampleRate:   cfg.Encoding.AudioSampleRate,
		ChannelCount: cfg.Encoding.AudioChannels,
		BitrateBps:   cfg.Encoding.AudioBitrate,
		Codec:        codec.AudioAAC,
	}).WithLogger(logger)

	recovery := service.NewRecoveryService(renderRetryDelay).WithLogger(logger)

	var (
		result  *pipeline.Result
		retries int
	)
	for {
		result, err = renderOnce(ctx, cfg, bin, capProber, input, info, style, logger)
		if err == nil {
			break
		}

		perr := models.AsProcessingError(err)
		perr.RetryCount = retries
		outcome := recovery.HandleError(ctx, perr)
		if !outcome.Recovered {
			for _, action := range outcome.SuggestedActions {
				fmt.Fprintln(os.Stderr, "  -", action)
			}
			return fmt.Errorf("rendering %s: %w", input, err)
		}
		retries = outcome.RetryCount

		logger.Warn("retrying render",
			slog.Int("attempt", retries),
			slog.String("error", err.Error()),
		)
	}

	outPath, _ := cmd.Flags().GetString("output")
	if outPath == "" {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		outPath = filepath.Join(cfg.Storage.OutputPath(), base+"_story.mp4")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(outPath, result.Data, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	fmt.Fprintln(os.Stderr)
	fmt.Printf("wrote %s (%d bytes, %d frames, %.1fs", outPath,
		len(result.Data), result.FrameCount, result.Meta.DurationSeconds)
	if result.AudioOmitted {
		fmt.Printf(", video only")
	}
	fmt.Println(")")

	return nil
}

// renderOnce runs a single render attempt. Sessions and the orchestrator are
// single-use, so every attempt builds a fresh set.
func renderOnce(ctx context.Context, cfg *config.Config, bin *ffmpeg.BinaryInfo, capProber *codec.Prober,
	input string, info *models.VideoInfo, style models.StyleConfig, logger *slog.Logger) (*pipeline.Result, error) {

	comp, err := compositor.New(cfg.Encoding.CanvasWidth, cfg.Encoding.CanvasHeight)
	if err != nil {
		return nil, fmt.Errorf("creating compositor: %w", err)
	}

	video := encoder.NewVideoSession(encoder.NewFFmpegVideoBackend(bin.FFmpegPath)).WithLogger(logger)
	audio := encoder.NewAudioSession(encoder.NewFFmpegAudioBackend(bin.FFmpegPath)).WithLogger(logger)

	lastPercent := -1
	orch := pipeline.New(pipeline.Config{
		Prober:     capProber,
		Compositor: comp,
		Video:      video,
		Audio:      audio,
		Muxer:      muxer.New().WithLogger(logger),
		FrameRate:  cfg.Encoding.FrameRate,
		Style:      style,
		Logger:     logger,
		OnProgress: func(percent float64, step string) {
			if p := int(percent); p != lastPercent {
				lastPercent = p
				fmt.Fprintf(os.Stderr, "\r%3d%% %s", p, step)
			}
		},
	})
	defer orch.Destroy()

	if err := orch.Initialize(ctx); err != nil {
		return nil, err
	}

	frames, err := pipeline.NewFFmpegFrameSource(bin.FFmpegPath, input, info)
	if err != nil {
		return nil, err
	}
	defer frames.Close()

	var audioSrc pipeline.AudioSource
	if info.HasAudio {
		audioSrc = pipeline.NewFFmpegAudioSource(bin.FFmpegPath, input,
			cfg.Encoding.AudioSampleRate, cfg.Encoding.AudioChannels)
	}

	totalFrames := int(info.DurationSeconds * float64(cfg.Encoding.FrameRate))
	if totalFrames < 1 {
		totalFrames = 1
	}

	return orch.Run(ctx, frames, audioSrc, totalFrames)
}
