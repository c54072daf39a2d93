package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
	"github.com/MarcusHSmith/StoryLift/internal/config"
	"github.com/MarcusHSmith/StoryLift/internal/database"
	"github.com/MarcusHSmith/StoryLift/internal/ffmpeg"
	internalhttp "github.com/MarcusHSmith/StoryLift/internal/http"
	"github.com/MarcusHSmith/StoryLift/internal/http/handlers"
	"github.com/MarcusHSmith/StoryLift/internal/repository"
	"github.com/MarcusHSmith/StoryLift/internal/service"
	"github.com/MarcusHSmith/StoryLift/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storylift server",
	Long: `Start the storylift HTTP server and API.

The server provides:
- REST API for submitting and tracking render jobs
- Codec capability probing endpoint
- Service metrics and health check endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "storylift.db", "Database file path")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flag overrides, applied only when explicitly set.
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = viper.GetString("server.host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = viper.GetInt("server.port")
	}
	if cmd.Flags().Changed("database") {
		cfg.Database.DSN = viper.GetString("database.dsn")
	}

	// Initialize database
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize repositories and services
	jobRepo := repository.NewRenderJobRepository(db.DB)

	jobService := service.NewJobService(jobRepo, cfg.Jobs).WithLogger(logger)

	// Jobs left active by a previous run cannot resume; fail them so their
	// identities' concurrency slots free up.
	if _, err := jobService.FailInterrupted(cmd.Context()); err != nil {
		return fmt.Errorf("failing interrupted jobs: %w", err)
	}

	sweepSpec := fmt.Sprintf("@every %s", cfg.Jobs.SweepInterval)
	if err := jobService.StartSweeper(sweepSpec); err != nil {
		return fmt.Errorf("starting retention sweeper: %w", err)
	}
	defer jobService.StopSweeper()

	rateLimitService := service.NewRateLimitService(cfg.RateLimit).
		WithLogger(logger).
		WithActiveJobCounter(jobRepo)

	monitoringService := service.NewMonitoringService(jobRepo, cfg.Jobs.MetricsInterval, cfg.Jobs.MetricsHistory).
		WithLogger(logger)

	// Initialize codec capability prober
	detector := ffmpeg.NewBinaryDetector()
	support := ffmpeg.NewEncoderSupport(detector)
	prober := codec.NewProber(support, cfg.Encoding.FrameRate, cfg.Encoding.VideoBitrate, codec.AudioConfig{
		SampleRate:   cfg.Encoding.AudioSampleRate,
		ChannelCount: cfg.Encoding.AudioChannels,
		BitrateBps:   cfg.Encoding.AudioBitrate,
		Codec:        codec.AudioAAC,
	}).WithLogger(logger)

	// Initialize HTTP server
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	// Register handlers
	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB)
	healthHandler.Register(server.API())

	jobHandler := handlers.NewJobHandler(jobService, rateLimitService)
	jobHandler.Register(server.API())

	capabilityHandler := handlers.NewCapabilityHandler(prober)
	capabilityHandler.Register(server.API())

	metricsHandler := handlers.NewMetricsHandler(monitoringService)
	metricsHandler.Register(server.API())

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitoringService.Start(ctx)
	defer monitoringService.Stop()

	// Periodically drop idle and expired rate limit entries.
	go func() {
		interval := cfg.RateLimit.RequestWindow
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rateLimitService.Cleanup()
			}
		}
	}()

	logger.Info("starting storylift server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
