// Package config provides configuration management for storylift using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultCanvasWidth     = 1080
	defaultCanvasHeight    = 1920
	defaultFrameRate       = 30
	defaultVideoBitrate    = 6_000_000
	defaultAudioBitrate    = 128_000
	defaultAudioSampleRate = 44100
	defaultAudioChannels   = 2

	defaultMaxFileSizeBytes = 500 * 1024 * 1024 // 500MB
	defaultMaxDuration      = 10 * time.Minute
	defaultMaxConcurrent    = 2
	defaultMaxRequests      = 10
	defaultRequestWindow    = time.Minute
	defaultBlockDuration    = 5 * time.Minute

	defaultJobRetention    = 24 * time.Hour
	defaultSweepInterval   = 5 * time.Minute
	defaultMetricsInterval = 30 * time.Second
	defaultMetricsHistory  = 100
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Encoding  EncodingConfig  `mapstructure:"encoding"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// EncodingConfig holds target encode parameters for story renders.
type EncodingConfig struct {
	CanvasWidth     int `mapstructure:"canvas_width"`
	CanvasHeight    int `mapstructure:"canvas_height"`
	FrameRate       int `mapstructure:"frame_rate"`
	VideoBitrate    int `mapstructure:"video_bitrate"`
	AudioBitrate    int `mapstructure:"audio_bitrate"`
	AudioSampleRate int `mapstructure:"audio_sample_rate"`
	AudioChannels   int `mapstructure:"audio_channels"`
}

// RateLimitConfig holds admission control configuration.
type RateLimitConfig struct {
	MaxRequests      int           `mapstructure:"max_requests"`
	RequestWindow    time.Duration `mapstructure:"request_window"`
	BlockDuration    time.Duration `mapstructure:"block_duration"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	MaxFileSize      ByteSize      `mapstructure:"max_file_size"`
	MaxDuration      time.Duration `mapstructure:"max_duration"`
	AllowedFormats   []string      `mapstructure:"allowed_formats"`
	FilenameDenylist []string      `mapstructure:"filename_denylist"`
}

// JobsConfig holds job lifecycle configuration.
type JobsConfig struct {
	Retention       Duration      `mapstructure:"retention"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
	MetricsHistory  int           `mapstructure:"metrics_history"`
}

// FFmpegConfig holds encoder binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STORYLIFT_ and use underscores for nesting.
// Example: STORYLIFT_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/storylift")
		v.AddConfigPath("$HOME/.storylift")
	}

	v.SetEnvPrefix("STORYLIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.dsn", "storylift.db")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.temp_dir", "temp")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("encoding.canvas_width", defaultCanvasWidth)
	v.SetDefault("encoding.canvas_height", defaultCanvasHeight)
	v.SetDefault("encoding.frame_rate", defaultFrameRate)
	v.SetDefault("encoding.video_bitrate", defaultVideoBitrate)
	v.SetDefault("encoding.audio_bitrate", defaultAudioBitrate)
	v.SetDefault("encoding.audio_sample_rate", defaultAudioSampleRate)
	v.SetDefault("encoding.audio_channels", defaultAudioChannels)

	v.SetDefault("rate_limit.max_requests", defaultMaxRequests)
	v.SetDefault("rate_limit.request_window", defaultRequestWindow)
	v.SetDefault("rate_limit.block_duration", defaultBlockDuration)
	v.SetDefault("rate_limit.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("rate_limit.max_file_size", defaultMaxFileSizeBytes)
	v.SetDefault("rate_limit.max_duration", defaultMaxDuration)
	v.SetDefault("rate_limit.allowed_formats", []string{"mp4", "mov", "webm", "mkv"})
	v.SetDefault("rate_limit.filename_denylist", []string{`\.exe$`, `\.bat$`, `\.sh$`, `[<>:"|?*]`})

	v.SetDefault("jobs.retention", defaultJobRetention)
	v.SetDefault("jobs.sweep_interval", defaultSweepInterval)
	v.SetDefault("jobs.metrics_interval", defaultMetricsInterval)
	v.SetDefault("jobs.metrics_history", defaultMetricsHistory)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Encoding.CanvasWidth < 2 || c.Encoding.CanvasHeight < 2 {
		return fmt.Errorf("encoding canvas dimensions must be at least 2x2")
	}
	// Story renders are portrait only.
	if c.Encoding.CanvasWidth >= c.Encoding.CanvasHeight {
		return fmt.Errorf("encoding canvas must be portrait (width < height)")
	}
	if c.Encoding.FrameRate < 1 || c.Encoding.FrameRate > 120 {
		return fmt.Errorf("encoding.frame_rate must be between 1 and 120")
	}
	if c.Encoding.AudioChannels < 1 || c.Encoding.AudioChannels > 8 {
		return fmt.Errorf("encoding.audio_channels must be between 1 and 8")
	}

	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate_limit.max_requests must be at least 1")
	}
	if c.RateLimit.MaxConcurrent < 1 {
		return fmt.Errorf("rate_limit.max_concurrent must be at least 1")
	}

	if c.Jobs.MetricsHistory < 1 {
		return fmt.Errorf("jobs.metrics_history must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OutputPath returns the full path to the output directory.
func (c *StorageConfig) OutputPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.OutputDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
