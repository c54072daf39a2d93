// Package handlers provides the HTTP API handlers for StoryLift.
package handlers

import (
	"time"

	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// StyleRequest selects the frame composition for a render.
type StyleRequest struct {
	Style           string `json:"style,omitempty" enum:"blur,crop" doc:"Frame fill mode (default blur)"`
	ShowSafeZones   bool   `json:"show_safe_zones,omitempty" doc:"Overlay platform UI safe-zone guides"`
	Title           string `json:"title,omitempty" maxLength:"1024"`
	ChannelName     string `json:"channel_name,omitempty" maxLength:"255"`
	SubscriberLabel string `json:"subscriber_label,omitempty" maxLength:"64"`
}

// SourceRequest describes the submitted source video.
type SourceRequest struct {
	Filename        string  `json:"filename" minLength:"1" maxLength:"512"`
	Format          string  `json:"format,omitempty" maxLength:"20" doc:"Container format, e.g. mp4"`
	SizeBytes       int64   `json:"size_bytes" minimum:"0"`
	DurationSeconds float64 `json:"duration_seconds" minimum:"0"`
}

// JobResponse is the API view of a render job.
type JobResponse struct {
	ID                   string   `json:"id"`
	Identity             string   `json:"identity,omitempty"`
	Status               string   `json:"status"`
	Progress             float64  `json:"progress"`
	CurrentStep          string   `json:"current_step,omitempty"`
	CreatedAt            string   `json:"created_at"`
	StartedAt            string   `json:"started_at,omitempty"`
	CompletedAt          string   `json:"completed_at,omitempty"`
	EstimatedRemainingMs *int64   `json:"estimated_remaining_ms,omitempty"`
	SourceFilename       string   `json:"source_filename"`
	Style                string   `json:"style"`
	Error                string   `json:"error,omitempty"`
	SuggestedActions     string   `json:"suggested_actions,omitempty"`
	OutputPath           string   `json:"output_path,omitempty"`
	OutputSizeBytes      int64    `json:"output_size_bytes,omitempty"`
	OutputDuration       float64  `json:"output_duration_seconds,omitempty"`
	FrameCount           int      `json:"frame_count,omitempty"`
	AudioOmitted         bool     `json:"audio_omitted"`
}

// JobFromModel converts a render job model to its API representation.
func JobFromModel(job *models.RenderJob) JobResponse {
	resp := JobResponse{
		ID:                   job.ID.String(),
		Identity:             job.Identity,
		Status:               string(job.Status),
		Progress:             job.Progress,
		CurrentStep:          job.CurrentStep,
		CreatedAt:            job.CreatedAt.UTC().Format(time.RFC3339),
		EstimatedRemainingMs: job.EstimatedRemainingMs,
		SourceFilename:       job.SourceFilename,
		Style:                string(job.Style),
		Error:                job.LastError,
		SuggestedActions:     job.SuggestedActions,
		OutputPath:           job.OutputPath,
		OutputSizeBytes:      job.OutputSizeBytes,
		OutputDuration:       job.OutputDuration,
		FrameCount:           job.FrameCount,
		AudioOmitted:         job.AudioOmitted,
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
