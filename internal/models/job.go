package models

import (
	"gorm.io/gorm"
)

// JobStatus represents the current status of a render job.
type JobStatus string

const (
	// JobStatusPending indicates the job is admitted but not yet processing.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates the render pipeline is running.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed or was cancelled.
	JobStatusFailed JobStatus = "failed"
)

// Valid reports whether the status is a known value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true once the job can no longer change state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// RenderJob is one tracked story render. It is mutated exclusively through
// the job service's update/cancel entry points; Progress is monotonically
// non-decreasing while the job is processing.
type RenderJob struct {
	BaseModel

	// Identity is the submitting identity used for rate limiting.
	Identity string `gorm:"not null;size:255;index" json:"identity"`

	Status JobStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// Progress is the completion percentage in [0,100].
	Progress float64 `gorm:"default:0" json:"progress"`

	// CurrentStep is a human-readable label for the active pipeline step.
	CurrentStep string `gorm:"size:255" json:"current_step,omitempty"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `json:"completed_at,omitempty"`

	// EstimatedRemainingMs is recomputed by the job service whenever
	// progress advances past zero.
	EstimatedRemainingMs *int64 `json:"estimated_remaining_ms,omitempty"`

	// Source video description captured at admission.
	SourceFilename  string  `gorm:"size:512" json:"source_filename"`
	SourceFormat    string  `gorm:"size:20" json:"source_format"`
	SourceSizeBytes int64   `json:"source_size_bytes"`
	SourceDuration  float64 `json:"source_duration_seconds"`

	// Style configuration serialized from the admission request.
	Style         FrameStyle `gorm:"size:10" json:"style"`
	ShowSafeZones bool       `json:"show_safe_zones"`
	Title         string     `gorm:"size:1024" json:"title,omitempty"`
	ChannelName   string     `gorm:"size:255" json:"channel_name,omitempty"`
	SubscriberLbl string     `gorm:"size:64" json:"subscriber_label,omitempty"`

	// LastError holds the terminal failure message, when any.
	LastError string `gorm:"size:4096" json:"error,omitempty"`

	// SuggestedActions carries the recovery policy's user-facing advice.
	SuggestedActions string `gorm:"size:1024" json:"suggested_actions,omitempty"`

	// Render result fields, set on completion.
	OutputPath      string  `gorm:"size:1024" json:"output_path,omitempty"`
	OutputSizeBytes int64   `json:"output_size_bytes,omitempty"`
	OutputDuration  float64 `json:"output_duration_seconds,omitempty"`
	FrameCount      int     `json:"frame_count,omitempty"`
	AudioOmitted    bool    `json:"audio_omitted"`
}

// TableName returns the table name for RenderJob.
func (RenderJob) TableName() string {
	return "render_jobs"
}

// StyleConfig reconstructs the compositor style from the persisted fields.
func (j *RenderJob) StyleConfig() StyleConfig {
	return StyleConfig{
		Style:         j.Style,
		ShowSafeZones: j.ShowSafeZones,
		Metadata: StoryMetadata{
			Title:           j.Title,
			ChannelName:     j.ChannelName,
			SubscriberLabel: j.SubscriberLbl,
		},
	}
}

// MarkProcessing transitions the job to processing and stamps the start time.
func (j *RenderJob) MarkProcessing() {
	j.Status = JobStatusProcessing
	now := Now()
	j.StartedAt = &now
	j.Progress = 0
	j.LastError = ""
}

// MarkCompleted records a successful render result.
func (j *RenderJob) MarkCompleted(result RenderResult) {
	j.Status = JobStatusCompleted
	now := Now()
	j.CompletedAt = &now
	j.Progress = 100
	j.EstimatedRemainingMs = nil
	j.OutputPath = result.OutputPath
	j.OutputSizeBytes = result.SizeBytes
	j.OutputDuration = result.DurationSeconds
	j.FrameCount = result.FrameCount
	j.AudioOmitted = result.AudioOmitted
	j.LastError = ""
}

// MarkFailed records a terminal failure.
func (j *RenderJob) MarkFailed(err error) {
	j.Status = JobStatusFailed
	now := Now()
	j.CompletedAt = &now
	j.EstimatedRemainingMs = nil
	if err != nil {
		j.LastError = err.Error()
	}
}

// ApplyProgress clamps the value to [0,100] and enforces monotonicity while
// the job is processing: a lower value than the current progress is ignored.
func (j *RenderJob) ApplyProgress(progress float64) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if j.Status == JobStatusProcessing && progress < j.Progress {
		return
	}
	j.Progress = progress
}

// ElapsedMillis returns milliseconds since the job started, or 0 before start.
func (j *RenderJob) ElapsedMillis() int64 {
	if j.StartedAt == nil {
		return 0
	}
	return Now().Sub(*j.StartedAt).Milliseconds()
}

// Validate performs basic validation on the job.
func (j *RenderJob) Validate() error {
	if j.Identity == "" {
		return ErrIdentityRequired
	}
	if j.SourceFilename == "" {
		return ErrFilenameRequired
	}
	if j.Status != "" && !j.Status.Valid() {
		return ErrInvalidStatus
	}
	if j.Style != "" && !j.Style.Valid() {
		return ErrInvalidFrameStyle
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates a ULID.
func (j *RenderJob) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}

// BeforeUpdate is a GORM hook that validates the job before update.
func (j *RenderJob) BeforeUpdate(tx *gorm.DB) error {
	return j.Validate()
}
