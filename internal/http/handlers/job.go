package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/MarcusHSmith/StoryLift/internal/models"
	"github.com/MarcusHSmith/StoryLift/internal/service"
)

// JobHandler handles render job API endpoints.
type JobHandler struct {
	jobService *service.JobService
	rateLimit  *service.RateLimitService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobService *service.JobService, rateLimit *service.RateLimitService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		rateLimit:  rateLimit,
	}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "createJob",
		Method:      "POST",
		Path:        "/api/v1/jobs",
		Summary:     "Submit a render job",
		Description: "Admits a source video for story rendering, subject to rate limits and eligibility checks",
		Tags:        []string{"Jobs"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a render job with its progress and result",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "listRecentJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List recent jobs",
		Description: "Returns the most recently created render jobs, optionally filtered by identity",
		Tags:        []string{"Jobs"},
	}, h.ListRecent)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteJob",
		Method:        "DELETE",
		Path:          "/api/v1/jobs/{id}",
		Summary:       "Delete job",
		Description:   "Removes a completed or failed job; active jobs must be cancelled first",
		Tags:          []string{"Jobs"},
		DefaultStatus: 204,
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "updateJobProgress",
		Method:      "PATCH",
		Path:        "/api/v1/jobs/{id}/progress",
		Summary:     "Update job progress",
		Description: "Applies a progress update; regressions while processing are ignored",
		Tags:        []string{"Jobs"},
	}, h.UpdateProgress)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Description: "Cancels a pending or processing job",
		Tags:        []string{"Jobs"},
	}, h.Cancel)
}

// CreateJobInput is the input for job submission.
type CreateJobInput struct {
	Identity string `header:"X-Client-Identity" doc:"Submitting identity for rate limiting"`
	Body     struct {
		Source SourceRequest `json:"source"`
		Style  StyleRequest  `json:"style"`
	}
}

// CreateJobOutput is the output for job submission.
type CreateJobOutput struct {
	Status int
	Body   JobResponse
}

// Create admits and persists a new render job.
func (h *JobHandler) Create(ctx context.Context, input *CreateJobInput) (*CreateJobOutput, error) {
	identity := input.Identity
	if identity == "" {
		identity = "anonymous"
	}

	if d := h.rateLimit.CheckRequest(identity); !d.Allowed {
		return nil, huma.Error429TooManyRequests(d.Reason)
	}

	info := models.VideoInfo{
		Filename:        input.Body.Source.Filename,
		Format:          input.Body.Source.Format,
		SizeBytes:       input.Body.Source.SizeBytes,
		DurationSeconds: input.Body.Source.DurationSeconds,
	}
	d, err := h.rateLimit.CheckJobEligibility(ctx, identity, info)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to check eligibility", err)
	}
	if !d.Allowed {
		return nil, huma.Error422UnprocessableEntity(d.Reason)
	}

	job, err := h.jobService.Create(ctx, service.CreateRequest{
		Identity: identity,
		Source:   info,
		Style: models.StyleConfig{
			Style:         models.FrameStyle(input.Body.Style.Style),
			ShowSafeZones: input.Body.Style.ShowSafeZones,
			Metadata: models.StoryMetadata{
				Title:           input.Body.Style.Title,
				ChannelName:     input.Body.Style.ChannelName,
				SubscriberLabel: input.Body.Style.SubscriberLabel,
			},
		},
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidFrameStyle) || errors.Is(err, models.ErrFilenameRequired) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to create job", err)
	}

	return &CreateJobOutput{
		Status: 201,
		Body:   JobFromModel(job),
	}, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// GetByID returns a render job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.jobService.Get(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to get job", err)
	}

	return &GetJobOutput{Body: JobFromModel(job)}, nil
}

// ListRecentJobsInput is the input for listing recent jobs.
type ListRecentJobsInput struct {
	Limit    int    `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Maximum jobs to return"`
	Identity string `query:"identity" doc:"Restrict to jobs submitted by this identity"`
}

// ListRecentJobsOutput is the output for listing recent jobs.
type ListRecentJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// ListRecent returns the most recently created jobs, optionally restricted to
// a single identity.
func (h *JobHandler) ListRecent(ctx context.Context, input *ListRecentJobsInput) (*ListRecentJobsOutput, error) {
	var jobs []*models.RenderJob
	var err error
	if input.Identity != "" {
		jobs, err = h.jobService.GetByIdentity(ctx, input.Identity)
	} else {
		jobs, err = h.jobService.GetRecent(ctx, input.Limit)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}
	if input.Limit > 0 && len(jobs) > input.Limit {
		jobs = jobs[:input.Limit]
	}

	resp := &ListRecentJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(j))
	}
	return resp, nil
}

// UpdateProgressInput is the input for a progress update.
type UpdateProgressInput struct {
	ID   string `path:"id" doc:"Job ID (ULID)"`
	Body struct {
		Progress float64 `json:"progress" minimum:"0" maximum:"100"`
		Step     string  `json:"step,omitempty" maxLength:"255"`
	}
}

// UpdateProgressOutput is the output for a progress update.
type UpdateProgressOutput struct {
	Body JobResponse
}

// UpdateProgress applies a progress update to a processing job.
func (h *JobHandler) UpdateProgress(ctx context.Context, input *UpdateProgressInput) (*UpdateProgressOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.jobService.UpdateProgress(ctx, id, input.Body.Progress, input.Body.Step)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.ID))
		case errors.Is(err, service.ErrJobTerminal):
			return nil, huma.Error409Conflict("job already finished")
		default:
			return nil, huma.Error500InternalServerError("failed to update job", err)
		}
	}

	return &UpdateProgressOutput{Body: JobFromModel(job)}, nil
}

// CancelJobInput is the input for cancelling a job.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// CancelJobOutput is the output for cancelling a job.
type CancelJobOutput struct {
	Body JobResponse
}

// Cancel cancels a pending or processing job.
func (h *JobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.jobService.Cancel(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.ID))
		case errors.Is(err, service.ErrJobTerminal):
			return nil, huma.Error409Conflict("job already finished")
		default:
			return nil, huma.Error500InternalServerError("failed to cancel job", err)
		}
	}

	return &CancelJobOutput{Body: JobFromModel(job)}, nil
}

// DeleteJobInput is the input for deleting a job.
type DeleteJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// Delete removes a completed or failed job.
func (h *JobHandler) Delete(ctx context.Context, input *DeleteJobInput) (*struct{}, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	if err := h.jobService.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.ID))
		case errors.Is(err, service.ErrJobActive):
			return nil, huma.Error409Conflict("job still active; cancel it first")
		default:
			return nil, huma.Error500InternalServerError("failed to delete job", err)
		}
	}

	return &struct{}{}, nil
}
