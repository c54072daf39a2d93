package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/MarcusHSmith/StoryLift/internal/service"
)

// MetricsHandler exposes service metrics snapshots.
type MetricsHandler struct {
	monitoring *service.MonitoringService
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(monitoring *service.MonitoringService) *MetricsHandler {
	return &MetricsHandler{monitoring: monitoring}
}

// Register registers the metrics routes with the API.
func (h *MetricsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getMetrics",
		Method:      "GET",
		Path:        "/api/v1/metrics",
		Summary:     "Get service metrics",
		Description: "Returns the latest metrics snapshot and the retained history",
		Tags:        []string{"System"},
	}, h.Get)
}

// MetricsInput is the input for the metrics endpoint.
type MetricsInput struct {
	History bool `query:"history" doc:"Include the retained snapshot history"`
}

// MetricsOutput is the output for the metrics endpoint.
type MetricsOutput struct {
	Body struct {
		Current service.MetricsSnapshot   `json:"current"`
		History []service.MetricsSnapshot `json:"history,omitempty"`
	}
}

// Get returns a fresh metrics snapshot, optionally with history.
func (h *MetricsHandler) Get(ctx context.Context, input *MetricsInput) (*MetricsOutput, error) {
	snap, err := h.monitoring.Snapshot(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("collecting metrics failed", err)
	}

	resp := &MetricsOutput{}
	resp.Body.Current = snap
	if input.History {
		resp.Body.History = h.monitoring.History()
	}
	return resp, nil
}
