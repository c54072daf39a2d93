package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/MarcusHSmith/StoryLift/internal/codec"
)

// CapabilityHandler exposes the probed encode capabilities.
type CapabilityHandler struct {
	prober *codec.Prober
}

// NewCapabilityHandler creates a new capability handler.
func NewCapabilityHandler(prober *codec.Prober) *CapabilityHandler {
	return &CapabilityHandler{prober: prober}
}

// Register registers the capability routes with the API.
func (h *CapabilityHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCapability",
		Method:      "GET",
		Path:        "/api/v1/capability",
		Summary:     "Get encode capability",
		Description: "Returns the encoder configurations this server can render with",
		Tags:        []string{"System"},
	}, h.Get)
}

// VideoConfigResponse is one supported video encode configuration.
type VideoConfigResponse struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FrameRate  int    `json:"frame_rate"`
	BitrateBps int    `json:"bitrate_bps"`
	Codec      string `json:"codec"`
	Profile    string `json:"profile"`
}

// CapabilityInput is the input for the capability endpoint.
type CapabilityInput struct{}

// CapabilityOutput is the output for the capability endpoint.
type CapabilityOutput struct {
	Body struct {
		Supported      bool                  `json:"supported"`
		Description    string                `json:"description"`
		VideoConfigs   []VideoConfigResponse `json:"video_configs"`
		AudioSupported bool                  `json:"audio_supported"`
	}
}

// Get probes and reports the supported encode configurations.
func (h *CapabilityHandler) Get(ctx context.Context, input *CapabilityInput) (*CapabilityOutput, error) {
	list, err := h.prober.Probe(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("capability probe failed", err)
	}
	description, err := h.prober.SupportDescription(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("capability probe failed", err)
	}

	resp := &CapabilityOutput{}
	resp.Body.Supported = len(list.VideoConfigs) > 0
	resp.Body.Description = description
	resp.Body.AudioSupported = list.AudioSupported
	resp.Body.VideoConfigs = make([]VideoConfigResponse, 0, len(list.VideoConfigs))
	for _, cfg := range list.VideoConfigs {
		resp.Body.VideoConfigs = append(resp.Body.VideoConfigs, VideoConfigResponse{
			Width:      cfg.Width,
			Height:     cfg.Height,
			FrameRate:  cfg.FrameRate,
			BitrateBps: cfg.BitrateBps,
			Codec:      string(cfg.Codec),
			Profile:    cfg.Profile.String(),
		})
	}
	return resp, nil
}
