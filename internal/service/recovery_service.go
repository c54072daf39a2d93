package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// RecoveryOutcome reports what the recovery policy decided for one failure.
type RecoveryOutcome struct {
	Recovered        bool
	Strategy         models.RecoveryStrategy
	RetryCount       int
	SuggestedActions []string
}

// RecoveryService maps classified failures to recovery strategies and
// sanctions bounded retries.
type RecoveryService struct {
	retryDelay time.Duration
	logger     *slog.Logger

	strategies map[models.ErrorCategory]models.RecoveryStrategy
	overrides  map[models.ErrorKind]models.RecoveryStrategy
}

// NewRecoveryService creates a recovery policy with the fixed category map.
// Memory overflow and absent codec capability map to fallback at the kind
// level: reduce quality or switch method, with no automatic retry.
func NewRecoveryService(retryDelay time.Duration) *RecoveryService {
	return &RecoveryService{
		retryDelay: retryDelay,
		logger:     slog.Default(),
		strategies: map[models.ErrorCategory]models.RecoveryStrategy{
			models.CategoryVideoInput: models.RecoveryUserIntervention,
			models.CategoryProcessing: models.RecoveryRetry,
			models.CategorySystem:     models.RecoveryAbort,
			models.CategoryNetwork:    models.RecoveryRetry,
			models.CategoryUnknown:    models.RecoveryRetry,
		},
		overrides: map[models.ErrorKind]models.RecoveryStrategy{
			models.ErrKindMemoryOverflow:   models.RecoveryFallback,
			models.ErrKindCapabilityAbsent: models.RecoveryFallback,
		},
	}
}

// WithLogger sets a custom logger.
func (s *RecoveryService) WithLogger(logger *slog.Logger) *RecoveryService {
	s.logger = logger
	return s
}

// StrategyFor returns the policy strategy for a failure. An explicit strategy
// on the error wins, then a kind-level override, then the category default.
func (s *RecoveryService) StrategyFor(perr *models.ProcessingError) models.RecoveryStrategy {
	if perr.Strategy != "" {
		return perr.Strategy
	}
	if strategy, ok := s.overrides[perr.Kind]; ok {
		return strategy
	}
	if strategy, ok := s.strategies[perr.Kind.Category()]; ok {
		return strategy
	}
	return models.RecoveryAbort
}

// HandleError decides whether a failed attempt may be retried. A retry is
// sanctioned only while the error is recoverable, the strategy is retry, and
// the retry budget is not exhausted; the policy waits the retry delay before
// sanctioning so callers can re-attempt immediately on return. Retry
// bookkeeping on the error is incremented here and nowhere else.
func (s *RecoveryService) HandleError(ctx context.Context, err error) RecoveryOutcome {
	perr := models.AsProcessingError(err)
	strategy := s.StrategyFor(perr)

	outcome := RecoveryOutcome{
		Strategy:         strategy,
		RetryCount:       perr.RetryCount,
		SuggestedActions: SuggestedActions(perr.Kind),
	}

	if strategy != models.RecoveryRetry || !perr.Recoverable || perr.Exhausted() {
		s.logger.Warn("failure not recoverable",
			slog.String("kind", string(perr.Kind)),
			slog.String("strategy", string(strategy)),
			slog.Int("retry_count", perr.RetryCount),
			slog.Int("max_retries", perr.MaxRetries))
		return outcome
	}

	select {
	case <-time.After(s.retryDelay):
	case <-ctx.Done():
		return outcome
	}

	perr.RetryCount++
	outcome.Recovered = true
	outcome.RetryCount = perr.RetryCount

	s.logger.Info("sanctioned retry",
		slog.String("kind", string(perr.Kind)),
		slog.Int("attempt", perr.RetryCount),
		slog.Int("max_retries", perr.MaxRetries))
	return outcome
}

// SuggestedActions returns user-facing advice for a failure kind.
func SuggestedActions(kind models.ErrorKind) []string {
	switch kind {
	case models.ErrKindUnsupportedFormat:
		return []string{"Convert the video to MP4, MOV, WebM, or MKV and resubmit"}
	case models.ErrKindCorruptFile:
		return []string{"Re-export the source video", "Verify the file plays locally before uploading"}
	case models.ErrKindOversizeInput:
		return []string{"Trim the video or reduce its resolution to shrink the file"}
	case models.ErrKindEncodeFailure, models.ErrKindFrameExtraction, models.ErrKindMuxFailure:
		return []string{"Retry the render", "If it keeps failing, try a shorter clip"}
	case models.ErrKindMemoryOverflow:
		return []string{"Submit a shorter or lower-resolution video"}
	case models.ErrKindTimeout:
		return []string{"Retry when the service is less busy", "Submit a shorter clip"}
	case models.ErrKindCapabilityAbsent:
		return []string{"This server cannot encode H.264; contact the operator"}
	case models.ErrKindPermissionDenied:
		return []string{"Contact the operator about storage permissions"}
	case models.ErrKindNetwork, models.ErrKindUploadFailure:
		return []string{"Check your connection and retry"}
	case models.ErrKindUpstreamRateLimit:
		return []string{"Wait a few minutes before retrying"}
	default:
		return []string{"Retry the render", "Contact support if the problem persists"}
	}
}
