package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/MarcusHSmith/StoryLift/internal/config"
	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// ActiveJobCounter reports an identity's in-flight job count. Backing the
// concurrency cap with job persistence means a finished job releases its slot
// by reaching a terminal status, with no bookkeeping to leak.
type ActiveJobCounter interface {
	CountActiveByIdentity(ctx context.Context, identity string) (int64, error)
}

// Decision reports an admission outcome. A declined request is a normal
// result, not an error.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func decline(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

type identityWindow struct {
	windowStart  time.Time
	requests     int
	blockedUntil time.Time
}

func (w *identityWindow) empty() bool {
	return w.requests == 0 && w.blockedUntil.IsZero()
}

// RateLimitService enforces per-identity request rates and input eligibility
// ahead of job creation.
type RateLimitService struct {
	cfg     config.RateLimitConfig
	logger  *slog.Logger
	now     func() time.Time
	counter ActiveJobCounter

	denylist []*regexp.Regexp

	mu      sync.Mutex
	windows map[string]*identityWindow
}

// NewRateLimitService creates an admission guard. Invalid denylist patterns
// are skipped with a warning rather than failing startup.
func NewRateLimitService(cfg config.RateLimitConfig) *RateLimitService {
	s := &RateLimitService{
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		windows: make(map[string]*identityWindow),
	}
	for _, pattern := range cfg.FilenameDenylist {
		re, err := regexp.Compile(pattern)
		if err != nil {
			s.logger.Warn("skipping invalid denylist pattern",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()))
			continue
		}
		s.denylist = append(s.denylist, re)
	}
	return s
}

// WithLogger sets a custom logger.
func (s *RateLimitService) WithLogger(logger *slog.Logger) *RateLimitService {
	s.logger = logger
	return s
}

// WithClock overrides the time source, used in tests.
func (s *RateLimitService) WithClock(now func() time.Time) *RateLimitService {
	s.now = now
	return s
}

// WithActiveJobCounter backs the concurrency cap with the given counter.
// Without one the cap is not enforced.
func (s *RateLimitService) WithActiveJobCounter(counter ActiveJobCounter) *RateLimitService {
	s.counter = counter
	return s
}

// CheckRequest applies the fixed-window rate limit for one admission attempt.
// An active block dominates regardless of the current window count; exceeding
// the window starts a new block.
func (s *RateLimitService) CheckRequest(identity string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w := s.window(identity)

	if now.Before(w.blockedUntil) {
		d := decline("rate limit exceeded")
		d.RetryAfter = w.blockedUntil.Sub(now)
		return d
	}
	w.blockedUntil = time.Time{}

	if now.Sub(w.windowStart) >= s.cfg.RequestWindow {
		w.windowStart = now
		w.requests = 0
	}

	w.requests++
	if w.requests > s.cfg.MaxRequests {
		w.blockedUntil = now.Add(s.cfg.BlockDuration)
		s.logger.Warn("identity blocked for excess requests",
			slog.String("identity", identity),
			slog.Int("requests", w.requests),
			slog.Duration("block", s.cfg.BlockDuration))
		d := decline("rate limit exceeded")
		d.RetryAfter = s.cfg.BlockDuration
		return d
	}
	return allow()
}

// CheckJobEligibility validates the source against admission limits. Checks
// run in a fixed order and the first violation is returned. The concurrency
// cap counts the identity's pending and processing jobs in persistence.
func (s *RateLimitService) CheckJobEligibility(ctx context.Context, identity string, info models.VideoInfo) (Decision, error) {
	if max := int64(s.cfg.MaxFileSize); max > 0 && info.SizeBytes > max {
		return decline("file exceeds maximum size"), nil
	}
	if max := s.cfg.MaxDuration.Seconds(); max > 0 && info.DurationSeconds > max {
		return decline("video exceeds maximum duration"), nil
	}
	if !s.formatAllowed(info.Format) {
		return decline("unsupported container format"), nil
	}
	for _, re := range s.denylist {
		if re.MatchString(info.Filename) {
			return decline("filename not permitted"), nil
		}
	}

	if s.counter != nil && s.cfg.MaxConcurrent > 0 {
		active, err := s.counter.CountActiveByIdentity(ctx, identity)
		if err != nil {
			return Decision{}, fmt.Errorf("counting active jobs: %w", err)
		}
		if active >= int64(s.cfg.MaxConcurrent) {
			return decline("too many concurrent jobs"), nil
		}
	}
	return allow(), nil
}

// Cleanup drops identity state that holds no block and an expired request
// window. Returns the number of entries removed.
func (s *RateLimitService) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for identity, w := range s.windows {
		if now.Sub(w.windowStart) >= s.cfg.RequestWindow {
			w.requests = 0
		}
		if !now.Before(w.blockedUntil) {
			w.blockedUntil = time.Time{}
		}
		if w.empty() {
			delete(s.windows, identity)
			removed++
		}
	}
	return removed
}

func (s *RateLimitService) window(identity string) *identityWindow {
	w, ok := s.windows[identity]
	if !ok {
		w = &identityWindow{windowStart: s.now()}
		s.windows[identity] = w
	}
	return w
}

func (s *RateLimitService) formatAllowed(format string) bool {
	if len(s.cfg.AllowedFormats) == 0 {
		return true
	}
	format = strings.ToLower(format)
	for _, allowed := range s.cfg.AllowedFormats {
		if strings.ToLower(allowed) == format {
			return true
		}
	}
	return false
}
