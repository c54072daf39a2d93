package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/MarcusHSmith/StoryLift/internal/models"
	"github.com/MarcusHSmith/StoryLift/internal/repository"
)

// throughputWindow is the trailing interval for the completions-per-window
// throughput figure.
const throughputWindow = time.Minute

// MetricsSnapshot is one point-in-time view of service health.
type MetricsSnapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	ActiveJobs       int64     `json:"active_jobs"`
	CompletedJobs    int64     `json:"completed_jobs"`
	FailedJobs       int64     `json:"failed_jobs"`
	AvgCompletionMs  int64     `json:"avg_completion_ms"`
	ErrorRate        float64   `json:"error_rate"`
	ThroughputPerMin int       `json:"throughput_per_min"`
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryRSSBytes   uint64    `json:"memory_rss_bytes"`
}

// MonitoringService samples job counts and process resource usage on an
// interval and keeps a bounded snapshot history.
type MonitoringService struct {
	repo       repository.RenderJobRepository
	interval   time.Duration
	historyCap int
	logger     *slog.Logger

	proc *process.Process

	mu          sync.Mutex
	history     []MetricsSnapshot
	completions []completion
	stop        chan struct{}
	done        chan struct{}
}

type completion struct {
	at       time.Time
	duration time.Duration
}

// NewMonitoringService creates a monitoring service. Process inspection
// failures degrade to zeroed resource figures rather than errors.
func NewMonitoringService(repo repository.RenderJobRepository, interval time.Duration, historyCap int) *MonitoringService {
	if historyCap < 1 {
		historyCap = 1
	}
	s := &MonitoringService{
		repo:       repo,
		interval:   interval,
		historyCap: historyCap,
		logger:     slog.Default(),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = proc
	}
	return s
}

// WithLogger sets a custom logger.
func (s *MonitoringService) WithLogger(logger *slog.Logger) *MonitoringService {
	s.logger = logger
	return s
}

// RecordCompletion feeds one finished render into the throughput and average
// completion figures.
func (s *MonitoringService) RecordCompletion(duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, completion{at: time.Now(), duration: duration})
	s.pruneCompletionsLocked(time.Now())
}

// Snapshot collects one metrics sample and appends it to the history,
// evicting the oldest entry past capacity.
func (s *MonitoringService) Snapshot(ctx context.Context) (MetricsSnapshot, error) {
	now := time.Now()
	snap := MetricsSnapshot{Timestamp: now}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return MetricsSnapshot{}, err
	}
	for _, c := range counts {
		switch c.Status {
		case models.JobStatusPending, models.JobStatusProcessing:
			snap.ActiveJobs += c.Count
		case models.JobStatusCompleted:
			snap.CompletedJobs = c.Count
		case models.JobStatusFailed:
			snap.FailedJobs = c.Count
		}
	}
	if terminal := snap.CompletedJobs + snap.FailedJobs; terminal > 0 {
		snap.ErrorRate = float64(snap.FailedJobs) / float64(terminal)
	}

	s.mu.Lock()
	s.pruneCompletionsLocked(now)
	snap.ThroughputPerMin = len(s.completions)
	if len(s.completions) > 0 {
		var total time.Duration
		for _, c := range s.completions {
			total += c.duration
		}
		snap.AvgCompletionMs = (total / time.Duration(len(s.completions))).Milliseconds()
	}
	s.mu.Unlock()

	if s.proc != nil {
		if cpu, err := s.proc.CPUPercent(); err == nil {
			snap.CPUPercent = cpu
		}
		if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
			snap.MemoryRSSBytes = mem.RSS
		}
	}

	s.mu.Lock()
	s.history = append(s.history, snap)
	if len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
	s.mu.Unlock()

	return snap, nil
}

// History returns a copy of the retained snapshots, oldest first.
func (s *MonitoringService) History() []MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MetricsSnapshot, len(s.history))
	copy(out, s.history)
	return out
}

// Latest returns the most recent snapshot, or false when none exists.
func (s *MonitoringService) Latest() (MetricsSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return MetricsSnapshot{}, false
	}
	return s.history[len(s.history)-1], true
}

// Start launches the interval sampling loop.
func (s *MonitoringService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Snapshot(ctx); err != nil {
					s.logger.Warn("metrics snapshot failed", slog.String("error", err.Error()))
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sampling loop and waits for it to exit.
func (s *MonitoringService) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *MonitoringService) pruneCompletionsLocked(now time.Time) {
	cutoff := now.Add(-throughputWindow)
	kept := s.completions[:0]
	for _, c := range s.completions {
		if c.at.After(cutoff) {
			kept = append(kept, c)
		}
	}
	s.completions = kept
}
