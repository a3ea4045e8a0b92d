// Package scheduler runs background pulls against the sync engine on a
// configurable interval.
package scheduler

import (
	"context"
	"log/slog"
	"regexp"
	stdsync "sync"
	"time"

	"github.com/gitgov-io/gitgov/pkg/config"
	"github.com/gitgov-io/gitgov/pkg/events"
	"github.com/gitgov-io/gitgov/pkg/sync"
)

// Event topics emitted by the scheduler.
const (
	TopicConflictDetected = "conflict.detected"
	TopicStateUpdated     = "state.updated"
)

// networkErrPattern is the heuristic for transient transport failures.
var networkErrPattern = regexp.MustCompile(`(?i)network|fetch|timeout|connection`)

// Puller is the slice of the sync engine the scheduler drives.
type Puller interface {
	PullState(ctx context.Context, opts sync.PullOptions) (*sync.PullResult, error)
}

// SettingsLoader resolves scheduler settings lazily at Start, so config
// edits between restarts take effect without rebuilding the scheduler.
// Load failures should fall back to config.BuiltinSchedulerSettings.
type SettingsLoader func() config.SchedulerSettings

// PullScheduler periodically pulls the state branch. Start and Stop are
// idempotent; PullNow is safe to call concurrently with the ticker.
type PullScheduler struct {
	puller Puller
	load   SettingsLoader
	bus    events.Bus
	logger *slog.Logger

	mu       stdsync.Mutex
	running  bool
	pulling  bool
	settings config.SchedulerSettings
	stop     chan struct{}
}

// New builds a scheduler. bus and logger may be nil.
func New(puller Puller, load SettingsLoader, bus events.Bus, logger *slog.Logger) *PullScheduler {
	if bus == nil {
		bus = events.NopBus{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if load == nil {
		load = func() config.SchedulerSettings { return config.BuiltinSchedulerSettings() }
	}
	return &PullScheduler{
		puller:   puller,
		load:     load,
		bus:      bus,
		logger:   logger,
		settings: config.BuiltinSchedulerSettings(),
	}
}

// Start loads settings and begins ticking. A disabled configuration or an
// already-running scheduler makes Start a no-op.
func (s *PullScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.settings = s.load()
	if !s.settings.Enabled {
		s.logger.Debug("pull scheduler disabled by configuration")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	go s.loop(ctx, s.stop, time.Duration(s.settings.PullIntervalSeconds)*time.Second)
	s.logger.Info("pull scheduler started", "interval_seconds", s.settings.PullIntervalSeconds)
}

// Stop halts the ticker. A pull already in flight is allowed to finish;
// no new pull starts after Stop returns.
func (s *PullScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *PullScheduler) stopLocked() {
	if !s.running {
		return
	}
	close(s.stop)
	s.running = false
	s.logger.Info("pull scheduler stopped")
}

// IsRunning reports whether the ticker is active.
func (s *PullScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *PullScheduler) loop(ctx context.Context, stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.Stop()
			return
		case <-ticker.C:
			if !s.IsRunning() {
				return
			}
			if _, err := s.PullNow(ctx); err != nil {
				s.logger.Error("scheduled pull failed", "error", err)
			}
		}
	}
}

// PullNow runs one pull immediately. Re-entrant calls short-circuit with
// a benign "already in progress" result rather than queueing.
func (s *PullScheduler) PullNow(ctx context.Context) (*sync.PullResult, error) {
	s.mu.Lock()
	if s.pulling {
		s.mu.Unlock()
		return &sync.PullResult{Success: true, HasChanges: false, Error: "Pull already in progress"}, nil
	}
	s.pulling = true
	settings := s.settings
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.pulling = false
		s.mu.Unlock()
	}()

	result, err := s.puller.PullState(ctx, sync.PullOptions{})
	if err != nil {
		s.logger.Error("pull failed", "error", err)
		if networkErrPattern.MatchString(err.Error()) && settings.ContinueOnNetworkError {
			return &sync.PullResult{Success: false, Error: err.Error()}, nil
		}
		return nil, err
	}

	if result.ConflictDetected {
		s.bus.Publish(ctx, events.Event{
			Topic:   TopicConflictDetected,
			Payload: map[string]interface{}{"conflictInfo": result.ConflictInfo},
		})
		if settings.StopOnConflict {
			s.Stop()
		}
		return result, nil
	}
	if result.HasChanges {
		s.bus.Publish(ctx, events.Event{
			Topic:   TopicStateUpdated,
			Payload: map[string]interface{}{"hasChanges": true},
		})
	}
	return result, nil
}
