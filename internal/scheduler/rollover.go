package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"quiz-progress-service/internal/platform/logger"
)

// Roller migrates every user's expired windows.
type Roller interface {
	Rollover(ctx context.Context) (int, error)
}

// RolloverScheduler triggers Roller on a cron schedule so closed periods get
// archived for users that stop sending events.
type RolloverScheduler struct {
	cron    *cron.Cron
	roller  Roller
	log     *logger.Logger
	timeout time.Duration
}

// NewRolloverScheduler parses schedule (standard 5-field cron or a descriptor such
// as "@hourly") and evaluates it in loc.
func NewRolloverScheduler(schedule string, loc *time.Location, roller Roller, log *logger.Logger) (*RolloverScheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &RolloverScheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		roller:  roller,
		log:     log.With("component", "rollover"),
		timeout: 10 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("rollover schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *RolloverScheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish or ctx to end.
func (s *RolloverScheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce performs a single rollover pass.
func (s *RolloverScheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	users, err := s.roller.Rollover(ctx)
	if err != nil {
		s.log.Error("rollover failed", "users", users, "error", err)
		return
	}
	s.log.Info("rollover finished", "users", users, "took", time.Since(started))
}
