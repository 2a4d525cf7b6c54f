package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"quiz-progress-service/internal/domain"
	"quiz-progress-service/internal/platform/logger"
	"quiz-progress-service/internal/rollup"
)

// StateRepository abstracts where per-user progress lives (in-memory, Redis, Postgres).
// Save must only succeed when the stored version equals expectedVersion (absent
// state counts as version 0) and must report a mismatch as domain.ErrConcurrentUpdate.
type StateRepository interface {
	Load(ctx context.Context, userID string) (domain.UserProgressState, error)
	Save(ctx context.Context, state domain.UserProgressState, expectedVersion int64) error
	Delete(ctx context.Context, userID string) error
	UserIDs(ctx context.Context) ([]string, error)
}

// ArchiveRepository keeps the final snapshot of every closed period.
// Archive must be idempotent per (user, kind, window start).
type ArchiveRepository interface {
	Archive(ctx context.Context, userID string, records []domain.ProgressRecord) error
	History(ctx context.Context, userID string, kind domain.PeriodKind, limit int) ([]domain.ProgressRecord, error)
	Delete(ctx context.Context, userID string) error
}

const (
	lockStripes = 256

	DefaultMaxRetries          = 3
	DefaultRolloverConcurrency = 8
	DefaultArchiveLimit        = 12
)

// ProgressService owns every mutation of UserProgressState.
type ProgressService struct {
	states   StateRepository
	archives ArchiveRepository
	engine   rollup.Engine
	hub      *Hub
	log      *logger.Logger
	now      func() time.Time

	maxRetries          int
	rolloverConcurrency int

	locks [lockStripes]sync.Mutex
	reads singleflight.Group
}

// ServiceOption customizes a ProgressService.
type ServiceOption func(*ProgressService)

// WithClock is mostly for tests that need deterministic timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *ProgressService) { s.now = now }
}

func WithLogger(log *logger.Logger) ServiceOption {
	return func(s *ProgressService) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMaxRetries(n int) ServiceOption {
	return func(s *ProgressService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithRolloverConcurrency(n int) ServiceOption {
	return func(s *ProgressService) {
		if n > 0 {
			s.rolloverConcurrency = n
		}
	}
}

func NewProgressService(states StateRepository, archives ArchiveRepository, engine rollup.Engine, opts ...ServiceOption) *ProgressService {
	s := &ProgressService{
		states:              states,
		archives:            archives,
		engine:              engine,
		hub:                 NewHub(),
		log:                 logger.Nop(),
		now:                 time.Now,
		maxRetries:          DefaultMaxRetries,
		rolloverConcurrency: DefaultRolloverConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("service", "ProgressService")
	return s
}

// transition is the result of applying an engine step to a loaded state.
type transition struct {
	state    domain.UserProgressState
	archived []domain.ProgressRecord
	changed  bool
}

// Ingest applies a quiz completion event and returns the user's updated progress.
// Re-delivering an event is a no-op, so callers may retry the whole call.
func (s *ProgressService) Ingest(ctx context.Context, userID string, event domain.QuizCompletionEvent) (domain.ProgressView, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.ProgressView{}, fmt.Errorf("%w: userId is required", domain.ErrInvalidEvent)
	}
	if err := s.engine.ValidateEvent(event, s.now()); err != nil {
		return domain.ProgressView{}, err
	}

	var applied []domain.PeriodKind
	state, err := s.mutate(ctx, userID, func(state domain.UserProgressState, now time.Time) (transition, error) {
		res, err := s.engine.Ingest(state, event, now)
		if err != nil {
			return transition{}, err
		}
		applied = res.Applied
		return transition{state: res.State, archived: res.Archived, changed: res.Changed || state.Version == 0}, nil
	})
	if err != nil {
		return domain.ProgressView{}, err
	}
	if len(applied) == 0 {
		s.log.Debug("duplicate quiz event ignored", "user_id", userID, "quiz_id", event.QuizID)
	} else {
		s.log.Debug("quiz event ingested", "user_id", userID, "quiz_id", event.QuizID, "periods", applied)
	}
	return domain.NewProgressView(state), nil
}

// Overview returns every current record for the user.
func (s *ProgressService) Overview(ctx context.Context, userID string) (domain.ProgressView, error) {
	state, err := s.refresh(ctx, userID)
	if err != nil {
		return domain.ProgressView{}, err
	}
	return domain.NewProgressView(state), nil
}

// Progress returns the user's current record for one period kind.
func (s *ProgressService) Progress(ctx context.Context, userID string, kind domain.PeriodKind) (domain.ProgressRecord, error) {
	if err := checkKind(kind); err != nil {
		return domain.ProgressRecord{}, err
	}
	state, err := s.refresh(ctx, userID)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	return state.Records[kind].Clone(), nil
}

// Dashboard projects the current (or explicitly selected) period into its display shape.
func (s *ProgressService) Dashboard(ctx context.Context, userID string, q domain.DashboardQuery) (domain.DisplaySummary, error) {
	if err := checkKind(q.Kind); err != nil {
		return domain.DisplaySummary{}, err
	}
	state, err := s.refresh(ctx, userID)
	if err != nil {
		return domain.DisplaySummary{}, err
	}
	now := s.now()
	loc := s.engine.Location()

	ref := now
	if !q.Selector.IsZero() {
		if ref, err = rollup.SelectorDate(q.Selector, now, loc); err != nil {
			return domain.DisplaySummary{}, err
		}
	}
	record, err := s.recordAt(state, q.Kind, ref, now)
	if err != nil {
		return domain.DisplaySummary{}, err
	}
	if q.Kind == domain.PeriodDaily && q.Bucketing == domain.BucketingBreakdown {
		// the daily breakdown lists every day of the surrounding week
		week, err := s.recordAt(state, domain.PeriodWeekly, ref, now)
		if err != nil {
			return domain.DisplaySummary{}, err
		}
		record.History = week.History
	}
	return rollup.Project(record, rollup.ProjectOptions{Bucketing: q.Bucketing, Location: loc, Now: now}), nil
}

// recordAt returns the stored record when ref falls in the current window, and
// otherwise folds an ad-hoc record from the all-time history.
func (s *ProgressService) recordAt(state domain.UserProgressState, kind domain.PeriodKind, ref, now time.Time) (domain.ProgressRecord, error) {
	current := state.Records[kind]
	if kind == domain.PeriodAllTime || current.Contains(ref) {
		return current.Clone(), nil
	}
	w, err := rollup.ResolveWindow(kind, ref, s.engine.Location(), state.CreatedAt)
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	return rollup.RecordForWindow(kind, w, state.Records[domain.PeriodAllTime].History, now, s.engine.Location()), nil
}

// Archive lists closed records of one kind, newest first.
func (s *ProgressService) Archive(ctx context.Context, userID string, kind domain.PeriodKind, limit int) ([]domain.ProgressRecord, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultArchiveLimit
	}
	records, err := s.archives.History(ctx, userID, kind, limit)
	if err != nil {
		return nil, storeError(err)
	}
	return records, nil
}

// Reset drops all progress for a user, e.g. on account deletion.
func (s *ProgressService) Reset(ctx context.Context, userID string) error {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.archives.Delete(ctx, userID); err != nil {
		return storeError(err)
	}
	if err := s.states.Delete(ctx, userID); err != nil {
		return storeError(err)
	}
	s.log.Info("progress reset", "user_id", userID)
	return nil
}

// Rollover runs the window migration for every known user, so closed periods
// are archived even for users that stay idle. It returns the number of users visited.
func (s *ProgressService) Rollover(ctx context.Context) (int, error) {
	ids, err := s.states.UserIDs(ctx)
	if err != nil {
		return 0, storeError(err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.rolloverConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if _, err := s.refresh(gctx, id); err != nil {
				return fmt.Errorf("rollover %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(ids), err
	}
	s.log.Info("rollover complete", "users", len(ids))
	return len(ids), nil
}

// Subscribe returns a channel that receives the user's progress after every saved change.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *ProgressService) Subscribe(userID string) (<-chan domain.ProgressView, func()) {
	return s.hub.Subscribe(userID)
}

// refresh loads the user's state, migrates expired windows and persists any
// change. Concurrent refreshes of one user share a single load.
func (s *ProgressService) refresh(ctx context.Context, userID string) (domain.UserProgressState, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserProgressState{}, fmt.Errorf("%w: userId is required", domain.ErrStateNotFound)
	}
	result, err, _ := s.reads.Do(userID, func() (interface{}, error) {
		return s.mutate(ctx, userID, func(state domain.UserProgressState, now time.Time) (transition, error) {
			rolled := s.engine.EnsureCurrent(state, now)
			return transition{state: rolled.State, archived: rolled.Archived, changed: rolled.Changed || state.Version == 0}, nil
		})
	})
	if err != nil {
		return domain.UserProgressState{}, err
	}
	return result.(domain.UserProgressState).Clone(), nil
}

// mutate runs one read-modify-write cycle under the user's lock, retrying when
// another writer saved in between.
func (s *ProgressService) mutate(ctx context.Context, userID string, apply func(domain.UserProgressState, time.Time) (transition, error)) (domain.UserProgressState, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		now := s.now()
		current, err := s.load(ctx, userID, now)
		if err != nil {
			return domain.UserProgressState{}, err
		}
		t, err := apply(current, now)
		if err != nil {
			return domain.UserProgressState{}, err
		}
		if !t.changed {
			return t.state, nil
		}

		if len(t.archived) > 0 {
			if err := s.archives.Archive(ctx, userID, t.archived); err != nil {
				return domain.UserProgressState{}, storeError(err)
			}
		}
		next := t.state
		next.Version = current.Version + 1
		err = s.states.Save(ctx, next, current.Version)
		if err == nil {
			s.hub.Publish(userID, domain.NewProgressView(next))
			return next, nil
		}
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			return domain.UserProgressState{}, storeError(err)
		}
		lastErr = err
		s.log.Warn("progress save conflict, retrying", "user_id", userID, "attempt", attempt+1)
	}
	return domain.UserProgressState{}, fmt.Errorf("save progress after %d attempts: %w", s.maxRetries+1, lastErr)
}

func (s *ProgressService) load(ctx context.Context, userID string, now time.Time) (domain.UserProgressState, error) {
	state, err := s.states.Load(ctx, userID)
	if errors.Is(err, domain.ErrStateNotFound) {
		return s.engine.NewState(userID, now), nil
	}
	if err != nil {
		return domain.UserProgressState{}, storeError(err)
	}
	return state, nil
}

func (s *ProgressService) lockFor(userID string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(userID)%lockStripes]
}

func checkKind(kind domain.PeriodKind) error {
	for _, k := range domain.PeriodKinds {
		if k == kind {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", domain.ErrUnknownPeriodKind, kind)
}

// storeError tags infrastructure failures as ErrPersistenceUnavailable unless
// they already carry a domain error.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrPersistenceUnavailable),
		errors.Is(err, domain.ErrConcurrentUpdate),
		errors.Is(err, domain.ErrStateNotFound):
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistenceUnavailable, err)
}
