package rollup

import (
	"fmt"
	"time"

	"quiz-progress-service/internal/domain"
)

// DefaultMaxClockSkew bounds how far in the future an event may be dated.
const DefaultMaxClockSkew = 5 * time.Minute

// Engine applies state transitions to a user's progress. It holds no mutable state.
type Engine struct {
	loc     *time.Location
	maxSkew time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLocation sets the timezone every calendar window is computed in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithMaxClockSkew sets the tolerance for events dated after the wall clock.
func WithMaxClockSkew(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.maxSkew = d
		}
	}
}

func NewEngine(opts ...Option) Engine {
	e := Engine{loc: time.UTC, maxSkew: DefaultMaxClockSkew}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Location returns the engine's calendar timezone.
func (e Engine) Location() *time.Location {
	if e.loc == nil {
		return time.UTC
	}
	return e.loc
}

// NewState seeds an empty record for every period kind, all covering now.
func (e Engine) NewState(userID string, now time.Time) domain.UserProgressState {
	state := domain.UserProgressState{
		UserID:    userID,
		CreatedAt: now,
		Records:   make(map[domain.PeriodKind]domain.ProgressRecord, len(domain.PeriodKinds)),
	}
	for _, kind := range domain.PeriodKinds {
		state.Records[kind] = e.freshRecord(kind, now, state.CreatedAt)
	}
	return state
}

func (e Engine) freshRecord(kind domain.PeriodKind, now, createdAt time.Time) domain.ProgressRecord {
	// kinds come from domain.PeriodKinds, so resolution cannot fail
	w, _ := ResolveWindow(kind, now, e.Location(), createdAt)
	return domain.ProgressRecord{
		PeriodKind:  kind,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		History:     []domain.HistoryEntry{},
	}
}

// Rollover is the outcome of EnsureCurrent.
type Rollover struct {
	State domain.UserProgressState
	// Archived holds closed records that had at least one entry, for durable storage.
	Archived []domain.ProgressRecord
	// Changed is true when any window moved or any streak value changed.
	Changed bool
}

// EnsureCurrent replaces every record whose window ended at or before now with
// a fresh record covering now, and refreshes streaks against now. A window that
// starts after now, left behind by a clock that stepped back, is rebuilt from
// the all-time history without archiving. The input state is not modified.
func (e Engine) EnsureCurrent(state domain.UserProgressState, now time.Time) Rollover {
	next := state.Clone()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	out := Rollover{}
	for _, kind := range domain.PeriodKinds {
		record, ok := next.Records[kind]
		switch {
		case !ok || record.WindowStart.IsZero():
			record = e.freshRecord(kind, now, next.CreatedAt)
			out.Changed = true
		case kind != domain.PeriodAllTime && !record.OpenEnded() && !now.Before(record.WindowEnd):
			if len(record.History) > 0 {
				out.Archived = append(out.Archived, record)
			}
			record = e.freshRecord(kind, now, next.CreatedAt)
			out.Changed = true
		case kind != domain.PeriodAllTime && now.Before(record.WindowStart):
			w, _ := ResolveWindow(kind, now, e.Location(), next.CreatedAt)
			record = RecordForWindow(kind, w, next.Records[domain.PeriodAllTime].History, now, e.Location())
			out.Changed = true
		}

		current, longest := Streaks(record.History, now, e.Location())
		if current != record.Stats.CurrentStreakDays || longest != record.Stats.LongestStreakDays {
			record.Stats.CurrentStreakDays = current
			record.Stats.LongestStreakDays = longest
			out.Changed = true
		}
		next.Records[kind] = record
	}
	out.State = next
	return out
}

// IngestResult is the outcome of Ingest.
type IngestResult struct {
	State    domain.UserProgressState
	Archived []domain.ProgressRecord
	// Applied lists the kinds that received a new history entry.
	Applied []domain.PeriodKind
	// Changed is true when the state differs from the input and must be saved.
	Changed bool
}

// Duplicate reports whether the event was already accounted for everywhere.
func (r IngestResult) Duplicate() bool {
	return len(r.Applied) == 0
}

// Ingest applies one event idempotently. Each kind whose current record already
// holds the quiz is skipped. Events dated before a closed kind's current window
// only count toward all-time. Windows only move with now; an event dated ahead
// of now within the skew allowance is recorded at now. Invalid events are
// rejected before any state is read.
func (e Engine) Ingest(state domain.UserProgressState, event domain.QuizCompletionEvent, now time.Time) (IngestResult, error) {
	if err := e.ValidateEvent(event, now); err != nil {
		return IngestResult{}, err
	}

	rolled := e.EnsureCurrent(state, now)
	next := rolled.State
	result := IngestResult{Archived: rolled.Archived, Changed: rolled.Changed}

	placed := event.OccurredAt
	if placed.After(now) {
		placed = now
	}
	entry := NewHistoryEntry(event, e.Location())
	entry.Date = placed.In(e.Location())
	for _, kind := range domain.PeriodKinds {
		record := next.Records[kind]
		if record.HasQuiz(event.QuizID) {
			continue
		}
		if kind != domain.PeriodAllTime && !record.Contains(placed) {
			continue
		}
		record.History = append(record.History, entry)
		record.Stats = Accumulate(record.Stats, entry)
		record.Stats.CurrentStreakDays, record.Stats.LongestStreakDays = Streaks(record.History, now, e.Location())
		record.LastUpdated = now
		next.Records[kind] = record
		result.Applied = append(result.Applied, kind)
	}
	if len(result.Applied) > 0 {
		result.Changed = true
	}
	result.State = next
	return result, nil
}

// ValidateEvent checks the event invariants and rejects events dated beyond the clock skew.
func (e Engine) ValidateEvent(event domain.QuizCompletionEvent, now time.Time) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.OccurredAt.After(now.Add(e.maxSkew)) {
		return fmt.Errorf("%w: occurredAt %s is in the future", domain.ErrInvalidEvent, event.OccurredAt.Format(time.RFC3339))
	}
	return nil
}
