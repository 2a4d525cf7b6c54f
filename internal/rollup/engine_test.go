package rollup

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"quiz-progress-service/internal/domain"
)

func event(quizID string, total, correct, incorrect, skipped int, at time.Time) domain.QuizCompletionEvent {
	return domain.QuizCompletionEvent{
		QuizID:           quizID,
		TotalQuestions:   total,
		Correct:          correct,
		Incorrect:        incorrect,
		Skipped:          skipped,
		TimeSpentSeconds: 30,
		OccurredAt:       at,
	}
}

func mustIngest(t *testing.T, e Engine, state domain.UserProgressState, ev domain.QuizCompletionEvent, now time.Time) IngestResult {
	t.Helper()
	res, err := e.Ingest(state, ev, now)
	if err != nil {
		t.Fatalf("ingest %s: %v", ev.QuizID, err)
	}
	return res
}

func TestIngestIsIdempotent(t *testing.T) {
	engine := NewEngine()
	now := day(4, 12)
	state := engine.NewState("u1", day(1, 0))
	ev := event("q1", 5, 3, 1, 1, now)

	once := mustIngest(t, engine, state, ev, now)
	twice := mustIngest(t, engine, once.State, ev, now)

	if !twice.Duplicate() {
		t.Fatalf("expected re-delivery to be a duplicate, applied=%v", twice.Applied)
	}
	if !reflect.DeepEqual(once.State, twice.State) {
		t.Fatalf("state changed on re-delivery")
	}
	for _, kind := range domain.PeriodKinds {
		record := twice.State.Records[kind]
		if len(record.History) != 1 {
			t.Fatalf("%s: expected 1 history entry, got %d", kind, len(record.History))
		}
		if record.Stats.TotalQuizzes != 1 || record.Stats.CorrectAnswers != 3 {
			t.Fatalf("%s: unexpected stats %+v", kind, record.Stats)
		}
	}
}

func TestIngestConservation(t *testing.T) {
	engine := NewEngine()
	now := day(4, 12)
	state := engine.NewState("u1", day(1, 0))
	sumCorrect := 0
	for i := 0; i < 10; i++ {
		ev := event(string(rune('a'+i)), 6, i%5, 1, 0, now.Add(-time.Duration(i)*time.Minute))
		sumCorrect += ev.Correct
		state = mustIngest(t, engine, state, ev, now).State
	}
	stats := state.Records[domain.PeriodAllTime].Stats
	if stats.TotalQuizzes != 10 || stats.CorrectAnswers != sumCorrect {
		t.Fatalf("expected 10 quizzes and %d correct, got %+v", sumCorrect, stats)
	}
	if daily := state.Records[domain.PeriodDaily].Stats; daily.TotalQuizzes != 10 {
		t.Fatalf("expected daily to hold all 10, got %d", daily.TotalQuizzes)
	}
}

func TestIngestRejectsInvalidEvent(t *testing.T) {
	engine := NewEngine()
	now := day(4, 12)
	state := engine.NewState("u1", now)

	cases := []domain.QuizCompletionEvent{
		event("q1", 3, 2, 2, 0, now),
		event("q1", 3, -1, 0, 0, now),
		event("", 3, 1, 0, 0, now),
		event("q1", 3, 1, 0, 0, time.Time{}),
		event("q1", 3, 1, 0, 0, now.Add(time.Hour)),
	}
	for _, ev := range cases {
		_, err := engine.Ingest(state, ev, now)
		if !errors.Is(err, domain.ErrInvalidEvent) {
			t.Fatalf("expected ErrInvalidEvent for %+v, got %v", ev, err)
		}
	}
	if state.Records[domain.PeriodAllTime].Stats.TotalQuizzes != 0 {
		t.Fatalf("rejected events must not touch state")
	}
}

func TestEnsureCurrentMigratesExpiredWindows(t *testing.T) {
	engine := NewEngine()
	start := day(4, 12) // Monday
	state := engine.NewState("u1", start)
	state = mustIngest(t, engine, state, event("q1", 4, 4, 0, 0, start), start).State

	later := day(11, 9) // next Monday
	rolled := engine.EnsureCurrent(state, later)

	if !rolled.Changed {
		t.Fatalf("expected migration to change state")
	}
	archivedKinds := map[domain.PeriodKind]bool{}
	for _, r := range rolled.Archived {
		archivedKinds[r.PeriodKind] = true
	}
	if !archivedKinds[domain.PeriodDaily] || !archivedKinds[domain.PeriodWeekly] {
		t.Fatalf("expected daily and weekly to be archived, got %v", archivedKinds)
	}
	if archivedKinds[domain.PeriodMonthly] || archivedKinds[domain.PeriodAllTime] {
		t.Fatalf("monthly and all-time must stay current, got %v", archivedKinds)
	}
	for _, kind := range domain.PeriodKinds {
		record := rolled.State.Records[kind]
		if !record.Contains(later) {
			t.Fatalf("%s window [%s, %s) does not cover %s", kind, record.WindowStart, record.WindowEnd, later)
		}
	}
	if n := len(rolled.State.Records[domain.PeriodWeekly].History); n != 0 {
		t.Fatalf("expected fresh weekly record, got %d entries", n)
	}
	if n := rolled.State.Records[domain.PeriodAllTime].Stats.TotalQuizzes; n != 1 {
		t.Fatalf("all-time must keep its stats, got %d", n)
	}
	if len(state.Records[domain.PeriodWeekly].History) != 1 {
		t.Fatalf("EnsureCurrent mutated its input")
	}
}

func TestEnsureCurrentSkipsEmptyArchives(t *testing.T) {
	engine := NewEngine()
	state := engine.NewState("u1", day(4, 12))
	rolled := engine.EnsureCurrent(state, day(20, 12))
	if len(rolled.Archived) != 0 {
		t.Fatalf("expected no archives for empty windows, got %d", len(rolled.Archived))
	}
	if !rolled.State.Records[domain.PeriodDaily].Contains(day(20, 12)) {
		t.Fatalf("daily window did not jump to the current day")
	}
}

func TestLateEventOnlyCountsTowardAllTime(t *testing.T) {
	engine := NewEngine()
	now := day(11, 12)
	state := engine.NewState("u1", day(1, 0))
	state = engine.EnsureCurrent(state, now).State

	late := event("late", 4, 2, 2, 0, day(2, 12)) // previous week, same month
	res := mustIngest(t, engine, state, late, now)

	applied := map[domain.PeriodKind]bool{}
	for _, k := range res.Applied {
		applied[k] = true
	}
	if applied[domain.PeriodDaily] || applied[domain.PeriodWeekly] {
		t.Fatalf("late event reopened a closed window: %v", res.Applied)
	}
	if !applied[domain.PeriodMonthly] || !applied[domain.PeriodYearly] || !applied[domain.PeriodAllTime] {
		t.Fatalf("late event should land in windows that still contain it: %v", res.Applied)
	}
}

func TestThreeDayStreakThenGap(t *testing.T) {
	engine := NewEngine()
	state := engine.NewState("u1", day(1, 0))
	for i, d := range []int{4, 5, 6} {
		at := day(d, 10)
		state = mustIngest(t, engine, state, event(string(rune('a'+i)), 3, 3, 0, 0, at), at).State
	}
	all := state.Records[domain.PeriodAllTime].Stats
	if all.CurrentStreakDays != 3 || all.LongestStreakDays != 3 {
		t.Fatalf("expected streak (3,3), got (%d,%d)", all.CurrentStreakDays, all.LongestStreakDays)
	}

	at := day(8, 10)
	state = mustIngest(t, engine, state, event("d", 3, 3, 0, 0, at), at).State
	all = state.Records[domain.PeriodAllTime].Stats
	if all.CurrentStreakDays != 1 || all.LongestStreakDays != 3 {
		t.Fatalf("expected streak (1,3) after gap, got (%d,%d)", all.CurrentStreakDays, all.LongestStreakDays)
	}

	// With no further play the current streak decays once yesterday passes.
	decayed := engine.EnsureCurrent(state, day(10, 10)).State.Records[domain.PeriodAllTime].Stats
	if decayed.CurrentStreakDays != 0 || decayed.LongestStreakDays != 3 {
		t.Fatalf("expected streak (0,3), got (%d,%d)", decayed.CurrentStreakDays, decayed.LongestStreakDays)
	}
}

func TestRedeliveryAfterRolloverDoesNotDoubleCount(t *testing.T) {
	engine := NewEngine()
	first := day(4, 12)
	state := engine.NewState("u1", first)
	ev := event("q1", 4, 3, 1, 0, first)
	state = mustIngest(t, engine, state, ev, first).State

	res := mustIngest(t, engine, state, ev, day(5, 9))
	if !res.Duplicate() {
		t.Fatalf("expected duplicate after daily rollover, applied %v", res.Applied)
	}
	if n := res.State.Records[domain.PeriodDaily].Stats.TotalQuizzes; n != 0 {
		t.Fatalf("new day must not receive yesterday's quiz, got %d", n)
	}
	if n := res.State.Records[domain.PeriodAllTime].Stats.TotalQuizzes; n != 1 {
		t.Fatalf("all-time double counted: %d", n)
	}
}

func TestEngineLocationShiftsDayBoundary(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	engine := NewEngine(WithLocation(loc))
	now := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC) // 01:00 on the 5th in UTC+9
	state := engine.NewState("u1", now)
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, loc)
	if got := state.Records[domain.PeriodDaily].WindowStart; !got.Equal(want) {
		t.Fatalf("expected daily start %s, got %s", want, got)
	}
}

func TestEventAheadOfClockStaysInCurrentDay(t *testing.T) {
	engine := NewEngine()
	now := day(4, 23).Add(58 * time.Minute)
	state := engine.NewState("u1", now)

	ahead := event("q-ahead", 2, 2, 0, 0, day(5, 0).Add(2*time.Minute))
	res := mustIngest(t, engine, state, ahead, now)
	daily := res.State.Records[domain.PeriodDaily]
	if !daily.Contains(now) {
		t.Fatalf("daily window [%s, %s) no longer covers now %s", daily.WindowStart, daily.WindowEnd, now)
	}
	if daily.Stats.TotalQuizzes != 1 || !daily.History[0].Date.Equal(now) {
		t.Fatalf("expected event recorded at now in today's window, got %+v", daily.History)
	}

	later := now.Add(time.Minute)
	rolled := engine.EnsureCurrent(res.State, later)
	for kind, record := range rolled.State.Records {
		if !record.Contains(later) {
			t.Fatalf("%s window does not cover %s", kind, later)
		}
	}

	res = mustIngest(t, engine, res.State, event("q-today", 2, 1, 1, 0, later), later)
	applied := false
	for _, kind := range res.Applied {
		applied = applied || kind == domain.PeriodDaily
	}
	if !applied {
		t.Fatalf("on-time event skipped daily, applied %v", res.Applied)
	}
	if n := res.State.Records[domain.PeriodDaily].Stats.TotalQuizzes; n != 2 {
		t.Fatalf("expected 2 quizzes today, got %d", n)
	}
}

func TestEnsureCurrentRebuildsWindowAheadOfClock(t *testing.T) {
	engine := NewEngine()
	now := day(4, 23).Add(50 * time.Minute)
	state := engine.NewState("u1", day(1, 9))
	state = mustIngest(t, engine, state, event("q1", 4, 3, 1, 0, now), now).State

	// the clock jumps past midnight, then steps back
	state = engine.EnsureCurrent(state, day(5, 0).Add(time.Minute)).State
	back := now.Add(5 * time.Minute)
	rolled := engine.EnsureCurrent(state, back)
	if !rolled.Changed {
		t.Fatalf("expected rebuild to mark state changed")
	}
	if len(rolled.Archived) != 0 {
		t.Fatalf("rebuild must not archive, got %d", len(rolled.Archived))
	}
	for kind, record := range rolled.State.Records {
		if !record.Contains(back) {
			t.Fatalf("%s window [%s, %s) does not cover %s", kind, record.WindowStart, record.WindowEnd, back)
		}
	}
	daily := rolled.State.Records[domain.PeriodDaily]
	if !daily.WindowStart.Equal(day(4, 0)) || daily.Stats.TotalQuizzes != 1 {
		t.Fatalf("expected Mar 4 rebuilt with q1, got start %s stats %+v", daily.WindowStart, daily.Stats)
	}
}
