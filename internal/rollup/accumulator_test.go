package rollup

import (
	"math"
	"testing"
	"time"

	"quiz-progress-service/internal/domain"
)

func entry(quizID string, total, correct, incorrect, skipped int, at time.Time) domain.HistoryEntry {
	return NewHistoryEntry(domain.QuizCompletionEvent{
		QuizID:         quizID,
		TotalQuestions: total,
		Correct:        correct,
		Incorrect:      incorrect,
		Skipped:        skipped,
		OccurredAt:     at,
	}, time.UTC)
}

func TestAccumulateRunningMean(t *testing.T) {
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	stats := Accumulate(domain.PeriodStats{}, entry("a", 4, 4, 0, 0, at)) // 100%
	stats = Accumulate(stats, entry("b", 4, 2, 2, 0, at))                 // 50%
	stats = Accumulate(stats, entry("c", 5, 3, 1, 1, at))                 // 60%

	if stats.TotalQuizzes != 3 || stats.TotalQuestions != 13 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.CorrectAnswers != 9 || stats.IncorrectAnswers != 3 || stats.SkippedAnswers != 1 {
		t.Fatalf("unexpected answer counts: %+v", stats)
	}
	if math.Abs(stats.AverageScorePercent-70) > 1e-9 {
		t.Fatalf("expected average 70, got %v", stats.AverageScorePercent)
	}
	if stats.BestScorePercent != 100 || stats.WorstScorePercent != 50 {
		t.Fatalf("expected best 100 worst 50, got %v/%v", stats.BestScorePercent, stats.WorstScorePercent)
	}
}

func TestAccumulateWorstSeededByFirstQuiz(t *testing.T) {
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	stats := Accumulate(domain.PeriodStats{}, entry("a", 5, 4, 1, 0, at))
	if stats.WorstScorePercent != 80 {
		t.Fatalf("expected worst to start at the first score, got %v", stats.WorstScorePercent)
	}
}

func TestAccumulateEmptyQuizIsNoOpForScores(t *testing.T) {
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	stats := Accumulate(domain.PeriodStats{}, entry("a", 2, 1, 1, 0, at))
	stats = Accumulate(stats, entry("empty", 0, 0, 0, 0, at))

	if stats.TotalQuizzes != 2 {
		t.Fatalf("expected empty quiz to be counted, got %d", stats.TotalQuizzes)
	}
	if stats.AverageScorePercent != 50 || stats.WorstScorePercent != 50 || stats.BestScorePercent != 50 {
		t.Fatalf("expected empty quiz not to move scores, got %+v", stats)
	}
}

// Stats use totalQuestions as the denominator; the dashboard uses correct+incorrect.
func TestScoreDenominatorsDiverge(t *testing.T) {
	e := entry("q1", 5, 3, 1, 1, time.Now())
	if e.ScorePercent != 60 {
		t.Fatalf("expected stats score 60, got %v", e.ScorePercent)
	}
	display, ok := DisplayPercent(e.Correct, e.Incorrect)
	if !ok || display != 75 {
		t.Fatalf("expected display percent 75, got %v", display)
	}
}

func TestFoldMatchesSequentialAccumulate(t *testing.T) {
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	entries := []domain.HistoryEntry{
		entry("a", 10, 7, 3, 0, at),
		entry("b", 10, 2, 5, 3, at),
	}
	folded := Fold(entries)
	manual := Accumulate(Accumulate(domain.PeriodStats{}, entries[0]), entries[1])
	if folded != manual {
		t.Fatalf("fold mismatch: %+v vs %+v", folded, manual)
	}
}
