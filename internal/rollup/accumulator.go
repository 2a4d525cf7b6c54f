package rollup

import (
	"time"

	"quiz-progress-service/internal/domain"
)

// ScorePercent is correct/totalQuestions*100, or 0 for an empty quiz.
func ScorePercent(correct, totalQuestions int) float64 {
	if totalQuestions <= 0 {
		return 0
	}
	return float64(correct) / float64(totalQuestions) * 100
}

// NewHistoryEntry converts a validated event into its history form, dated in loc.
func NewHistoryEntry(event domain.QuizCompletionEvent, loc *time.Location) domain.HistoryEntry {
	if loc == nil {
		loc = time.UTC
	}
	return domain.HistoryEntry{
		QuizID:            event.QuizID,
		Date:              event.OccurredAt.In(loc),
		QuestionsAnswered: event.TotalQuestions,
		Correct:           event.Correct,
		Incorrect:         event.Incorrect,
		Skipped:           event.Skipped,
		ScorePercent:      ScorePercent(event.Correct, event.TotalQuestions),
		TimeSpentSeconds:  event.TimeSpentSeconds,
	}
}

// Accumulate folds one entry into stats in O(1). Streak fields are left untouched.
// A quiz without questions counts as taken but does not move the mean, best or worst.
func Accumulate(stats domain.PeriodStats, entry domain.HistoryEntry) domain.PeriodStats {
	stats.TotalQuizzes++
	stats.TotalQuestions += entry.QuestionsAnswered
	stats.CorrectAnswers += entry.Correct
	stats.IncorrectAnswers += entry.Incorrect
	stats.SkippedAnswers += entry.Skipped
	stats.TotalTimeSpentSeconds += entry.TimeSpentSeconds

	if entry.QuestionsAnswered <= 0 {
		return stats
	}

	score := entry.ScorePercent
	prev := stats.ScoredQuizzes
	stats.ScoredQuizzes++
	stats.AverageScorePercent = (stats.AverageScorePercent*float64(prev) + score) / float64(stats.ScoredQuizzes)
	if prev == 0 {
		stats.BestScorePercent = score
		stats.WorstScorePercent = score
		return stats
	}
	if score > stats.BestScorePercent {
		stats.BestScorePercent = score
	}
	if score < stats.WorstScorePercent {
		stats.WorstScorePercent = score
	}
	return stats
}

// Fold builds stats from scratch over entries, in order.
func Fold(entries []domain.HistoryEntry) domain.PeriodStats {
	var stats domain.PeriodStats
	for _, entry := range entries {
		stats = Accumulate(stats, entry)
	}
	return stats
}
