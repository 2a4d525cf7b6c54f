package domain

import (
	"fmt"
	"strings"
	"time"
)

// PeriodKind names one of the granularities tracked in parallel for every user.
type PeriodKind string

const (
	PeriodDaily   PeriodKind = "daily"
	PeriodWeekly  PeriodKind = "weekly"
	PeriodMonthly PeriodKind = "monthly"
	PeriodYearly  PeriodKind = "yearly"
	PeriodAllTime PeriodKind = "all-time"
)

// PeriodKinds lists every tracked kind, shortest window first.
var PeriodKinds = []PeriodKind{PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodYearly, PeriodAllTime}

// ParsePeriodKind accepts the canonical names plus the short aliases clients send.
func ParsePeriodKind(raw string) (PeriodKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "daily", "day":
		return PeriodDaily, nil
	case "weekly", "week":
		return PeriodWeekly, nil
	case "monthly", "month":
		return PeriodMonthly, nil
	case "yearly", "year":
		return PeriodYearly, nil
	case "all-time", "alltime", "all_time", "overall":
		return PeriodAllTime, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriodKind, raw)
}

// QuizCompletionEvent is one finished quiz. QuizID is the idempotency key.
type QuizCompletionEvent struct {
	QuizID           string    `json:"quizId"`
	TotalQuestions   int       `json:"totalQuestions"`
	Correct          int       `json:"correct"`
	Incorrect        int       `json:"incorrect"`
	Skipped          int       `json:"skipped"`
	TimeSpentSeconds int       `json:"timeSpentSeconds"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// Validate checks the count invariants without looking at any state.
func (e QuizCompletionEvent) Validate() error {
	if strings.TrimSpace(e.QuizID) == "" {
		return fmt.Errorf("%w: quizId is required", ErrInvalidEvent)
	}
	if e.TotalQuestions < 0 || e.Correct < 0 || e.Incorrect < 0 || e.Skipped < 0 || e.TimeSpentSeconds < 0 {
		return fmt.Errorf("%w: counts must be non-negative", ErrInvalidEvent)
	}
	if e.Correct+e.Incorrect+e.Skipped > e.TotalQuestions {
		return fmt.Errorf("%w: correct+incorrect+skipped (%d) exceeds totalQuestions (%d)",
			ErrInvalidEvent, e.Correct+e.Incorrect+e.Skipped, e.TotalQuestions)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurredAt is required", ErrInvalidEvent)
	}
	return nil
}

// PeriodStats is derived from a record's history and never authored directly.
type PeriodStats struct {
	TotalQuizzes          int     `json:"totalQuizzes"`
	TotalQuestions        int     `json:"totalQuestions"`
	CorrectAnswers        int     `json:"correctAnswers"`
	IncorrectAnswers      int     `json:"incorrectAnswers"`
	SkippedAnswers        int     `json:"skippedAnswers"`
	AverageScorePercent   float64 `json:"averageScorePercent"`
	BestScorePercent      float64 `json:"bestScorePercent"`
	WorstScorePercent     float64 `json:"worstScorePercent"`
	CurrentStreakDays     int     `json:"currentStreakDays"`
	LongestStreakDays     int     `json:"longestStreakDays"`
	ScoredQuizzes         int     `json:"scoredQuizzes"` // quizzes with at least one question
	TotalTimeSpentSeconds int     `json:"totalTimeSpentSeconds"`
}

// HistoryEntry is the durable trace of one ingested event within a period.
type HistoryEntry struct {
	QuizID            string    `json:"quizId"`
	Date              time.Time `json:"date"`
	QuestionsAnswered int       `json:"questionsAnswered"`
	Correct           int       `json:"correct"`
	Incorrect         int       `json:"incorrect"`
	Skipped           int       `json:"skipped"`
	ScorePercent      float64   `json:"scorePercent"`
	TimeSpentSeconds  int       `json:"timeSpentSeconds"`
}

// ProgressRecord holds one period's statistics for a user.
// The window is half-open; a zero WindowEnd means the window is open.
type ProgressRecord struct {
	PeriodKind  PeriodKind     `json:"periodKind"`
	WindowStart time.Time      `json:"windowStart"`
	WindowEnd   time.Time      `json:"windowEnd"`
	Stats       PeriodStats    `json:"stats"`
	History     []HistoryEntry `json:"history"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// OpenEnded reports whether the record's window has no end.
func (r ProgressRecord) OpenEnded() bool {
	return r.WindowEnd.IsZero()
}

// Contains reports whether t falls inside [WindowStart, WindowEnd).
func (r ProgressRecord) Contains(t time.Time) bool {
	if t.Before(r.WindowStart) {
		return false
	}
	return r.OpenEnded() || t.Before(r.WindowEnd)
}

// HasQuiz reports whether quizID was already ingested into this record.
func (r ProgressRecord) HasQuiz(quizID string) bool {
	for _, entry := range r.History {
		if entry.QuizID == quizID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no history backing array with r.
func (r ProgressRecord) Clone() ProgressRecord {
	out := r
	if r.History != nil {
		out.History = make([]HistoryEntry, len(r.History))
		copy(out.History, r.History)
	}
	return out
}

// UserProgressState is the full per-user rollup: one current record per period kind.
// Version is bumped by every successful save and guards optimistic writes.
type UserProgressState struct {
	UserID    string                        `json:"userId"`
	CreatedAt time.Time                     `json:"createdAt"`
	Version   int64                         `json:"version"`
	Records   map[PeriodKind]ProgressRecord `json:"records"`
}

// Clone deep-copies the state so callers can mutate it without affecting the original.
func (s UserProgressState) Clone() UserProgressState {
	out := s
	out.Records = make(map[PeriodKind]ProgressRecord, len(s.Records))
	for kind, record := range s.Records {
		out.Records[kind] = record.Clone()
	}
	return out
}

// ProgressView is the externally consumed shape of a user's state.
type ProgressView struct {
	UserID       string                        `json:"userId"`
	OverallStats PeriodStats                   `json:"overallStats"`
	Progress     map[PeriodKind]ProgressRecord `json:"progress"`
}

// NewProgressView projects the state; overall stats are the all-time record's.
func NewProgressView(state UserProgressState) ProgressView {
	clone := state.Clone()
	return ProgressView{
		UserID:       clone.UserID,
		OverallStats: clone.Records[PeriodAllTime].Stats,
		Progress:     clone.Records,
	}
}

// Bucketing selects between aggregate-only and per-sub-bucket dashboard output.
type Bucketing string

const (
	BucketingAggregate Bucketing = "aggregate"
	BucketingBreakdown Bucketing = "breakdown"
)

// DisplayBucket is one row of a dashboard breakdown.
type DisplayBucket struct {
	Label     string    `json:"label"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Quizzes   int       `json:"quizzes"`
	Correct   int       `json:"correct"`
	Incorrect int       `json:"incorrect"`
	Skipped   int       `json:"skipped"`
	Percent   float64   `json:"percent"`
	Color     string    `json:"color"`
	Active    bool      `json:"active"`
}

// DisplaySummary is the dashboard projection of one period.
type DisplaySummary struct {
	PeriodKind          PeriodKind      `json:"periodKind"`
	Label               string          `json:"label"`
	WindowStart         time.Time       `json:"windowStart"`
	WindowEnd           *time.Time      `json:"windowEnd,omitempty"`
	TotalQuizzes        int             `json:"totalQuizzes"`
	Correct             int             `json:"correct"`
	Incorrect           int             `json:"incorrect"`
	Skipped             int             `json:"skipped"`
	AverageScorePercent float64         `json:"averageScorePercent"`
	OverallPercent      float64         `json:"overallPercent"`
	OverallColor        string          `json:"overallColor"`
	Active              bool            `json:"active"`
	CurrentStreakDays   int             `json:"currentStreakDays"`
	LongestStreakDays   int             `json:"longestStreakDays"`
	Buckets             []DisplayBucket `json:"buckets,omitempty"`
}

// DateSelector picks an explicit period for dashboard queries. Zero fields are unset.
// Week is a 1-based week of the year, counted in 7-day steps from January 1.
type DateSelector struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
	Week  int `json:"week,omitempty"`
	Day   int `json:"day,omitempty"`
}

// IsZero reports whether no explicit date was selected.
func (s DateSelector) IsZero() bool {
	return s.Year == 0 && s.Month == 0 && s.Week == 0 && s.Day == 0
}

// DashboardQuery is the input to a dashboard projection.
type DashboardQuery struct {
	Kind      PeriodKind
	Selector  DateSelector
	Bucketing Bucketing
}
