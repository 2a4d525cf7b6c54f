package rollup

import (
	"time"

	"quiz-progress-service/internal/domain"
)

// Dashboard colors and the display-percent thresholds that select them.
const (
	ColorPass     = "#F4A259"
	ColorMid      = "#F6D860"
	ColorLow      = "#E76F51"
	ColorInactive = "#BDBDBD"

	passThreshold = 50.0
	midThreshold  = 25.0
)

// ProjectOptions controls a dashboard projection.
type ProjectOptions struct {
	Bucketing domain.Bucketing
	Location  *time.Location
	// Now closes the all-time window for year bucketing.
	Now time.Time
}

// DisplayPercent is correct/(correct+incorrect)*100. Skipped answers are not
// part of the denominator here, unlike the stats score. ok is false when no
// question was answered.
func DisplayPercent(correct, incorrect int) (percent float64, ok bool) {
	answered := correct + incorrect
	if answered <= 0 {
		return 0, false
	}
	return float64(correct) / float64(answered) * 100, true
}

// ColorFor maps a display percent to its bucket color.
func ColorFor(percent float64, active bool) string {
	switch {
	case !active:
		return ColorInactive
	case percent >= passThreshold:
		return ColorPass
	case percent >= midThreshold:
		return ColorMid
	default:
		return ColorLow
	}
}

// Project maps a record to its dashboard summary.
func Project(record domain.ProgressRecord, opts ProjectOptions) domain.DisplaySummary {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	stats := record.Stats
	percent, active := DisplayPercent(stats.CorrectAnswers, stats.IncorrectAnswers)
	summary := domain.DisplaySummary{
		PeriodKind:          record.PeriodKind,
		Label:               PeriodLabel(record, loc),
		WindowStart:         record.WindowStart,
		TotalQuizzes:        stats.TotalQuizzes,
		Correct:             stats.CorrectAnswers,
		Incorrect:           stats.IncorrectAnswers,
		Skipped:             stats.SkippedAnswers,
		AverageScorePercent: stats.AverageScorePercent,
		OverallPercent:      percent,
		OverallColor:        ColorFor(percent, active),
		Active:              active,
		CurrentStreakDays:   stats.CurrentStreakDays,
		LongestStreakDays:   stats.LongestStreakDays,
	}
	if !record.OpenEnded() {
		end := record.WindowEnd
		summary.WindowEnd = &end
	}
	if opts.Bucketing == domain.BucketingBreakdown {
		summary.Buckets = breakdown(record, loc, now)
	}
	return summary
}

// PeriodLabel renders the human-readable ASCII label for a record's window.
func PeriodLabel(record domain.ProgressRecord, loc *time.Location) string {
	start := record.WindowStart.In(loc)
	switch record.PeriodKind {
	case domain.PeriodDaily:
		return start.Format("Monday, January 2, 2006")
	case domain.PeriodWeekly:
		last := start.AddDate(0, 0, 6)
		if last.Year() != start.Year() {
			return start.Format("Jan 2, 2006") + " - " + last.Format("Jan 2, 2006")
		}
		return start.Format("Jan 2") + " - " + last.Format("Jan 2, 2006")
	case domain.PeriodMonthly:
		return start.Format("January 2006")
	case domain.PeriodYearly:
		return start.Format("2006")
	case domain.PeriodAllTime:
		return "All time"
	}
	return string(record.PeriodKind)
}

type bucketSpan struct {
	label      string
	start, end time.Time
}

func breakdown(record domain.ProgressRecord, loc *time.Location, now time.Time) []domain.DisplayBucket {
	spans := bucketSpans(record, loc, now)
	buckets := make([]domain.DisplayBucket, len(spans))
	for i, span := range spans {
		buckets[i] = domain.DisplayBucket{Label: span.label, Start: span.start, End: span.end}
	}
	for _, entry := range record.History {
		for i := range buckets {
			if entry.Date.Before(buckets[i].Start) || !entry.Date.Before(buckets[i].End) {
				continue
			}
			buckets[i].Quizzes++
			buckets[i].Correct += entry.Correct
			buckets[i].Incorrect += entry.Incorrect
			buckets[i].Skipped += entry.Skipped
			break
		}
	}
	for i := range buckets {
		percent, active := DisplayPercent(buckets[i].Correct, buckets[i].Incorrect)
		buckets[i].Percent = percent
		buckets[i].Active = active
		buckets[i].Color = ColorFor(percent, active)
	}
	return buckets
}

func bucketSpans(record domain.ProgressRecord, loc *time.Location, now time.Time) []bucketSpan {
	start := record.WindowStart.In(loc)
	var spans []bucketSpan
	switch record.PeriodKind {
	case domain.PeriodDaily, domain.PeriodWeekly:
		first := startOfWeek(start)
		for i := 0; i < 7; i++ {
			day := first.AddDate(0, 0, i)
			spans = append(spans, bucketSpan{label: day.Format("Mon Jan 2"), start: day, end: day.AddDate(0, 0, 1)})
		}
	case domain.PeriodMonthly:
		first := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, loc)
		for day := first; day.Month() == first.Month(); day = day.AddDate(0, 0, 1) {
			spans = append(spans, bucketSpan{label: day.Format("Jan 2"), start: day, end: day.AddDate(0, 0, 1)})
		}
	case domain.PeriodYearly:
		first := time.Date(start.Year(), time.January, 1, 0, 0, 0, 0, loc)
		for m := 0; m < 12; m++ {
			month := first.AddDate(0, m, 0)
			spans = append(spans, bucketSpan{label: month.Format("Jan"), start: month, end: month.AddDate(0, 1, 0)})
		}
	case domain.PeriodAllTime:
		first, last := start.Year(), now.In(loc).Year()
		for _, entry := range record.History {
			y := entry.Date.In(loc).Year()
			if y < first {
				first = y
			}
			if y > last {
				last = y
			}
		}
		for y := first; y <= last; y++ {
			year := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
			spans = append(spans, bucketSpan{label: year.Format("2006"), start: year, end: year.AddDate(1, 0, 0)})
		}
	}
	return spans
}

// RecordForWindow builds an ad-hoc record for w from a superset history, such as
// the all-time record's, folding stats and streaks from scratch.
func RecordForWindow(kind domain.PeriodKind, w Window, history []domain.HistoryEntry, now time.Time, loc *time.Location) domain.ProgressRecord {
	record := domain.ProgressRecord{
		PeriodKind:  kind,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		History:     []domain.HistoryEntry{},
	}
	for _, entry := range history {
		if w.Contains(entry.Date) {
			record.History = append(record.History, entry)
			if entry.Date.After(record.LastUpdated) {
				record.LastUpdated = entry.Date
			}
		}
	}
	record.Stats = Fold(record.History)
	record.Stats.CurrentStreakDays, record.Stats.LongestStreakDays = Streaks(record.History, now, loc)
	return record
}
