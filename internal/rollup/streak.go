package rollup

import (
	"sort"
	"time"

	"quiz-progress-service/internal/domain"
)

// Streaks derives the current and longest run of consecutive calendar days with
// at least one quiz. The most recent run is current only when it ends today or
// yesterday relative to now.
func Streaks(history []domain.HistoryEntry, now time.Time, loc *time.Location) (current, longest int) {
	if len(history) == 0 {
		return 0, 0
	}
	if loc == nil {
		loc = time.UTC
	}

	seen := make(map[int64]struct{}, len(history))
	days := make([]int64, 0, len(history))
	for _, entry := range history {
		d := dayNumber(entry.Date, loc)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] > days[j] })

	today := dayNumber(now, loc)
	run := 1
	longest = 1
	mostRecentRun := 0
	for i := 1; i < len(days); i++ {
		if days[i-1]-days[i] == 1 {
			run++
		} else {
			if mostRecentRun == 0 {
				mostRecentRun = run
			}
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	if mostRecentRun == 0 {
		mostRecentRun = run
	}

	if today-days[0] <= 1 {
		current = mostRecentRun
	}
	return current, longest
}
