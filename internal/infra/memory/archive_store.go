package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-progress-service/internal/domain"
)

// ArchiveStore keeps closed period records in memory, keyed by user, kind and window start.
type ArchiveStore struct {
	mu      sync.RWMutex
	records map[string]map[archiveKey]domain.ProgressRecord
}

type archiveKey struct {
	kind  domain.PeriodKind
	start int64
}

func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{records: make(map[string]map[archiveKey]domain.ProgressRecord)}
}

func (a *ArchiveStore) Archive(_ context.Context, userID string, records []domain.ProgressRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	byKey, ok := a.records[userID]
	if !ok {
		byKey = make(map[archiveKey]domain.ProgressRecord)
		a.records[userID] = byKey
	}
	for _, record := range records {
		byKey[archiveKey{kind: record.PeriodKind, start: record.WindowStart.UnixNano()}] = record.Clone()
	}
	return nil
}

func (a *ArchiveStore) History(_ context.Context, userID string, kind domain.PeriodKind, limit int) ([]domain.ProgressRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.ProgressRecord, 0)
	for key, record := range a.records[userID] {
		if key.kind == kind {
			out = append(out, record.Clone())
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *ArchiveStore) Delete(_ context.Context, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, userID)
	return nil
}

func sortNewestFirst(records []domain.ProgressRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].WindowStart.After(records[j].WindowStart)
	})
}
