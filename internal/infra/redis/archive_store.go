package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-progress-service/internal/domain"
)

// ArchiveStore keeps closed period records in one hash per user and kind:
//
//	HSET progress:archive:{userID}:{kind} {windowStartUnixNano} {json}
//
// Re-archiving the same window overwrites the same field.
type ArchiveStore struct {
	client *redis.Client
	ttl    time.Duration
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewArchiveStore(client *redis.Client, ttl time.Duration) *ArchiveStore {
	return &ArchiveStore{
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (a *ArchiveStore) Archive(ctx context.Context, userID string, records []domain.ProgressRecord) error {
	if len(records) == 0 {
		return nil
	}
	pipe := a.client.Pipeline()
	touched := make(map[string]struct{})
	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal archived record: %w", err)
		}
		key := a.key(userID, record.PeriodKind)
		pipe.HSet(ctx, key, strconv.FormatInt(record.WindowStart.UnixNano(), 10), payload)
		touched[key] = struct{}{}
	}
	if ttl := a.ttlWithJitter(); ttl > 0 {
		for key := range touched {
			pipe.Expire(ctx, key, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("archive records", err)
	}
	return nil
}

func (a *ArchiveStore) History(ctx context.Context, userID string, kind domain.PeriodKind, limit int) ([]domain.ProgressRecord, error) {
	fields, err := a.client.HGetAll(ctx, a.key(userID, kind)).Result()
	if err != nil {
		return nil, unavailable("load archive", err)
	}
	out := make([]domain.ProgressRecord, 0, len(fields))
	for _, raw := range fields {
		var record domain.ProgressRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("unmarshal archived record: %w", err)
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowStart.After(out[j].WindowStart) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *ArchiveStore) Delete(ctx context.Context, userID string) error {
	keys := make([]string, 0, len(domain.PeriodKinds))
	for _, kind := range domain.PeriodKinds {
		keys = append(keys, a.key(userID, kind))
	}
	if err := a.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("delete archive", err)
	}
	return nil
}

func (a *ArchiveStore) key(userID string, kind domain.PeriodKind) string {
	return "progress:archive:" + userID + ":" + string(kind)
}

func (a *ArchiveStore) ttlWithJitter() time.Duration {
	if a.ttl <= 0 {
		return 0
	}
	jitterMax := int64(a.ttl) / 10
	a.rndMu.Lock()
	defer a.rndMu.Unlock()
	return a.ttl + time.Duration(a.rnd.Int63n(jitterMax+1))
}
