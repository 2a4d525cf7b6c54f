package memory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-progress-service/internal/domain"
)

// StateBackend is the durable store behind a StateCache (e.g. Postgres).
type StateBackend interface {
	Load(ctx context.Context, userID string) (domain.UserProgressState, error)
	Save(ctx context.Context, state domain.UserProgressState, expectedVersion int64) error
	Delete(ctx context.Context, userID string) error
	UserIDs(ctx context.Context) ([]string, error)
}

// StateCache caches loaded states with a TTL to avoid repeated backend reads.
// Writes go straight through; a conflicting write evicts the entry so the retry
// reloads the winner's version. Reads are not revalidated: a write made by
// another instance becomes visible here within the TTL plus at most 10% jitter.
// A TTL of zero disables caching.
type StateCache struct {
	backend StateBackend
	ttl     time.Duration
	clock   func() time.Time
	sf      singleflight.Group
	rnd     *rand.Rand
	rndMu   sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedState
}

type cachedState struct {
	state     domain.UserProgressState
	expiresAt time.Time
}

func NewStateCache(backend StateBackend, ttl time.Duration) *StateCache {
	return &StateCache{
		backend: backend,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:   make(map[string]cachedState),
	}
}

func (c *StateCache) Load(ctx context.Context, userID string) (domain.UserProgressState, error) {
	if state, ok := c.lookup(userID); ok {
		return state, nil
	}

	result, err, _ := c.sf.Do(userID, func() (interface{}, error) {
		if state, ok := c.lookup(userID); ok {
			return state, nil
		}
		state, err := c.backend.Load(ctx, userID)
		if err != nil {
			return domain.UserProgressState{}, err
		}
		c.store(state)
		return state, nil
	})
	if err != nil {
		return domain.UserProgressState{}, err
	}
	return result.(domain.UserProgressState).Clone(), nil
}

func (c *StateCache) Save(ctx context.Context, state domain.UserProgressState, expectedVersion int64) error {
	err := c.backend.Save(ctx, state, expectedVersion)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			c.evict(state.UserID)
		}
		return err
	}
	c.store(state)
	return nil
}

func (c *StateCache) Delete(ctx context.Context, userID string) error {
	c.evict(userID)
	return c.backend.Delete(ctx, userID)
}

func (c *StateCache) UserIDs(ctx context.Context) ([]string, error) {
	return c.backend.UserIDs(ctx)
}

func (c *StateCache) lookup(userID string) (domain.UserProgressState, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.cache[userID]; ok && entry.expiresAt.After(now) {
		return entry.state.Clone(), true
	}
	return domain.UserProgressState{}, false
}

func (c *StateCache) store(state domain.UserProgressState) {
	if c.ttl <= 0 {
		return
	}
	expires := c.clock().Add(c.ttlWithJitter())
	c.mu.Lock()
	c.cache[state.UserID] = cachedState{state: state.Clone(), expiresAt: expires}
	c.mu.Unlock()
}

func (c *StateCache) evict(userID string) {
	c.mu.Lock()
	delete(c.cache, userID)
	c.mu.Unlock()
}

func (c *StateCache) ttlWithJitter() time.Duration {
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
