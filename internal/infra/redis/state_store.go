package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"quiz-progress-service/internal/domain"
)

const usersKey = "progress:users"

// StateStore keeps each user's progress as one JSON document:
//
//	SET  progress:state:{userID} {json}
//	SADD progress:users {userID}
//
// Save is a compare-and-set on the document's version, done with WATCH/MULTI
// so concurrent writers on other instances lose cleanly with ErrConcurrentUpdate.
type StateStore struct {
	client *redis.Client
}

func NewStateStore(client *redis.Client) *StateStore {
	return &StateStore{client: client}
}

func (s *StateStore) Load(ctx context.Context, userID string) (domain.UserProgressState, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.UserProgressState{}, domain.ErrStateNotFound
	}
	if err != nil {
		return domain.UserProgressState{}, unavailable("load state", err)
	}
	var state domain.UserProgressState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.UserProgressState{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

func (s *StateStore) Save(ctx context.Context, state domain.UserProgressState, expectedVersion int64) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	key := s.key(state.UserID)

	txf := func(tx *redis.Tx) error {
		stored, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored != expectedVersion {
			return domain.ErrConcurrentUpdate
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, usersKey, state.UserID)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, domain.ErrConcurrentUpdate):
		return domain.ErrConcurrentUpdate
	default:
		return unavailable("save state", err)
	}
}

func (s *StateStore) Delete(ctx context.Context, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(userID))
	pipe.SRem(ctx, usersKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("delete state", err)
	}
	return nil
}

func (s *StateStore) UserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, usersKey).Result()
	if err != nil {
		return nil, unavailable("list users", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *StateStore) key(userID string) string {
	return "progress:state:" + userID
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return 0, fmt.Errorf("unmarshal state version: %w", err)
	}
	return head.Version, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", domain.ErrPersistenceUnavailable, op, err)
}
