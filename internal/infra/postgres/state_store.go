package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-progress-service/internal/domain"
)

// StateStore persists user progress as JSONB in progress_states.
// The version column guards every write.
type StateStore struct {
	pool *pgxpool.Pool
}

func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

func (s *StateStore) Load(ctx context.Context, userID string) (domain.UserProgressState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM progress_states WHERE user_id=$1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserProgressState{}, domain.ErrStateNotFound
	}
	if err != nil {
		return domain.UserProgressState{}, classify("load state", err)
	}
	var state domain.UserProgressState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.UserProgressState{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

func (s *StateStore) Save(ctx context.Context, state domain.UserProgressState, expectedVersion int64) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	var tag pgconn.CommandTag
	if expectedVersion == 0 {
		tag, err = s.pool.Exec(ctx, `
			INSERT INTO progress_states (user_id, version, data, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (user_id) DO NOTHING`,
			state.UserID, state.Version, data)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE progress_states
			SET version=$3, data=$4, updated_at=now()
			WHERE user_id=$1 AND version=$2`,
			state.UserID, expectedVersion, state.Version, data)
	}
	if err != nil {
		return classify("save state", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (s *StateStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM progress_states WHERE user_id=$1`, userID); err != nil {
		return classify("delete state", err)
	}
	return nil
}

func (s *StateStore) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM progress_states ORDER BY user_id`)
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan user id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list users", err)
	}
	return ids, nil
}

// classify keeps server-side SQL errors as they are and reports everything
// else (dial failures, timeouts, closed pool) as the store being unavailable.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: postgres %s: %v", domain.ErrPersistenceUnavailable, op, err)
}
