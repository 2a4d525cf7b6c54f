package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-progress-service/internal/domain"
)

// ArchiveStore appends closed records to progress_archive. Rows are unique per
// (user_id, period_kind, window_start); re-archiving replaces the snapshot.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

func (a *ArchiveStore) Archive(ctx context.Context, userID string, records []domain.ProgressRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal archived record: %w", err)
		}
		batch.Queue(`
			INSERT INTO progress_archive (id, user_id, period_kind, window_start, window_end, data, archived_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (user_id, period_kind, window_start)
			DO UPDATE SET window_end=EXCLUDED.window_end, data=EXCLUDED.data, archived_at=EXCLUDED.archived_at`,
			uuid.NewString(), userID, string(record.PeriodKind), record.WindowStart, windowEnd(record), data)
	}

	results := a.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return classify("archive record", err)
		}
	}
	return nil
}

func (a *ArchiveStore) History(ctx context.Context, userID string, kind domain.PeriodKind, limit int) ([]domain.ProgressRecord, error) {
	query := `SELECT data FROM progress_archive WHERE user_id=$1 AND period_kind=$2 ORDER BY window_start DESC`
	args := []interface{}{userID, string(kind)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("load archive", err)
	}
	defer rows.Close()

	out := make([]domain.ProgressRecord, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, classify("scan archive", err)
		}
		var record domain.ProgressRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("unmarshal archived record: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load archive", err)
	}
	return out, nil
}

func (a *ArchiveStore) Delete(ctx context.Context, userID string) error {
	if _, err := a.pool.Exec(ctx, `DELETE FROM progress_archive WHERE user_id=$1`, userID); err != nil {
		return classify("delete archive", err)
	}
	return nil
}

func windowEnd(record domain.ProgressRecord) *time.Time {
	if record.OpenEnded() {
		return nil
	}
	end := record.WindowEnd
	return &end
}
