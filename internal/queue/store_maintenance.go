package queue

import (
	"context"
	"fmt"
	"time"
)

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ReclaimStale returns active jobs whose last heartbeat is older than cutoff
// to the pending state so another worker picks them up.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, worker = NULL, started_at = NULL, progress_percent = 0,
             progress_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending, timestamp(time.Now()),
		StatusStarted, StatusProgress,
		timestamp(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// FailOrphaned fails jobs a previous run of this consumer left active. It is
// called at worker startup when stale reclamation is disabled.
func (s *Store) FailOrphaned(ctx context.Context, reason string) (int64, error) {
	now := timestamp(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, payload = NULL, finished_at = ?, updated_at = ?, last_heartbeat = NULL
         WHERE status IN (?, ?) AND worker = ?`,
		StatusFailure, reason, now, now,
		StatusStarted, StatusProgress, s.consumer,
	)
	if err != nil {
		return 0, fmt.Errorf("fail orphaned jobs: %w", err)
	}
	return res.RowsAffected()
}

// PruneFinished deletes terminal jobs that finished before cutoff.
func (s *Store) PruneFinished(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		StatusSuccess, StatusFailure, timestamp(before),
	)
	if err != nil {
		return 0, fmt.Errorf("prune finished jobs: %w", err)
	}
	return res.RowsAffected()
}
