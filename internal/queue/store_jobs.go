package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"convertd/internal/formats"
	"convertd/internal/services"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(timeLayout, value)
}

// Enqueue inserts job in the pending state and returns its id.
func (s *Store) Enqueue(ctx context.Context, job Job) (string, error) {
	if err := job.validate(); err != nil {
		return "", fmt.Errorf("%w: %v", services.ErrValidation, err)
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	now := timestamp(time.Now())
	_, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (
            id, filename, source_category, target_format, settings_json, payload,
            status, progress_percent, submitted_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		job.ID,
		job.Filename,
		string(job.SourceCategory),
		job.TargetFormat,
		string(job.Settings),
		job.Payload,
		StatusPending,
		timestamp(job.SubmittedAt),
		now,
	)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "queue", "enqueue", job.ID, err)
	}
	return job.ID, nil
}

// Query reports the state of id. Unknown ids are indistinguishable from
// pending ones.
func (s *Store) Query(ctx context.Context, id string) (State, error) {
	var (
		status     string
		percent    int
		message    sql.NullString
		resultJSON sql.NullString
		errMessage sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, progress_percent, progress_message, result_json, error_message
         FROM jobs WHERE id = ?`, id,
	).Scan(&status, &percent, &message, &resultJSON, &errMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return pendingState(), nil
	}
	if err != nil {
		return State{}, services.Wrap(services.ErrTransient, "queue", "query", id, err)
	}

	token := Status(status)
	state := State{
		Token:      token,
		Ready:      token.Ready(),
		Successful: token == StatusSuccess,
		Percent:    percent,
		Message:    message.String,
		Error:      errMessage.String,
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return State{}, fmt.Errorf("decode result for %s: %w", id, err)
		}
		state.Result = &result
	}
	return state, nil
}

// Next atomically claims the oldest pending job for this store's consumer.
func (s *Store) Next(ctx context.Context) (*Job, error) {
	now := timestamp(time.Now())
	var (
		job         Job
		category    string
		settingsRaw string
		submitted   string
	)
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`UPDATE jobs
             SET status = ?, worker = ?, started_at = ?, updated_at = ?, last_heartbeat = ?
             WHERE id = (
                 SELECT id FROM jobs WHERE status = ? ORDER BY submitted_at, rowid LIMIT 1
             ) AND status = ?
             RETURNING id, filename, source_category, target_format, settings_json, payload, submitted_at`,
			StatusStarted, nullableString(s.consumer), now, now, now,
			StatusPending, StatusPending,
		).Scan(&job.ID, &job.Filename, &category, &job.TargetFormat, &settingsRaw, &job.Payload, &submitted)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "claim", "", err)
	}
	job.SourceCategory = formats.Category(category)
	job.Settings = []byte(settingsRaw)
	if ts, err := parseTimeString(submitted); err == nil {
		job.SubmittedAt = ts
	}
	return &job, nil
}

// ReportProgress records a checkpoint for an active job.
func (s *Store) ReportProgress(ctx context.Context, id string, percent int, message string) error {
	now := timestamp(time.Now())
	return s.updateActive(ctx, "report progress", id,
		`UPDATE jobs SET status = ?, progress_percent = ?, progress_message = ?, updated_at = ?, last_heartbeat = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusProgress, percent, nullableString(message), now, now,
		id, StatusStarted, StatusProgress,
	)
}

// Heartbeat stamps an active job so stale reclamation leaves it alone.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	now := timestamp(time.Now())
	return s.updateActive(ctx, "heartbeat", id,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		now, now, id, StatusStarted, StatusProgress,
	)
}

// Complete records result and marks the task successful. A failed conversion
// is still a successful task; its result carries the failure.
func (s *Store) Complete(ctx context.Context, id string, result Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	now := timestamp(time.Now())
	return s.updateActive(ctx, "complete", id,
		`UPDATE jobs SET status = ?, progress_percent = 100, result_json = ?, payload = NULL,
             finished_at = ?, updated_at = ?, last_heartbeat = NULL
         WHERE id = ? AND status IN (?, ?)`,
		StatusSuccess, string(encoded), now, now,
		id, StatusStarted, StatusProgress,
	)
}

// Fail marks the task itself failed with reason.
func (s *Store) Fail(ctx context.Context, id string, reason string) error {
	now := timestamp(time.Now())
	return s.updateActive(ctx, "fail", id,
		`UPDATE jobs SET status = ?, error_message = ?, payload = NULL,
             finished_at = ?, updated_at = ?, last_heartbeat = NULL
         WHERE id = ? AND status IN (?, ?)`,
		StatusFailure, reason, now, now,
		id, StatusStarted, StatusProgress,
	)
}

func (s *Store) updateActive(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", op, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotActive)
	}
	return nil
}
