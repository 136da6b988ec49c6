package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// HistoryStatus is the lifecycle state of a sync_history row.
type HistoryStatus string

const (
	HistoryInProgress HistoryStatus = "in_progress"
	HistoryCompleted  HistoryStatus = "completed"
	HistoryFailed     HistoryStatus = "failed"
)

// SyncError records one item that failed during a sync run. Serialized as
// JSON into sync_history.errors.
type SyncError struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Message    string `json:"message"`
}

// SyncStats carries the per-run counters written to a history row.
type SyncStats struct {
	Synced  int
	Created int
	Updated int
	Failed  int
}

// SyncHistory is one audit row for a sync run over a single entity type.
type SyncHistory struct {
	ID          int64
	JobID       string
	EntityType  EntityKind
	Status      HistoryStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Stats       SyncStats
	Errors      []SyncError
}

// CreateSyncHistory opens an audit row for a sync run and returns its id.
// The row starts in_progress; UpdateSyncHistory closes it.
func (s *Store) CreateSyncHistory(ctx context.Context, jobID string, kind EntityKind) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_history (job_id, entity_type, status, started_at)
	VALUES (?, ?, ?, ?)`,
		jobID, string(kind), string(HistoryInProgress), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to create sync history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync history id: %w", err)
	}
	return id, nil
}

// UpdateSyncHistory closes an audit row with its final status, counters,
// and error list. Updating an id that does not exist is a no-op.
func (s *Store) UpdateSyncHistory(ctx context.Context, id int64, status HistoryStatus, stats SyncStats, syncErrs []SyncError) error {
	var errJSON sql.NullString
	if len(syncErrs) > 0 {
		data, err := json.Marshal(syncErrs)
		if err != nil {
			return fmt.Errorf("failed to marshal sync errors: %w", err)
		}
		errJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.conn.ExecContext(ctx, `
	UPDATE sync_history SET
		status = ?,
		completed_at = ?,
		synced_count = ?,
		created_count = ?,
		updated_count = ?,
		failed_count = ?,
		errors = ?
	WHERE id = ?`,
		string(status),
		time.Now().UTC().Format(time.RFC3339),
		stats.Synced,
		stats.Created,
		stats.Updated,
		stats.Failed,
		errJSON,
		id)
	if err != nil {
		return fmt.Errorf("failed to update sync history: %w", err)
	}
	return nil
}

// GetLastSyncTime returns the completion time of the most recent completed
// sync for an entity kind, or nil when no completed run exists. Incremental
// syncs use this as their change cutoff.
func (s *Store) GetLastSyncTime(ctx context.Context, kind EntityKind) (*time.Time, error) {
	var completed sql.NullString
	err := s.conn.QueryRowContext(ctx, `
	SELECT MAX(completed_at) FROM sync_history
	WHERE entity_type = ? AND status = ?`,
		string(kind), string(HistoryCompleted)).Scan(&completed)
	if err != nil {
		return nil, fmt.Errorf("failed to query last sync time: %w", err)
	}
	return nullStringToTime(completed), nil
}

// ListSyncHistory returns audit rows newest first, limited.
func (s *Store) ListSyncHistory(ctx context.Context, limit int) ([]*SyncHistory, error) {
	query := `
	SELECT id, job_id, entity_type, status, started_at, completed_at,
	       synced_count, created_count, updated_count, failed_count, errors
	FROM sync_history
	ORDER BY id DESC`

	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	defer rows.Close()

	var history []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		var kind, status, started string
		var completed, errJSON sql.NullString

		err := rows.Scan(
			&h.ID,
			&h.JobID,
			&kind,
			&status,
			&started,
			&completed,
			&h.Stats.Synced,
			&h.Stats.Created,
			&h.Stats.Updated,
			&h.Stats.Failed,
			&errJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync history: %w", err)
		}

		h.EntityType = EntityKind(kind)
		h.Status = HistoryStatus(status)
		if t, err := time.Parse(time.RFC3339, started); err == nil {
			h.StartedAt = t
		}
		h.CompletedAt = nullStringToTime(completed)
		if errJSON.Valid && errJSON.String != "" {
			if err := json.Unmarshal([]byte(errJSON.String), &h.Errors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sync errors: %w", err)
			}
		}

		history = append(history, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync history: %w", err)
	}
	return history, nil
}
