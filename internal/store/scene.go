package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Scene is one locally mirrored scene row plus its relations.
// The id equals the remote id and is never regenerated.
type Scene struct {
	// ===== Identity =====
	ID string `json:"id"`

	// ===== Content =====
	Title     string     `json:"title,omitempty"`
	Details   string     `json:"details,omitempty"`
	URL       string     `json:"url,omitempty"`
	Date      *time.Time `json:"date,omitempty"`
	Rating    *int       `json:"rating,omitempty"` // 0-5, nil when unrated
	Organized bool       `json:"organized"`

	// ===== Files =====
	Files []SceneFile `json:"files,omitempty"`

	// ===== Relationships =====
	StudioID     string   `json:"studio_id,omitempty"`
	PerformerIDs []string `json:"performer_ids,omitempty"`
	TagIDs       []string `json:"tag_ids,omitempty"`

	// ===== Sync bookkeeping =====
	ContentChecksum string `json:"content_checksum,omitempty"`
	ManualEdit      bool   `json:"manual_edit,omitempty"`
	SyncConflict    bool   `json:"sync_conflict,omitempty"`
	ConflictData    string `json:"conflict_data,omitempty"` // JSON change map while pending

	// ===== Timestamps =====
	RemoteCreatedAt *time.Time `json:"remote_created_at,omitempty"`
	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	LastSynced      time.Time  `json:"last_synced"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SceneFile describes one media file attached to a scene.
type SceneFile struct {
	Duration   float64 `json:"duration,omitempty"`
	Size       int64   `json:"size,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	BitRate    int64   `json:"bit_rate,omitempty"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Primary    bool    `json:"primary,omitempty"`
}

// RemoteUpdated reports the remote modification time recorded at the last
// sync, nil when none was recorded.
func (s *Scene) RemoteUpdated() *time.Time {
	return s.RemoteUpdatedAt
}

// PrimaryFile returns the file flagged primary, falling back to the first
// file when none is flagged. Returns nil for a scene with no files.
func (s *Scene) PrimaryFile() *SceneFile {
	for i := range s.Files {
		if s.Files[i].Primary {
			return &s.Files[i]
		}
	}
	if len(s.Files) > 0 {
		return &s.Files[0]
	}
	return nil
}

// BulkUpsertScenes persists a batch of scenes in one transaction.
//
// Scenes with an empty id are skipped silently; valid scenes in the same
// call still persist. Matched ids update in place, unmatched insert. Every
// persisted scene gets a refreshed last_synced and updated_at, stamped on
// the struct as well as the row.
//
// Each row runs under its own savepoint: a row that fails to persist is
// rolled back alone and reported in the returned RowError slice while the
// rest of the batch proceeds. The returned slice holds the scenes that
// were actually persisted, in input order.
//
// An empty input returns an empty output and touches nothing.
func (s *Store) BulkUpsertScenes(ctx context.Context, scenes []*Scene) ([]*Scene, []RowError, error) {
	if len(scenes) == 0 {
		return nil, nil, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	persisted := make([]*Scene, 0, len(scenes))
	var rowErrs []RowError
	now := time.Now().UTC()

	for i, scene := range scenes {
		if scene == nil || scene.ID == "" {
			continue
		}

		sp := fmt.Sprintf("scene_row_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return persisted, rowErrs, fmt.Errorf("failed to create savepoint: %w", err)
		}

		scene.LastSynced = now
		scene.UpdatedAt = now

		if err := upsertSceneTx(ctx, tx, scene); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO "+sp); rbErr != nil {
				return persisted, rowErrs, fmt.Errorf("failed to roll back row %s: %v (row error: %w)", scene.ID, rbErr, err)
			}
			s.logger.Printf("WARNING: failed to persist scene %s: %v", scene.ID, err)
			rowErrs = append(rowErrs, RowError{ID: scene.ID, Err: err})
			continue
		}

		if _, err := tx.ExecContext(ctx, "RELEASE "+sp); err != nil {
			return persisted, rowErrs, fmt.Errorf("failed to release savepoint: %w", err)
		}
		persisted = append(persisted, scene)
	}

	if err := tx.Commit(); err != nil {
		return nil, rowErrs, fmt.Errorf("failed to commit scene batch: %w", err)
	}

	return persisted, rowErrs, nil
}

// upsertSceneTx writes one scene row plus its file and relationship rows
// inside an open transaction.
func upsertSceneTx(ctx context.Context, tx *sql.Tx, scene *Scene) error {
	query := `
	INSERT INTO scenes (
		id, title, details, url, date, rating, organized,
		content_checksum, manual_edit, sync_conflict, conflict_data,
		studio_id, remote_created_at, remote_updated_at,
		last_synced, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		details = excluded.details,
		url = excluded.url,
		date = excluded.date,
		rating = excluded.rating,
		organized = excluded.organized,
		content_checksum = excluded.content_checksum,
		manual_edit = excluded.manual_edit,
		sync_conflict = excluded.sync_conflict,
		conflict_data = excluded.conflict_data,
		studio_id = excluded.studio_id,
		remote_created_at = excluded.remote_created_at,
		remote_updated_at = excluded.remote_updated_at,
		last_synced = excluded.last_synced,
		updated_at = excluded.updated_at
	`

	_, err := tx.ExecContext(ctx, query,
		scene.ID,
		scene.Title,
		scene.Details,
		scene.URL,
		dateToNullString(scene.Date),
		intToNull(scene.Rating),
		scene.Organized,
		scene.ContentChecksum,
		scene.ManualEdit,
		scene.SyncConflict,
		stringToNull(scene.ConflictData),
		stringToNull(scene.StudioID),
		timeToNullString(scene.RemoteCreatedAt),
		timeToNullString(scene.RemoteUpdatedAt),
		scene.LastSynced.Format(time.RFC3339),
		scene.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert scene: %w", err)
	}

	// Replace the file rows with the current set.
	if _, err := tx.ExecContext(ctx, `DELETE FROM scene_files WHERE scene_id = ?`, scene.ID); err != nil {
		return fmt.Errorf("failed to clear scene files: %w", err)
	}
	for i, f := range scene.Files {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scene_files (
				scene_id, position, duration, size, width, height,
				frame_rate, bit_rate, video_codec, audio_codec, is_primary
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			scene.ID, i, f.Duration, f.Size, f.Width, f.Height,
			f.FrameRate, f.BitRate, f.VideoCodec, f.AudioCodec, f.Primary,
		)
		if err != nil {
			return fmt.Errorf("failed to insert scene file %d: %w", i, err)
		}
	}

	// Replace the relationship sets with the current ones.
	if err := replaceJoinRows(ctx, tx, "scene_performers", "performer_id", scene.ID, scene.PerformerIDs); err != nil {
		return err
	}
	if err := replaceJoinRows(ctx, tx, "scene_tags", "tag_id", scene.ID, scene.TagIDs); err != nil {
		return err
	}

	return nil
}

// replaceJoinRows swaps a scene's relationship rows for the given id set.
func replaceJoinRows(ctx context.Context, tx *sql.Tx, table, column, sceneID string, ids []string) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE scene_id = ?`, table), sceneID); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (scene_id, %s) VALUES (?, ?)`, table, column)
		if _, err := tx.ExecContext(ctx, query, sceneID, id); err != nil {
			return fmt.Errorf("failed to insert %s row: %w", table, err)
		}
	}
	return nil
}

// GetSceneByID retrieves a single scene with its files and relationships.
// Returns sql.ErrNoRows if the scene is not found.
func (s *Store) GetSceneByID(ctx context.Context, id string) (*Scene, error) {
	query := `
	SELECT id, title, details, url, date, rating, organized,
	       content_checksum, manual_edit, sync_conflict, conflict_data,
	       studio_id, remote_created_at, remote_updated_at,
	       last_synced, updated_at
	FROM scenes
	WHERE id = ?
	`

	scene, err := scanScene(s.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := s.loadSceneRelations(ctx, []*Scene{scene}); err != nil {
		return nil, err
	}
	return scene, nil
}

// GetScenesByIDs retrieves scenes for a batch of ids, keyed by id.
// Missing ids are simply absent from the result map.
func (s *Store) GetScenesByIDs(ctx context.Context, ids []string) (map[string]*Scene, error) {
	result := make(map[string]*Scene, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `
	SELECT id, title, details, url, date, rating, organized,
	       content_checksum, manual_edit, sync_conflict, conflict_data,
	       studio_id, remote_created_at, remote_updated_at,
	       last_synced, updated_at
	FROM scenes
	WHERE id IN (` + placeholders + `)`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenes: %w", err)
	}
	defer rows.Close()

	var scenes []*Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scenes: %w", err)
	}

	if err := s.loadSceneRelations(ctx, scenes); err != nil {
		return nil, err
	}
	for _, scene := range scenes {
		result[scene.ID] = scene
	}
	return result, nil
}

// SceneQuery configures the ListScenes query.
type SceneQuery struct {
	// ConflictOnly keeps scenes flagged with a pending sync conflict.
	ConflictOnly bool
	// ManualEditOnly keeps scenes flagged as manually edited.
	ManualEditOnly bool
	// StudioID filters by studio (empty = all studios).
	StudioID string
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results (for pagination).
	Offset int
}

// ListScenes retrieves scene rows matching the query, ordered by id.
// Files and relationship sets are loaded for each returned scene.
func (s *Store) ListScenes(ctx context.Context, q SceneQuery) ([]*Scene, error) {
	var conditions []string
	var args []interface{}

	if q.ConflictOnly {
		conditions = append(conditions, "sync_conflict = 1")
	}
	if q.ManualEditOnly {
		conditions = append(conditions, "manual_edit = 1")
	}
	if q.StudioID != "" {
		conditions = append(conditions, "studio_id = ?")
		args = append(args, q.StudioID)
	}

	query := `
	SELECT id, title, details, url, date, rating, organized,
	       content_checksum, manual_edit, sync_conflict, conflict_data,
	       studio_id, remote_created_at, remote_updated_at,
	       last_synced, updated_at
	FROM scenes
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	defer rows.Close()

	var scenes []*Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scenes: %w", err)
	}

	if err := s.loadSceneRelations(ctx, scenes); err != nil {
		return nil, err
	}
	return scenes, nil
}

// SceneCount returns the total number of scenes in the store.
func (s *Store) SceneCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM scenes").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scenes: %w", err)
	}
	return count, nil
}

// SetSceneConflict flags a scene with a pending manual conflict and stores
// the serialized change map for later resolution.
func (s *Store) SetSceneConflict(ctx context.Context, id, conflictJSON string) error {
	query := `UPDATE scenes SET sync_conflict = 1, conflict_data = ?, updated_at = ? WHERE id = ?`
	_, err := s.conn.ExecContext(ctx, query, conflictJSON, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to flag conflict on scene %s: %w", id, err)
	}
	return nil
}

// ClearSceneConflict removes a scene's pending-conflict flag and data.
// Clearing a scene with no pending conflict is a no-op.
func (s *Store) ClearSceneConflict(ctx context.Context, id string) error {
	query := `UPDATE scenes SET sync_conflict = 0, conflict_data = NULL, updated_at = ? WHERE id = ?`
	_, err := s.conn.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to clear conflict on scene %s: %w", id, err)
	}
	return nil
}

// SetManualEdit marks or unmarks a scene as locally edited. Manually
// edited fields survive MERGE-policy syncs.
func (s *Store) SetManualEdit(ctx context.Context, id string, edited bool) error {
	query := `UPDATE scenes SET manual_edit = ?, updated_at = ? WHERE id = ?`
	_, err := s.conn.ExecContext(ctx, query, edited, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to set manual edit on scene %s: %w", id, err)
	}
	return nil
}

// scanTarget is satisfied by both *sql.Row and *sql.Rows.
type scanTarget interface {
	Scan(dest ...interface{}) error
}

// scanScene reads one scene row. Relations are loaded separately.
func scanScene(row scanTarget) (*Scene, error) {
	var scene Scene
	var date, conflictData, studioID sql.NullString
	var rating sql.NullInt64
	var remoteCreated, remoteUpdated sql.NullString
	var lastSynced, updatedAt string

	err := row.Scan(
		&scene.ID,
		&scene.Title,
		&scene.Details,
		&scene.URL,
		&date,
		&rating,
		&scene.Organized,
		&scene.ContentChecksum,
		&scene.ManualEdit,
		&scene.SyncConflict,
		&conflictData,
		&studioID,
		&remoteCreated,
		&remoteUpdated,
		&lastSynced,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	scene.Date = nullStringToDate(date)
	scene.Rating = nullToInt(rating)
	scene.ConflictData = conflictData.String
	scene.StudioID = studioID.String
	scene.RemoteCreatedAt = nullStringToTime(remoteCreated)
	scene.RemoteUpdatedAt = nullStringToTime(remoteUpdated)
	if t, err := time.Parse(time.RFC3339, lastSynced); err == nil {
		scene.LastSynced = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		scene.UpdatedAt = t
	}

	return &scene, nil
}

// loadSceneRelations fills Files, PerformerIDs, and TagIDs for each scene.
func (s *Store) loadSceneRelations(ctx context.Context, scenes []*Scene) error {
	if len(scenes) == 0 {
		return nil
	}

	byID := make(map[string]*Scene, len(scenes))
	placeholders := make([]string, 0, len(scenes))
	args := make([]interface{}, 0, len(scenes))
	for _, scene := range scenes {
		byID[scene.ID] = scene
		placeholders = append(placeholders, "?")
		args = append(args, scene.ID)
	}
	in := strings.Join(placeholders, ",")

	fileQuery := `
	SELECT scene_id, duration, size, width, height, frame_rate, bit_rate,
	       video_codec, audio_codec, is_primary
	FROM scene_files
	WHERE scene_id IN (` + in + `)
	ORDER BY scene_id, position`

	rows, err := s.conn.QueryContext(ctx, fileQuery, args...)
	if err != nil {
		return fmt.Errorf("failed to query scene files: %w", err)
	}
	for rows.Next() {
		var sceneID string
		var f SceneFile
		if err := rows.Scan(&sceneID, &f.Duration, &f.Size, &f.Width, &f.Height,
			&f.FrameRate, &f.BitRate, &f.VideoCodec, &f.AudioCodec, &f.Primary); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan scene file: %w", err)
		}
		if scene, ok := byID[sceneID]; ok {
			scene.Files = append(scene.Files, f)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating scene files: %w", err)
	}
	rows.Close()

	for _, join := range []struct {
		table  string
		column string
		assign func(*Scene, string)
	}{
		{"scene_performers", "performer_id", func(sc *Scene, id string) { sc.PerformerIDs = append(sc.PerformerIDs, id) }},
		{"scene_tags", "tag_id", func(sc *Scene, id string) { sc.TagIDs = append(sc.TagIDs, id) }},
	} {
		query := fmt.Sprintf(`SELECT scene_id, %s FROM %s WHERE scene_id IN (%s)`, join.column, join.table, in)
		rows, err := s.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", join.table, err)
		}
		for rows.Next() {
			var sceneID, id string
			if err := rows.Scan(&sceneID, &id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan %s row: %w", join.table, err)
			}
			if scene, ok := byID[sceneID]; ok {
				join.assign(scene, id)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("error iterating %s: %w", join.table, err)
		}
		rows.Close()
	}

	// Relationship sets are compared as sorted id lists downstream.
	for _, scene := range scenes {
		sort.Strings(scene.PerformerIDs)
		sort.Strings(scene.TagIDs)
	}
	return nil
}

// DecodeConflictData decodes the stored change map of a pending conflict
// into the supplied destination. Returns false when no conflict is pending.
func (s *Scene) DecodeConflictData(dest interface{}) (bool, error) {
	if !s.SyncConflict || s.ConflictData == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(s.ConflictData), dest); err != nil {
		return false, fmt.Errorf("failed to decode conflict data for scene %s: %w", s.ID, err)
	}
	return true, nil
}
