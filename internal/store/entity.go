package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entity is one reference-entity row (performer, tag, or studio). The
// three kinds share a shape; the kind picks the table.
type Entity struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
	URL     string   `json:"url,omitempty"`

	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	LastSynced      time.Time  `json:"last_synced"`
}

// RemoteUpdated reports the remote modification time recorded at the last
// sync, nil when none was recorded.
func (e *Entity) RemoteUpdated() *time.Time {
	return e.RemoteUpdatedAt
}

// BulkUpsertEntities persists a batch of reference entities in one
// transaction and returns the number persisted.
//
// An unsupported kind with non-empty input returns ErrUnsupportedEntity
// immediately: that is a programming error, not a data problem. Entities
// with an empty id are skipped; the returned count reflects only rows that
// actually persisted. A row that fails rolls back to its savepoint alone
// and is reported in the RowError slice.
func (s *Store) BulkUpsertEntities(ctx context.Context, kind EntityKind, entities []*Entity) (int, []RowError, error) {
	if len(entities) == 0 {
		return 0, nil, nil
	}
	table := entityTable(kind)
	if table == "" {
		return 0, nil, fmt.Errorf("%w: %q", ErrUnsupportedEntity, kind)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
	INSERT INTO %s (id, name, aliases, url, remote_updated_at, last_synced)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		aliases = excluded.aliases,
		url = excluded.url,
		remote_updated_at = excluded.remote_updated_at,
		last_synced = excluded.last_synced
	`, table)

	count := 0
	var rowErrs []RowError
	now := time.Now().UTC()

	for i, entity := range entities {
		if entity == nil || entity.ID == "" {
			continue
		}

		aliasJSON, err := json.Marshal(entity.Aliases)
		if err != nil {
			return count, rowErrs, fmt.Errorf("failed to marshal aliases: %w", err)
		}

		sp := fmt.Sprintf("entity_row_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return count, rowErrs, fmt.Errorf("failed to create savepoint: %w", err)
		}

		entity.LastSynced = now
		_, err = tx.ExecContext(ctx, query,
			entity.ID,
			entity.Name,
			string(aliasJSON),
			entity.URL,
			timeToNullString(entity.RemoteUpdatedAt),
			entity.LastSynced.Format(time.RFC3339),
		)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO "+sp); rbErr != nil {
				return count, rowErrs, fmt.Errorf("failed to roll back row %s: %v (row error: %w)", entity.ID, rbErr, err)
			}
			s.logger.Printf("WARNING: failed to persist %s %s: %v", kind, entity.ID, err)
			rowErrs = append(rowErrs, RowError{ID: entity.ID, Err: err})
			continue
		}

		if _, err := tx.ExecContext(ctx, "RELEASE "+sp); err != nil {
			return count, rowErrs, fmt.Errorf("failed to release savepoint: %w", err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, rowErrs, fmt.Errorf("failed to commit %s batch: %w", kind, err)
	}

	return count, rowErrs, nil
}

// EnsureEntities inserts reference-entity rows that do not exist yet,
// leaving existing rows untouched. Used for entities first observed nested
// inside a scene payload, so scene relationship rows always have a parent.
func (s *Store) EnsureEntities(ctx context.Context, kind EntityKind, entities []*Entity) error {
	if len(entities) == 0 {
		return nil
	}
	table := entityTable(kind)
	if table == "" {
		return fmt.Errorf("%w: %q", ErrUnsupportedEntity, kind)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
	INSERT INTO %s (id, name, aliases, url, remote_updated_at, last_synced)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`, table)

	now := time.Now().UTC().Format(time.RFC3339)
	for _, entity := range entities {
		if entity == nil || entity.ID == "" {
			continue
		}
		aliasJSON, err := json.Marshal(entity.Aliases)
		if err != nil {
			return fmt.Errorf("failed to marshal aliases: %w", err)
		}
		_, err = tx.ExecContext(ctx, query,
			entity.ID,
			entity.Name,
			string(aliasJSON),
			entity.URL,
			timeToNullString(entity.RemoteUpdatedAt),
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to ensure %s %s: %w", kind, entity.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s batch: %w", kind, err)
	}
	return nil
}

// GetEntityByID retrieves a single reference entity.
// Returns sql.ErrNoRows if the entity is not found.
func (s *Store) GetEntityByID(ctx context.Context, kind EntityKind, id string) (*Entity, error) {
	table := entityTable(kind)
	if table == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEntity, kind)
	}

	query := fmt.Sprintf(`
	SELECT id, name, aliases, url, remote_updated_at, last_synced
	FROM %s WHERE id = ?`, table)

	return scanEntity(s.conn.QueryRowContext(ctx, query, id))
}

// GetEntitiesByIDs retrieves reference entities for a batch of ids, keyed
// by id. Missing ids are absent from the result map.
func (s *Store) GetEntitiesByIDs(ctx context.Context, kind EntityKind, ids []string) (map[string]*Entity, error) {
	result := make(map[string]*Entity, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	table := entityTable(kind)
	if table == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEntity, kind)
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
	SELECT id, name, aliases, url, remote_updated_at, last_synced
	FROM %s WHERE id IN (%s)`, table, strings.Join(placeholders, ","))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result[entity.ID] = entity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}
	return result, nil
}

// EntityCount returns the number of rows for a reference-entity kind.
func (s *Store) EntityCount(ctx context.Context, kind EntityKind) (int, error) {
	table := entityTable(kind)
	if table == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedEntity, kind)
	}

	var count int
	err := s.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// GetEntitiesNeedingSync returns reference entities whose last_synced is
// strictly older than the cutoff, oldest first, limited. Ties break by id
// so the order is deterministic.
func (s *Store) GetEntitiesNeedingSync(ctx context.Context, kind EntityKind, cutoff time.Time, limit int) ([]*Entity, error) {
	table := entityTable(kind)
	if table == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEntity, kind)
	}

	query := fmt.Sprintf(`
	SELECT id, name, aliases, url, remote_updated_at, last_synced
	FROM %s
	WHERE last_synced < ?
	ORDER BY last_synced ASC, id ASC`, table)

	args := []interface{}{cutoff.UTC().Format(time.RFC3339)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale %s: %w", table, err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale %s: %w", table, err)
	}
	return entities, nil
}

// scanEntity reads one reference-entity row.
func scanEntity(row scanTarget) (*Entity, error) {
	var entity Entity
	var aliasJSON sql.NullString
	var remoteUpdated sql.NullString
	var lastSynced string

	err := row.Scan(
		&entity.ID,
		&entity.Name,
		&aliasJSON,
		&entity.URL,
		&remoteUpdated,
		&lastSynced,
	)
	if err != nil {
		return nil, err
	}

	if aliasJSON.Valid && aliasJSON.String != "" && aliasJSON.String != "null" {
		if err := json.Unmarshal([]byte(aliasJSON.String), &entity.Aliases); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aliases: %w", err)
		}
	}
	entity.RemoteUpdatedAt = nullStringToTime(remoteUpdated)
	if t, err := time.Parse(time.RFC3339, lastSynced); err == nil {
		entity.LastSynced = t
	}

	return &entity, nil
}
