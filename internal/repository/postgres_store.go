package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/entityapi/internal/db"
	"github.com/rpattn/entityapi/internal/domain"
)

// maxTraversalDepth bounds the recursive lineage queries.
const maxTraversalDepth = 100

// PostgresGraphStore keeps the provenance graph in the entities, activities,
// edges and entity_links tables.
type PostgresGraphStore struct {
	conn *db.Connection
}

// NewPostgresGraphStore creates a store over an open connection.
func NewPostgresGraphStore(conn *db.Connection) *PostgresGraphStore {
	return &PostgresGraphStore{conn: conn}
}

var _ GraphStore = (*PostgresGraphStore)(nil)

const (
	ancestorsQuery = `
WITH RECURSIVE lineage(uuid, depth) AS (
    SELECT ed.parent_uuid, 1
    FROM activities a JOIN edges ed ON ed.activity_uuid = a.uuid
    WHERE a.entity_uuid = $1
  UNION
    SELECT ed.parent_uuid, l.depth + 1
    FROM lineage l
    JOIN activities a ON a.entity_uuid = l.uuid
    JOIN edges ed ON ed.activity_uuid = a.uuid
    WHERE l.depth < $4
)
SELECT e.properties
FROM (SELECT uuid, MIN(depth) AS depth FROM lineage GROUP BY uuid) l
JOIN entities e ON e.uuid = l.uuid
WHERE l.uuid <> $1 AND ($2::text = '' OR lower(e.entity_type) = lower($2::text))
ORDER BY l.depth, e.uuid
LIMIT NULLIF($3::int, 0)`

	descendantsQuery = `
WITH RECURSIVE lineage(uuid, depth) AS (
    SELECT a.entity_uuid, 1
    FROM edges ed JOIN activities a ON a.uuid = ed.activity_uuid
    WHERE ed.parent_uuid = $1
  UNION
    SELECT a.entity_uuid, l.depth + 1
    FROM lineage l
    JOIN edges ed ON ed.parent_uuid = l.uuid
    JOIN activities a ON a.uuid = ed.activity_uuid
    WHERE l.depth < $4
)
SELECT e.properties
FROM (SELECT uuid, MIN(depth) AS depth FROM lineage GROUP BY uuid) l
JOIN entities e ON e.uuid = l.uuid
WHERE l.uuid <> $1 AND ($2::text = '' OR lower(e.entity_type) = lower($2::text))
ORDER BY l.depth, e.uuid
LIMIT NULLIF($3::int, 0)`

	parentsQuery = `
SELECT e.properties
FROM activities a
JOIN edges ed ON ed.activity_uuid = a.uuid
JOIN entities e ON e.uuid = ed.parent_uuid
WHERE a.entity_uuid = $1 AND ($2::text = '' OR lower(e.entity_type) = lower($2::text))
ORDER BY ed.position
LIMIT NULLIF($3::int, 0)`

	childrenQuery = `
SELECT e.properties
FROM edges ed
JOIN activities a ON a.uuid = ed.activity_uuid
JOIN entities e ON e.uuid = a.entity_uuid
WHERE ed.parent_uuid = $1 AND ($2::text = '' OR lower(e.entity_type) = lower($2::text))
ORDER BY e.uuid
LIMIT NULLIF($3::int, 0)`

	// Every branch stops at the first organ sample it reaches.
	originSamplesQuery = `
WITH RECURSIVE walk(root, uuid, is_organ, depth) AS (
    SELECT a.entity_uuid, p.uuid,
           lower(p.entity_type) = 'sample' AND lower(p.properties->>'sample_category') = 'organ',
           1
    FROM activities a
    JOIN edges ed ON ed.activity_uuid = a.uuid
    JOIN entities p ON p.uuid = ed.parent_uuid
    WHERE a.entity_uuid = ANY($1)
  UNION ALL
    SELECT w.root, p.uuid,
           lower(p.entity_type) = 'sample' AND lower(p.properties->>'sample_category') = 'organ',
           w.depth + 1
    FROM walk w
    JOIN activities a ON a.entity_uuid = w.uuid
    JOIN edges ed ON ed.activity_uuid = a.uuid
    JOIN entities p ON p.uuid = ed.parent_uuid
    WHERE NOT w.is_organ AND w.depth < $2
)
SELECT DISTINCT w.root, e.uuid, e.properties
FROM walk w JOIN entities e ON e.uuid = w.uuid
WHERE w.is_organ AND w.uuid <> w.root
ORDER BY w.root, e.uuid`
)

// GetEntity returns the stored entity.
func (s *PostgresGraphStore) GetEntity(ctx context.Context, uuid string) (domain.Record, error) {
	var raw []byte
	err := s.conn.Pool.QueryRow(ctx, `SELECT properties FROM entities WHERE uuid = $1`, uuid).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrEntityNotFound, uuid)
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return decodeProperties(raw)
}

// GetEntities returns the entities that exist.
func (s *PostgresGraphStore) GetEntities(ctx context.Context, uuids []string) ([]domain.Record, error) {
	if len(uuids) == 0 {
		return []domain.Record{}, nil
	}
	return s.queryRecords(ctx, `SELECT properties FROM entities WHERE uuid = ANY($1)`, uuids)
}

// CreateEntity inserts record under its uuid.
func (s *PostgresGraphStore) CreateEntity(ctx context.Context, class string, record domain.Record) (domain.Record, error) {
	id := record.UUID()
	if id == "" {
		return nil, fmt.Errorf("failed to create %s: record has no uuid", class)
	}
	stored := record.DeepClone()
	if stored.EntityType() == "" {
		stored[domain.KeyEntityType] = class
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}
	_, err = s.conn.Pool.Exec(ctx,
		`INSERT INTO entities (uuid, entity_type, properties) VALUES ($1, $2, $3)`,
		id, stored.EntityType(), raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", class, err)
	}
	return decodeProperties(raw)
}

// UpdateEntity merges record into the stored properties. Nil values remove keys.
func (s *PostgresGraphStore) UpdateEntity(ctx context.Context, class string, record domain.Record, uuid string) (domain.Record, error) {
	var updated domain.Record
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `SELECT properties FROM entities WHERE uuid = $1 FOR UPDATE`, uuid).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("failed to update %s: %w: %s", class, domain.ErrEntityNotFound, uuid)
			}
			return fmt.Errorf("failed to load %s for update: %w", uuid, err)
		}
		stored, err := decodeProperties(raw)
		if err != nil {
			return err
		}
		for key, value := range record {
			if key == domain.KeyUUID {
				continue
			}
			if value == nil {
				delete(stored, key)
				continue
			}
			stored[key] = value
		}
		merged, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal properties: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE entities SET properties = $2, updated_at = now() WHERE uuid = $1`,
			uuid, merged); err != nil {
			return fmt.Errorf("failed to update %s: %w", class, err)
		}
		updated, err = decodeProperties(merged)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresGraphStore) GetAncestors(ctx context.Context, uuid string, filter RelationFilter) ([]domain.Record, error) {
	return s.queryRecords(ctx, ancestorsQuery, uuid, filter.EntityType, filter.Limit, maxTraversalDepth)
}

func (s *PostgresGraphStore) GetDescendants(ctx context.Context, uuid string, filter RelationFilter) ([]domain.Record, error) {
	return s.queryRecords(ctx, descendantsQuery, uuid, filter.EntityType, filter.Limit, maxTraversalDepth)
}

func (s *PostgresGraphStore) GetParents(ctx context.Context, uuid string, filter RelationFilter) ([]domain.Record, error) {
	return s.queryRecords(ctx, parentsQuery, uuid, filter.EntityType, filter.Limit)
}

func (s *PostgresGraphStore) GetChildren(ctx context.Context, uuid string, filter RelationFilter) ([]domain.Record, error) {
	return s.queryRecords(ctx, childrenQuery, uuid, filter.EntityType, filter.Limit)
}

// LinkEntityViaActivity stores activity as the generator of entityUUID with
// parentUUIDs as its inputs.
func (s *PostgresGraphStore) LinkEntityViaActivity(ctx context.Context, entityUUID string, parentUUIDs []string, activity domain.Record) error {
	activityUUID := activity.UUID()
	if activityUUID == "" {
		return fmt.Errorf("failed to link %s: activity has no uuid", entityUUID)
	}
	stored := activity.DeepClone()
	if stored.EntityType() == "" {
		stored[domain.KeyEntityType] = domain.ClassActivity
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if err := requireEntities(ctx, tx, append([]string{entityUUID}, parentUUIDs...)); err != nil {
			return fmt.Errorf("failed to link %s: %w", entityUUID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO activities (uuid, entity_uuid, properties) VALUES ($1, $2, $3)`,
			activityUUID, entityUUID, raw); err != nil {
			return fmt.Errorf("failed to create activity for %s: %w", entityUUID, err)
		}
		batch := &pgx.Batch{}
		for i, parent := range parentUUIDs {
			batch.Queue(`INSERT INTO edges (activity_uuid, parent_uuid, position) VALUES ($1, $2, $3)`,
				activityUUID, parent, i)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to link parents of %s: %w", entityUUID, err)
		}
		return nil
	})
}

// UnlinkEntityFromParents drops the generating activity; its edges cascade.
func (s *PostgresGraphStore) UnlinkEntityFromParents(ctx context.Context, entityUUID string) error {
	if _, err := s.conn.Pool.Exec(ctx, `DELETE FROM activities WHERE entity_uuid = $1`, entityUUID); err != nil {
		return fmt.Errorf("failed to unlink %s: %w", entityUUID, err)
	}
	return nil
}

// GetEntityActivity returns the activity that generated entityUUID.
func (s *PostgresGraphStore) GetEntityActivity(ctx context.Context, entityUUID string) (domain.Record, error) {
	var raw []byte
	err := s.conn.Pool.QueryRow(ctx, `SELECT properties FROM activities WHERE entity_uuid = $1`, entityUUID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no activity generated %s: %w", entityUUID, domain.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("failed to get activity of %s: %w", entityUUID, err)
	}
	return decodeProperties(raw)
}

// LinkEntityToEntities replaces the outgoing relation links of entityUUID.
func (s *PostgresGraphStore) LinkEntityToEntities(ctx context.Context, entityUUID, relation string, targetUUIDs []string) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if err := requireEntities(ctx, tx, append([]string{entityUUID}, targetUUIDs...)); err != nil {
			return fmt.Errorf("failed to link %s: %w", entityUUID, err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM entity_links WHERE source_uuid = $1 AND relation = $2`,
			entityUUID, relation); err != nil {
			return fmt.Errorf("failed to clear %s links of %s: %w", relation, entityUUID, err)
		}
		batch := &pgx.Batch{}
		for i, target := range targetUUIDs {
			batch.Queue(`INSERT INTO entity_links (source_uuid, relation, target_uuid, position) VALUES ($1, $2, $3, $4)`,
				entityUUID, relation, target, i)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to link %s: %w", entityUUID, err)
		}
		return nil
	})
}

// GetLinkedEntities returns the targets of entityUUID's relation links.
func (s *PostgresGraphStore) GetLinkedEntities(ctx context.Context, entityUUID, relation string) ([]domain.Record, error) {
	return s.queryRecords(ctx, `
SELECT e.properties
FROM entity_links l JOIN entities e ON e.uuid = l.target_uuid
WHERE l.source_uuid = $1 AND l.relation = $2
ORDER BY l.position`, entityUUID, relation)
}

// GetOriginSamples resolves the origin organs of every uuid in one query.
func (s *PostgresGraphStore) GetOriginSamples(ctx context.Context, uuids []string) (map[string][]domain.Record, error) {
	out := make(map[string][]domain.Record, len(uuids))
	if len(uuids) == 0 {
		return out, nil
	}
	rows, err := s.conn.Pool.Query(ctx, originSamplesQuery, uuids, maxTraversalDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to query origin samples: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var root, organUUID string
		var raw []byte
		if err := rows.Scan(&root, &organUUID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan origin sample: %w", err)
		}
		rec, err := decodeProperties(raw)
		if err != nil {
			return nil, err
		}
		out[root] = append(out[root], rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read origin samples: %w", err)
	}
	return out, nil
}

func (s *PostgresGraphStore) queryRecords(ctx context.Context, query string, args ...any) ([]domain.Record, error) {
	rows, err := s.conn.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to read entities: %w", err)
	}
	out := make([]domain.Record, 0, len(raws))
	for _, raw := range raws {
		rec, err := decodeProperties(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// requireEntities fails with ErrEntityNotFound naming the first missing uuid.
func requireEntities(ctx context.Context, tx pgx.Tx, uuids []string) error {
	rows, err := tx.Query(ctx, `SELECT uuid FROM entities WHERE uuid = ANY($1)`, uuids)
	if err != nil {
		return fmt.Errorf("failed to check entities: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to check entities: %w", err)
	}
	present := make(map[string]bool, len(found))
	for _, id := range found {
		present[id] = true
	}
	for _, id := range uuids {
		if !present[id] {
			return fmt.Errorf("%w: %s", domain.ErrEntityNotFound, id)
		}
	}
	return nil
}

func decodeProperties(raw []byte) (domain.Record, error) {
	rec, err := domain.DecodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
	}
	return rec, nil
}
