package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// HierarchyCacheEntry is the derived per-root aggregate consumed by
// dashboards. It is never the source of truth; every field is recomputable
// from the narratives table.
type HierarchyCacheEntry struct {
	ParentID             string
	ChildCount           int
	ChildIDs             []string
	ChildTitles          []string
	FirstChildCreatedAt  *time.Time
	LatestChildCreatedAt *time.Time
	LatestChildUpdatedAt *time.Time
	ConfidenceDiversity  float64
	CacheUpdatedAt       time.Time
}

// refreshParentCacheTx recomputes the aggregate for one root inside the
// caller's transaction. Scoped to the affected parent, so a structural
// mutation never pays for a full rebuild.
func (s *Store) refreshParentCacheTx(ctx context.Context, tx *sql.Tx, parentID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO narrative_hierarchy_cache (parent_id, child_count, child_ids, child_titles, first_child_created_at, latest_child_created_at, latest_child_updated_at, confidence_diversity, cache_updated_at)
SELECT $1,
       COUNT(c.id),
       COALESCE(ARRAY_AGG(c.id ORDER BY c.created_at ASC) FILTER (WHERE c.id IS NOT NULL), '{}'),
       COALESCE(ARRAY_AGG(c.title ORDER BY c.created_at ASC) FILTER (WHERE c.id IS NOT NULL), '{}'),
       MIN(c.created_at),
       MAX(c.created_at),
       MAX(c.updated_at),
       COALESCE(STDDEV_POP(c.confidence), 0),
       $2
FROM narratives c
WHERE c.parent_id = $1
ON CONFLICT (parent_id) DO UPDATE SET
  child_count             = EXCLUDED.child_count,
  child_ids               = EXCLUDED.child_ids,
  child_titles            = EXCLUDED.child_titles,
  first_child_created_at  = EXCLUDED.first_child_created_at,
  latest_child_created_at = EXCLUDED.latest_child_created_at,
  latest_child_updated_at = EXCLUDED.latest_child_updated_at,
  confidence_diversity    = EXCLUDED.confidence_diversity,
  cache_updated_at        = EXCLUDED.cache_updated_at
`, parentID, now)
	return err
}

// RefreshHierarchyCache rebuilds the whole cache from the narratives table.
// Idempotent; intended for recovery from drift, not the write path.
func (s *Store) RefreshHierarchyCache(ctx context.Context) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM narrative_hierarchy_cache`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO narrative_hierarchy_cache (parent_id, child_count, child_ids, child_titles, first_child_created_at, latest_child_created_at, latest_child_updated_at, confidence_diversity, cache_updated_at)
SELECT r.id,
       COUNT(c.id),
       COALESCE(ARRAY_AGG(c.id ORDER BY c.created_at ASC) FILTER (WHERE c.id IS NOT NULL), '{}'),
       COALESCE(ARRAY_AGG(c.title ORDER BY c.created_at ASC) FILTER (WHERE c.id IS NOT NULL), '{}'),
       MIN(c.created_at),
       MAX(c.created_at),
       MAX(c.updated_at),
       COALESCE(STDDEV_POP(c.confidence), 0),
       $1
FROM narratives r
LEFT JOIN narratives c ON c.parent_id = r.id
WHERE r.parent_id IS NULL
GROUP BY r.id
`, now)
		return err
	})
}

const hierarchyCacheColumns = `parent_id, child_count, child_ids::text[], child_titles,
       first_child_created_at, latest_child_created_at, latest_child_updated_at,
       confidence_diversity, cache_updated_at`

func scanHierarchyEntry(sc rowScanner) (HierarchyCacheEntry, error) {
	var (
		e             HierarchyCacheEntry
		first         sql.NullTime
		latestCreated sql.NullTime
		latestUpdated sql.NullTime
	)
	err := sc.Scan(&e.ParentID, &e.ChildCount, pq.Array(&e.ChildIDs), pq.Array(&e.ChildTitles),
		&first, &latestCreated, &latestUpdated, &e.ConfidenceDiversity, &e.CacheUpdatedAt)
	if err != nil {
		return HierarchyCacheEntry{}, err
	}
	if first.Valid {
		ts := first.Time
		e.FirstChildCreatedAt = &ts
	}
	if latestCreated.Valid {
		ts := latestCreated.Time
		e.LatestChildCreatedAt = &ts
	}
	if latestUpdated.Valid {
		ts := latestUpdated.Time
		e.LatestChildUpdatedAt = &ts
	}
	return e, nil
}

// GetHierarchyEntry fetches the cached aggregate for one root.
func (s *Store) GetHierarchyEntry(ctx context.Context, parentID string) (HierarchyCacheEntry, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+hierarchyCacheColumns+`
FROM narrative_hierarchy_cache
WHERE parent_id=$1
`, parentID)
	e, err := scanHierarchyEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return HierarchyCacheEntry{}, false, nil
		}
		return HierarchyCacheEntry{}, false, err
	}
	return e, true, nil
}

// ListHierarchyEntries returns cached aggregates, most recently active first.
func (s *Store) ListHierarchyEntries(ctx context.Context, limit int) ([]HierarchyCacheEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+hierarchyCacheColumns+`
FROM narrative_hierarchy_cache
ORDER BY latest_child_created_at DESC NULLS LAST
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HierarchyCacheEntry
	for rows.Next() {
		e, err := scanHierarchyEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DetectCacheDrift returns ids whose cache state disagrees with the
// narratives table: roots whose cached child_count is wrong or whose cache
// row is missing, plus cache rows that no longer belong to a live root.
func (s *Store) DetectCacheDrift(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT r.id
FROM narratives r
LEFT JOIN narrative_hierarchy_cache h ON h.parent_id = r.id
LEFT JOIN narratives c ON c.parent_id = r.id
WHERE r.parent_id IS NULL
GROUP BY r.id, h.child_count
HAVING COALESCE(h.child_count, -1) <> COUNT(c.id)
UNION
SELECT h.parent_id
FROM narrative_hierarchy_cache h
LEFT JOIN narratives r ON r.id = h.parent_id AND r.parent_id IS NULL
WHERE r.id IS NULL
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
