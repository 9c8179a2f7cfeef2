package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/meridian-news/curator/internal/curation"
)

// ClusterGroupRecord is a curator-defined grouping of opaque external
// cluster identifiers that justifies a manual parent narrative. Groups may
// exist without ever being linked to a parent.
type ClusterGroupRecord struct {
	ID                string
	Name              string
	Description       string
	ClusterIDs        []string
	ParentNarrativeID *string
	CuratorID         string
	Rationale         string
	Status            curation.GroupStatus
	ReviewNotes       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const clusterGroupColumns = `id, name, COALESCE(description,''), cluster_ids, parent_narrative_id,
       COALESCE(curator_id,''), COALESCE(rationale,''), status, COALESCE(review_notes,''),
       created_at, updated_at`

func scanClusterGroup(sc rowScanner) (ClusterGroupRecord, error) {
	var (
		rec    ClusterGroupRecord
		parent sql.NullString
	)
	err := sc.Scan(&rec.ID, &rec.Name, &rec.Description, pq.Array(&rec.ClusterIDs), &parent,
		&rec.CuratorID, &rec.Rationale, &rec.Status, &rec.ReviewNotes,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return ClusterGroupRecord{}, err
	}
	if parent.Valid {
		v := parent.String
		rec.ParentNarrativeID = &v
	}
	return rec, nil
}

// CreateClusterGroup registers a new group in draft status.
func (s *Store) CreateClusterGroup(ctx context.Context, rec ClusterGroupRecord) (ClusterGroupRecord, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return ClusterGroupRecord{}, curation.ValidationError{Field: "name", Reason: "required"}
	}
	if len(rec.ClusterIDs) == 0 {
		return ClusterGroupRecord{}, curation.ValidationError{Field: "cluster_ids", Reason: "at least one cluster id required"}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = curation.GroupStatusDraft
	now := s.now()
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO manual_cluster_groups (id, name, description, cluster_ids, curator_id, rationale, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
RETURNING created_at, updated_at
`, rec.ID, rec.Name, nullableString(rec.Description), pq.Array(rec.ClusterIDs),
		nullableString(rec.CuratorID), nullableString(rec.Rationale), rec.Status, now)
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ClusterGroupRecord{}, err
	}
	return rec, nil
}

// GetClusterGroup fetches a group by id.
func (s *Store) GetClusterGroup(ctx context.Context, id string) (ClusterGroupRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+clusterGroupColumns+`
FROM manual_cluster_groups
WHERE id=$1
`, id)
	rec, err := scanClusterGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ClusterGroupRecord{}, false, nil
		}
		return ClusterGroupRecord{}, false, err
	}
	return rec, true, nil
}

// ListClusterGroups returns groups, optionally filtered by status.
func (s *Store) ListClusterGroups(ctx context.Context, status curation.GroupStatus, limit int) ([]ClusterGroupRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.DB.QueryContext(ctx, `
SELECT `+clusterGroupColumns+`
FROM manual_cluster_groups
ORDER BY created_at DESC
LIMIT $1
`, limit)
	} else {
		if !status.Valid() {
			return nil, curation.ValidationError{Field: "status", Reason: "unknown group status " + string(status)}
		}
		rows, err = s.DB.QueryContext(ctx, `
SELECT `+clusterGroupColumns+`
FROM manual_cluster_groups
WHERE status=$1
ORDER BY created_at DESC
LIMIT $2
`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClusterGroupRecord
	for rows.Next() {
		rec, err := scanClusterGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LinkClusterGroupToParent attaches a group to the manual root it justifies.
func (s *Store) LinkClusterGroupToParent(ctx context.Context, groupID, parentNarrativeID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		parentParent, source, _, err := lockNarrative(ctx, tx, parentNarrativeID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return curation.InvalidParentReference{ParentID: parentNarrativeID}
			}
			return err
		}
		if parentParent.Valid || source != curation.SourceManual {
			return curation.ValidationError{Field: "parent_narrative_id", Reason: "cluster groups can only link to manual roots"}
		}
		res, err := tx.ExecContext(ctx, `
UPDATE manual_cluster_groups SET parent_narrative_id=$2, updated_at=$3 WHERE id=$1
`, groupID, parentNarrativeID, s.now())
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return curation.ErrNotFound
		}
		return nil
	})
}

// SubmitClusterGroupForReview moves a draft group into review.
func (s *Store) SubmitClusterGroupForReview(ctx context.Context, groupID, reviewNotes string) error {
	return s.advanceClusterGroup(ctx, groupID, curation.GroupStatusPendingReview, "", reviewNotes)
}

// ApproveClusterGroup moves a pending group to approved. Group review is
// monotonic and independent of the linked narrative's own status.
func (s *Store) ApproveClusterGroup(ctx context.Context, groupID, reviewerID, reviewNotes string) error {
	return s.advanceClusterGroup(ctx, groupID, curation.GroupStatusApproved, reviewerID, reviewNotes)
}

func (s *Store) advanceClusterGroup(ctx context.Context, groupID string, next curation.GroupStatus, reviewerID, reviewNotes string) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current curation.GroupStatus
		err := tx.QueryRowContext(ctx, `
SELECT status FROM manual_cluster_groups WHERE id=$1 FOR UPDATE
`, groupID).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return curation.ErrNotFound
			}
			return err
		}
		if !curation.CanAdvanceGroup(current, next) {
			return curation.ValidationError{Field: "status", Reason: "group cannot move from " + string(current) + " to " + string(next)}
		}
		_, err = tx.ExecContext(ctx, `
UPDATE manual_cluster_groups
SET status=$2,
    review_notes=COALESCE(NULLIF($3,''), review_notes),
    reviewed_by=COALESCE(NULLIF($4,''), reviewed_by),
    updated_at=$5
WHERE id=$1
`, groupID, next, reviewNotes, reviewerID, now)
		return err
	})
}
