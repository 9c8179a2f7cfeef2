package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/meridian-news/curator/internal/curation"
)

// UpdateStatus drives a narrative through the editorial state machine. A
// pair outside the transition table returns InvalidTransition with no
// mutation and no audit entry. Self-transitions succeed and still append an
// audit entry, documenting a no-op review pass.
func (s *Store) UpdateStatus(ctx context.Context, id string, newStatus curation.Status, actor curation.Actor, notes string) error {
	if !newStatus.Valid() {
		return curation.ValidationError{Field: "curation_status", Reason: "unknown status " + string(newStatus)}
	}
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current curation.Status
		var publishedAt sql.NullTime
		err := tx.QueryRowContext(ctx, `
SELECT curation_status, published_at FROM narratives WHERE id=$1 FOR UPDATE
`, id).Scan(&current, &publishedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return curation.ErrNotFound
			}
			return err
		}
		if !curation.CanTransition(current, newStatus) {
			return curation.InvalidTransition{From: current, To: newStatus}
		}

		var actorID interface{}
		if actor.ID != "" {
			actorID = actor.ID
		}
		// Review transitions stamp the acting editor onto the row.
		var reviewer interface{}
		if newStatus == curation.StatusReviewed || newStatus == curation.StatusApproved {
			reviewer = actorID
		}

		// published_at is non-null exactly while the narrative is published.
		switch {
		case newStatus == curation.StatusPublished && current != curation.StatusPublished:
			if _, err := tx.ExecContext(ctx, `
UPDATE narratives SET curation_status=$2, published_at=$3, published_by=$4, updated_at=$3 WHERE id=$1
`, id, newStatus, now, actorID); err != nil {
				return err
			}
		case current == curation.StatusPublished && newStatus != curation.StatusPublished:
			if _, err := tx.ExecContext(ctx, `
UPDATE narratives SET curation_status=$2, published_at=NULL, published_by=NULL, reviewer_id=COALESCE($4, reviewer_id), updated_at=$3 WHERE id=$1
`, id, newStatus, now, reviewer); err != nil {
				return err
			}
		default:
			if _, err := tx.ExecContext(ctx, `
UPDATE narratives SET curation_status=$2, reviewer_id=COALESCE($4, reviewer_id), updated_at=$3 WHERE id=$1
`, id, newStatus, now, reviewer); err != nil {
				return err
			}
		}

		if err := s.appendAuditTx(ctx, tx, AuditEntry{
			NarrativeID: id,
			ActionType:  ActionStatusChanged,
			OldValues:   map[string]interface{}{"status": current},
			NewValues:   map[string]interface{}{"status": newStatus},
			Reason:      notes,
			Actor:       actor,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		recordStatusTransition(ctx, current, newStatus)
		return nil
	})
}

// ManualParentParams describes a curator-created parent narrative.
type ManualParentParams struct {
	Title      string
	Summary    string
	CuratorID  string
	ClusterIDs []string
	Priority   int
}

// CreateManualParent creates a manual root eligible to receive children. The
// cluster group, if any, is tracked separately via the group registry.
func (s *Store) CreateManualParent(ctx context.Context, p ManualParentParams) (NarrativeRecord, error) {
	if strings.TrimSpace(p.Title) == "" {
		return NarrativeRecord{}, curation.ValidationError{Field: "title", Reason: "required"}
	}
	if p.Priority == 0 {
		p.Priority = curation.DefaultPriority
	}
	if !curation.ValidPriority(p.Priority) {
		return NarrativeRecord{}, curation.ValidationError{Field: "editorial_priority", Reason: "must be within [1,5]"}
	}
	if p.ClusterIDs == nil {
		p.ClusterIDs = []string{}
	}
	now := s.now()
	rec := NarrativeRecord{
		ID:                uuid.NewString(),
		Title:             p.Title,
		Summary:           p.Summary,
		Source:            curation.SourceManual,
		Status:            curation.StatusManualDraft,
		CuratorID:         p.CuratorID,
		EditorialPriority: p.Priority,
		ManualClusterIDs:  p.ClusterIDs,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
INSERT INTO narratives (id, title, summary, curation_source, curation_status, curator_id, editorial_priority, manual_cluster_ids, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
RETURNING created_at, updated_at
`, rec.ID, rec.Title, nullableString(rec.Summary), rec.Source, rec.Status,
			nullableString(rec.CuratorID), rec.EditorialPriority, pq.Array(rec.ManualClusterIDs), now)
		if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return err
		}
		if err := s.appendAuditTx(ctx, tx, AuditEntry{
			NarrativeID: rec.ID,
			ActionType:  ActionCreatedManualParent,
			NewValues: map[string]interface{}{
				"title":              rec.Title,
				"manual_cluster_ids": rec.ManualClusterIDs,
				"editorial_priority": rec.EditorialPriority,
			},
			Actor:     curation.Actor{ID: p.CuratorID, Type: curation.ActorTypeUser},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.refreshParentCacheTx(ctx, tx, rec.ID, now)
	})
	if err != nil {
		return NarrativeRecord{}, err
	}
	return rec, nil
}

// AssignChildren attaches orphaned narratives to a manual root. Children
// that already have a parent are skipped, not errored; the return value is
// the number actually assigned. Any other failure rolls the whole batch
// back.
func (s *Store) AssignChildren(ctx context.Context, parentID string, childIDs []string, curatorID, rationale string) (int, error) {
	now := s.now()
	assigned := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		parentParent, source, _, err := lockNarrative(ctx, tx, parentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return curation.ErrNotFound
			}
			return err
		}
		if parentParent.Valid {
			return curation.DepthViolation{ParentID: parentID}
		}
		if source != curation.SourceManual {
			return curation.ValidationError{Field: "parent_id", Reason: "children can only be assigned to manual roots"}
		}
		actor := curation.Actor{ID: curatorID, Type: curation.ActorTypeUser}
		// Lock children in sorted order so overlapping batches cannot
		// deadlock against each other.
		ordered := append([]string(nil), childIDs...)
		sort.Strings(ordered)
		for _, childID := range ordered {
			if childID == parentID {
				return curation.SelfReferenceError{ID: childID}
			}
			childParent, _, _, err := lockNarrative(ctx, tx, childID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("child %s: %w", childID, curation.ErrNotFound)
				}
				return err
			}
			if childParent.Valid {
				// Only orphaned narratives are assignable; skip silently.
				continue
			}
			if _, err := tx.ExecContext(ctx, `
UPDATE narratives SET parent_id=$2, updated_at=$3 WHERE id=$1
`, childID, parentID, now); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM narrative_hierarchy_cache WHERE parent_id=$1`, childID); err != nil {
				return err
			}
			if err := s.appendAuditTx(ctx, tx, AuditEntry{
				NarrativeID: childID,
				ActionType:  ActionAssignedToParent,
				OldValues:   map[string]interface{}{"parent_id": nil},
				NewValues:   map[string]interface{}{"parent_id": parentID},
				Reason:      rationale,
				Actor:       actor,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
			assigned++
		}
		if assigned > 0 {
			note := curation.Note{
				Action:    "children_assigned",
				Detail:    fmt.Sprintf("assigned %d narratives", assigned),
				Actor:     curatorID,
				Timestamp: now,
			}
			if err := appendNoteTx(ctx, tx, parentID, note, now); err != nil {
				return err
			}
			if err := s.refreshParentCacheTx(ctx, tx, parentID, now); err != nil {
				return err
			}
			recordAssignment(ctx, assigned)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}

// PendingReviewItem is one row of the editorial review queue, ranked by an
// urgency score combining overdue deadline, priority and child count.
type PendingReviewItem struct {
	Narrative  NarrativeRecord
	ChildCount int
	Urgency    float64
}

// ListPendingReview returns narratives awaiting editorial attention, most
// urgent first.
func (s *Store) ListPendingReview(ctx context.Context, limit int) ([]PendingReviewItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT n.id, n.parent_id, n.title, n.summary, n.curation_source, n.curation_status,
       n.curator_id, n.reviewer_id, n.editorial_priority, n.review_deadline,
       n.published_at, n.published_by, n.confidence, n.manual_cluster_ids, n.curation_notes,
       n.created_at, n.updated_at,
       COALESCE(h.child_count, 0),
       (CASE WHEN n.review_deadline IS NOT NULL AND n.review_deadline < NOW() THEN 100 ELSE 0 END
        + (6 - n.editorial_priority) * 10
        + COALESCE(h.child_count, 0))::float AS urgency
FROM narratives n
LEFT JOIN narrative_hierarchy_cache h ON h.parent_id = n.id
WHERE n.curation_status IN ('pending_review','reviewed')
ORDER BY urgency DESC, n.created_at ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingReviewItem
	for rows.Next() {
		var (
			item       PendingReviewItem
			parentID   sql.NullString
			curatorID  sql.NullString
			reviewerID sql.NullString
			deadline   sql.NullTime
			published  sql.NullTime
			pubBy      sql.NullString
			confidence sql.NullFloat64
			notesB     []byte
		)
		rec := &item.Narrative
		if err := rows.Scan(&rec.ID, &parentID, &rec.Title, &rec.Summary, &rec.Source, &rec.Status,
			&curatorID, &reviewerID, &rec.EditorialPriority, &deadline,
			&published, &pubBy, &confidence, pq.Array(&rec.ManualClusterIDs), &notesB,
			&rec.CreatedAt, &rec.UpdatedAt, &item.ChildCount, &item.Urgency); err != nil {
			return nil, err
		}
		if parentID.Valid {
			v := parentID.String
			rec.ParentID = &v
		}
		if curatorID.Valid {
			rec.CuratorID = curatorID.String
		}
		if reviewerID.Valid {
			rec.ReviewerID = reviewerID.String
		}
		if deadline.Valid {
			ts := deadline.Time
			rec.ReviewDeadline = &ts
		}
		if published.Valid {
			ts := published.Time
			rec.PublishedAt = &ts
		}
		if pubBy.Valid {
			rec.PublishedBy = pubBy.String
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
