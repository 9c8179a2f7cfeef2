package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/meridian-news/curator/internal/curation"
)

// NarrativeRecord is one row of the narratives table. ParentID is nil for
// roots; manual_cluster_ids is only meaningful for manual narratives.
type NarrativeRecord struct {
	ID                string
	ParentID          *string
	Title             string
	Summary           string
	Source            curation.Source
	Status            curation.Status
	CuratorID         string
	ReviewerID        string
	EditorialPriority int
	ReviewDeadline    *time.Time
	PublishedAt       *time.Time
	PublishedBy       string
	Confidence        *float64
	ManualClusterIDs  []string
	CurationNotes     []curation.Note
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsRoot reports whether the narrative has no parent.
func (n NarrativeRecord) IsRoot() bool { return n.ParentID == nil }

// IsManualRoot reports whether the narrative may receive assigned children.
func (n NarrativeRecord) IsManualRoot() bool {
	return n.ParentID == nil && n.Source == curation.SourceManual
}

const narrativeColumns = `id, parent_id, title, summary, curation_source, curation_status,
       curator_id, reviewer_id, editorial_priority, review_deadline,
       published_at, published_by, confidence, manual_cluster_ids, curation_notes,
       created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNarrative(sc rowScanner) (NarrativeRecord, error) {
	var (
		rec        NarrativeRecord
		parentID   sql.NullString
		curatorID  sql.NullString
		reviewerID sql.NullString
		deadline   sql.NullTime
		published  sql.NullTime
		pubBy      sql.NullString
		confidence sql.NullFloat64
		notesB     []byte
	)
	err := sc.Scan(&rec.ID, &parentID, &rec.Title, &rec.Summary, &rec.Source, &rec.Status,
		&curatorID, &reviewerID, &rec.EditorialPriority, &deadline,
		&published, &pubBy, &confidence, pq.Array(&rec.ManualClusterIDs), &notesB,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return NarrativeRecord{}, err
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
	if confidence.Valid {
		v := confidence.Float64
		rec.Confidence = &v
	}
	if len(notesB) > 0 {
		if err := json.Unmarshal(notesB, &rec.CurationNotes); err != nil {
			return NarrativeRecord{}, fmt.Errorf("narrative %s: decode curation_notes: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// CreateRoot inserts a root narrative. Pipeline roots enter as
// auto_generated, manual parents as manual_draft; inconsistent source/status
// combinations are rejected before any write.
func (s *Store) CreateRoot(ctx context.Context, rec NarrativeRecord, actor curation.Actor) (NarrativeRecord, error) {
	if strings.TrimSpace(rec.Title) == "" {
		return NarrativeRecord{}, curation.ValidationError{Field: "title", Reason: "required"}
	}
	if !rec.Source.Valid() {
		return NarrativeRecord{}, curation.ValidationError{Field: "curation_source", Reason: "unknown source " + string(rec.Source)}
	}
	if !rec.Status.Valid() {
		return NarrativeRecord{}, curation.ValidationError{Field: "curation_status", Reason: "unknown status " + string(rec.Status)}
	}
	if !curation.ValidEntryStatus(rec.Source, rec.Status) {
		return NarrativeRecord{}, curation.ValidationError{
			Field:  "curation_status",
			Reason: "status " + string(rec.Status) + " is not a valid entry state for source " + string(rec.Source),
		}
	}
	if rec.EditorialPriority == 0 {
		rec.EditorialPriority = curation.DefaultPriority
	}
	if !curation.ValidPriority(rec.EditorialPriority) {
		return NarrativeRecord{}, curation.ValidationError{Field: "editorial_priority", Reason: "must be within [1,5]"}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ManualClusterIDs == nil {
		rec.ManualClusterIDs = []string{}
	}
	now := s.now()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var confidence interface{}
		if rec.Confidence != nil {
			confidence = *rec.Confidence
		}
		row := tx.QueryRowContext(ctx, `
INSERT INTO narratives (id, title, summary, curation_source, curation_status, curator_id, editorial_priority, review_deadline, confidence, manual_cluster_ids, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
RETURNING created_at, updated_at
`, rec.ID, rec.Title, nullableString(rec.Summary), rec.Source, rec.Status,
			nullableString(rec.CuratorID), rec.EditorialPriority, nullableTime(rec.ReviewDeadline),
			confidence, pq.Array(rec.ManualClusterIDs), now)
		if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return err
		}
		if err := s.appendAuditTx(ctx, tx, AuditEntry{
			NarrativeID: rec.ID,
			ActionType:  ActionCreatedRoot,
			NewValues: map[string]interface{}{
				"title":           rec.Title,
				"curation_source": rec.Source,
				"curation_status": rec.Status,
			},
			Actor:     actor,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		// New roots get an empty cache row so dashboard reads never miss.
		return s.refreshParentCacheTx(ctx, tx, rec.ID, now)
	})
	if err != nil {
		return NarrativeRecord{}, err
	}
	return rec, nil
}

// Get fetches a narrative by id. The bool reports existence.
func (s *Store) Get(ctx context.Context, id string) (NarrativeRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+narrativeColumns+`
FROM narratives
WHERE id=$1
`, id)
	rec, err := scanNarrative(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NarrativeRecord{}, false, nil
		}
		return NarrativeRecord{}, false, err
	}
	return rec, true, nil
}

// GetChildren returns the children of a parent ordered by creation time.
func (s *Store) GetChildren(ctx context.Context, parentID string) ([]NarrativeRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+narrativeColumns+`
FROM narratives
WHERE parent_id=$1
ORDER BY created_at ASC
`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NarrativeRecord
	for rows.Next() {
		rec, err := scanNarrative(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRoot resolves the root of the subtree containing the given narrative.
// For a root narrative it returns the narrative itself.
func (s *Store) GetRoot(ctx context.Context, id string) (NarrativeRecord, error) {
	rec, ok, err := s.Get(ctx, id)
	if err != nil {
		return NarrativeRecord{}, err
	}
	if !ok {
		return NarrativeRecord{}, curation.ErrNotFound
	}
	if rec.ParentID == nil {
		return rec, nil
	}
	parent, ok, err := s.Get(ctx, *rec.ParentID)
	if err != nil {
		return NarrativeRecord{}, err
	}
	if !ok {
		return NarrativeRecord{}, curation.InvalidParentReference{ParentID: *rec.ParentID}
	}
	return parent, nil
}

// lockNarrative loads the minimal hierarchy fields of a row under FOR UPDATE
// so concurrent writers targeting the same narrative serialize.
func lockNarrative(ctx context.Context, tx *sql.Tx, id string) (parentID sql.NullString, source curation.Source, status curation.Status, err error) {
	row := tx.QueryRowContext(ctx, `
SELECT parent_id, curation_source, curation_status
FROM narratives
WHERE id=$1
FOR UPDATE
`, id)
	err = row.Scan(&parentID, &source, &status)
	return
}

// SetParent assigns a child to a parent. The parent must exist and be a
// root; the child must currently be unparented. Assignment is never an
// overwrite: an existing parent must be cleared first.
func (s *Store) SetParent(ctx context.Context, childID, parentID string, actor curation.Actor) error {
	if childID == parentID {
		return curation.SelfReferenceError{ID: childID}
	}
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		childParent, _, _, err := lockNarrative(ctx, tx, childID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return curation.ErrNotFound
			}
			return err
		}
		if childParent.Valid {
			return curation.AlreadyParented{ChildID: childID, ParentID: childParent.String}
		}
		parentParent, _, _, err := lockNarrative(ctx, tx, parentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return curation.InvalidParentReference{ParentID: parentID}
			}
			return err
		}
		if parentParent.Valid {
			return curation.DepthViolation{ParentID: parentID}
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE narratives SET parent_id=$2, updated_at=$3 WHERE id=$1
`, childID, parentID, now); err != nil {
			return err
		}
		// The child is no longer a root; its own cache row goes away.
		if _, err := tx.ExecContext(ctx, `DELETE FROM narrative_hierarchy_cache WHERE parent_id=$1`, childID); err != nil {
			return err
		}
		if err := s.appendAuditTx(ctx, tx, AuditEntry{
			NarrativeID: childID,
			ActionType:  ActionAssignedToParent,
			OldValues:   map[string]interface{}{"parent_id": nil},
			NewValues:   map[string]interface{}{"parent_id": parentID},
			Actor:       actor,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		recordAssignment(ctx, 1)
		return s.refreshParentCacheTx(ctx, tx, parentID, now)
	})
}

// ClearParent detaches a child from its parent so it can be reassigned.
func (s *Store) ClearParent(ctx context.Context, childID string, actor curation.Actor) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		childParent, _, _, err := lockNarrative(ctx, tx, childID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return curation.ErrNotFound
			}
			return err
		}
		if !childParent.Valid {
			return curation.ValidationError{Field: "parent_id", Reason: "narrative has no parent to clear"}
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE narratives SET parent_id=NULL, updated_at=$2 WHERE id=$1
`, childID, now); err != nil {
			return err
		}
		if err := s.appendAuditTx(ctx, tx, AuditEntry{
			NarrativeID: childID,
			ActionType:  ActionUnassignedFromParent,
			OldValues:   map[string]interface{}{"parent_id": childParent.String},
			NewValues:   map[string]interface{}{"parent_id": nil},
			Actor:       actor,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		if err := s.refreshParentCacheTx(ctx, tx, childParent.String, now); err != nil {
			return err
		}
		// The detached narrative is a root again and gets its own cache row.
		return s.refreshParentCacheTx(ctx, tx, childID, now)
	})
}

// Delete removes a narrative. Deleting a root cascades to its children; the
// cascade is explicit so row deletes, cache upkeep and the audit entry share
// one transaction.
func (s *Store) Delete(ctx context.Context, id string, actor curation.Actor) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		parentID, _, _, err := lockNarrative(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return curation.ErrNotFound
			}
			return err
		}
		deletedChildren := 0
		if !parentID.Valid {
			res, err := tx.ExecContext(ctx, `DELETE FROM narratives WHERE parent_id=$1`, id)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				deletedChildren = int(n)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM narrative_hierarchy_cache WHERE parent_id=$1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM narratives WHERE id=$1`, id); err != nil {
			return err
		}
		if err := s.appendAuditTx(ctx, tx, AuditEntry{
			NarrativeID: id,
			ActionType:  ActionDeleted,
			OldValues:   map[string]interface{}{"deleted_children": deletedChildren},
			Actor:       actor,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		if parentID.Valid {
			return s.refreshParentCacheTx(ctx, tx, parentID.String, now)
		}
		return nil
	})
}

// SetEditorialPriority updates the urgency ranking of a narrative.
func (s *Store) SetEditorialPriority(ctx context.Context, id string, priority int, actor curation.Actor) error {
	if !curation.ValidPriority(priority) {
		return curation.ValidationError{Field: "editorial_priority", Reason: "must be within [1,5]"}
	}
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var old int
		err := tx.QueryRowContext(ctx, `
SELECT editorial_priority FROM narratives WHERE id=$1 FOR UPDATE
`, id).Scan(&old)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return curation.ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE narratives SET editorial_priority=$2, updated_at=$3 WHERE id=$1
`, id, priority, now); err != nil {
			return err
		}
		return s.appendAuditTx(ctx, tx, AuditEntry{
			NarrativeID: id,
			ActionType:  ActionPriorityChanged,
			OldValues:   map[string]interface{}{"editorial_priority": old},
			NewValues:   map[string]interface{}{"editorial_priority": priority},
			Actor:       actor,
			CreatedAt:   now,
		})
	})
}

// AppendCurationNote appends one note to the narrative's ordered note list.
func (s *Store) AppendCurationNote(ctx context.Context, id string, note curation.Note, actor curation.Actor) error {
	now := s.now()
	if note.Timestamp.IsZero() {
		note.Timestamp = now
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := appendNoteTx(ctx, tx, id, note, now); err != nil {
			return err
		}
		return s.appendAuditTx(ctx, tx, AuditEntry{
			NarrativeID: id,
			ActionType:  ActionNoteAdded,
			NewValues:   map[string]interface{}{"action": note.Action, "detail": note.Detail},
			Actor:       actor,
			CreatedAt:   now,
		})
	})
}

func appendNoteTx(ctx context.Context, tx *sql.Tx, id string, note curation.Note, now time.Time) error {
	noteB, err := json.Marshal(note)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
UPDATE narratives
SET curation_notes = curation_notes || $2::jsonb, updated_at = $3
WHERE id=$1
`, id, noteB, now)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return curation.ErrNotFound
	}
	return nil
}
