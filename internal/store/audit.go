package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridian-news/curator/internal/curation"
)

// Audit action types persisted in narrative_curation_log.
const (
	ActionCreatedRoot          = "created_root"
	ActionCreatedManualParent  = "created_manual_parent"
	ActionAssignedToParent     = "assigned_to_parent"
	ActionUnassignedFromParent = "unassigned_from_parent"
	ActionStatusChanged        = "status_changed"
	ActionPriorityChanged      = "priority_changed"
	ActionNoteAdded            = "note_added"
	ActionDeleted              = "deleted"
)

// AuditEntry is one immutable row of the curation ledger. Entries are only
// ever appended; the table carries no foreign key so history survives
// narrative deletion.
type AuditEntry struct {
	ID          int64
	NarrativeID string
	ActionType  string
	OldValues   map[string]interface{}
	NewValues   map[string]interface{}
	Reason      string
	Actor       curation.Actor
	CreatedAt   time.Time
}

// appendAuditTx writes an audit entry inside the caller's transaction so a
// mutation and its ledger entry commit or fail together.
func (s *Store) appendAuditTx(ctx context.Context, tx *sql.Tx, e AuditEntry) error {
	oldB, err := marshalValues(e.OldValues)
	if err != nil {
		return err
	}
	newB, err := marshalValues(e.NewValues)
	if err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.Actor.Type == "" {
		e.Actor.Type = curation.ActorTypeSystem
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO narrative_curation_log (narrative_id, action_type, old_values, new_values, reason, actor_id, actor_type, session_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, e.NarrativeID, e.ActionType, oldB, newB, nullableString(e.Reason),
		nullableString(e.Actor.ID), e.Actor.Type, nullableString(e.Actor.SessionID), e.CreatedAt)
	return err
}

func marshalValues(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(v)
}

// ListAuditEntries returns the ledger for one narrative, newest first.
func (s *Store) ListAuditEntries(ctx context.Context, narrativeID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, narrative_id, action_type, old_values, new_values, COALESCE(reason,''), COALESCE(actor_id,''), actor_type, COALESCE(session_id,''), created_at
FROM narrative_curation_log
WHERE narrative_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, narrativeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e          AuditEntry
			oldB, newB []byte
		)
		if err := rows.Scan(&e.ID, &e.NarrativeID, &e.ActionType, &oldB, &newB, &e.Reason, &e.Actor.ID, &e.Actor.Type, &e.Actor.SessionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(oldB) > 0 {
			if err := json.Unmarshal(oldB, &e.OldValues); err != nil {
				return nil, fmt.Errorf("audit entry %d: decode old_values: %w", e.ID, err)
			}
		}
		if len(newB) > 0 {
			if err := json.Unmarshal(newB, &e.NewValues); err != nil {
				return nil, fmt.Errorf("audit entry %d: decode new_values: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountAuditEntries reports the ledger size for one narrative.
func (s *Store) CountAuditEntries(ctx context.Context, narrativeID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM narrative_curation_log WHERE narrative_id=$1
`, narrativeID).Scan(&n)
	return n, err
}
