package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/meridian-news/curator/internal/curation"
)

const statusLockQuery = `
SELECT curation_status, published_at FROM narratives WHERE id=$1 FOR UPDATE
`

func TestUpdateStatusInvalidTransition(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(statusLockQuery)).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows([]string{"curation_status", "published_at"}).
			AddRow("auto_generated", nil))
	mock.ExpectRollback()

	err := st.UpdateStatus(context.Background(), "n-1", curation.StatusPublished, curation.SystemActor(), "")
	var terr curation.InvalidTransition
	if !errors.As(err, &terr) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
	if terr.From != curation.StatusAutoGenerated || terr.To != curation.StatusPublished {
		t.Fatalf("wrong transition pair in error: %v", terr)
	}

	// no UPDATE and no audit entry reached the database
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusPublishSetsTimestamp(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := st.now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(statusLockQuery)).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows([]string{"curation_status", "published_at"}).
			AddRow("approved", nil))
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE narratives SET curation_status=$2, published_at=$3, published_by=$4, updated_at=$3 WHERE id=$1
`)).
		WithArgs("n-1", "published", now, "rev-3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO narrative_curation_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := st.UpdateStatus(context.Background(), "n-1", curation.StatusPublished,
		curation.Actor{ID: "rev-3", Type: curation.ActorTypeUser}, "final sign-off")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusUnpublishClearsTimestamp(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := st.now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(statusLockQuery)).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows([]string{"curation_status", "published_at"}).
			AddRow("published", now))
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE narratives SET curation_status=$2, published_at=NULL, published_by=NULL, reviewer_id=COALESCE($4, reviewer_id), updated_at=$3 WHERE id=$1
`)).
		WithArgs("n-1", "reviewed", now, "system").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO narrative_curation_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := st.UpdateStatus(context.Background(), "n-1", curation.StatusReviewed, curation.SystemActor(), "pulled for corrections")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusSelfTransitionStillAudited(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := st.now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(statusLockQuery)).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows([]string{"curation_status", "published_at"}).
			AddRow("pending_review", nil))
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE narratives SET curation_status=$2, reviewer_id=COALESCE($4, reviewer_id), updated_at=$3 WHERE id=$1
`)).
		WithArgs("n-1", "pending_review", now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO narrative_curation_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := st.UpdateStatus(context.Background(), "n-1", curation.StatusPendingReview, curation.SystemActor(), "re-queued")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusApprovalStampsReviewer(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := st.now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(statusLockQuery)).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows([]string{"curation_status", "published_at"}).
			AddRow("reviewed", nil))
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE narratives SET curation_status=$2, reviewer_id=COALESCE($4, reviewer_id), updated_at=$3 WHERE id=$1
`)).
		WithArgs("n-1", "approved", now, "rev-3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO narrative_curation_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := st.UpdateStatus(context.Background(), "n-1", curation.StatusApproved,
		curation.Actor{ID: "rev-3", Type: curation.ActorTypeUser}, "checks out")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusMissing(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(statusLockQuery)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"curation_status", "published_at"}))
	mock.ExpectRollback()

	if err := st.UpdateStatus(context.Background(), "ghost", curation.StatusArchived, curation.SystemActor(), ""); !errors.Is(err, curation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateManualParent(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := st.now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO narratives (id, title, summary, curation_source, curation_status, curator_id, editorial_priority, manual_cluster_ids, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
RETURNING created_at, updated_at
`)).
		WithArgs(sqlmock.AnyArg(), "Greenland Dispute", sqlmock.AnyArg(), "manual", "manual_draft",
			"cur-9", 2, sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("INSERT INTO narrative_curation_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO narrative_hierarchy_cache").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := st.CreateManualParent(context.Background(), ManualParentParams{
		Title:      "Greenland Dispute",
		CuratorID:  "cur-9",
		ClusterIDs: []string{"cl-17", "cl-22"},
		Priority:   2,
	})
	if err != nil {
		t.Fatalf("CreateManualParent: %v", err)
	}
	if rec.Source != curation.SourceManual || rec.Status != curation.StatusManualDraft {
		t.Fatalf("manual parent created with wrong source/status: %s/%s", rec.Source, rec.Status)
	}
	if rec.ID == "" {
		t.Fatal("expected generated id")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssignChildrenSkipsParented(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := st.now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("parent-1").
		WillReturnRows(lockRow(nil, curation.SourceManual, curation.StatusManualDraft))
	// child-a is free, child-b already belongs to another root
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("child-a").
		WillReturnRows(lockRow(nil, curation.SourcePipeline, curation.StatusAutoGenerated))
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE narratives SET parent_id=$2, updated_at=$3 WHERE id=$1
`)).
		WithArgs("child-a", "parent-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM narrative_hierarchy_cache WHERE parent_id=$1")).
		WithArgs("child-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO narrative_curation_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("child-b").
		WillReturnRows(lockRow("other-root", curation.SourcePipeline, curation.StatusAutoGenerated))
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE narratives
SET curation_notes = curation_notes || $2::jsonb, updated_at = $3
WHERE id=$1
`)).
		WithArgs("parent-1", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO narrative_hierarchy_cache").
		WithArgs("parent-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// children lock in sorted order regardless of request order
	assigned, err := st.AssignChildren(context.Background(), "parent-1", []string{"child-b", "child-a"}, "cur-9", "same storyline")
	if err != nil {
		t.Fatalf("AssignChildren: %v", err)
	}
	if assigned != 1 {
		t.Fatalf("expected 1 assigned, got %d", assigned)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssignChildrenRejectsNonManualParent(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("root-1").
		WillReturnRows(lockRow(nil, curation.SourcePipeline, curation.StatusAutoGenerated))
	mock.ExpectRollback()

	_, err := st.AssignChildren(context.Background(), "root-1", []string{"child-a"}, "cur-9", "")
	var verr curation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for pipeline parent, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssignChildrenMissingChildAborts(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := st.now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("parent-1").
		WillReturnRows(lockRow(nil, curation.SourceManual, curation.StatusManualDraft))
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("child-a").
		WillReturnRows(lockRow(nil, curation.SourcePipeline, curation.StatusAutoGenerated))
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE narratives SET parent_id=$2, updated_at=$3 WHERE id=$1
`)).
		WithArgs("child-a", "parent-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM narrative_hierarchy_cache WHERE parent_id=$1")).
		WithArgs("child-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO narrative_curation_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"parent_id", "curation_source", "curation_status"}))
	mock.ExpectRollback()

	// a missing child rolls back the whole batch, including child-a
	assigned, err := st.AssignChildren(context.Background(), "parent-1", []string{"child-a", "ghost"}, "cur-9", "")
	if !errors.Is(err, curation.ErrNotFound) {
		t.Fatalf("expected wrapped ErrNotFound, got %v", err)
	}
	if assigned != 0 {
		t.Fatalf("expected 0 assigned after rollback, got %d", assigned)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
