package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/meridian-news/curator/internal/curation"
)

const groupStatusLockQuery = `
SELECT status FROM manual_cluster_groups WHERE id=$1 FOR UPDATE
`

func TestCreateClusterGroupValidation(t *testing.T) {
	st, _, done := newMockStore(t)
	defer done()

	var verr curation.ValidationError

	_, err := st.CreateClusterGroup(context.Background(), ClusterGroupRecord{ClusterIDs: []string{"cl-1"}})
	if !errors.As(err, &verr) || verr.Field != "name" {
		t.Fatalf("expected name validation error, got %v", err)
	}

	_, err = st.CreateClusterGroup(context.Background(), ClusterGroupRecord{Name: "Border tensions"})
	if !errors.As(err, &verr) || verr.Field != "cluster_ids" {
		t.Fatalf("expected cluster_ids validation error, got %v", err)
	}
}

func TestCreateClusterGroupStartsInDraft(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := st.now()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO manual_cluster_groups (id, name, description, cluster_ids, curator_id, rationale, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
RETURNING created_at, updated_at
`)).
		WithArgs(sqlmock.AnyArg(), "Border tensions", sqlmock.AnyArg(), sqlmock.AnyArg(),
			"cur-9", sqlmock.AnyArg(), "draft", now).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	rec, err := st.CreateClusterGroup(context.Background(), ClusterGroupRecord{
		Name:       "Border tensions",
		ClusterIDs: []string{"cl-17", "cl-22"},
		CuratorID:  "cur-9",
		// caller-supplied status is ignored
		Status: curation.GroupStatusApproved,
	})
	if err != nil {
		t.Fatalf("CreateClusterGroup: %v", err)
	}
	if rec.Status != curation.GroupStatusDraft {
		t.Fatalf("expected draft status, got %s", rec.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubmitClusterGroupForReview(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	now := st.now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(groupStatusLockQuery)).
		WithArgs("grp-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("draft"))
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE manual_cluster_groups
SET status=$2,
    review_notes=COALESCE(NULLIF($3,''), review_notes),
    reviewed_by=COALESCE(NULLIF($4,''), reviewed_by),
    updated_at=$5
WHERE id=$1
`)).
		WithArgs("grp-1", "pending_review", "ready for editorial", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.SubmitClusterGroupForReview(context.Background(), "grp-1", "ready for editorial"); err != nil {
		t.Fatalf("SubmitClusterGroupForReview: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApproveClusterGroupRequiresPendingReview(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(groupStatusLockQuery)).
		WithArgs("grp-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("draft"))
	mock.ExpectRollback()

	// draft -> approved skips a stage and is rejected
	err := st.ApproveClusterGroup(context.Background(), "grp-1", "rev-3", "")
	var verr curation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLinkClusterGroupRequiresManualRoot(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("root-1").
		WillReturnRows(lockRow(nil, curation.SourcePipeline, curation.StatusAutoGenerated))
	mock.ExpectRollback()

	err := st.LinkClusterGroupToParent(context.Background(), "grp-1", "root-1")
	var verr curation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for pipeline root, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
