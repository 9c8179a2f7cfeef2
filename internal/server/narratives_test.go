package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/meridian-news/curator/internal/store"
)

func newHandlerContext(t *testing.T, method, target, body string) (*NarrativesHandler, sqlmock.Sqlmock, echo.Context, *httptest.ResponseRecorder, func()) {
	t.Helper()
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	handler := &NarrativesHandler{Store: &store.Store{DB: db}}

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	return handler, mock, ctx, rec, func() { db.Close() }
}

func TestAssignChildrenHandlerCounts(t *testing.T) {
	handler, mock, ctx, rec, done := newHandlerContext(t, http.MethodPost, "/api/narratives/parent-1/children",
		`{"child_ids":["child-a","child-b"],"curator_id":"cur-9","rationale":"same storyline"}`)
	defer done()
	ctx.SetParamNames("id")
	ctx.SetParamValues("parent-1")

	lockRows := func(parent interface{}, source, status string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"parent_id", "curation_source", "curation_status"}).
			AddRow(parent, source, status)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT parent_id, curation_source, curation_status`).
		WithArgs("parent-1").
		WillReturnRows(lockRows(nil, "manual", "manual_draft"))
	mock.ExpectQuery(`SELECT parent_id, curation_source, curation_status`).
		WithArgs("child-a").
		WillReturnRows(lockRows(nil, "pipeline", "auto_generated"))
	mock.ExpectExec(`UPDATE narratives SET parent_id=\$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM narrative_hierarchy_cache`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO narrative_curation_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT parent_id, curation_source, curation_status`).
		WithArgs("child-b").
		WillReturnRows(lockRows("other-root", "pipeline", "auto_generated"))
	mock.ExpectExec(`UPDATE narratives`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO narrative_hierarchy_cache`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := handler.assignChildren(ctx); err != nil {
		t.Fatalf("assignChildren: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["assigned_count"] != 1 || resp["skipped_count"] != 1 {
		t.Fatalf("unexpected counts: %v", resp)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssignChildrenHandlerRequiresChildIDs(t *testing.T) {
	handler, _, ctx, _, done := newHandlerContext(t, http.MethodPost, "/api/narratives/parent-1/children",
		`{"child_ids":[]}`)
	defer done()
	ctx.SetParamNames("id")
	ctx.SetParamValues("parent-1")

	err := handler.assignChildren(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty child_ids, got %v", err)
	}
}

func TestUpdateStatusHandlerInvalidTransition(t *testing.T) {
	handler, mock, ctx, _, done := newHandlerContext(t, http.MethodPost, "/api/narratives/n-1/status",
		`{"status":"published","actor_id":"rev-3"}`)
	defer done()
	ctx.SetParamNames("id")
	ctx.SetParamValues("n-1")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT curation_status, published_at`).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows([]string{"curation_status", "published_at"}).
			AddRow("auto_generated", nil))
	mock.ExpectRollback()

	err := handler.updateStatus(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409 for invalid transition, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetHandlerNotFound(t *testing.T) {
	handler, mock, ctx, _, done := newHandlerContext(t, http.MethodGet, "/api/narratives/ghost", "")
	defer done()
	ctx.SetParamNames("id")
	ctx.SetParamValues("ghost")

	mock.ExpectQuery(`SELECT`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := handler.get(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
