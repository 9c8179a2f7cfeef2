package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/meridian-news/curator/internal/curation"
)

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{curation.ErrNotFound, http.StatusNotFound},
		{curation.ErrConcurrentModification, http.StatusConflict},
		{curation.SelfReferenceError{ID: "n-1"}, http.StatusBadRequest},
		{curation.ValidationError{Field: "title", Reason: "required"}, http.StatusBadRequest},
		{curation.DepthViolation{ParentID: "n-2"}, http.StatusConflict},
		{curation.AlreadyParented{ChildID: "n-1", ParentID: "n-2"}, http.StatusConflict},
		{curation.InvalidTransition{From: curation.StatusArchived, To: curation.StatusPublished}, http.StatusConflict},
		{curation.InvalidParentReference{ParentID: "ghost"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		he, ok := httpError(tc.err).(*echo.HTTPError)
		if !ok {
			t.Fatalf("httpError(%v): not an echo.HTTPError", tc.err)
		}
		if he.Code != tc.code {
			t.Fatalf("httpError(%v): expected %d got %d", tc.err, tc.code, he.Code)
		}
	}
}

func TestHTTPErrorWrapped(t *testing.T) {
	wrapped := fmt.Errorf("child ghost: %w", curation.ErrNotFound)
	he, ok := httpError(wrapped).(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for wrapped ErrNotFound, got %v", wrapped)
	}
}
