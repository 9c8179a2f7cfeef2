package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meridian-news/curator/internal/curation"
)

// httpError maps curation error types onto HTTP status codes so the
// editorial UI can surface explicit rejection messages.
func httpError(err error) error {
	switch {
	case errors.Is(err, curation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, curation.ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	var (
		selfRef   curation.SelfReferenceError
		depth     curation.DepthViolation
		badParent curation.InvalidParentReference
		parented  curation.AlreadyParented
		badTrans  curation.InvalidTransition
		badInput  curation.ValidationError
	)
	switch {
	case errors.As(err, &selfRef), errors.As(err, &badInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &depth), errors.As(err, &parented), errors.As(err, &badTrans):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &badParent):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// actorFromRequest builds the audit actor from request headers.
func actorFromRequest(c echo.Context, fallbackID string, typ curation.ActorType) curation.Actor {
	id := c.Request().Header.Get("X-Actor-Id")
	if id == "" {
		id = fallbackID
	}
	return curation.Actor{
		ID:        id,
		Type:      typ,
		SessionID: c.Request().Header.Get("X-Session-Id"),
	}
}
