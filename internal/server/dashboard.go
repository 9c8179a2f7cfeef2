package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/meridian-news/curator/internal/store"
)

// DashboardHandler serves the read-only views the editorial UI consumes:
// the pending-review queue and hierarchy summaries. Responses are cached in
// redis with a short TTL; mutations invalidate the keys.
type DashboardHandler struct {
	Store *store.Store
	Cache *dashboardCache
}

func (h *DashboardHandler) Register(g *echo.Group) {
	g.GET("/pending-review", h.pendingReview)
	g.GET("/hierarchy", h.hierarchy)
	g.GET("/hierarchy/:id", h.hierarchyEntry)
}

func (h *DashboardHandler) pendingReview(c echo.Context) error {
	ctx := c.Request().Context()
	var cached []store.PendingReviewItem
	if h.Cache.get(ctx, cacheKeyPendingReview, &cached) {
		return c.JSON(http.StatusOK, cached)
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	items, err := h.Store.ListPendingReview(ctx, limit)
	if err != nil {
		return httpError(err)
	}
	if limit == 0 {
		h.Cache.set(ctx, cacheKeyPendingReview, items)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *DashboardHandler) hierarchy(c echo.Context) error {
	ctx := c.Request().Context()
	var cached []store.HierarchyCacheEntry
	if h.Cache.get(ctx, cacheKeyHierarchy, &cached) {
		return c.JSON(http.StatusOK, cached)
	}
	entries, err := h.Store.ListHierarchyEntries(ctx, 0)
	if err != nil {
		return httpError(err)
	}
	h.Cache.set(ctx, cacheKeyHierarchy, entries)
	return c.JSON(http.StatusOK, entries)
}

func (h *DashboardHandler) hierarchyEntry(c echo.Context) error {
	entry, ok, err := h.Store.GetHierarchyEntry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no cache entry for narrative")
	}
	return c.JSON(http.StatusOK, entry)
}
