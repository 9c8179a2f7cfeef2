package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meridian-news/curator/internal/store"
)

// OpsHandler exposes operational endpoints: integrity scans and cache
// rebuilds. Intended for operators and the sweep, not the editorial UI.
type OpsHandler struct {
	Store *store.Store
	Cache *dashboardCache
}

func (h *OpsHandler) Register(g *echo.Group) {
	g.GET("/integrity", h.integrity)
	g.POST("/cache/refresh", h.refreshCache)
	g.GET("/cache/drift", h.drift)
}

func (h *OpsHandler) integrity(c echo.Context) error {
	report, err := h.Store.ValidateIntegrity(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *OpsHandler) refreshCache(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.Store.RefreshHierarchyCache(ctx); err != nil {
		return httpError(err)
	}
	h.Cache.invalidate(ctx)
	return c.JSON(http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (h *OpsHandler) drift(c echo.Context) error {
	ids, err := h.Store.DetectCacheDrift(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"drifted": ids, "count": len(ids)})
}
