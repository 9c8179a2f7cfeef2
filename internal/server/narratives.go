package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/meridian-news/curator/internal/curation"
	"github.com/meridian-news/curator/internal/store"
)

// NarrativesHandler exposes narrative CRUD, hierarchy assignment and the
// editorial status workflow.
type NarrativesHandler struct {
	Store *store.Store
	Cache *dashboardCache
}

func (h *NarrativesHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.POST("/manual-parent", h.createManualParent)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/children", h.children)
	g.GET("/:id/root", h.root)
	g.POST("/:id/children", h.assignChildren)
	g.DELETE("/:id/parent", h.clearParent)
	g.POST("/:id/status", h.updateStatus)
	g.POST("/:id/priority", h.setPriority)
	g.POST("/:id/notes", h.addNote)
	g.GET("/:id/audit", h.audit)
}

// create ingests a root narrative. This is the boundary the clustering
// pipeline calls; curators use /manual-parent instead.
func (h *NarrativesHandler) create(c echo.Context) error {
	var req struct {
		Title      string   `json:"title"`
		Summary    string   `json:"summary"`
		Source     string   `json:"curation_source"`
		Status     string   `json:"curation_status"`
		CuratorID  string   `json:"curator_id"`
		Priority   int      `json:"editorial_priority"`
		Confidence *float64 `json:"confidence"`
		ClusterIDs []string `json:"manual_cluster_ids"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Source == "" {
		req.Source = string(curation.SourcePipeline)
	}
	if req.Status == "" {
		req.Status = string(curation.StatusAutoGenerated)
	}
	actorType := curation.ActorTypePipeline
	if curation.Source(req.Source) == curation.SourceManual {
		actorType = curation.ActorTypeUser
	}
	rec, err := h.Store.CreateRoot(c.Request().Context(), store.NarrativeRecord{
		Title:             req.Title,
		Summary:           req.Summary,
		Source:            curation.Source(req.Source),
		Status:            curation.Status(req.Status),
		CuratorID:         req.CuratorID,
		EditorialPriority: req.Priority,
		Confidence:        req.Confidence,
		ManualClusterIDs:  req.ClusterIDs,
	}, actorFromRequest(c, "pipeline", actorType))
	if err != nil {
		return httpError(err)
	}
	h.Cache.invalidate(c.Request().Context())
	return c.JSON(http.StatusCreated, rec)
}

func (h *NarrativesHandler) createManualParent(c echo.Context) error {
	var req struct {
		Title      string   `json:"title"`
		Summary    string   `json:"summary"`
		CuratorID  string   `json:"curator_id"`
		ClusterIDs []string `json:"cluster_ids"`
		Priority   int      `json:"priority"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.Store.CreateManualParent(c.Request().Context(), store.ManualParentParams{
		Title:      req.Title,
		Summary:    req.Summary,
		CuratorID:  req.CuratorID,
		ClusterIDs: req.ClusterIDs,
		Priority:   req.Priority,
	})
	if err != nil {
		return httpError(err)
	}
	h.Cache.invalidate(c.Request().Context())
	return c.JSON(http.StatusCreated, rec)
}

func (h *NarrativesHandler) get(c echo.Context) error {
	rec, ok, err := h.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "narrative not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *NarrativesHandler) delete(c echo.Context) error {
	actor := actorFromRequest(c, "", curation.ActorTypeUser)
	if err := h.Store.Delete(c.Request().Context(), c.Param("id"), actor); err != nil {
		return httpError(err)
	}
	h.Cache.invalidate(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (h *NarrativesHandler) children(c echo.Context) error {
	items, err := h.Store.GetChildren(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *NarrativesHandler) root(c echo.Context) error {
	rec, err := h.Store.GetRoot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *NarrativesHandler) assignChildren(c echo.Context) error {
	var req struct {
		ChildIDs  []string `json:"child_ids"`
		CuratorID string   `json:"curator_id"`
		Rationale string   `json:"rationale"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.ChildIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "child_ids required")
	}
	assigned, err := h.Store.AssignChildren(c.Request().Context(), c.Param("id"), req.ChildIDs, req.CuratorID, req.Rationale)
	if err != nil {
		return httpError(err)
	}
	h.Cache.invalidate(c.Request().Context())
	skipped := len(req.ChildIDs) - assigned
	return c.JSON(http.StatusOK, map[string]int{"assigned_count": assigned, "skipped_count": skipped})
}

func (h *NarrativesHandler) clearParent(c echo.Context) error {
	actor := actorFromRequest(c, "", curation.ActorTypeUser)
	if err := h.Store.ClearParent(c.Request().Context(), c.Param("id"), actor); err != nil {
		return httpError(err)
	}
	h.Cache.invalidate(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (h *NarrativesHandler) updateStatus(c echo.Context) error {
	var req struct {
		Status  string `json:"status"`
		ActorID string `json:"actor_id"`
		Notes   string `json:"notes"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := actorFromRequest(c, req.ActorID, curation.ActorTypeUser)
	if req.ActorID != "" {
		actor.ID = req.ActorID
	}
	err := h.Store.UpdateStatus(c.Request().Context(), c.Param("id"), curation.Status(req.Status), actor, req.Notes)
	if err != nil {
		return httpError(err)
	}
	h.Cache.invalidate(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]string{"status": req.Status})
}

func (h *NarrativesHandler) setPriority(c echo.Context) error {
	var req struct {
		Priority int    `json:"priority"`
		ActorID  string `json:"actor_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := actorFromRequest(c, req.ActorID, curation.ActorTypeUser)
	if err := h.Store.SetEditorialPriority(c.Request().Context(), c.Param("id"), req.Priority, actor); err != nil {
		return httpError(err)
	}
	h.Cache.invalidate(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (h *NarrativesHandler) addNote(c echo.Context) error {
	var req struct {
		Action  string `json:"action"`
		Detail  string `json:"detail"`
		ActorID string `json:"actor_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action required")
	}
	actor := actorFromRequest(c, req.ActorID, curation.ActorTypeUser)
	note := curation.Note{Action: req.Action, Detail: req.Detail, Actor: actor.ID}
	if err := h.Store.AppendCurationNote(c.Request().Context(), c.Param("id"), note, actor); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *NarrativesHandler) audit(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	entries, err := h.Store.ListAuditEntries(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}
