package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meridian-news/curator/internal/curation"
	"github.com/meridian-news/curator/internal/store"
)

// GroupsHandler exposes the manual cluster group registry.
type GroupsHandler struct {
	Store *store.Store
}

func (h *GroupsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/link", h.link)
	g.POST("/:id/submit", h.submit)
	g.POST("/:id/approve", h.approve)
}

func (h *GroupsHandler) create(c echo.Context) error {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		ClusterIDs  []string `json:"cluster_ids"`
		CuratorID   string   `json:"curator_id"`
		Rationale   string   `json:"rationale"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.Store.CreateClusterGroup(c.Request().Context(), store.ClusterGroupRecord{
		Name:        req.Name,
		Description: req.Description,
		ClusterIDs:  req.ClusterIDs,
		CuratorID:   req.CuratorID,
		Rationale:   req.Rationale,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *GroupsHandler) list(c echo.Context) error {
	status := curation.GroupStatus(c.QueryParam("status"))
	items, err := h.Store.ListClusterGroups(c.Request().Context(), status, 0)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *GroupsHandler) get(c echo.Context) error {
	rec, ok, err := h.Store.GetClusterGroup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "cluster group not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *GroupsHandler) link(c echo.Context) error {
	var req struct {
		ParentNarrativeID string `json:"parent_narrative_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ParentNarrativeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "parent_narrative_id required")
	}
	if err := h.Store.LinkClusterGroupToParent(c.Request().Context(), c.Param("id"), req.ParentNarrativeID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *GroupsHandler) submit(c echo.Context) error {
	var req struct {
		ReviewNotes string `json:"review_notes"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.SubmitClusterGroupForReview(c.Request().Context(), c.Param("id"), req.ReviewNotes); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *GroupsHandler) approve(c echo.Context) error {
	var req struct {
		ReviewerID  string `json:"reviewer_id"`
		ReviewNotes string `json:"review_notes"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.ApproveClusterGroup(c.Request().Context(), c.Param("id"), req.ReviewerID, req.ReviewNotes); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
