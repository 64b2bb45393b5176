package users

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xbcsmith/xzepr/internal/auth"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/middleware"
)

// Handler serves user permission management. Routes are registered on an
// admin-only group.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/users/:id/permissions", h.permissions)
	r.POST("/users/:id/roles", h.assignRole)
	r.DELETE("/users/:id/roles/:role", h.removeRole)
	r.POST("/users/:id/groups", h.addToGroup)
	r.DELETE("/users/:id/groups/:group_id", h.removeFromGroup)
}

func (h *Handler) permissions(c *gin.Context) {
	perms, err := h.service.Permissions(c.Request.Context(), c.Param("id"))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, perms)
}

func (h *Handler) assignRole(c *gin.Context) {
	var req RoleRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		errors.Respond(c, err)
		return
	}

	if err := h.service.AssignRole(c.Request.Context(), c.Param("id"), req.Role, auth.UserID(c)); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeRole(c *gin.Context) {
	if err := h.service.RemoveRole(c.Request.Context(), c.Param("id"), c.Param("role")); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) addToGroup(c *gin.Context) {
	var req GroupRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		errors.Respond(c, err)
		return
	}

	if err := h.service.AddToGroup(c.Request.Context(), c.Param("id"), req.GroupID, auth.UserID(c)); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeFromGroup(c *gin.Context) {
	if err := h.service.RemoveFromGroup(c.Request.Context(), c.Param("id"), c.Param("group_id")); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
