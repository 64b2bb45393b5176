package receivers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xbcsmith/xzepr/internal/authz"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/common/pagination"
	"github.com/xbcsmith/xzepr/internal/middleware"
)

type Handler struct {
	service  *Service
	enforcer authz.Enforcer
	contexts authz.ResourceContextBuilder
}

func NewHandler(service *Service, enforcer authz.Enforcer, contexts authz.ResourceContextBuilder) *Handler {
	return &Handler{
		service:  service,
		enforcer: enforcer,
		contexts: contexts,
	}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/receivers", h.create)
	r.GET("/receivers", h.list)
	r.GET("/receivers/:id", h.get)
	r.PUT("/receivers/:id", h.update)
	r.DELETE("/receivers/:id", h.delete)
}

func (h *Handler) create(c *gin.Context) {
	user, err := authz.RequireCollection(c, h.enforcer, opa.ResourceTypeEventReceiver, authz.ActionCreate)
	if err != nil {
		errors.Respond(c, err)
		return
	}

	var req CreateRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		errors.Respond(c, err)
		return
	}

	rec, err := h.service.Create(c.Request.Context(), user.UserID, req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) list(c *gin.Context) {
	if _, err := authz.RequireCollection(c, h.enforcer, opa.ResourceTypeEventReceiver, authz.ActionList); err != nil {
		errors.Respond(c, err)
		return
	}

	page := pagination.FromQuery(c)
	items, err := h.service.List(c.Request.Context(), ListFilter{
		Name:   c.Query("name"),
		Type:   c.Query("type"),
		Limit:  page.PageSize,
		Offset: page.Offset,
	})
	if err != nil {
		errors.Respond(c, err)
		return
	}
	if items == nil {
		items = []*EventReceiver{}
	}
	c.JSON(http.StatusOK, pagination.Page[*EventReceiver]{Items: items, Page: page.Page, PageSize: page.PageSize})
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, h.contexts, authz.ActionRead, id); err != nil {
		errors.Respond(c, err)
		return
	}

	rec, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) update(c *gin.Context) {
	id := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, h.contexts, authz.ActionUpdate, id); err != nil {
		errors.Respond(c, err)
		return
	}

	var req UpdateRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		errors.Respond(c, err)
		return
	}

	rec, err := h.service.Update(c.Request.Context(), id, req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) delete(c *gin.Context) {
	id := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, h.contexts, authz.ActionDelete, id); err != nil {
		errors.Respond(c, err)
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
