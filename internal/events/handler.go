package events

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xbcsmith/xzepr/internal/auth"
	"github.com/xbcsmith/xzepr/internal/authz"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/common/pagination"
	"github.com/xbcsmith/xzepr/internal/middleware"
)

// Contexts builds policy contexts for single events and for a receiver's
// events.
type Contexts interface {
	authz.ResourceContextBuilder
	ForReceiver(ctx context.Context, receiverID string) (opa.ResourceContext, error)
}

type Handler struct {
	service  *Service
	enforcer authz.Enforcer
	contexts Contexts
}

func NewHandler(service *Service, enforcer authz.Enforcer, contexts Contexts) *Handler {
	return &Handler{
		service:  service,
		enforcer: enforcer,
		contexts: contexts,
	}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/events", h.create)
	r.GET("/events/:id", h.get)
	r.DELETE("/events/:id", h.delete)
	r.GET("/receivers/:id/events", h.listByReceiver)
}

func (h *Handler) create(c *gin.Context) {
	var req CreateRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		errors.Respond(c, err)
		return
	}

	if _, err := authz.RequireResource(c, h.enforcer, authz.BuilderFunc(h.contexts.ForReceiver), authz.ActionCreate, req.EventReceiverID); err != nil {
		errors.Respond(c, err)
		return
	}

	e, err := h.service.Create(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, h.contexts, authz.ActionRead, id); err != nil {
		errors.Respond(c, err)
		return
	}

	e, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
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

func (h *Handler) listByReceiver(c *gin.Context) {
	receiverID := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, authz.BuilderFunc(h.contexts.ForReceiver), authz.ActionList, receiverID); err != nil {
		errors.Respond(c, err)
		return
	}

	page, err := h.service.ListByReceiver(c.Request.Context(), receiverID, c.Query("cursor"), pagination.Limit(c))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
