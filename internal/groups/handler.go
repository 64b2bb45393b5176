package groups

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xbcsmith/xzepr/internal/auth"
	"github.com/xbcsmith/xzepr/internal/authz"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/common/pagination"
	"github.com/xbcsmith/xzepr/internal/middleware"
)

type Handler struct {
	service   *Service
	enforcer  authz.Enforcer
	contexts  authz.ResourceContextBuilder
	receivers authz.ResourceContextBuilder
}

// NewHandler wires group routes. receivers builds the context of a receiver
// being attached, which the caller must be able to update.
func NewHandler(service *Service, enforcer authz.Enforcer, contexts, receivers authz.ResourceContextBuilder) *Handler {
	return &Handler{
		service:   service,
		enforcer:  enforcer,
		contexts:  contexts,
		receivers: receivers,
	}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/groups", h.create)
	r.GET("/groups", h.list)
	r.GET("/groups/:id", h.get)
	r.PUT("/groups/:id", h.update)
	r.DELETE("/groups/:id", h.delete)

	r.POST("/groups/:id/receivers", h.addReceiver)
	r.DELETE("/groups/:id/receivers/:receiver_id", h.removeReceiver)

	r.GET("/groups/:id/members", h.members)
	r.POST("/groups/:id/members", h.addMember)
	r.DELETE("/groups/:id/members/:user_id", h.removeMember)
}

func (h *Handler) create(c *gin.Context) {
	user, err := authz.RequireCollection(c, h.enforcer, opa.ResourceTypeEventReceiverGroup, authz.ActionCreate)
	if err != nil {
		errors.Respond(c, err)
		return
	}

	var req CreateRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		errors.Respond(c, err)
		return
	}
	for _, receiverID := range req.EventReceiverIDs {
		if _, err := authz.RequireResource(c, h.enforcer, h.receivers, authz.ActionUpdate, receiverID); err != nil {
			errors.Respond(c, err)
			return
		}
	}

	g, err := h.service.Create(c.Request.Context(), user.UserID, req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *Handler) list(c *gin.Context) {
	if _, err := authz.RequireCollection(c, h.enforcer, opa.ResourceTypeEventReceiverGroup, authz.ActionList); err != nil {
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
		items = []*EventReceiverGroup{}
	}
	c.JSON(http.StatusOK, pagination.Page[*EventReceiverGroup]{Items: items, Page: page.Page, PageSize: page.PageSize})
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, h.contexts, authz.ActionRead, id); err != nil {
		errors.Respond(c, err)
		return
	}

	g, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
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

	g, err := h.service.Update(c.Request.Context(), id, req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
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

func (h *Handler) addReceiver(c *gin.Context) {
	id := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, h.contexts, authz.ActionUpdate, id); err != nil {
		errors.Respond(c, err)
		return
	}

	var req ReceiverRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		errors.Respond(c, err)
		return
	}
	if _, err := authz.RequireResource(c, h.enforcer, h.receivers, authz.ActionUpdate, req.EventReceiverID); err != nil {
		errors.Respond(c, err)
		return
	}

	if err := h.service.AddReceiver(c.Request.Context(), id, req.EventReceiverID); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeReceiver(c *gin.Context) {
	id := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, h.contexts, authz.ActionUpdate, id); err != nil {
		errors.Respond(c, err)
		return
	}

	if err := h.service.RemoveReceiver(c.Request.Context(), id, c.Param("receiver_id")); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) members(c *gin.Context) {
	id := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, h.contexts, authz.ActionRead, id); err != nil {
		errors.Respond(c, err)
		return
	}

	members, err := h.service.Members(c.Request.Context(), id)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	if members == nil {
		members = []Member{}
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *Handler) addMember(c *gin.Context) {
	id := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, h.contexts, authz.ActionUpdate, id); err != nil {
		errors.Respond(c, err)
		return
	}

	var req MemberRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		errors.Respond(c, err)
		return
	}

	if err := h.service.AddMember(c.Request.Context(), id, req.UserID, auth.UserID(c)); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeMember(c *gin.Context) {
	id := c.Param("id")
	if _, err := authz.RequireResource(c, h.enforcer, h.contexts, authz.ActionUpdate, id); err != nil {
		errors.Respond(c, err)
		return
	}

	if err := h.service.RemoveMember(c.Request.Context(), id, c.Param("user_id")); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
