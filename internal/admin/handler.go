package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xbcsmith/xzepr/internal/auth"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the ops routes. Callers restrict r to administrators.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/authz", h.authzStatus)
	r.POST("/authz/reset", h.resetAuthz)
	r.POST("/authz/invalidate", h.invalidate)
	r.POST("/ratelimit/clear", h.clearRateLimits)
}

func (h *Handler) authzStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.AuthzStatus())
}

func (h *Handler) resetAuthz(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ResetAuthz(c.Request.Context(), auth.UserID(c)))
}

type invalidateRequest opa.ResourceUpdatedEvent

func (r *invalidateRequest) Validate() error {
	return opa.ResourceUpdatedEvent(*r).Validate()
}

func (h *Handler) invalidate(c *gin.Context) {
	var req invalidateRequest
	if err := middleware.BindJSON(c, &req); err != nil {
		errors.Respond(c, err)
		return
	}

	if err := h.service.Invalidate(c.Request.Context(), auth.UserID(c), opa.ResourceUpdatedEvent(req)); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) clearRateLimits(c *gin.Context) {
	cleared, err := h.service.ClearRateLimits(c.Request.Context(), auth.UserID(c), c.Query("key"))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}
