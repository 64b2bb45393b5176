package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Middleware limits requests per caller. identify returns the authenticated
// user id, or "" to fall back to the client address.
func (l *Limiter) Middleware(identify func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ""
		if identify != nil {
			key = identify(c)
		}
		if key == "" {
			key = "ip:" + c.ClientIP()
		} else {
			key = "user:" + key
		}

		class := classify(c)
		if !l.Allow(c.Request.Context(), class, key) {
			c.Header("Retry-After", strconv.Itoa(60))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, please try again later"})
			return
		}
		c.Next()
	}
}

func classify(c *gin.Context) string {
	switch c.Request.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassDefault
	default:
		return ClassWrite
	}
}

// AdminMiddleware applies the admin class regardless of method.
func (l *Limiter) AdminMiddleware(identify func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if identify != nil {
			if id := identify(c); id != "" {
				key = "user:" + id
			}
		}
		if !l.Allow(c.Request.Context(), ClassAdmin, key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, please try again later"})
			return
		}
		c.Next()
	}
}
