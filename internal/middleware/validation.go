package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/xbcsmith/xzepr/internal/common/errors"
)

type Validator interface {
	Validate() error
}

// BindJSON decodes the request body into dst and runs its Validate method.
// The returned error is a 400 AppError ready for errors.Respond.
func BindJSON[T any, PT interface {
	*T
	Validator
}](c *gin.Context, dst PT) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return errors.BadRequest("invalid request body: " + err.Error())
	}
	if err := dst.Validate(); err != nil {
		return errors.BadRequest("validation failed: " + err.Error())
	}
	return nil
}
