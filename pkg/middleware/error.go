package middleware

import (
	"net/http"

	"fieldops-dispatch/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last handler error. BaseError keeps its status, anything
// else becomes a 500 without leaking the cause.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		if v, ok := errutil.As(last.Err); ok {
			c.JSON(v.Code.HTTPStatus(), gin.H{
				"error": gin.H{
					"code":    v.Code,
					"message": v.Message,
					"details": v.Details,
				},
			})
			return
		}

		zap.L().Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(last.Err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": "internal error",
			},
		})
	}
}
