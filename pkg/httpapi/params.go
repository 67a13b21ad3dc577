package httpapi

import (
	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/pkg/middleware"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// ParamID parses a snowflake path parameter.
func ParamID(c *gin.Context, name string) (snowflake.ID, error) {
	raw := c.Param(name)
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, errutil.BadRequest("invalid "+name, err,
			errutil.WithDetails(errutil.Detail{Field: name, Message: "must be a numeric id"}))
	}
	return id, nil
}

// Principal returns the authenticated caller or an Unauthorized error.
func Principal(c *gin.Context) (*middleware.Principal, error) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return nil, errutil.Unauthorized("unauthenticated", nil)
	}
	return p, nil
}

// Technician returns the caller's technician id.
func Technician(c *gin.Context) (snowflake.ID, error) {
	p, err := Principal(c)
	if err != nil {
		return 0, err
	}
	if p.TechnicianID == 0 {
		return 0, errutil.Forbidden("technician access only", nil)
	}
	return p.TechnicianID, nil
}

// Bind decodes the JSON body, turning binding failures into BadRequest.
func Bind(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return errutil.BadRequest("invalid request body", err)
	}
	return nil
}

// Fail records err for middleware.Error and stops the chain.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
