package assignment

import (
	"net/http"

	"fieldops-dispatch/pkg/httpapi"

	"github.com/gin-gonic/gin"
)

type handler struct {
	resolver *Resolver
}

func registerRoutes(r *httpapi.Router, resolver *Resolver) {
	h := &handler{resolver: resolver}
	r.V1.POST("/jobs/:id/accept", r.Authorize("jobs", "accept"), h.accept)
}

func (h *handler) accept(c *gin.Context) {
	techID, err := httpapi.Technician(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	id, err := httpapi.ParamID(c, "id")
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	job, err := h.resolver.Accept(c.Request.Context(), id, techID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
