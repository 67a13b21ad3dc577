package broadcast

import (
	"net/http"

	"fieldops-dispatch/pkg/httpapi"

	"github.com/gin-gonic/gin"
)

type handler struct {
	svc *Service
}

func registerRoutes(r *httpapi.Router, svc *Service) {
	h := &handler{svc: svc}
	r.V1.GET("/technicians/me/jobs/live", r.Authorize("feed", "read"), h.live)
	r.V1.POST("/jobs/:id/reject", r.Authorize("jobs", "accept"), h.reject)
}

func (h *handler) live(c *gin.Context) {
	techID, err := httpapi.Technician(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	jobs, err := h.svc.LiveJobs(c.Request.Context(), techID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

func (h *handler) reject(c *gin.Context) {
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

	if err := h.svc.Reject(c.Request.Context(), id, techID); err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
