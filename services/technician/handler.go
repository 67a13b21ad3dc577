package technician

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
	r.V1.GET("/technicians/me/eligibility", r.Authorize("feed", "read"), h.eligibility)
	r.V1.GET("/technicians/me", r.Authorize("feed", "read"), h.me)
}

func (h *handler) eligibility(c *gin.Context) {
	id, err := httpapi.Technician(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	readiness, err := h.svc.Eligibility(c.Request.Context(), id)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, readiness)
}

func (h *handler) me(c *gin.Context) {
	id, err := httpapi.Technician(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
