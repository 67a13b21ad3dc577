package location

import (
	"net/http"

	"fieldops-dispatch/pkg/geo"
	"fieldops-dispatch/pkg/httpapi"

	"github.com/gin-gonic/gin"
)

type handler struct {
	svc *Service
}

func registerRoutes(r *httpapi.Router, svc *Service) {
	h := &handler{svc: svc}
	r.V1.POST("/technicians/me/location", r.Authorize("location", "write"), h.update)
	r.V1.POST("/technicians/me/availability", r.Authorize("location", "write"), h.availability)
}

type updateRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

func (h *handler) update(c *gin.Context) {
	techID, err := httpapi.Technician(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	var req updateRequest
	if err := httpapi.Bind(c, &req); err != nil {
		httpapi.Fail(c, err)
		return
	}

	res, err := h.svc.HandleUpdate(c.Request.Context(), techID, geo.Point{Lat: *req.Latitude, Lng: *req.Longitude})
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type availabilityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

func (h *handler) availability(c *gin.Context) {
	techID, err := httpapi.Technician(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	var req availabilityRequest
	if err := httpapi.Bind(c, &req); err != nil {
		httpapi.Fail(c, err)
		return
	}

	res, err := h.svc.SetAvailability(c.Request.Context(), techID, *req.Online)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
