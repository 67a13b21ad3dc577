package booking

import (
	"net/http"

	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/pkg/httpapi"
	"fieldops-dispatch/pkg/middleware"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type handler struct {
	svc *Service
}

func registerRoutes(r *httpapi.Router, svc *Service) {
	h := &handler{svc: svc}

	r.V1.POST("/jobs", r.Authorize("jobs", "create"), h.create)
	r.V1.GET("/jobs/:id", r.Authorize("jobs", "read"), h.get)
	r.V1.POST("/jobs/:id/cancel", r.Authorize("jobs", "cancel"), h.cancel)
	r.V1.POST("/jobs/:id/work-images", r.Authorize("jobs", "images"), h.workImages)
	r.V1.POST("/jobs/:id/status", r.Authorize("jobs", "advance"), h.advance)
	r.V1.POST("/payments/verified", r.Authorize("payments", "write"), h.paymentVerified)
}

func (h *handler) create(c *gin.Context) {
	p, err := httpapi.Principal(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	var req CreateJobParams
	if err := httpapi.Bind(c, &req); err != nil {
		httpapi.Fail(c, err)
		return
	}
	// customers always book for themselves
	if p.Role == middleware.RoleCustomer {
		req.CustomerID = p.CustomerID
	}

	res, err := h.svc.CreateJob(c.Request.Context(), req)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *handler) get(c *gin.Context) {
	p, err := httpapi.Principal(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	id, err := httpapi.ParamID(c, "id")
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	job, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	if !canView(p, job) {
		httpapi.Fail(c, errutil.NotFound("job not found", nil))
		return
	}
	c.JSON(http.StatusOK, job)
}

// canView hides other customers' bookings and other technicians' jobs.
func canView(p *middleware.Principal, job *Job) bool {
	switch p.Role {
	case middleware.RoleCustomer:
		return job.CustomerID == p.CustomerID
	case middleware.RoleTechnician:
		return job.TechnicianID == nil || job.AssignedTo(p.TechnicianID)
	default:
		return true
	}
}

func (h *handler) cancel(c *gin.Context) {
	p, err := httpapi.Principal(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	id, err := httpapi.ParamID(c, "id")
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	job, err := h.svc.Cancel(c.Request.Context(), id, p.CustomerID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handler) workImages(c *gin.Context) {
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

	var req WorkImages
	if err := httpapi.Bind(c, &req); err != nil {
		httpapi.Fail(c, err)
		return
	}

	job, err := h.svc.AttachWorkImages(c.Request.Context(), id, techID, req)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type advanceRequest struct {
	Status Status `json:"status" binding:"required"`
}

func (h *handler) advance(c *gin.Context) {
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

	var req advanceRequest
	if err := httpapi.Bind(c, &req); err != nil {
		httpapi.Fail(c, err)
		return
	}

	job, err := h.svc.AdvanceStatus(c.Request.Context(), id, techID, req.Status)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// PaymentVerified is the signal emitted by the payment collaborator.
type PaymentVerified struct {
	JobID      snowflake.ID `json:"job_id" binding:"required"`
	PaidAmount int64        `json:"paid_amount"`
	PaymentRef string       `json:"payment_ref"`
}

func (h *handler) paymentVerified(c *gin.Context) {
	var req PaymentVerified
	if err := httpapi.Bind(c, &req); err != nil {
		httpapi.Fail(c, err)
		return
	}

	job, err := h.svc.ConfirmPayment(c.Request.Context(), req.JobID, req.PaidAmount, req.PaymentRef)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
