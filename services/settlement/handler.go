package settlement

import (
	"net/http"

	"fieldops-dispatch/pkg/db/pagination"
	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/pkg/httpapi"

	"github.com/gin-gonic/gin"
)

type handler struct {
	engine *Engine
}

func registerRoutes(r *httpapi.Router, engine *Engine) {
	h := &handler{engine: engine}

	r.V1.GET("/technicians/me/wallet", r.Authorize("wallet", "read"), h.myWallet)
	r.V1.GET("/technicians/me/wallet/entries", r.Authorize("wallet", "read"), h.myEntries)

	r.V1.POST("/admin/settlements/:id/retry", r.Authorize("settlements", "retry"), h.retry)
	r.V1.GET("/admin/wallets/:id/verify", r.Authorize("wallets", "admin"), h.verify)
	r.V1.POST("/admin/wallets/:id/reconcile", r.Authorize("wallets", "admin"), h.reconcile)
}

func (h *handler) myWallet(c *gin.Context) {
	techID, err := httpapi.Technician(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	w, err := h.engine.Wallet(c.Request.Context(), techID)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *handler) myEntries(c *gin.Context) {
	techID, err := httpapi.Technician(c)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		httpapi.Fail(c, errutil.BadRequest("invalid pagination", err))
		return
	}

	entries, info, err := h.engine.ListEntries(c.Request.Context(), techID, page)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": info})
}

func (h *handler) retry(c *gin.Context) {
	id, err := httpapi.ParamID(c, "id")
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	res, err := h.engine.Settle(c.Request.Context(), id)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) verify(c *gin.Context) {
	id, err := httpapi.ParamID(c, "id")
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	report, err := h.engine.VerifyChain(c.Request.Context(), id)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) reconcile(c *gin.Context) {
	id, err := httpapi.ParamID(c, "id")
	if err != nil {
		httpapi.Fail(c, err)
		return
	}

	r, err := h.engine.Reconcile(c.Request.Context(), id)
	if err != nil {
		httpapi.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
