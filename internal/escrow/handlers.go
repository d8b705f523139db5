package escrow

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the collaborator-facing escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.Capture)
	r.GET("/escrows/:id", h.GetRecord)
	r.GET("/escrows/:id/distribution", h.GetDistribution)
	r.GET("/escrows/:id/dispute", h.GetDispute)
	r.POST("/escrows/:id/disputes", h.OpenDispute)
	r.POST("/engagements/:id/complete", h.Complete)
	r.POST("/engagements/:id/waive", h.Waive)
	r.GET("/engagements/:id/escrow", h.GetByEngagement)
}

// RegisterAdminRoutes sets up admin-only escrow routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/escrows/:id/release", h.ForceRelease)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
}

// errorResponse maps engine errors to HTTP statuses.
func errorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrDisputeNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, ErrIllegalTransition):
		status = http.StatusConflict
		code = "illegal_transition"
	case errors.Is(err, ErrInvalidState):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrAlreadyResolved):
		status = http.StatusConflict
		code = "already_resolved"
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
		code = "conflict"
	case errors.Is(err, ErrSettlementFailed):
		status = http.StatusBadGateway
		code = "settlement_failed"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// Capture handles POST /v1/escrows (payment-capture event).
func (h *Handler) Capture(c *gin.Context) {
	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	rec, err := h.service.Capture(c.Request.Context(), req)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"escrow": rec})
}

// CompleteRequest is the engagement-completion event body.
type CompleteRequest struct {
	CompletedAt *time.Time `json:"completedAt"` // defaults to now
}

// Complete handles POST /v1/engagements/:id/complete.
func (h *Handler) Complete(c *gin.Context) {
	engagementID := c.Param("id")

	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	completedAt := time.Now()
	if req.CompletedAt != nil {
		completedAt = *req.CompletedAt
	}

	rec, err := h.service.Complete(c.Request.Context(), engagementID, completedAt)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": rec})
}

// WaiveRequest marks an engagement as billed off-platform.
type WaiveRequest struct {
	ClientID       string `json:"clientId" binding:"required"`
	ProfessionalID string `json:"professionalId" binding:"required"`
}

// Waive handles POST /v1/engagements/:id/waive.
func (h *Handler) Waive(c *gin.Context) {
	engagementID := c.Param("id")

	var req WaiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "clientId and professionalId are required",
		})
		return
	}

	rec, err := h.service.MarkNotRequired(c.Request.Context(), engagementID, req.ClientID, req.ProfessionalID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"escrow": rec})
}

// GetRecord handles GET /v1/escrows/:id.
func (h *Handler) GetRecord(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": rec})
}

// GetByEngagement handles GET /v1/engagements/:id/escrow.
func (h *Handler) GetByEngagement(c *gin.Context) {
	rec, err := h.service.GetByEngagement(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": rec})
}

// GetDistribution handles GET /v1/escrows/:id/distribution.
func (h *Handler) GetDistribution(c *gin.Context) {
	dist, err := h.service.GetDistribution(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"distribution": dist})
}

// GetDispute handles GET /v1/escrows/:id/dispute.
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.GetDisputeByRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// OpenDisputeRequest contains the parameters for opening a dispute.
type OpenDisputeRequest struct {
	RaisedBy     string   `json:"raisedBy" binding:"required"`
	EvidenceRefs []string `json:"evidenceRefs"`
}

// OpenDispute handles POST /v1/escrows/:id/disputes.
func (h *Handler) OpenDispute(c *gin.Context) {
	var req OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "raisedBy is required",
		})
		return
	}

	d, err := h.service.OpenDispute(c.Request.Context(), c.Param("id"), req.RaisedBy, req.EvidenceRefs)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// ResolveRequest contains the arbitration decision.
type ResolveRequest struct {
	Resolution    Resolution `json:"resolution" binding:"required"`
	RefundPercent int        `json:"refundPercent"`
	ResolvedBy    string     `json:"resolvedBy" binding:"required"`
}

// ResolveDispute handles POST /v1/disputes/:id/resolve.
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "resolution and resolvedBy are required",
		})
		return
	}

	dist, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), req.Resolution, req.RefundPercent, req.ResolvedBy)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"distribution": dist})
}

// ForceReleaseRequest identifies the approving administrator.
type ForceReleaseRequest struct {
	ApprovedBy string `json:"approvedBy" binding:"required"`
}

// ForceRelease handles POST /v1/escrows/:id/release.
func (h *Handler) ForceRelease(c *gin.Context) {
	var req ForceReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "approvedBy is required",
		})
		return
	}

	rec, err := h.service.ForceRelease(c.Request.Context(), c.Param("id"), req.ApprovedBy)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": rec})
}
