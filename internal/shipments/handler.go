package shipments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"waste-track/tracking/tracking-backend/internal/auth"
)

// Handler handles HTTP requests for drafts and shipments
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new shipments handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers draft and shipment routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/catalog", h.getCatalog)

	drafts := router.Group("/drafts")
	{
		drafts.POST("", h.startDraft)
		drafts.GET("/:id", h.getDraft)
		drafts.PUT("/:id", h.updateDraft)
		drafts.DELETE("/:id", h.abandonDraft)
		drafts.POST("/:id/code", h.enterCode)
		drafts.POST("/:id/signature", h.submitSignature)
		drafts.POST("/:id/confirm", h.confirm)
	}

	shipments := router.Group("/shipments")
	{
		shipments.GET("", h.listShipments)
		shipments.GET("/:id", h.getShipment)
		shipments.PATCH("/:id/status", h.updateStatus)
		shipments.GET("/:id/integrity", h.verifyIntegrity)
	}
}

type startDraftRequest struct {
	ContactEmail string `json:"contactEmail"`
}

type enterCodeRequest struct {
	Code string `json:"code"`
}

type signatureRequest struct {
	Image string `json:"image"`
}

type statusRequest struct {
	Status Status `json:"status" binding:"required"`
}

type confirmResponse struct {
	Draft    DraftView `json:"draft"`
	Shipment *Record   `json:"shipment,omitempty"`
}

// getCatalog handles GET /api/v1/catalog
func (h *Handler) getCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"wasteTypes":   WasteTypes,
		"destinations": Destinations,
	})
}

// =====================================================
// Draft Endpoints
// =====================================================

// startDraft handles POST /api/v1/drafts
func (h *Handler) startDraft(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}

	var req startDraftRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
			return
		}
	}
	if req.ContactEmail == "" {
		req.ContactEmail = user.Email
	}

	session, err := h.service.StartDraft(c.Request.Context(), user.ID, req.ContactEmail)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, session.View())
}

// getDraft handles GET /api/v1/drafts/:id
func (h *Handler) getDraft(c *gin.Context) {
	user, id, ok := h.userAndID(c)
	if !ok {
		return
	}
	session, err := h.service.GetDraft(c.Request.Context(), user.ID, id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session.View())
}

// updateDraft handles PUT /api/v1/drafts/:id
func (h *Handler) updateDraft(c *gin.Context) {
	user, id, ok := h.userAndID(c)
	if !ok {
		return
	}
	var req DraftUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
		return
	}
	session, err := h.service.UpdateDraft(c.Request.Context(), user.ID, id, req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session.View())
}

// abandonDraft handles DELETE /api/v1/drafts/:id
func (h *Handler) abandonDraft(c *gin.Context) {
	user, id, ok := h.userAndID(c)
	if !ok {
		return
	}
	if err := h.service.AbandonDraft(c.Request.Context(), user.ID, id); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// enterCode handles POST /api/v1/drafts/:id/code
func (h *Handler) enterCode(c *gin.Context) {
	user, id, ok := h.userAndID(c)
	if !ok {
		return
	}
	var req enterCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
		return
	}
	session, err := h.service.EnterCode(c.Request.Context(), user.ID, id, req.Code)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session.View())
}

// submitSignature handles POST /api/v1/drafts/:id/signature
func (h *Handler) submitSignature(c *gin.Context) {
	user, id, ok := h.userAndID(c)
	if !ok {
		return
	}
	var req signatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
		return
	}
	session, err := h.service.SubmitSignature(c.Request.Context(), user.ID, id, req.Image)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session.View())
}

// confirm handles POST /api/v1/drafts/:id/confirm
func (h *Handler) confirm(c *gin.Context) {
	user, id, ok := h.userAndID(c)
	if !ok {
		return
	}
	var req ConfirmRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
			return
		}
	}

	session, rec, err := h.service.Confirm(c.Request.Context(), user.ID, id, req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	status := http.StatusOK
	if rec != nil {
		status = http.StatusCreated
	}
	c.JSON(status, confirmResponse{Draft: session.View(), Shipment: rec})
}

// =====================================================
// Shipment Endpoints
// =====================================================

// listShipments handles GET /api/v1/shipments
func (h *Handler) listShipments(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}
	records, err := h.service.ListShipments(c.Request.Context(), user.ID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	summaries := make([]Summary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, rec.Summary())
	}
	c.JSON(http.StatusOK, summaries)
}

// getShipment handles GET /api/v1/shipments/:id
func (h *Handler) getShipment(c *gin.Context) {
	user, id, ok := h.userAndID(c)
	if !ok {
		return
	}
	rec, err := h.service.GetShipment(c.Request.Context(), user.ID, id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// updateStatus handles PATCH /api/v1/shipments/:id/status
func (h *Handler) updateStatus(c *gin.Context) {
	user, id, ok := h.userAndID(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
		return
	}
	rec, err := h.service.UpdateStatus(c.Request.Context(), user.ID, id, req.Status)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rec.Summary())
}

// verifyIntegrity handles GET /api/v1/shipments/:id/integrity
func (h *Handler) verifyIntegrity(c *gin.Context) {
	user, id, ok := h.userAndID(c)
	if !ok {
		return
	}
	report, err := h.service.VerifyIntegrity(c.Request.Context(), user.ID, id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// =====================================================
// Helper Methods
// =====================================================

func (h *Handler) user(c *gin.Context) (auth.User, bool) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in", "code": "unauthorized"})
		return auth.User{}, false
	}
	return user, true
}

func (h *Handler) userAndID(c *gin.Context) (auth.User, uuid.UUID, bool) {
	user, ok := h.user(c)
	if !ok {
		return auth.User{}, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "code": "bad_request"})
		return auth.User{}, uuid.Nil, false
	}
	return user, id, true
}

// RespondError writes the JSON error response matching err.
func RespondError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		invalidStep *InvalidStepError
		transition  *StatusTransitionError
		empty       *EmptySignatureError
		missing     *MissingFieldError
		invalid     *InvalidFieldError
		mismatch    *CodeMismatchError
		unavailable *LocationUnavailableError
		persistence *PersistenceError
	)

	switch {
	case errors.As(err, &invalidStep):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "invalid_step", "step": invalidStep.Step})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "invalid_transition"})
	case errors.Is(err, ErrStatusChanged):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "status_changed"})
	case errors.As(err, &empty):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "empty_signature"})
	case errors.As(err, &missing):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "missing_field", "field": missing.Field})
	case errors.As(err, &invalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "invalid_field", "field": invalid.Field})
	case errors.As(err, &mismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "code_mismatch", "attempts": mismatch.Attempts})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": "location_unavailable"})
	case errors.As(err, &persistence):
		c.JSON(http.StatusBadGateway, gin.H{"error": "shipment could not be saved, retry confirmation", "code": "persistence_failed"})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDraftNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "forbidden"})
	default:
		logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
	}
}
