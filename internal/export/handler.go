package export

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"waste-track/tracking/tracking-backend/internal/auth"
	"waste-track/tracking/tracking-backend/internal/shipments"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Source is the part of the shipment service exports read from
type Source interface {
	GetShipment(ctx context.Context, ownerUserID string, id uuid.UUID) (*shipments.Record, error)
	ListShipments(ctx context.Context, ownerUserID string) ([]shipments.Record, error)
}

// Handler serves receipts and list exports
type Handler struct {
	source   Source
	receipts *ReceiptGenerator
	logger   *zap.Logger
}

func NewHandler(source Source, receipts *ReceiptGenerator, logger *zap.Logger) *Handler {
	return &Handler{source: source, receipts: receipts, logger: logger}
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/shipments/export", h.exportList)
	router.GET("/shipments/:id/receipt.pdf", h.receipt)
}

// exportList handles GET /api/v1/shipments/export?format=xlsx|csv
func (h *Handler) exportList(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in", "code": "unauthorized"})
		return
	}

	format := c.DefaultQuery("format", "xlsx")
	if format != "xlsx" && format != "csv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be xlsx or csv", "code": "bad_request"})
		return
	}

	records, err := h.source.ListShipments(c.Request.Context(), user.ID)
	if err != nil {
		shipments.RespondError(c, h.logger, err)
		return
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	switch format {
	case "csv":
		contentType = "text/csv; charset=utf-8"
		err = WriteCSV(&buf, records)
	default:
		contentType = xlsxContentType
		err = WriteXLSX(&buf, records)
	}
	if err != nil {
		h.logger.Error("Failed to export shipments", zap.String("format", format), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed", "code": "internal"})
		return
	}

	filename := fmt.Sprintf("shipments-%s.%s", time.Now().UTC().Format("20060102"), format)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// receipt handles GET /api/v1/shipments/:id/receipt.pdf
func (h *Handler) receipt(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in", "code": "unauthorized"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "code": "bad_request"})
		return
	}

	rec, err := h.source.GetShipment(c.Request.Context(), user.ID, id)
	if err != nil {
		shipments.RespondError(c, h.logger, err)
		return
	}

	pdf, err := h.receipts.Receipt(rec)
	if err != nil {
		h.logger.Error("Failed to render receipt", zap.String("shipment_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "receipt failed", "code": "internal"})
		return
	}

	c.Header("Content-Disposition", `inline; filename="receipt-`+id.String()+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
