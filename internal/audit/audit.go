package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"waste-track/tracking/tracking-backend/internal/shipments"
)

// WorkflowEvent is one row of the workflow audit trail
type WorkflowEvent struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DraftID     uuid.UUID      `gorm:"type:uuid;index" json:"draft_id"`
	ShipmentID  *uuid.UUID     `gorm:"type:uuid;index" json:"shipment_id,omitempty"`
	OwnerUserID string         `gorm:"not null" json:"owner_user_id"`
	Action      string         `gorm:"not null" json:"action"`
	Step        string         `json:"step,omitempty"`
	Detail      datatypes.JSON `json:"detail,omitempty"`
	OccurredAt  time.Time      `gorm:"not null" json:"occurred_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (WorkflowEvent) TableName() string { return "workflow_events" }

// Log writes audit events through gorm
type Log struct {
	db *gorm.DB
}

func NewLog(db *gorm.DB) *Log {
	return &Log{db: db}
}

// Migrate creates or updates the workflow_events table
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&WorkflowEvent{})
}

// Append implements shipments.AuditLog
func (l *Log) Append(ctx context.Context, event shipments.AuditEvent) error {
	row := WorkflowEvent{
		ID:          uuid.New(),
		DraftID:     event.DraftID,
		ShipmentID:  event.ShipmentID,
		OwnerUserID: event.OwnerUserID,
		Action:      event.Action,
		Step:        string(event.Step),
		OccurredAt:  event.OccurredAt,
	}
	if len(event.Detail) > 0 {
		detail, err := json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
		row.Detail = datatypes.JSON(detail)
	}
	return l.db.WithContext(ctx).Create(&row).Error
}
