package shipments

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStore keeps in-progress drafts between requests. Get returns
// ErrDraftNotFound for unknown or expired drafts.
type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// CodeIssuer decides which confirmation codes a new draft expects.
type CodeIssuer interface {
	IssueCodes(ctx context.Context, ownerUserID string) (ExpectedCodes, error)
}

// StaticCodeIssuer hands every draft the same configured codes.
type StaticCodeIssuer struct {
	Codes ExpectedCodes
}

func (s StaticCodeIssuer) IssueCodes(ctx context.Context, ownerUserID string) (ExpectedCodes, error) {
	return s.Codes, nil
}

// Audit actions
const (
	ActionDraftStarted        = "draft_started"
	ActionDraftUpdated        = "draft_updated"
	ActionSignatureSubmitted  = "signature_submitted"
	ActionCodeAccepted        = "code_accepted"
	ActionCodeRejected        = "code_rejected"
	ActionLocationUnavailable = "location_unavailable"
	ActionPersistenceFailed   = "persistence_failed"
	ActionShipmentCreated     = "shipment_created"
	ActionDraftAbandoned      = "draft_abandoned"
	ActionStatusChanged       = "status_changed"
)

// AuditEvent is one entry of the workflow audit trail.
type AuditEvent struct {
	DraftID     uuid.UUID
	ShipmentID  *uuid.UUID
	OwnerUserID string
	Action      string
	Step        Step
	Detail      map[string]any
	OccurredAt  time.Time
}

type AuditLog interface {
	Append(ctx context.Context, event AuditEvent) error
}

// Shipment event types published to the message bus
const (
	EventShipmentCreated       = "shipment.created"
	EventShipmentStatusChanged = "shipment.status_changed"
)

// Event announces a change to a persisted shipment.
type Event struct {
	Type        string    `json:"type"`
	ShipmentID  uuid.UUID `json:"shipmentId"`
	OwnerUserID string    `json:"ownerUserId"`
	Status      Status    `json:"status"`
	Destination string    `json:"destination"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// SignatureArchive stores copies of signature images outside the database.
type SignatureArchive interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
}

type nopAudit struct{}

func (nopAudit) Append(context.Context, AuditEvent) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
