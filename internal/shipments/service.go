package shipments

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"waste-track/tracking/tracking-backend/pkg/geospatial"
	"waste-track/tracking/tracking-backend/pkg/integrity"
	"waste-track/tracking/tracking-backend/pkg/workflows"
)

// DefaultLocationTimeout bounds the wait for a position fix at final confirmation.
const DefaultLocationTimeout = 10 * time.Second

var statusMachine = workflows.NewStateMachine(map[Status][]Status{
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  nil,
})

// ServiceOptions wires the collaborators of the shipment service. Audit,
// Events and Archive are optional.
type ServiceOptions struct {
	Digester        integrity.Digester
	KeyMaterial     string
	Codes           CodeIssuer
	Audit           AuditLog
	Events          EventPublisher
	Archive         SignatureArchive
	HashCode        CodeHasher
	LocationTimeout time.Duration
	Now             func() time.Time
}

// DraftUpdate carries the editable draft fields. Nil fields are left alone.
type DraftUpdate struct {
	ContactEmail  *string        `json:"contactEmail"`
	WasteCategory *WasteCategory `json:"wasteCategory"`
	Destination   *string        `json:"destination"`
}

// ConfirmRequest submits a confirmation code. Without Code the entered-code
// buffer is used. Permission and Position are what the device reported and
// are only read when the transporter confirms.
type ConfirmRequest struct {
	Code       *string                 `json:"code"`
	Permission geospatial.Permission   `json:"permission"`
	Position   *geospatial.Coordinates `json:"position"`
}

// Service runs shipment drafts and serves persisted shipments
type Service struct {
	repo     Repository
	sessions SessionStore
	opts     ServiceOptions
	locks    *draftLocks
	logger   *zap.Logger
}

// NewService creates a new shipment service
func NewService(repo Repository, sessions SessionStore, opts ServiceOptions, logger *zap.Logger) *Service {
	if opts.Codes == nil {
		opts.Codes = StaticCodeIssuer{}
	}
	if opts.Audit == nil {
		opts.Audit = nopAudit{}
	}
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if opts.LocationTimeout == 0 {
		opts.LocationTimeout = DefaultLocationTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		opts:     opts,
		locks:    newDraftLocks(),
		logger:   logger,
	}
}

// =====================================================
// Draft Operations
// =====================================================

// StartDraft opens a new draft for the owner at the producer signature step.
func (s *Service) StartDraft(ctx context.Context, ownerUserID, contactEmail string) (*Session, error) {
	codes, err := s.opts.Codes.IssueCodes(ctx, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue confirmation codes: %w", err)
	}

	session := NewSession(ownerUserID, strings.TrimSpace(contactEmail), codes)
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}

	s.logger.Info("Draft started",
		zap.String("draft_id", session.ID.String()),
		zap.String("owner_user_id", ownerUserID))
	s.audit(ctx, AuditEvent{
		DraftID:     session.ID,
		OwnerUserID: ownerUserID,
		Action:      ActionDraftStarted,
		Step:        session.Step,
	})

	return session, nil
}

func (s *Service) GetDraft(ctx context.Context, ownerUserID string, id uuid.UUID) (*Session, error) {
	return s.loadOwned(ctx, ownerUserID, id)
}

// UpdateDraft edits the contact email, waste category or destination.
func (s *Service) UpdateDraft(ctx context.Context, ownerUserID string, id uuid.UUID, req DraftUpdate) (*Session, error) {
	wf, err := s.withDraft(ctx, ownerUserID, id, nil, func(wf *Workflow) error {
		if req.ContactEmail != nil {
			if err := wf.SetContactEmail(*req.ContactEmail); err != nil {
				return err
			}
		}
		if req.WasteCategory != nil {
			if err := wf.SelectWasteCategory(*req.WasteCategory); err != nil {
				return err
			}
		}
		if req.Destination != nil {
			if err := wf.SelectDestination(*req.Destination); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, AuditEvent{
		DraftID:     id,
		OwnerUserID: ownerUserID,
		Action:      ActionDraftUpdated,
		Step:        wf.CurrentStep(),
	})
	return wf.Session(), nil
}

// EnterCode replaces the draft's entered-code buffer.
func (s *Service) EnterCode(ctx context.Context, ownerUserID string, id uuid.UUID, code string) (*Session, error) {
	wf, err := s.withDraft(ctx, ownerUserID, id, nil, func(wf *Workflow) error {
		return wf.EnterCode(code)
	})
	if err != nil {
		return nil, err
	}
	return wf.Session(), nil
}

// SubmitSignature records the signature of the party whose turn it is.
func (s *Service) SubmitSignature(ctx context.Context, ownerUserID string, id uuid.UUID, image string) (*Session, error) {
	var signedAt Step
	wf, err := s.withDraft(ctx, ownerUserID, id, nil, func(wf *Workflow) error {
		signedAt = wf.CurrentStep()
		return wf.SubmitSignature(image)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, AuditEvent{
		DraftID:     id,
		OwnerUserID: ownerUserID,
		Action:      ActionSignatureSubmitted,
		Step:        signedAt,
		Detail:      map[string]any{"bytes": len(image)},
	})
	return wf.Session(), nil
}

// Confirm submits a confirmation code. When the transporter's code matches,
// the shipment is persisted and returned alongside the completed draft.
func (s *Service) Confirm(ctx context.Context, ownerUserID string, id uuid.UUID, req ConfirmRequest) (*Session, *Record, error) {
	locator := geospatial.WithTimeout(
		geospatial.NewReportedProvider(req.Permission, req.Position),
		s.opts.LocationTimeout)

	var confirmedAt Step
	wf, err := s.withDraft(ctx, ownerUserID, id, locator, func(wf *Workflow) error {
		confirmedAt = wf.CurrentStep()
		if req.Code != nil {
			return wf.SubmitConfirmationCode(ctx, *req.Code)
		}
		return wf.ConfirmEnteredCode(ctx)
	})

	event := AuditEvent{DraftID: id, OwnerUserID: ownerUserID, Step: confirmedAt}
	var (
		mismatch    *CodeMismatchError
		unavailable *LocationUnavailableError
		persistence *PersistenceError
	)
	switch {
	case err == nil:
		event.Action = ActionCodeAccepted
	case errors.As(err, &mismatch):
		event.Action = ActionCodeRejected
		event.Detail = map[string]any{"attempts": mismatch.Attempts}
	case errors.As(err, &unavailable):
		event.Action = ActionLocationUnavailable
		event.Detail = map[string]any{"error": unavailable.Err.Error()}
	case errors.As(err, &persistence):
		event.Action = ActionPersistenceFailed
		event.Detail = map[string]any{"error": persistence.Err.Error()}
		s.logger.Error("Failed to persist shipment",
			zap.String("draft_id", id.String()),
			zap.Error(persistence.Err))
	}
	if event.Action != "" {
		s.audit(ctx, event)
	}
	if err != nil {
		return nil, nil, err
	}

	rec := wf.Record()
	if rec != nil {
		s.afterCreate(ctx, wf.Session(), rec)
	}
	return wf.Session(), rec, nil
}

// AbandonDraft discards a draft. Nothing is persisted for it.
func (s *Service) AbandonDraft(ctx context.Context, ownerUserID string, id uuid.UUID) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.loadOwned(ctx, ownerUserID, id)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}

	s.logger.Info("Draft abandoned",
		zap.String("draft_id", id.String()),
		zap.String("step", string(session.Step)))
	s.audit(ctx, AuditEvent{
		DraftID:     id,
		OwnerUserID: ownerUserID,
		Action:      ActionDraftAbandoned,
		Step:        session.Step,
	})
	return nil
}

// =====================================================
// Shipment Operations
// =====================================================

// ListShipments returns the owner's shipments, newest first.
func (s *Service) ListShipments(ctx context.Context, ownerUserID string) ([]Record, error) {
	records, err := s.repo.ListByOwner(ctx, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}
	return records, nil
}

func (s *Service) GetShipment(ctx context.Context, ownerUserID string, id uuid.UUID) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerUserID != ownerUserID {
		return nil, ErrForbidden
	}
	return rec, nil
}

// UpdateStatus moves a shipment along its lifecycle. Only the sorting
// center's receipt (InProgress to Completed) is allowed.
func (s *Service) UpdateStatus(ctx context.Context, ownerUserID string, id uuid.UUID, to Status) (*Record, error) {
	if !to.Valid() {
		return nil, &InvalidFieldError{Field: "status", Value: string(to), Reason: "unknown status"}
	}
	rec, err := s.GetShipment(ctx, ownerUserID, id)
	if err != nil {
		return nil, err
	}

	from := rec.Status
	if _, err := statusMachine.Transition(from, to); err != nil {
		return nil, &StatusTransitionError{From: from, To: to}
	}
	if err := s.repo.UpdateStatus(ctx, id, from, to); err != nil {
		return nil, err
	}
	rec.Status = to

	s.logger.Info("Shipment status changed",
		zap.String("shipment_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	s.audit(ctx, AuditEvent{
		ShipmentID:  &id,
		OwnerUserID: ownerUserID,
		Action:      ActionStatusChanged,
		Detail:      map[string]any{"from": from, "to": to},
	})
	s.publish(ctx, EventShipmentStatusChanged, rec)

	return rec, nil
}

// VerifyIntegrity recomputes both signature digests of a stored shipment.
func (s *Service) VerifyIntegrity(ctx context.Context, ownerUserID string, id uuid.UUID) (*IntegrityReport, error) {
	rec, err := s.GetShipment(ctx, ownerUserID, id)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{
		ShipmentID:       rec.ID,
		ProducerValid:    s.opts.Digester.Verify(rec.ProducerSignature, rec.ProducerSignatureHash, s.opts.KeyMaterial),
		TransporterValid: s.opts.Digester.Verify(rec.TransporterSignature, rec.TransporterSignatureHash, s.opts.KeyMaterial),
		KeyVersion:       rec.ProducerSignatureHash.KeyVersion,
		CheckedAt:        s.opts.Now().UTC(),
	}
	if !report.ProducerValid || !report.TransporterValid {
		s.logger.Warn("Signature digest mismatch",
			zap.String("shipment_id", id.String()),
			zap.Bool("producer_valid", report.ProducerValid),
			zap.Bool("transporter_valid", report.TransporterValid))
	}
	return report, nil
}

// =====================================================
// Helpers
// =====================================================

func (s *Service) loadOwned(ctx context.Context, ownerUserID string, id uuid.UUID) (*Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.OwnerUserID != ownerUserID {
		return nil, ErrForbidden
	}
	return session, nil
}

// withDraft loads the draft under its lock, runs op and saves the draft
// whatever op returned, since failed attempts also change it.
func (s *Service) withDraft(ctx context.Context, ownerUserID string, id uuid.UUID, locator geospatial.Provider, op func(*Workflow) error) (*Workflow, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	session, err := s.loadOwned(ctx, ownerUserID, id)
	if err != nil {
		return nil, err
	}

	wf := NewWorkflow(session, WorkflowDeps{
		Locator:     locator,
		Digester:    s.opts.Digester,
		Store:       s.repo,
		KeyMaterial: s.opts.KeyMaterial,
		HashCode:    s.opts.HashCode,
		Now:         s.opts.Now,
		Logger:      s.logger,
	})
	opErr := op(wf)

	if err := s.sessions.Save(ctx, session); err != nil {
		s.logger.Error("Failed to save draft", zap.String("draft_id", id.String()), zap.Error(err))
		// Once the shipment row exists the confirmation has succeeded; reporting
		// a failure here would make the client confirm, and insert, again.
		if opErr == nil && wf.Record() == nil {
			return nil, fmt.Errorf("failed to save draft: %w", err)
		}
	}
	return wf, opErr
}

func (s *Service) afterCreate(ctx context.Context, session *Session, rec *Record) {
	s.logger.Info("Shipment created",
		zap.String("shipment_id", rec.ID.String()),
		zap.String("draft_id", session.ID.String()),
		zap.String("destination", rec.Destination))

	id := rec.ID
	s.audit(ctx, AuditEvent{
		DraftID:     session.ID,
		ShipmentID:  &id,
		OwnerUserID: rec.OwnerUserID,
		Action:      ActionShipmentCreated,
		Step:        StepCompleted,
		Detail: map[string]any{
			"destination": rec.Destination,
			"waste":       string(rec.WasteCategory),
		},
	})
	s.publish(ctx, EventShipmentCreated, rec)
	s.archive(ctx, rec)
}

func (s *Service) audit(ctx context.Context, event AuditEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.opts.Now().UTC()
	}
	if err := s.opts.Audit.Append(ctx, event); err != nil {
		s.logger.Warn("Failed to append audit event",
			zap.String("action", event.Action),
			zap.String("draft_id", event.DraftID.String()),
			zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, eventType string, rec *Record) {
	event := Event{
		Type:        eventType,
		ShipmentID:  rec.ID,
		OwnerUserID: rec.OwnerUserID,
		Status:      rec.Status,
		Destination: rec.Destination,
		OccurredAt:  s.opts.Now().UTC(),
	}
	if err := s.opts.Events.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish shipment event",
			zap.String("type", eventType),
			zap.String("shipment_id", rec.ID.String()),
			zap.Error(err))
	}
}

// archive copies both signature images to the archive. Failures are logged;
// the database row stays the source of truth.
func (s *Service) archive(ctx context.Context, rec *Record) {
	if s.opts.Archive == nil {
		return
	}
	images := map[string]string{
		"producer":    rec.ProducerSignature,
		"transporter": rec.TransporterSignature,
	}
	for party, image := range images {
		contentType, body := DecodeDataURL(image)
		key := SignatureArchiveKey(rec.ID, party, contentType)
		if err := s.opts.Archive.Put(ctx, key, contentType, body); err != nil {
			s.logger.Warn("Failed to archive signature",
				zap.String("shipment_id", rec.ID.String()),
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

// SignatureArchiveKey is the archive object key of one party's signature.
func SignatureArchiveKey(shipmentID uuid.UUID, party, contentType string) string {
	ext := "bin"
	switch contentType {
	case "image/png":
		ext = "png"
	case "image/jpeg":
		ext = "jpg"
	case "image/svg+xml":
		ext = "svg"
	}
	return fmt.Sprintf("shipments/%s/%s-signature.%s", shipmentID, party, ext)
}

// DecodeDataURL splits a base64 data URL into its media type and payload.
// Anything else is archived as is.
func DecodeDataURL(image string) (string, []byte) {
	const fallback = "application/octet-stream"
	rest, ok := strings.CutPrefix(image, "data:")
	if !ok {
		return fallback, []byte(image)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return fallback, []byte(image)
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return fallback, []byte(image)
	}
	body, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fallback, []byte(image)
	}
	if mediaType == "" {
		mediaType = fallback
	}
	return mediaType, body
}
