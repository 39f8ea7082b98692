package shipments

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"waste-track/tracking/tracking-backend/pkg/geospatial"
	"waste-track/tracking/tracking-backend/pkg/integrity"
	"waste-track/tracking/tracking-backend/pkg/workflows"
)

// MaxCodeLength is the number of digits in a confirmation code.
const MaxCodeLength = 6

// RecordInserter is the part of the document store finalization writes to.
// Insert assigns the record ID and creation time.
type RecordInserter interface {
	Insert(ctx context.Context, rec *Record) error
}

// CodeHasher turns the final confirmation code into its stored form.
type CodeHasher func(code string) (string, error)

// BcryptCodeHasher hashes codes with bcrypt at the given cost.
func BcryptCodeHasher(cost int) CodeHasher {
	return func(code string) (string, error) {
		h, err := bcrypt.GenerateFromPassword([]byte(code), cost)
		if err != nil {
			return "", err
		}
		return string(h), nil
	}
}

// WorkflowDeps are the collaborators a workflow calls during finalization.
type WorkflowDeps struct {
	Locator     geospatial.Provider
	Digester    integrity.Digester
	Store       RecordInserter
	KeyMaterial string
	HashCode    CodeHasher
	Now         func() time.Time
	Logger      *zap.Logger
}

var stepMachine = workflows.NewLinear(Steps...)

// Workflow drives one draft through producer and transporter signing.
// It is not safe for concurrent use.
type Workflow struct {
	session *Session
	deps    WorkflowDeps
	record  *Record
}

// NewWorkflow resumes the workflow stored in session.
func NewWorkflow(session *Session, deps WorkflowDeps) *Workflow {
	if deps.HashCode == nil {
		deps.HashCode = BcryptCodeHasher(bcrypt.DefaultCost)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if session.FailedAttempts == nil {
		session.FailedAttempts = make(map[Step]int)
	}
	return &Workflow{session: session, deps: deps}
}

func (w *Workflow) CurrentStep() Step { return w.session.Step }

func (w *Workflow) IsComplete() bool { return w.session.Step == StepCompleted }

func (w *Workflow) Session() *Session { return w.session }

func (w *Workflow) Draft() Draft { return w.session.Draft }

// Record returns the shipment persisted by this workflow, or nil before completion.
func (w *Workflow) Record() *Record { return w.record }

// SetContactEmail changes the contact email of an unfinished draft.
func (w *Workflow) SetContactEmail(email string) error {
	if w.IsComplete() {
		return &InvalidStepError{Op: "edit contact email", Step: w.session.Step}
	}
	w.session.Draft.ContactEmail = strings.TrimSpace(email)
	w.touch()
	return nil
}

func (w *Workflow) SelectWasteCategory(category WasteCategory) error {
	if w.IsComplete() {
		return &InvalidStepError{Op: "select waste category", Step: w.session.Step}
	}
	if _, ok := LookupWasteType(category); !ok {
		return &InvalidFieldError{Field: "wasteCategory", Value: string(category), Reason: "not in catalog"}
	}
	w.session.Draft.WasteCategory = category
	w.touch()
	return nil
}

func (w *Workflow) SelectDestination(name string) error {
	if w.IsComplete() {
		return &InvalidStepError{Op: "select destination", Step: w.session.Step}
	}
	if _, ok := LookupDestination(name); !ok {
		return &InvalidFieldError{Field: "destination", Value: name, Reason: "unknown sorting center"}
	}
	w.session.Draft.Destination = name
	w.touch()
	return nil
}

// EnterCode replaces the entered-code buffer. Only digits are accepted, at
// most MaxCodeLength of them.
func (w *Workflow) EnterCode(code string) error {
	if !w.inConfirmStep() {
		return &InvalidStepError{Op: "enter code", Step: w.session.Step}
	}
	if len(code) > MaxCodeLength {
		return &InvalidFieldError{Field: "code", Value: code, Reason: fmt.Sprintf("longer than %d digits", MaxCodeLength)}
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return &InvalidFieldError{Field: "code", Value: code, Reason: "digits only"}
		}
	}
	w.session.Draft.EnteredCode = code
	w.touch()
	return nil
}

// SubmitSignature stores the image for the party whose signature is expected
// and moves to that party's confirmation step.
func (w *Workflow) SubmitSignature(image string) error {
	step := w.session.Step
	var next Step
	switch step {
	case StepProducerSignature:
		next = StepProducerConfirm
	case StepTransporterSignature:
		next = StepTransporterConfirm
	default:
		return &InvalidStepError{Op: "submit signature", Step: step}
	}
	if strings.TrimSpace(image) == "" {
		return &EmptySignatureError{Step: step}
	}

	if step == StepProducerSignature {
		w.session.Draft.ProducerSignatureImage = image
	} else {
		w.session.Draft.TransporterSignatureImage = image
	}
	if err := w.advance(next); err != nil {
		return err
	}
	w.session.Draft.EnteredCode = ""
	return nil
}

// ConfirmEnteredCode submits the entered-code buffer.
func (w *Workflow) ConfirmEnteredCode(ctx context.Context) error {
	return w.SubmitConfirmationCode(ctx, w.session.Draft.EnteredCode)
}

// SubmitConfirmationCode checks code against the code expected for the
// current party. The transporter's confirmation finalizes the shipment; the
// step only becomes Completed once the record is stored.
func (w *Workflow) SubmitConfirmationCode(ctx context.Context, code string) error {
	step := w.session.Step
	if !w.inConfirmStep() {
		return &InvalidStepError{Op: "submit confirmation code", Step: step}
	}

	expected := w.session.Codes.For(step)
	if expected == "" || subtle.ConstantTimeCompare([]byte(code), []byte(expected)) != 1 {
		w.session.FailedAttempts[step]++
		w.touch()
		return &CodeMismatchError{Step: step, Attempts: w.session.FailedAttempts[step]}
	}

	if step == StepProducerConfirm {
		if err := w.advance(StepTransporterSignature); err != nil {
			return err
		}
		w.session.Draft.EnteredCode = ""
		return nil
	}

	rec, err := w.finalize(ctx, code)
	if err != nil {
		return err
	}
	w.record = rec
	id := rec.ID
	w.session.RecordID = &id
	return w.advance(StepCompleted)
}

func (w *Workflow) finalize(ctx context.Context, code string) (*Record, error) {
	d := w.session.Draft
	if strings.TrimSpace(d.ContactEmail) == "" {
		return nil, &MissingFieldError{Field: "contactEmail"}
	}
	if d.ProducerSignatureImage == "" {
		return nil, &MissingFieldError{Field: "producerSignature"}
	}
	if d.TransporterSignatureImage == "" {
		return nil, &MissingFieldError{Field: "transporterSignature"}
	}
	wasteType, ok := LookupWasteType(d.WasteCategory)
	if !ok {
		return nil, &InvalidFieldError{Field: "wasteCategory", Value: string(d.WasteCategory), Reason: "not in catalog"}
	}

	coords, err := w.deps.Locator.CurrentCoordinates(ctx)
	if err != nil {
		w.deps.Logger.Warn("Position fix failed at final confirmation",
			zap.String("draft_id", w.session.ID.String()),
			zap.Error(err))
		return nil, &LocationUnavailableError{Err: err}
	}
	capturedAt := w.deps.Now().UTC()

	producerDigest, err := w.deps.Digester.ComputeDigest(ctx, d.ProducerSignatureImage, w.deps.KeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("failed to digest producer signature: %w", err)
	}
	transporterDigest, err := w.deps.Digester.ComputeDigest(ctx, d.TransporterSignatureImage, w.deps.KeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("failed to digest transporter signature: %w", err)
	}
	codeHash, err := w.deps.HashCode(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash validation code: %w", err)
	}

	rec := &Record{
		Email:                    d.ContactEmail,
		WasteCategory:            wasteType.Category,
		WasteTypeLabel:           wasteType.Label,
		Destination:              d.Destination,
		ProducerSignature:        d.ProducerSignatureImage,
		ProducerSignatureHash:    producerDigest,
		TransporterSignature:     d.TransporterSignatureImage,
		TransporterSignatureHash: transporterDigest,
		ValidationCodeHash:       codeHash,
		Status:                   StatusInProgress,
		OwnerUserID:              w.session.OwnerUserID,
		Location: Location{
			Latitude:   coords.Latitude,
			Longitude:  coords.Longitude,
			CapturedAt: capturedAt,
		},
	}

	if err := w.deps.Store.Insert(ctx, rec); err != nil {
		return nil, &PersistenceError{Err: err}
	}
	return rec, nil
}

func (w *Workflow) inConfirmStep() bool {
	return w.session.Step == StepProducerConfirm || w.session.Step == StepTransporterConfirm
}

func (w *Workflow) advance(to Step) error {
	next, err := stepMachine.Transition(w.session.Step, to)
	if err != nil {
		return &InvalidStepError{Op: "advance to " + string(to), Step: w.session.Step}
	}
	w.session.Step = next
	w.touch()
	return nil
}

func (w *Workflow) touch() {
	w.session.UpdatedAt = w.deps.Now().UTC()
}
