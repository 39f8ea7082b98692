package shipments

import (
	"time"

	"github.com/google/uuid"

	"waste-track/tracking/tracking-backend/pkg/geospatial"
	"waste-track/tracking/tracking-backend/pkg/integrity"
)

// Step is the position of a draft in the signing sequence
type Step string

const (
	StepProducerSignature    Step = "producer_signature"
	StepProducerConfirm      Step = "producer_confirm"
	StepTransporterSignature Step = "transporter_signature"
	StepTransporterConfirm   Step = "transporter_confirm"
	StepCompleted            Step = "completed"
)

// Steps lists every step in signing order.
var Steps = []Step{
	StepProducerSignature,
	StepProducerConfirm,
	StepTransporterSignature,
	StepTransporterConfirm,
	StepCompleted,
}

// Status is the lifecycle state of a persisted shipment
type Status string

const (
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
)

func (s Status) Valid() bool {
	return s == StatusInProgress || s == StatusCompleted
}

type WasteCategory string

const (
	WasteMetal      WasteCategory = "metal"
	WastePlastic    WasteCategory = "plastic"
	WasteOrganic    WasteCategory = "organic"
	WasteElectronic WasteCategory = "electronic"
)

type WasteType struct {
	Category WasteCategory `json:"id"`
	Label    string        `json:"label"`
}

// WasteTypes is the fixed waste catalog. The first entry is the draft default.
var WasteTypes = []WasteType{
	{Category: WasteMetal, Label: "Déchets métalliques"},
	{Category: WastePlastic, Label: "Déchets plastiques"},
	{Category: WasteOrganic, Label: "Déchets organiques"},
	{Category: WasteElectronic, Label: "Déchets électroniques"},
}

type Destination struct {
	Name     string                 `json:"name"`
	Position geospatial.Coordinates `json:"position"`
}

// Destinations lists the sorting centers a shipment can be sent to.
var Destinations = []Destination{
	{Name: "Charleroi", Position: geospatial.Coordinates{Latitude: 50.4108, Longitude: 4.4446}},
	{Name: "Bruxelles", Position: geospatial.Coordinates{Latitude: 50.8503, Longitude: 4.3517}},
	{Name: "Liège", Position: geospatial.Coordinates{Latitude: 50.6326, Longitude: 5.5797}},
	{Name: "Namur", Position: geospatial.Coordinates{Latitude: 50.4674, Longitude: 4.8720}},
	{Name: "Mons", Position: geospatial.Coordinates{Latitude: 50.4542, Longitude: 3.9523}},
}

func LookupWasteType(c WasteCategory) (WasteType, bool) {
	for _, wt := range WasteTypes {
		if wt.Category == c {
			return wt, true
		}
	}
	return WasteType{}, false
}

func LookupDestination(name string) (Destination, bool) {
	for _, d := range Destinations {
		if d.Name == name {
			return d, true
		}
	}
	return Destination{}, false
}

// Draft is the shipment data collected while the workflow runs
type Draft struct {
	ContactEmail              string        `json:"contactEmail"`
	WasteCategory             WasteCategory `json:"wasteCategory"`
	Destination               string        `json:"destination"`
	ProducerSignatureImage    string        `json:"producerSignatureImage,omitempty"`
	TransporterSignatureImage string        `json:"transporterSignatureImage,omitempty"`
	EnteredCode               string        `json:"enteredCode"`
}

// NewDraft returns a draft preset to the first catalog entries.
func NewDraft(contactEmail string) Draft {
	return Draft{
		ContactEmail:  contactEmail,
		WasteCategory: WasteTypes[0].Category,
		Destination:   Destinations[0].Name,
	}
}

// ExpectedCodes are the confirmation codes each party must enter.
type ExpectedCodes struct {
	Producer    string `json:"producer"`
	Transporter string `json:"transporter"`
}

func (c ExpectedCodes) For(step Step) string {
	switch step {
	case StepProducerConfirm:
		return c.Producer
	case StepTransporterConfirm:
		return c.Transporter
	default:
		return ""
	}
}

// Session is the stored state of one in-progress workflow
type Session struct {
	ID             uuid.UUID     `json:"id"`
	OwnerUserID    string        `json:"ownerUserId"`
	Step           Step          `json:"step"`
	Draft          Draft         `json:"draft"`
	Codes          ExpectedCodes `json:"codes"`
	FailedAttempts map[Step]int  `json:"failedAttempts,omitempty"`
	RecordID       *uuid.UUID    `json:"recordId,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// NewSession opens a fresh draft at the first step.
func NewSession(ownerUserID, contactEmail string, codes ExpectedCodes) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		Step:        StepProducerSignature,
		Draft:       NewDraft(contactEmail),
		Codes:       codes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// DraftView is what clients see of a session. Codes and raw images stay server side.
type DraftView struct {
	ID                      uuid.UUID     `json:"id"`
	Step                    Step          `json:"step"`
	ContactEmail            string        `json:"contactEmail"`
	WasteCategory           WasteCategory `json:"wasteCategory"`
	Destination             string        `json:"destination"`
	EnteredCode             string        `json:"enteredCode"`
	HasProducerSignature    bool          `json:"hasProducerSignature"`
	HasTransporterSignature bool          `json:"hasTransporterSignature"`
	RecordID                *uuid.UUID    `json:"recordId,omitempty"`
	UpdatedAt               time.Time     `json:"updatedAt"`
}

func (s *Session) View() DraftView {
	return DraftView{
		ID:                      s.ID,
		Step:                    s.Step,
		ContactEmail:            s.Draft.ContactEmail,
		WasteCategory:           s.Draft.WasteCategory,
		Destination:             s.Draft.Destination,
		EnteredCode:             s.Draft.EnteredCode,
		HasProducerSignature:    s.Draft.ProducerSignatureImage != "",
		HasTransporterSignature: s.Draft.TransporterSignatureImage != "",
		RecordID:                s.RecordID,
		UpdatedAt:               s.UpdatedAt,
	}
}

type Location struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"capturedAt"`
}

func (l Location) Coordinates() geospatial.Coordinates {
	return geospatial.Coordinates{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Record is a finalized shipment as persisted
type Record struct {
	ID                       uuid.UUID        `json:"id"`
	Email                    string           `json:"email"`
	WasteCategory            WasteCategory    `json:"wasteCategory"`
	WasteTypeLabel           string           `json:"wasteTypeLabel"`
	Destination              string           `json:"destination"`
	ProducerSignature        string           `json:"producerSignature"`
	ProducerSignatureHash    integrity.Digest `json:"producerSignatureHash"`
	TransporterSignature     string           `json:"transporterSignature"`
	TransporterSignatureHash integrity.Digest `json:"transporterSignatureHash"`
	ValidationCodeHash       string           `json:"-"`
	Status                   Status           `json:"status"`
	CreatedAt                time.Time        `json:"createdAt"`
	OwnerUserID              string           `json:"ownerUserId"`
	Location                 Location         `json:"location"`
}

// Stage is the custody stage shown on progress bars: 1 while the transporter
// holds the load, 3 once the sorting center has received it.
func (r Record) Stage() int {
	switch r.Status {
	case StatusCompleted:
		return 3
	case StatusInProgress:
		return 1
	default:
		return 0
	}
}

// Summary is the list representation of a record
type Summary struct {
	ID             uuid.UUID `json:"id"`
	Destination    string    `json:"destination"`
	Status         Status    `json:"status"`
	Date           string    `json:"date"`
	WasteTypeLabel string    `json:"waste"`
	Email          string    `json:"email"`
	Location       *Location `json:"location,omitempty"`
	Stage          int       `json:"stage"`
}

func (r Record) Summary() Summary {
	s := Summary{
		ID:             r.ID,
		Destination:    r.Destination,
		Status:         r.Status,
		Date:           r.CreatedAt.UTC().Format("2006-01-02"),
		WasteTypeLabel: r.WasteTypeLabel,
		Email:          r.Email,
		Stage:          r.Stage(),
	}
	if !r.Location.CapturedAt.IsZero() {
		loc := r.Location
		s.Location = &loc
	}
	return s
}

// IntegrityReport is the result of re-verifying a record's signatures.
type IntegrityReport struct {
	ShipmentID       uuid.UUID `json:"shipmentId"`
	ProducerValid    bool      `json:"producerValid"`
	TransporterValid bool      `json:"transporterValid"`
	KeyVersion       string    `json:"keyVersion"`
	CheckedAt        time.Time `json:"checkedAt"`
}
