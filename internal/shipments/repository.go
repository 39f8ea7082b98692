package shipments

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"waste-track/tracking/tracking-backend/pkg/integrity"
)

//go:embed schema.sql
var schema string

// ErrStatusChanged means the status moved underneath a status update.
var ErrStatusChanged = errors.New("shipment status changed concurrently")

// Repository is the shipment document store
type Repository interface {
	RecordInserter
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]Record, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// Migrate creates the shipments table and its change-notification trigger.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply shipments schema: %w", err)
	}
	return nil
}

type shipmentRow struct {
	ID                             uuid.UUID `db:"id"`
	Email                          string    `db:"email"`
	WasteCategory                  string    `db:"waste_category"`
	WasteTypeLabel                 string    `db:"waste_type_label"`
	Destination                    string    `db:"destination"`
	ProducerSignature              string    `db:"producer_signature"`
	ProducerSignatureHash          string    `db:"producer_signature_hash"`
	ProducerSignatureSalt          []byte    `db:"producer_signature_salt"`
	ProducerSignatureIV            []byte    `db:"producer_signature_iv"`
	ProducerSignatureHashedAt      time.Time `db:"producer_signature_hashed_at"`
	ProducerSignatureKeyVersion    string    `db:"producer_signature_key_version"`
	TransporterSignature           string    `db:"transporter_signature"`
	TransporterSignatureHash       string    `db:"transporter_signature_hash"`
	TransporterSignatureSalt       []byte    `db:"transporter_signature_salt"`
	TransporterSignatureIV         []byte    `db:"transporter_signature_iv"`
	TransporterSignatureHashedAt   time.Time `db:"transporter_signature_hashed_at"`
	TransporterSignatureKeyVersion string    `db:"transporter_signature_key_version"`
	ValidationCodeHash             string    `db:"validation_code_hash"`
	Status                         string    `db:"status"`
	CreatedAt                      time.Time `db:"created_at"`
	OwnerUserID                    string    `db:"owner_user_id"`
	Latitude                       float64   `db:"latitude"`
	Longitude                      float64   `db:"longitude"`
	LocationCapturedAt             time.Time `db:"location_captured_at"`
}

const shipmentColumns = `id, email, waste_category, waste_type_label, destination,
	producer_signature, producer_signature_hash, producer_signature_salt, producer_signature_iv,
	producer_signature_hashed_at, producer_signature_key_version,
	transporter_signature, transporter_signature_hash, transporter_signature_salt, transporter_signature_iv,
	transporter_signature_hashed_at, transporter_signature_key_version,
	validation_code_hash, status, created_at, owner_user_id, latitude, longitude, location_captured_at`

func rowFromRecord(rec *Record) shipmentRow {
	return shipmentRow{
		Email:                          rec.Email,
		WasteCategory:                  string(rec.WasteCategory),
		WasteTypeLabel:                 rec.WasteTypeLabel,
		Destination:                    rec.Destination,
		ProducerSignature:              rec.ProducerSignature,
		ProducerSignatureHash:          rec.ProducerSignatureHash.Digest,
		ProducerSignatureSalt:          rec.ProducerSignatureHash.Salt,
		ProducerSignatureIV:            rec.ProducerSignatureHash.IV,
		ProducerSignatureHashedAt:      rec.ProducerSignatureHash.Timestamp,
		ProducerSignatureKeyVersion:    rec.ProducerSignatureHash.KeyVersion,
		TransporterSignature:           rec.TransporterSignature,
		TransporterSignatureHash:       rec.TransporterSignatureHash.Digest,
		TransporterSignatureSalt:       rec.TransporterSignatureHash.Salt,
		TransporterSignatureIV:         rec.TransporterSignatureHash.IV,
		TransporterSignatureHashedAt:   rec.TransporterSignatureHash.Timestamp,
		TransporterSignatureKeyVersion: rec.TransporterSignatureHash.KeyVersion,
		ValidationCodeHash:             rec.ValidationCodeHash,
		Status:                         string(rec.Status),
		OwnerUserID:                    rec.OwnerUserID,
		Latitude:                       rec.Location.Latitude,
		Longitude:                      rec.Location.Longitude,
		LocationCapturedAt:             rec.Location.CapturedAt,
	}
}

func (r shipmentRow) record() Record {
	return Record{
		ID:                r.ID,
		Email:             r.Email,
		WasteCategory:     WasteCategory(r.WasteCategory),
		WasteTypeLabel:    r.WasteTypeLabel,
		Destination:       r.Destination,
		ProducerSignature: r.ProducerSignature,
		ProducerSignatureHash: integrity.Digest{
			Digest:     r.ProducerSignatureHash,
			Salt:       r.ProducerSignatureSalt,
			IV:         r.ProducerSignatureIV,
			Timestamp:  r.ProducerSignatureHashedAt,
			KeyVersion: r.ProducerSignatureKeyVersion,
		},
		TransporterSignature: r.TransporterSignature,
		TransporterSignatureHash: integrity.Digest{
			Digest:     r.TransporterSignatureHash,
			Salt:       r.TransporterSignatureSalt,
			IV:         r.TransporterSignatureIV,
			Timestamp:  r.TransporterSignatureHashedAt,
			KeyVersion: r.TransporterSignatureKeyVersion,
		},
		ValidationCodeHash: r.ValidationCodeHash,
		Status:             Status(r.Status),
		CreatedAt:          r.CreatedAt,
		OwnerUserID:        r.OwnerUserID,
		Location: Location{
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			CapturedAt: r.LocationCapturedAt,
		},
	}
}

// Insert stores rec and fills in the database-assigned ID and creation time.
func (r *postgresRepository) Insert(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO shipments (
			email, waste_category, waste_type_label, destination,
			producer_signature, producer_signature_hash, producer_signature_salt, producer_signature_iv,
			producer_signature_hashed_at, producer_signature_key_version,
			transporter_signature, transporter_signature_hash, transporter_signature_salt, transporter_signature_iv,
			transporter_signature_hashed_at, transporter_signature_key_version,
			validation_code_hash, status, owner_user_id, latitude, longitude, location_captured_at
		) VALUES (
			:email, :waste_category, :waste_type_label, :destination,
			:producer_signature, :producer_signature_hash, :producer_signature_salt, :producer_signature_iv,
			:producer_signature_hashed_at, :producer_signature_key_version,
			:transporter_signature, :transporter_signature_hash, :transporter_signature_salt, :transporter_signature_iv,
			:transporter_signature_hashed_at, :transporter_signature_key_version,
			:validation_code_hash, :status, :owner_user_id, :latitude, :longitude, :location_captured_at
		) RETURNING id, created_at`

	rows, err := r.db.NamedQueryContext(ctx, query, rowFromRecord(rec))
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return errors.New("insert returned no row")
	}
	return rows.Scan(&rec.ID, &rec.CreatedAt)
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	var row shipmentRow
	err := r.db.GetContext(ctx, &row, "SELECT "+shipmentColumns+" FROM shipments WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := row.record()
	return &rec, nil
}

// ListByOwner returns the owner's shipments, newest first.
func (r *postgresRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]Record, error) {
	var rows []shipmentRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT "+shipmentColumns+" FROM shipments WHERE owner_user_id = $1 ORDER BY created_at DESC",
		ownerUserID)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE shipments SET status = $1 WHERE id = $2 AND status = $3",
		string(to), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusChanged
	}
	return nil
}
