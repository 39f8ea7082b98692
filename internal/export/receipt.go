package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"waste-track/tracking/tracking-backend/internal/shipments"
	"waste-track/tracking/tracking-backend/pkg/geospatial"
	"waste-track/tracking/tracking-backend/pkg/integrity"
)

// ReceiptGenerator renders one-page PDF receipts for shipments
type ReceiptGenerator struct {
	now func() time.Time
}

func NewReceiptGenerator() *ReceiptGenerator {
	return &ReceiptGenerator{now: time.Now}
}

// Receipt renders rec as a PDF chain-of-custody receipt
func (g *ReceiptGenerator) Receipt(rec *shipments.Record) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle("Shipment receipt "+rec.ID.String(), true)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, "Generated "+g.now().UTC().Format("2006-01-02 15:04:05 MST"), "", 0, "C", false, 0, "")
	})
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 10, "Waste shipment receipt", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 6, rec.ID.String(), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	section(pdf, "Shipment")
	row(pdf, tr, "Created", rec.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
	row(pdf, tr, "Status", fmt.Sprintf("%s (stage %d of 3)", rec.Status, rec.Stage()))
	row(pdf, tr, "Waste", rec.WasteTypeLabel)
	row(pdf, tr, "Destination", rec.Destination)
	row(pdf, tr, "Contact", rec.Email)

	section(pdf, "Pickup location")
	row(pdf, tr, "Coordinates", fmt.Sprintf("%.5f, %.5f", rec.Location.Latitude, rec.Location.Longitude))
	row(pdf, tr, "Captured", rec.Location.CapturedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if dest, ok := shipments.LookupDestination(rec.Destination); ok {
		km := geospatial.DistanceKm(rec.Location.Coordinates(), dest.Position)
		row(pdf, tr, "To destination", fmt.Sprintf("%.1f km", km))
	}

	section(pdf, "Signatures")
	signature(pdf, tr, "Producer", rec.ID.String()+"-producer", rec.ProducerSignature, rec.ProducerSignatureHash)
	signature(pdf, tr, "Transporter", rec.ID.String()+"-transporter", rec.TransporterSignature, rec.TransporterSignatureHash)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.Ln(3)
	pdf.SetFont("Arial", "B", 12)
	pdf.SetFillColor(68, 114, 196)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(0, 8, " "+title, "", 1, "L", true, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(1)
}

func row(pdf *gofpdf.Fpdf, tr func(string) string, label, value string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 7, tr(label), "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 7, tr(value), "", 1, "L", false, 0, "")
}

// signature draws the digest of a signature and, when the image is a PNG or
// JPEG data URL gofpdf can read, the image itself.
func signature(pdf *gofpdf.Fpdf, tr func(string) string, party, name, image string, digest integrity.Digest) {
	row(pdf, tr, party, fmt.Sprintf("digest %s (key %s)", shorten(digest.Digest, 24), digest.KeyVersion))

	contentType, body := shipments.DecodeDataURL(image)
	var imageType string
	switch contentType {
	case "image/png":
		imageType = "PNG"
	case "image/jpeg":
		imageType = "JPG"
	default:
		return
	}

	pdf.RegisterImageOptionsReader(name, gofpdf.ImageOptions{ImageType: imageType}, bytes.NewReader(body))
	if !pdf.Ok() {
		pdf.ClearError()
		row(pdf, tr, "", "(signature image unreadable)")
		return
	}
	pdf.ImageOptions(name, pdf.GetX()+45, pdf.GetY(), 60, 0, true, gofpdf.ImageOptions{ImageType: imageType}, 0, "")
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
