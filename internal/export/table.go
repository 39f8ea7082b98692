package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"waste-track/tracking/tracking-backend/internal/shipments"
)

const sheetName = "Shipments"

var columns = []string{
	"ID", "Date", "Waste", "Destination", "Status", "Stage", "Email",
	"Latitude", "Longitude", "Producer digest", "Transporter digest", "Key version",
}

func tableRow(rec shipments.Record) []string {
	return []string{
		rec.ID.String(),
		rec.CreatedAt.UTC().Format("2006-01-02"),
		rec.WasteTypeLabel,
		rec.Destination,
		string(rec.Status),
		strconv.Itoa(rec.Stage()),
		rec.Email,
		strconv.FormatFloat(rec.Location.Latitude, 'f', 6, 64),
		strconv.FormatFloat(rec.Location.Longitude, 'f', 6, 64),
		rec.ProducerSignatureHash.Digest,
		rec.TransporterSignatureHash.Digest,
		rec.ProducerSignatureHash.KeyVersion,
	}
}

// WriteCSV writes the shipment list as CSV with a header row
func WriteCSV(w io.Writer, records []shipments.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(tableRow(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the shipment list as a single-sheet workbook with a
// frozen, filterable header row
func WriteXLSX(w io.Writer, records []shipments.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return err
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(columns))
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", headerStyle); err != nil {
		return err
	}

	for r, rec := range records {
		values := tableRow(rec)
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			var value interface{} = v
			switch columns[c] {
			case "Stage":
				value = rec.Stage()
			case "Latitude":
				value = rec.Location.Latitude
			case "Longitude":
				value = rec.Location.Longitude
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(sheetName, "A", "A", 38); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "B", lastCol, 18); err != nil {
		return err
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	lastRow := len(records) + 1
	if err := f.AutoFilter(sheetName, fmt.Sprintf("A1:%s%d", lastCol, lastRow), nil); err != nil {
		return err
	}

	return f.Write(w)
}
