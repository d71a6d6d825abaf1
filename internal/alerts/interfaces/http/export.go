package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"swapstation-ops/internal/alerts/application"
)

var exportColumns = []string{
	"Alert ID", "Station", "Type", "Severity", "Status", "Title",
	"Recommended Action", "Created At", "Decided By", "Decided At",
}

func exportRow(v application.AlertView) []string {
	decidedBy, decidedAt := "", ""
	if v.ExecutedAt != nil {
		decidedBy, decidedAt = v.ExecutedBy, v.ExecutedAt.UTC().Format(time.RFC3339)
	}
	if v.DismissedAt != nil {
		decidedBy, decidedAt = v.DismissedBy, v.DismissedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		v.ID,
		v.StationID,
		string(v.Type),
		string(v.Severity),
		string(v.Status),
		v.Title,
		v.RecommendedAction,
		v.CreatedAt.UTC().Format(time.RFC3339),
		decidedBy,
		decidedAt,
	}
}

// BuildAlertsXLSX renders alerts as a spreadsheet with one row per alert.
func BuildAlertsXLSX(views []application.AlertView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "alerts"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for col, title := range exportColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, title)
	}
	for i, v := range views {
		for col, value := range exportRow(v) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(sheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsPDF renders a landscape alert report.
func BuildAlertsPDF(views []application.AlertView, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Swap Station Alerts")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(views)))
	pdf.Ln(8)

	widths := []float64{22, 18, 26, 18, 20, 44, 72, 36}
	pdf.SetFont("Arial", "B", 8)
	for i, w := range widths {
		pdf.CellFormat(w, 6, exportColumns[i], "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 7)
	for _, v := range views {
		row := exportRow(v)
		for i, w := range widths {
			pdf.CellFormat(w, 6, truncate(row[i], int(w/1.6)), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(value string, n int) string {
	runes := []rune(value)
	if n <= 3 || len(runes) <= n {
		return value
	}
	return string(runes[:n-3]) + "..."
}
