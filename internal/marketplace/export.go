package marketplace

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"

	exportSheet = "Verified Farms"
)

var exportColumns = []string{
	"Farm ID", "Name", "Land Size (ha)", "Crops", "Practices",
	"Carbon Credits", "Confidence", "Latitude", "Longitude", "Verified At",
}

func exportRow(l Listing) []string {
	verifiedAt := ""
	if l.VerifiedAt != nil {
		verifiedAt = l.VerifiedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		l.ID.String(),
		l.Name,
		strconv.FormatFloat(l.LandSize, 'f', 2, 64),
		strings.Join(l.CropTypes, "; "),
		strings.Join(l.FarmingPractices, "; "),
		strconv.FormatFloat(l.CarbonCredits, 'f', 1, 64),
		strconv.FormatFloat(l.ConfidenceScore, 'f', 3, 64),
		formatCoord(l.Latitude),
		formatCoord(l.Longitude),
		verifiedAt,
	}
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

// Render encodes listings in the requested format
func Render(format string, listings []Listing, stats Stats, now time.Time) (*ExportFile, error) {
	stamp := now.UTC().Format("20060102-150405")
	switch format {
	case FormatCSV:
		data, err := renderCSV(listings)
		if err != nil {
			return nil, err
		}
		return &ExportFile{FileName: "marketplace-" + stamp + ".csv", ContentType: "text/csv", Data: data}, nil
	case FormatXLSX:
		data, err := renderExcel(listings)
		if err != nil {
			return nil, err
		}
		return &ExportFile{
			FileName:    "marketplace-" + stamp + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	case FormatPDF:
		data, err := renderPDF(listings, stats, now)
		if err != nil {
			return nil, err
		}
		return &ExportFile{FileName: "marketplace-" + stamp + ".pdf", ContentType: "application/pdf", Data: data}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func renderCSV(listings []Listing) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportColumns); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for _, l := range listings {
		if err := w.Write(exportRow(l)); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func renderExcel(listings []Listing) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"166534"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range exportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, col); err != nil {
			return nil, err
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(exportColumns), 1)
	if err := f.SetCellStyle(exportSheet, "A1", lastHeader, headerStyle); err != nil {
		return nil, err
	}

	for r, l := range listings {
		row := r + 2
		values := []interface{}{
			l.ID.String(), l.Name, l.LandSize,
			strings.Join(l.CropTypes, "; "), strings.Join(l.FarmingPractices, "; "),
			l.CarbonCredits, l.ConfidenceScore,
			formatCoord(l.Latitude), formatCoord(l.Longitude),
		}
		if l.VerifiedAt != nil {
			values = append(values, l.VerifiedAt.UTC())
		} else {
			values = append(values, "")
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}
	if len(listings) > 0 {
		if err := f.AutoFilter(exportSheet, "A1:"+lastHeader, nil); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(exportSheet, "A", "A", 38); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(exportSheet, "B", "E", 24); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func renderPDF(listings []Listing, stats Stats, now time.Time) ([]byte, error) {
	doc := gofpdf.New("L", "mm", "A4", "")
	doc.SetMargins(15, 20, 15)
	doc.SetAutoPageBreak(true, 20)
	doc.SetFooterFunc(func() {
		doc.SetY(-15)
		doc.SetFont("Arial", "I", 8)
		doc.CellFormat(0, 10, fmt.Sprintf("Page %d", doc.PageNo()), "", 0, "C", false, 0, "")
	})
	doc.AddPage()

	doc.SetFont("Arial", "B", 16)
	doc.CellFormat(0, 10, "Verified Farm Carbon Credits", "", 1, "L", false, 0, "")
	doc.SetFont("Arial", "", 10)
	doc.CellFormat(0, 6, fmt.Sprintf("Generated %s | %d farms | %.1f t CO2e | avg confidence %.0f%%",
		now.UTC().Format("2006-01-02"), stats.TotalFarms, stats.TotalCredits, stats.AverageConfidence*100),
		"", 1, "L", false, 0, "")
	doc.Ln(4)

	headers := []string{"Name", "Land (ha)", "Crops", "Practices", "Credits", "Confidence"}
	widths := []float64{55, 22, 65, 85, 20, 22}

	doc.SetFont("Arial", "B", 9)
	doc.SetFillColor(22, 101, 52)
	doc.SetTextColor(255, 255, 255)
	for i, h := range headers {
		doc.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Arial", "", 8)
	doc.SetTextColor(0, 0, 0)
	doc.SetFillColor(242, 242, 242)
	for r, l := range listings {
		fill := r%2 == 1
		cells := []string{
			truncate(l.Name, 32),
			fmt.Sprintf("%.2f", l.LandSize),
			truncate(strings.Join(l.CropTypes, ", "), 40),
			truncate(strings.Join(l.FarmingPractices, ", "), 55),
			fmt.Sprintf("%.1f", l.CarbonCredits),
			fmt.Sprintf("%.0f%%", l.ConfidenceScore*100),
		}
		for i, v := range cells {
			doc.CellFormat(widths[i], 6, v, "1", 0, "L", fill, 0, "")
		}
		doc.Ln(-1)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
