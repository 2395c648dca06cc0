package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate is the content of a verification certificate
type Certificate struct {
	FarmID          string
	FarmName        string
	OwnerName       string
	LandSize        float64
	CropTypes       []string
	Practices       []string
	Latitude        float64
	Longitude       float64
	CarbonCredits   float64
	ConfidenceScore float64
	VerifiedAt      time.Time
	Signature       string
}

type Generator interface {
	Certificate(ctx context.Context, cert Certificate) (io.ReadSeeker, error)
}

type gofpdfGenerator struct {
	fontFamily string
}

func NewGenerator() Generator {
	return &gofpdfGenerator{fontFamily: "Arial"}
}

func (g *gofpdfGenerator) Certificate(ctx context.Context, cert Certificate) (io.ReadSeeker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetMargins(20, 25, 20)
	doc.SetTitle("Carbon Credit Verification Certificate", true)
	doc.SetAuthor("CarbonIQ", true)
	doc.AddPage()

	doc.SetFont(g.fontFamily, "B", 20)
	doc.SetTextColor(22, 101, 52)
	doc.CellFormat(0, 12, "Carbon Credit Verification Certificate", "", 1, "C", false, 0, "")
	doc.Ln(6)

	doc.SetFont(g.fontFamily, "", 11)
	doc.SetTextColor(0, 0, 0)
	rows := [][2]string{
		{"Farm", cert.FarmName},
		{"Farm ID", cert.FarmID},
		{"Owner", cert.OwnerName},
		{"Land size", fmt.Sprintf("%.2f ha", cert.LandSize)},
		{"Location", fmt.Sprintf("%.4f, %.4f", cert.Latitude, cert.Longitude)},
		{"Crops", strings.Join(cert.CropTypes, ", ")},
		{"Practices", strings.Join(cert.Practices, ", ")},
		{"Carbon credits", fmt.Sprintf("%.1f t CO2e", cert.CarbonCredits)},
		{"Confidence", fmt.Sprintf("%.0f%%", cert.ConfidenceScore*100)},
		{"Verified at", cert.VerifiedAt.UTC().Format("2006-01-02 15:04 MST")},
	}
	for _, row := range rows {
		doc.SetFont(g.fontFamily, "B", 11)
		doc.CellFormat(45, 8, row[0], "B", 0, "L", false, 0, "")
		doc.SetFont(g.fontFamily, "", 11)
		doc.MultiCell(0, 8, row[1], "B", "L", false)
	}

	if cert.Signature != "" {
		doc.Ln(8)
		doc.SetFont("Courier", "", 7)
		doc.SetTextColor(100, 100, 100)
		doc.MultiCell(0, 4, "Signature: "+cert.Signature, "", "L", false)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render certificate: %w", err)
	}
	return bytes.NewReader(buf.Bytes()), nil
}
