package marketplace

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestRender_CSV(t *testing.T) {
	listings := sampleListings()
	file, err := Render(FormatCSV, listings, computeStats(listings), base)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "marketplace-20260301-000000.csv", file.FileName)

	records, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, exportColumns, records[0])
	assert.Equal(t, "Kilima Farm", records[1][1])
	assert.Equal(t, "Maize; Beans", records[1][3])
	assert.Equal(t, "1.2", records[1][5])
}

func TestRender_Excel(t *testing.T) {
	listings := sampleListings()
	file, err := Render(FormatXLSX, listings, computeStats(listings), base)
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(file.Data))
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Farm ID", rows[0][0])
	assert.Equal(t, "Green Valley", rows[2][1])
}

func TestRender_PDF(t *testing.T) {
	listings := sampleListings()
	file, err := Render(FormatPDF, listings, computeStats(listings), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(file.Data[:4]))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
