package discovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeWorkbook(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Programs")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().SetString(c)
		}
	}
	path := filepath.Join(t.TempDir(), "programs.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestIngestWorkbook(t *testing.T) {
	p, queue, _, _ := newTestPipeline()

	path := writeWorkbook(t, [][]string{
		{"Name", "Description", "Type", "Jurisdiction", "Year", "URL"},
		{"On Country Mentoring", "Mentoring for young people.", "program", "WA, NT", "2021", "https://example.org/ocm"},
		{"Night Patrol", "Community patrols.", "program", "NT", "", ""},
	})

	n, err := p.IngestWorkbook(context.Background(), path, "wa-register", WorkbookOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := queue.List(context.Background(), ListOpts{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, items, 2)

	byTitle := map[string]Item{}
	for _, it := range items {
		byTitle[it.Extracted.Title] = it
	}
	mentoring := byTitle["On Country Mentoring"]
	assert.Equal(t, []string{"WA", "NT"}, mentoring.Extracted.Jurisdictions)
	assert.Equal(t, 2021, mentoring.Extracted.Year)
	assert.Equal(t, "https://example.org/ocm", mentoring.Extracted.SourceURL)
	assert.Equal(t, 1.0, mentoring.ExtractionConfidence)
}

func TestIngestWorkbookSkipsEmptyAndBadRows(t *testing.T) {
	p, queue, _, _ := newTestPipeline()

	path := writeWorkbook(t, [][]string{
		{"Name", "Description", "Type", "Jurisdiction"},
		{"", "", "", ""},
		{"Youth Healing Circle", "Healing.", "program", "NT"},
	})

	n, err := p.IngestWorkbook(context.Background(), path, "nt-register", WorkbookOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := queue.List(context.Background(), ListOpts{Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestIngestWorkbookSheetNotFound(t *testing.T) {
	p, _, _, _ := newTestPipeline()

	path := writeWorkbook(t, [][]string{{"Name"}})
	_, err := p.IngestWorkbook(context.Background(), path, "src", WorkbookOptions{SheetName: "Missing"})
	assert.Error(t, err)
}

func TestRowPayloadParsesTypedColumns(t *testing.T) {
	fieldForCol := []string{"title", "jurisdictions", "year", "latitude", ""}

	payload := rowPayload([]string{" Night Patrol ", "NT,  WA", "2019", "-12.46", "ignored"}, fieldForCol)

	assert.Equal(t, "Night Patrol", payload["title"])
	assert.Equal(t, []string{"NT", "WA"}, payload["jurisdictions"])
	assert.Equal(t, 2019, payload["year"])
	assert.Equal(t, -12.46, payload["latitude"])
	assert.NotContains(t, payload, "")
}

func TestRowPayloadDropsUnparseableNumbers(t *testing.T) {
	payload := rowPayload([]string{"circa 2019"}, []string{"year"})
	assert.NotContains(t, payload, "year")
}
