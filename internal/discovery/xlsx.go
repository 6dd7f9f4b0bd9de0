package discovery

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// WorkbookOptions configures workbook ingestion.
type WorkbookOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // header rows to skip beyond the column row
}

// workbookColumns maps recognized header names onto extracted fields.
// Headers are matched case-insensitively after trimming.
var workbookColumns = map[string]string{
	"title":         "title",
	"name":          "title",
	"program":       "title",
	"summary":       "summary",
	"description":   "summary",
	"type":          "item_type",
	"item type":     "item_type",
	"jurisdiction":  "jurisdictions",
	"jurisdictions": "jurisdictions",
	"state":         "jurisdictions",
	"year":          "year",
	"categories":    "categories",
	"url":           "source_url",
	"source url":    "source_url",
	"latitude":      "latitude",
	"longitude":     "longitude",
	"country":       "country_code",
}

// IngestWorkbook reads an XLSX workbook row by row and feeds each row
// through the pipeline. Rows that fail to ingest are logged and skipped; the
// count of enqueued items is returned.
func (p *Pipeline) IngestWorkbook(ctx context.Context, path, sourceID string, opts WorkbookOptions) (int, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: open workbook")
	}

	sheet, err := workbookSheet(f, opts)
	if err != nil {
		return 0, err
	}
	if len(sheet.Rows) == 0 {
		return 0, nil
	}

	header := rowStrings(sheet.Rows[0])
	fieldForCol := make([]string, len(header))
	for j, h := range header {
		fieldForCol[j] = workbookColumns[strings.ToLower(strings.TrimSpace(h))]
	}

	ingested := 0
	for i, row := range sheet.Rows[1:] {
		if ctx.Err() != nil {
			return ingested, eris.Wrap(ctx.Err(), "discovery: workbook cancelled")
		}
		if i < opts.SkipRows {
			continue
		}

		payload := rowPayload(rowStrings(row), fieldForCol)
		if len(payload) == 0 {
			continue
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return ingested, eris.Wrap(err, "discovery: marshal workbook row")
		}
		if _, err := p.Ingest(ctx, sourceID, raw); err != nil {
			zap.L().Warn("workbook row skipped", zap.Int("row", i+2), zap.Error(err))
			continue
		}
		ingested++
	}
	return ingested, nil
}

// rowPayload builds the JSON payload Extract expects from one workbook row.
func rowPayload(cells []string, fieldForCol []string) map[string]any {
	payload := map[string]any{}
	for j, cell := range cells {
		if j >= len(fieldForCol) || fieldForCol[j] == "" {
			continue
		}
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		switch field := fieldForCol[j]; field {
		case "jurisdictions", "categories":
			var vals []string
			for _, v := range strings.Split(cell, ",") {
				if v = strings.TrimSpace(v); v != "" {
					vals = append(vals, v)
				}
			}
			payload[field] = vals
		case "year":
			if y, err := strconv.Atoi(cell); err == nil {
				payload[field] = y
			}
		case "latitude", "longitude":
			if v, err := strconv.ParseFloat(cell, 64); err == nil {
				payload[field] = v
			}
		default:
			payload[field] = cell
		}
	}
	return payload
}

func workbookSheet(f *xlsx.File, opts WorkbookOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("discovery: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("discovery: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
