// Package refdata loads the reference intervention dataset: the manually
// curated ground truth used to validate extracted records.
package refdata

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/zecchin-leonardo/archeo-extract/internal/model"
)

// Record is one curated intervention row.
type Record struct {
	Intervention model.InterventionID
	Comune       string
	Localita     string
	Year         int
}

// Dataset maps intervention id to its reference record.
type Dataset map[model.InterventionID]Record

// columns maps sheet header names (lowercased) to record fields. Extra
// columns in the sheet are ignored.
const (
	colID       = "id"
	colComune   = "comune"
	colLocalita = "localita"
	colYear     = "anno"
)

// Load reads the reference dataset from the first sheet of an XLSX file.
// The first row must be a header naming at least the id and comune columns.
func Load(path string) (Dataset, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("refdata: %s has no sheets", path)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, eris.Errorf("refdata: %s has no data rows", path)
	}

	colIdx := make(map[string]int)
	for i, cell := range sheet.Rows[0].Cells {
		colIdx[strings.ToLower(strings.TrimSpace(cell.String()))] = i
	}
	idIdx, ok := colIdx[colID]
	if !ok {
		return nil, eris.Errorf("refdata: %s is missing the %q column", path, colID)
	}
	comuneIdx, ok := colIdx[colComune]
	if !ok {
		return nil, eris.Errorf("refdata: %s is missing the %q column", path, colComune)
	}

	ds := make(Dataset)
	for rowNum, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		idRaw := cellAt(cells, idIdx)
		if idRaw == "" {
			continue // trailing blank rows are common in hand-edited sheets
		}
		id, err := strconv.Atoi(idRaw)
		if err != nil || id <= 0 {
			return nil, eris.Errorf("refdata: %s row %d: invalid id %q", path, rowNum+2, idRaw)
		}

		rec := Record{
			Intervention: model.InterventionID(id),
			Comune:       cellAt(cells, comuneIdx),
		}
		if idx, ok := colIdx[colLocalita]; ok {
			rec.Localita = cellAt(cells, idx)
		}
		if idx, ok := colIdx[colYear]; ok {
			if raw := cellAt(cells, idx); raw != "" {
				year, err := strconv.Atoi(raw)
				if err != nil {
					return nil, eris.Errorf("refdata: %s row %d: invalid year %q", path, rowNum+2, raw)
				}
				rec.Year = year
			}
		}

		if _, dup := ds[rec.Intervention]; dup {
			return nil, eris.Errorf("refdata: %s row %d: duplicate id %d", path, rowNum+2, id)
		}
		ds[rec.Intervention] = rec
	}

	if len(ds) == 0 {
		return nil, eris.Errorf("refdata: %s has no usable rows", path)
	}
	return ds, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}
