package normalize

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lead-ingest/internal/model"
)

// NormalizeXLSX reads the first sheet of a workbook and applies the same
// header and cell rules as Normalize. Workbooks are UTF-8 by construction, so
// no encoding detection runs.
func NormalizeXLSX(raw []byte, opts Options) (*model.RecordSet, error) {
	f, err := xlsx.OpenBinary(raw)
	if err != nil {
		return nil, &ParseError{Line: 1, Msg: "open workbook", Err: eris.Wrap(err, "normalize: open xlsx")}
	}
	if len(f.Sheets) == 0 {
		return nil, &ParseError{Line: 1, Msg: "workbook has no sheets"}
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}

	return NormalizeRows(rows, opts)
}

// NormalizeFile dispatches on the file name: spreadsheets go through
// NormalizeXLSX, everything else is treated as delimited text.
func NormalizeFile(name string, raw []byte, opts Options) (*model.RecordSet, error) {
	if model.IsXLSX(name) {
		return NormalizeXLSX(raw, opts)
	}
	return Normalize(raw, opts)
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
