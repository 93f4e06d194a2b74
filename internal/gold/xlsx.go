package gold

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pumpcast/internal/model"
)

// WriteXLSX writes t as a single-sheet workbook: a header row then one row
// per day. Missing values are empty cells.
func WriteXLSX(w io.Writer, t *model.GoldTable) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName(t.Name))
	if err != nil {
		return eris.Wrap(err, "gold: add sheet")
	}

	header := sheet.AddRow()
	header.AddCell().SetString(colDate)
	header.AddCell().SetString(string(model.ColTarget))
	for _, c := range t.Columns {
		header.AddCell().SetString(string(c))
	}
	header.AddCell().SetString(colNoSources)

	for _, r := range t.Rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Date.Format(model.DayLayout))
		setOpt(row.AddCell(), r.Target)
		for _, v := range r.Values {
			setOpt(row.AddCell(), v)
		}
		row.AddCell().SetBool(r.NoSources)
	}

	return eris.Wrap(f.Write(w), "gold: write xlsx")
}

// ReadXLSX reads a workbook written by WriteXLSX as string cells.
func ReadXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "gold: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("gold: workbook has no sheets")
	}
	var out [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			cells[j] = c.String()
		}
		out = append(out, cells)
	}
	return out, nil
}

func setOpt(c *xlsx.Cell, v model.Opt) {
	if v.Valid {
		c.SetFloat(v.V)
	}
}

// sheetName fits Excel's 31 character limit.
func sheetName(name string) string {
	if len(name) > 31 {
		return name[:31]
	}
	return name
}
