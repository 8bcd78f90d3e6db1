package input

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/taxbill-cli/internal/model"
)

// LoadXLSX reads work items from the first sheet of an XLSX batch file.
// The first row must be a header.
func LoadXLSX(path string) ([]model.WorkItem, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "input: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("input: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.New("input: xlsx sheet is empty")
	}

	fields := mapHeader(rowToStrings(sheet.Rows[0]))

	var items []model.WorkItem
	for i, row := range sheet.Rows[1:] {
		record := rowToStrings(row)
		if isBlankRow(record) {
			continue
		}
		item, err := rowToItem(fields, record, i+2)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
