package input

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxbill-cli/internal/model"
)

// LoadCSV reads a header-mapped CSV batch file into ordered work items.
func LoadCSV(path string) ([]model.WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "input: open csv")
	}
	defer f.Close()

	return ReadCSV(f)
}

// ReadCSV parses CSV work items from r. The first row must be a header.
func ReadCSV(r io.Reader) ([]model.WorkItem, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("input: csv is empty")
	}
	if err != nil {
		return nil, eris.Wrap(err, "input: read csv header")
	}
	fields := mapHeader(header)

	var items []model.WorkItem
	rowNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "input: read csv row %d", rowNum+1)
		}
		rowNum++

		if isBlankRow(record) {
			continue
		}
		item, err := rowToItem(fields, record, rowNum)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func isBlankRow(record []string) bool {
	for _, cell := range record {
		if cell != "" {
			return false
		}
	}
	return true
}
