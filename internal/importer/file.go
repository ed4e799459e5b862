package importer

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadFile reads a tabular file and returns its header row and data
// rows. The format is picked by extension: .csv or .xlsx.
func ReadFile(path string) (header []string, rows [][]string, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "importer: open csv")
		}
		defer f.Close()
		return ReadCSV(f)
	case ".xlsx":
		return ReadXLSX(path)
	}
	return nil, nil, eris.Errorf("importer: unsupported file type %q", filepath.Ext(path))
}

// ReadCSV reads all records from r. The first record is the header.
func ReadCSV(r io.Reader) (header []string, rows [][]string, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields

	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "importer: read csv row")
		}
		if first {
			first = false
			header = record
			continue
		}
		rows = append(rows, record)
	}
	if header == nil {
		return nil, nil, eris.New("importer: empty csv file")
	}
	return header, rows, nil
}

// ReadXLSX reads the first sheet of an XLSX workbook. The first row
// is the header.
func ReadXLSX(path string) (header []string, rows [][]string, err error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "importer: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.New("importer: workbook has no sheets")
	}

	for i, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if i == 0 {
			header = cells
			continue
		}
		rows = append(rows, cells)
	}
	if header == nil {
		return nil, nil, eris.New("importer: empty sheet")
	}
	return header, rows, nil
}
