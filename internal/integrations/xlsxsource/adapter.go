package xlsxsource

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Source reads catalogs from an Excel workbook. Sheet names the sheet to read;
// empty selects the first one.
type Source struct {
	Sheet string
}

func (Source) Name() string { return "xlsx" }

func (s Source) ReadRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open excel: %w", err)
	}
	defer func() { _ = f.Close() }()
	sheet := s.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}
