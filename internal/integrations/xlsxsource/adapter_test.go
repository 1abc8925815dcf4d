package xlsxsource

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, sheet string, rows [][]any) *bytes.Buffer {
	t.Helper()
	wb := excelize.NewFile()
	defer func() { _ = wb.Close() }()
	_, err := wb.NewSheet(sheet)
	require.NoError(t, err)
	require.NoError(t, wb.DeleteSheet("Sheet1"))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, wb.SetSheetRow(sheet, cell, &row))
	}
	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestReadRowsFirstSheet(t *testing.T) {
	buf := buildWorkbook(t, "Catalog", [][]any{
		{"city_id", "city_name", "classification", "node_id"},
		{"nyc", "New York", "A", "nyc-1"},
	})
	rows, err := Source{}.ReadRows(buf)
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"city_id", "city_name", "classification", "node_id"},
		{"nyc", "New York", "A", "nyc-1"},
	}, rows)
}

func TestReadRowsErrors(t *testing.T) {
	_, err := Source{}.ReadRows(bytes.NewBufferString("not a workbook"))
	require.Error(t, err)

	buf := buildWorkbook(t, "Catalog", [][]any{{"city_id"}})
	_, err = Source{Sheet: "Missing"}.ReadRows(buf)
	require.Error(t, err)
}
