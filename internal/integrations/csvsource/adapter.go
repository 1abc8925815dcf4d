package csvsource

import (
	"encoding/csv"
	"io"
)

// Source reads comma-separated catalogs.
type Source struct{}

func (Source) Name() string { return "csv" }

func (Source) ReadRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}
