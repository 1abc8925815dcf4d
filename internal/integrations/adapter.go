// Package integrations imports city and node catalogs from external files.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"allocplan/internal/model"
)

// ErrBadCatalog marks files that could not be read or lack the required header.
var ErrBadCatalog = errors.New("bad catalog")

// CatalogSource reads the rows of a catalog file in one format. The first row
// is the header.
type CatalogSource interface {
	Name() string
	ReadRows(r io.Reader) ([][]string, error)
}

// Catalog is the decoded content of one import file. Cities are unique by id.
type Catalog struct {
	Cities []model.CityInput
	Nodes  []model.NodeInput
}

// CatalogWriter is the subset of the store an import writes to.
type CatalogWriter interface {
	UpsertCity(ctx context.Context, tenantID string, in model.CityInput) (model.City, error)
	UpsertNode(ctx context.Context, tenantID string, in model.NodeInput) (model.Node, error)
}

type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Source string     `json:"source"`
	Cities int        `json:"cities"`
	Nodes  int        `json:"nodes"`
	Errors []RowError `json:"errors,omitempty"`
}

// Column names accepted in the header row, case-insensitive.
const (
	ColCityID         = "city_id"
	ColCityName       = "city_name"
	ColClassification = "classification"
	ColNodeID         = "node_id"
	ColNodeName       = "node_name"
	ColActive         = "active"
)

// ParseRows turns a header row plus data rows into a Catalog. Each row names a
// city and optionally one node in it; repeated city ids are merged.
func ParseRows(rows [][]string) (Catalog, []RowError, error) {
	if len(rows) == 0 {
		return Catalog{}, nil, fmt.Errorf("catalog has no header row")
	}
	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx[ColCityID]; !ok {
		return Catalog{}, nil, fmt.Errorf("catalog header must include %s", ColCityID)
	}
	cell := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var cat Catalog
	var rowErrs []RowError
	seen := map[string]int{}
	for n, row := range rows[1:] {
		rowNo := n + 2
		cityID := cell(row, ColCityID)
		if cityID == "" {
			if strings.TrimSpace(strings.Join(row, "")) != "" {
				rowErrs = append(rowErrs, RowError{Row: rowNo, Reason: "missing city_id"})
			}
			continue
		}
		class := model.Classification(strings.ToUpper(cell(row, ColClassification)))
		if class != "" && !class.Valid() {
			rowErrs = append(rowErrs, RowError{Row: rowNo, Reason: fmt.Sprintf("invalid classification %q", class)})
			continue
		}
		active, err := parseActive(cell(row, ColActive))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: rowNo, Reason: err.Error()})
			continue
		}
		city := model.CityInput{ID: cityID, Name: cell(row, ColCityName), Classification: class, Active: active}
		if i, ok := seen[cityID]; ok {
			// later rows fill in what earlier rows left blank
			prev := &cat.Cities[i]
			if prev.Name == "" {
				prev.Name = city.Name
			}
			if prev.Classification == "" {
				prev.Classification = city.Classification
			}
		} else {
			seen[cityID] = len(cat.Cities)
			cat.Cities = append(cat.Cities, city)
		}
		if nodeID := cell(row, ColNodeID); nodeID != "" {
			cat.Nodes = append(cat.Nodes, model.NodeInput{ID: nodeID, CityID: cityID, Name: cell(row, ColNodeName)})
		}
	}
	return cat, rowErrs, nil
}

func parseActive(v string) (*bool, error) {
	var b bool
	switch strings.ToLower(v) {
	case "":
		return nil, nil
	case "1", "true", "yes", "y":
		b = true
	case "0", "false", "no", "n":
		b = false
	default:
		return nil, fmt.Errorf("invalid active value %q", v)
	}
	return &b, nil
}

// Import reads r with src and upserts the catalog for tenantID. Row-level
// problems are reported in the result; store failures abort the import. Import
// is not atomic: rows written before a store failure stay, and the returned
// result counts them.
func Import(ctx context.Context, w CatalogWriter, src CatalogSource, tenantID string, r io.Reader) (ImportResult, error) {
	res := ImportResult{Source: src.Name()}
	rows, err := src.ReadRows(r)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrBadCatalog, src.Name(), err)
	}
	cat, rowErrs, err := ParseRows(rows)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrBadCatalog, err)
	}
	res.Errors = rowErrs
	for _, c := range cat.Cities {
		if _, err := w.UpsertCity(ctx, tenantID, c); err != nil {
			return res, fmt.Errorf("city %s: %w", c.ID, err)
		}
		res.Cities++
	}
	for _, n := range cat.Nodes {
		if _, err := w.UpsertNode(ctx, tenantID, n); err != nil {
			return res, fmt.Errorf("node %s: %w", n.ID, err)
		}
		res.Nodes++
	}
	return res, nil
}
