package alloc

import (
	"fmt"

	"github.com/shopspring/decimal"

	"allocplan/internal/model"
)

var hundred = decimal.NewFromInt(100)

// CityPairRoute is the share of one matrix cell assigned to an ordered city pair.
type CityPairRoute struct {
	Cell         string `json:"cell"`
	OriginCityID string `json:"originCityId"`
	DestCityID   string `json:"destCityId"`
	Samples      int    `json:"samples"`
}

// Buckets groups participating cities by classification.
type Buckets struct {
	Cities map[model.Classification][]model.City
	// active node IDs per city, in input order
	Nodes map[string][]string
}

// BucketCities keeps the active cities that own at least one active node.
// Cities without a classification fall into the default class.
func BucketCities(cities []model.City, nodes []model.Node) Buckets {
	b := Buckets{Cities: map[model.Classification][]model.City{}, Nodes: map[string][]string{}}
	active := map[string]bool{}
	for _, c := range cities {
		if c.Active {
			active[c.ID] = true
		}
	}
	for _, n := range nodes {
		if n.Active && active[n.CityID] {
			b.Nodes[n.CityID] = append(b.Nodes[n.CityID], n.ID)
		}
	}
	seen := map[string]bool{}
	for _, c := range cities {
		if !c.Active || len(b.Nodes[c.ID]) == 0 || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		c.Classification = c.Classification.OrDefault()
		b.Cities[c.Classification] = append(b.Cities[c.Classification], c)
	}
	return b
}

// CellTotal is round(total * pct / 100), rounding halves away from zero.
func CellTotal(total, pct int) int {
	return int(decimal.NewFromInt(int64(total)).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(hundred).
		Round(0).
		IntPart())
}

// DistributeRoutes applies the matrix to the city buckets. Each cell is rounded
// independently, so the routed total may differ from total by up to one sample
// per non-zero cell.
func DistributeRoutes(total int, b Buckets, m model.CityMatrix, diag *Diagnostics) []CityPairRoute {
	var routes []CityPairRoute
	values := m.Values()
	for i, cell := range model.MatrixCells {
		pct := values[i]
		if pct == 0 {
			continue
		}
		cellTotal := CellTotal(total, pct)
		if cellTotal == 0 {
			continue
		}
		origins, dests := b.Cities[cell.Origin], b.Cities[cell.Dest]
		if len(origins) == 0 || len(dests) == 0 {
			diag.add(Diagnostic{
				Reason:  ReasonEmptyBucket,
				Cell:    cell.Name,
				Samples: cellTotal,
				Detail:  fmt.Sprintf("no active cities with active nodes for cell %s", cell.Name),
			})
			continue
		}
		pairs := make([][2]string, 0, len(origins)*len(dests))
		for _, o := range origins {
			for _, d := range dests {
				if o.ID == d.ID {
					continue
				}
				pairs = append(pairs, [2]string{o.ID, d.ID})
			}
		}
		if len(pairs) == 0 {
			diag.add(Diagnostic{
				Reason:  ReasonNoCityPairs,
				Cell:    cell.Name,
				Samples: cellTotal,
				Detail:  fmt.Sprintf("cell %s has no distinct city pairs", cell.Name),
			})
			continue
		}
		for j, n := range SplitEven(cellTotal, len(pairs)) {
			routes = append(routes, CityPairRoute{
				Cell:         cell.Name,
				OriginCityID: pairs[j][0],
				DestCityID:   pairs[j][1],
				Samples:      n,
			})
		}
	}
	return routes
}

// SplitEven divides total into n parts of floor(total/n); the first total%n parts
// get one more.
func SplitEven(total, n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	base := total / n
	r := total - base*n
	for i := range out {
		out[i] = base
		if i < r {
			out[i]++
		}
	}
	return out
}
