package alloc

import "allocplan/internal/model"

// NormalizePercentages fills the unset (zero) cells so the slice sums to 100.
// Set cells are never changed. When the set cells already reach 100, or no cell
// is unset, the values are returned as they are.
func NormalizePercentages(values []int) []int {
	out := append([]int(nil), values...)
	total, empty := 0, 0
	for _, v := range out {
		if v == 0 {
			empty++
			continue
		}
		total += v
	}
	if total >= 100 || empty == 0 {
		return out
	}
	remaining := 100 - total
	base, extra := remaining/empty, remaining%empty
	for i, v := range out {
		if v != 0 {
			continue
		}
		out[i] = base
		if extra > 0 {
			out[i]++
			extra--
		}
	}
	return out
}

// NormalizeMatrix fills the matrix in AA..CC order.
func NormalizeMatrix(m model.CityMatrix) model.CityMatrix {
	return model.CityMatrixFrom(NormalizePercentages(m.Values()))
}

// NormalizeSeasonal fills the curve in January..December order.
func NormalizeSeasonal(s model.SeasonalDistribution) model.SeasonalDistribution {
	return model.SeasonalFrom(NormalizePercentages(s.Values()))
}
