package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"allocplan/internal/model"
)

func TestNormalizeMatrixFillsEmptyCellsInOrder(t *testing.T) {
	got := NormalizeMatrix(model.CityMatrix{AA: 50})
	require.Equal(t, model.CityMatrix{AA: 50, AB: 7, AC: 7, BA: 6, BB: 6, BC: 6, CA: 6, CB: 6, CC: 6}, got)
	require.Equal(t, 100, got.Total())
}

func TestNormalizeMatrixLeavesFullInputsAlone(t *testing.T) {
	over := model.CityMatrix{AA: 60, BB: 50}
	require.Equal(t, over, NormalizeMatrix(over))

	allSet := model.CityMatrix{AA: 10, AB: 10, AC: 10, BA: 10, BB: 10, BC: 10, CA: 10, CB: 10, CC: 10}
	require.Equal(t, allSet, NormalizeMatrix(allSet))
	require.Equal(t, 90, NormalizeMatrix(allSet).Total())
}

func TestNormalizeMatrixFromEmpty(t *testing.T) {
	got := NormalizeMatrix(model.CityMatrix{})
	require.Equal(t, 12, got.AA)
	require.Equal(t, 11, got.CC)
	require.Equal(t, 100, got.Total())
}

func TestNormalizeSeasonal(t *testing.T) {
	got := NormalizeSeasonal(model.SeasonalDistribution{Jan: 30})
	require.Equal(t, []int{30, 7, 7, 7, 7, 6, 6, 6, 6, 6, 6, 6}, got.Values())
	require.Equal(t, 100, got.Total())
}

func TestNormalizePercentagesClosure(t *testing.T) {
	for total := 0; total < 100; total++ {
		for setCells := 1; setCells <= 3; setCells++ {
			in := make([]int, 9)
			// spread total over the last setCells cells
			for i, n := range SplitEven(total, setCells) {
				in[8-i] = n
			}
			out := NormalizePercentages(in)
			sum := 0
			for i, v := range out {
				sum += v
				if in[i] != 0 {
					require.Equal(t, in[i], v, "set cells must be preserved")
				}
			}
			require.Equal(t, 100, sum, "total=%d set=%d", total, setCells)
		}
	}
}

func TestNormalizePercentagesDoesNotAliasInput(t *testing.T) {
	in := []int{0, 40}
	out := NormalizePercentages(in)
	require.Equal(t, []int{60, 40}, out)
	require.Equal(t, []int{0, 40}, in)
}
