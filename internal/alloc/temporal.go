package alloc

import (
	"time"

	"github.com/shopspring/decimal"

	"allocplan/internal/model"
)

// EnumerateWeeks walks from start to end in 7-day steps and returns the distinct
// ISO weeks visited. Only consecutive repeats are dropped. end before start
// yields no weeks.
func EnumerateWeeks(start, end time.Time) []ISOWeek {
	start = dateOnly(start)
	end = dateOnly(end)
	var weeks []ISOWeek
	for d := start; !d.After(end); d = d.AddDate(0, 0, 7) {
		w := ISOWeekOf(d)
		if n := len(weeks); n > 0 && weeks[n-1] == w {
			continue
		}
		weeks = append(weeks, w)
	}
	return weeks
}

// SplitUniform spreads samples over the weeks with the floor+remainder rule.
func SplitUniform(samples int, weeks []ISOWeek) []int {
	return SplitEven(samples, len(weeks))
}

// SplitSeasonal weights each week by the seasonal percentage of the month its
// Monday falls in. The weights are normalized to sum to one, each week gets
// round(samples*weight), and whatever rounding left over (either sign) goes to the
// first week. ok is false when every week has zero weight.
func SplitSeasonal(samples int, weeks []ISOWeek, seasonal model.SeasonalDistribution) (out []int, ok bool) {
	if len(weeks) == 0 {
		return nil, true
	}
	factors := make([]decimal.Decimal, len(weeks))
	sum := decimal.Zero
	for i, w := range weeks {
		factors[i] = decimal.NewFromInt(int64(seasonal.Month(w.Monday().Month())))
		sum = sum.Add(factors[i])
	}
	if !sum.IsPositive() {
		return nil, false
	}
	total := decimal.NewFromInt(int64(samples))
	out = make([]int, len(weeks))
	allocated := 0
	for i, f := range factors {
		out[i] = int(total.Mul(f).Div(sum).Round(0).IntPart())
		allocated += out[i]
	}
	out[0] += samples - allocated
	return out, true
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
