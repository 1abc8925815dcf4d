package alloc

import "time"

// ISOWeek identifies an ISO 8601 week.
type ISOWeek struct {
	Year int `json:"year"`
	Week int `json:"week"`
}

// ISOWeekOf returns the ISO year and week containing t.
func ISOWeekOf(t time.Time) ISOWeek {
	y, w := t.ISOWeek()
	return ISOWeek{Year: y, Week: w}
}

// FirstDayOfISOWeek returns the Monday (UTC midnight) of the given ISO week.
// Week 1 is the week containing January 4th.
func FirstDayOfISOWeek(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	// Monday=1 .. Sunday=7
	dow := int(jan4.Weekday())
	if dow == 0 {
		dow = 7
	}
	week1Monday := jan4.AddDate(0, 0, 1-dow)
	return week1Monday.AddDate(0, 0, (week-1)*7)
}

// Monday of w.
func (w ISOWeek) Monday() time.Time { return FirstDayOfISOWeek(w.Year, w.Week) }

// DaySampler is the randomness used to pick a day inside a week.
// *rand.Rand satisfies it.
type DaySampler interface {
	Intn(n int) int
}

// RandomDateInWeek picks one of the seven days of the ISO week.
func RandomDateInWeek(year, week int, s DaySampler) time.Time {
	return FirstDayOfISOWeek(year, week).AddDate(0, 0, s.Intn(7))
}
