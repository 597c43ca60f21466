package summary

import (
	"fmt"
	"time"
)

// epochStartDay anchors "all"-period rows in the time_overview table.
var epochStartDay = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Selection identifies one summary period: a whole product, a year, a
// month or a day. Zero fields mean "not selected"; a day requires a month
// requires a year.
type Selection struct {
	Year  int
	Month int
	Day   int
}

// SelectAll selects the whole-product period.
func SelectAll() Selection { return Selection{} }

// SelectYear selects a calendar year.
func SelectYear(year int) Selection { return Selection{Year: year} }

// SelectMonth selects a calendar month.
func SelectMonth(year int, month int) Selection {
	return Selection{Year: year, Month: month}
}

// SelectDay selects a single day.
func SelectDay(year, month, day int) Selection {
	return Selection{Year: year, Month: month, Day: day}
}

// Validate rejects out-of-range or incoherent selections.
func (s Selection) Validate() error {
	if s.Year == 0 {
		if s.Month != 0 || s.Day != 0 {
			return fmt.Errorf("month/day selection requires a year")
		}
		return nil
	}
	if s.Year < 1900 || s.Year > 2200 {
		return fmt.Errorf("year %d out of range", s.Year)
	}
	if s.Month == 0 && s.Day != 0 {
		return fmt.Errorf("day selection requires a month")
	}
	if s.Month < 0 || s.Month > 12 {
		return fmt.Errorf("month %d out of range", s.Month)
	}
	if s.Day < 0 || s.Day > 31 {
		return fmt.Errorf("day %d out of range", s.Day)
	}
	return nil
}

// Period returns the granularity of the selection.
func (s Selection) Period() Period {
	switch {
	case s.Year == 0:
		return PeriodAll
	case s.Month == 0:
		return PeriodYear
	case s.Day == 0:
		return PeriodMonth
	default:
		return PeriodDay
	}
}

// StartDay returns the date that keys this selection in the summary store.
func (s Selection) StartDay() time.Time {
	switch s.Period() {
	case PeriodAll:
		return epochStartDay
	case PeriodYear:
		return time.Date(s.Year, 1, 1, 0, 0, 0, 0, time.UTC)
	case PeriodMonth:
		return time.Date(s.Year, time.Month(s.Month), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(s.Year, time.Month(s.Month), s.Day, 0, 0, 0, 0, time.UTC)
	}
}

// Range returns the inclusive begin and exclusive end of the selection in
// the given grouping timezone. The whole-product period has no bounds and
// returns two zero times.
func (s Selection) Range(loc *time.Location) (begin, end time.Time) {
	switch s.Period() {
	case PeriodAll:
		return time.Time{}, time.Time{}
	case PeriodYear:
		begin = time.Date(s.Year, 1, 1, 0, 0, 0, 0, loc)
		return begin, begin.AddDate(1, 0, 0)
	case PeriodMonth:
		begin = time.Date(s.Year, time.Month(s.Month), 1, 0, 0, 0, 0, loc)
		return begin, begin.AddDate(0, 1, 0)
	default:
		begin = time.Date(s.Year, time.Month(s.Month), s.Day, 0, 0, 0, 0, loc)
		return begin, begin.AddDate(0, 0, 1)
	}
}

// Label renders the selection for logs and page titles: "all", "2017",
// "2017-06" or "2017-06-05".
func (s Selection) Label() string {
	switch s.Period() {
	case PeriodAll:
		return "all"
	case PeriodYear:
		return fmt.Sprintf("%d", s.Year)
	case PeriodMonth:
		return fmt.Sprintf("%d-%02d", s.Year, s.Month)
	default:
		return fmt.Sprintf("%d-%02d-%02d", s.Year, s.Month, s.Day)
	}
}

// SelectionForStartDay reverses StartDay for rows read back from the store.
func SelectionForStartDay(period Period, startDay time.Time) Selection {
	switch period {
	case PeriodAll:
		return SelectAll()
	case PeriodYear:
		return SelectYear(startDay.Year())
	case PeriodMonth:
		return SelectMonth(startDay.Year(), int(startDay.Month()))
	default:
		return SelectDay(startDay.Year(), int(startDay.Month()), startDay.Day())
	}
}

// MonthsOfYear enumerates the month selections within a year.
func MonthsOfYear(year int) []Selection {
	months := make([]Selection, 0, 12)
	for m := 1; m <= 12; m++ {
		months = append(months, SelectMonth(year, m))
	}
	return months
}
