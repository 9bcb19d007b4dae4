// Package bizday computes business-day dates for deferred payouts. It decides
// when a scheduled payout lands, never whether it is allowed.
package bizday

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownCountry = errors.New("bizday: unknown country calendar")

// NextBusinessDay returns the first UTC date strictly after from that is
// neither a weekend day nor a holiday in the given country's calendar.
func NextBusinessDay(from time.Time, country string) (time.Time, error) {
	if _, err := holidayRules(country); err != nil {
		return time.Time{}, err
	}

	d := truncateUTC(from).AddDate(0, 0, 1)
	for {
		ok, err := IsBusinessDay(d, country)
		if err != nil {
			return time.Time{}, err
		}
		if ok {
			return d, nil
		}
		d = d.AddDate(0, 0, 1)
	}
}

// IsBusinessDay reports whether the UTC calendar date of t is a business day.
func IsBusinessDay(t time.Time, country string) (bool, error) {
	d := truncateUTC(t)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false, nil
	}
	holidays, err := HolidaysForYear(country, d.Year())
	if err != nil {
		return false, err
	}
	for _, h := range holidays {
		if h.Equal(d) {
			return false, nil
		}
	}
	return true, nil
}

// HolidaysForYear computes the observed holiday dates falling in one calendar
// year. Fixed-date holidays shift to the nearest weekday when they land on a
// weekend (Saturday observes the previous Friday, Sunday the next Monday), and
// that shift can cross the year boundary: New Year's Day on a Saturday is
// observed the previous December 31. Adjacent years' rules are evaluated too
// and the result filtered to the requested year.
func HolidaysForYear(country string, year int) ([]time.Time, error) {
	rules, err := holidayRules(country)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(rules))
	for y := year - 1; y <= year+1; y++ {
		for _, rule := range rules {
			if d := rule(y); d.Year() == year {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

type rule func(year int) time.Time

func holidayRules(country string) ([]rule, error) {
	switch country {
	case "US":
		return usRules, nil
	case "CA":
		return caRules, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCountry, country)
	}
}

var usRules = []rule{
	func(y int) time.Time { return observedFixed(y, time.January, 1) },    // New Year's Day
	func(y int) time.Time { return nthWeekday(y, time.January, time.Monday, 3) },  // MLK Day
	func(y int) time.Time { return nthWeekday(y, time.February, time.Monday, 3) }, // Presidents' Day
	func(y int) time.Time { return lastWeekday(y, time.May, time.Monday) },        // Memorial Day
	func(y int) time.Time { return observedFixed(y, time.June, 19) },      // Juneteenth
	func(y int) time.Time { return observedFixed(y, time.July, 4) },       // Independence Day
	func(y int) time.Time { return nthWeekday(y, time.September, time.Monday, 1) }, // Labor Day
	func(y int) time.Time { return nthWeekday(y, time.November, time.Thursday, 4) }, // Thanksgiving
	func(y int) time.Time { return observedFixed(y, time.December, 25) },  // Christmas
}

var caRules = []rule{
	func(y int) time.Time { return observedFixed(y, time.January, 1) }, // New Year's Day
	func(y int) time.Time { return easter(y).AddDate(0, 0, -2) },       // Good Friday
	func(y int) time.Time { return mondayBefore(y, time.May, 25) },     // Victoria Day
	func(y int) time.Time { return observedFixed(y, time.July, 1) },    // Canada Day
	func(y int) time.Time { return nthWeekday(y, time.September, time.Monday, 1) }, // Labour Day
	func(y int) time.Time { return nthWeekday(y, time.October, time.Monday, 2) },   // Thanksgiving
	func(y int) time.Time { return observedFixed(y, time.December, 25) }, // Christmas
	func(y int) time.Time { return observedFixed(y, time.December, 26) }, // Boxing Day
}

// observedFixed shifts a fixed-date holiday off the weekend.
func observedFixed(year int, month time.Month, day int) time.Time {
	d := date(year, month, day)
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}

// nthWeekday returns the nth occurrence of a weekday in a month.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	d := date(year, month, 1)
	offset := (int(wd) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the last occurrence of a weekday in a month.
func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	d := date(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(wd) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// mondayBefore returns the last Monday strictly before the given date.
func mondayBefore(year int, month time.Month, day int) time.Time {
	d := date(year, month, day)
	offset := (int(d.Weekday()) - int(time.Monday) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return d.AddDate(0, 0, -offset)
}

// easter computes Gregorian Easter Sunday via the Meeus/Jones/Butcher algorithm.
func easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return date(year, time.Month(month), day)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func truncateUTC(t time.Time) time.Time {
	u := t.UTC()
	return date(u.Year(), u.Month(), u.Day())
}
