package bizday

import (
	"errors"
	"testing"
	"time"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestNextBusinessDay_SkipsWeekendAndMondayHoliday(t *testing.T) {
	// Friday 2026-01-16; Monday 2026-01-19 is MLK Day (3rd Monday of January).
	got, err := NextBusinessDay(d(2026, time.January, 16), "US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := d(2026, time.January, 20)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextBusinessDay_MidWeek(t *testing.T) {
	got, err := NextBusinessDay(d(2026, time.March, 10), "US") // Tuesday
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := d(2026, time.March, 11); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestObservedFixed_SaturdayObservesFriday(t *testing.T) {
	// July 4 2026 is a Saturday; observed Friday July 3.
	observed := observedFixed(2026, time.July, 4)
	if want := d(2026, time.July, 3); !observed.Equal(want) {
		t.Fatalf("got %v, want %v", observed, want)
	}

	ok, err := IsBusinessDay(d(2026, time.July, 3), "US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("observed Friday should not be a business day")
	}
}

func TestObservedFixed_SundayObservesMonday(t *testing.T) {
	// January 1 2028 is a Saturday -> Friday Dec 31 2027; use 2023: Jan 1 is Sunday.
	observed := observedFixed(2023, time.January, 1)
	if want := d(2023, time.January, 2); !observed.Equal(want) {
		t.Fatalf("got %v, want %v", observed, want)
	}
}

func TestNextBusinessDay_ObservanceCrossesYearBoundary(t *testing.T) {
	// January 1 2022 is a Saturday, observed Friday 2021-12-31. From Thursday
	// 2021-12-30 the next business day skips the observance and the weekend.
	got, err := NextBusinessDay(d(2021, time.December, 30), "US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := d(2022, time.January, 3); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestHolidaysForYear_IncludesShiftedObservance(t *testing.T) {
	holidays, err := HolidaysForYear("US", 2021)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, h := range holidays {
		if h.Year() != 2021 {
			t.Fatalf("holiday %v outside requested year", h)
		}
		if h.Equal(d(2021, time.December, 31)) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected 2021-12-31 (observed New Year's Day 2022) in the 2021 list")
	}

	// The Jan 1 2022 rule shifted out of 2022; it must not appear there.
	holidays, err = HolidaysForYear("US", 2022)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, h := range holidays {
		if h.Equal(d(2022, time.January, 1)) {
			t.Fatal("unobserved Saturday Jan 1 should not be in the 2022 list")
		}
	}
}

func TestEaster_KnownDates(t *testing.T) {
	cases := map[int]time.Time{
		2024: d(2024, time.March, 31),
		2025: d(2025, time.April, 20),
		2026: d(2026, time.April, 5),
	}
	for year, want := range cases {
		if got := easter(year); !got.Equal(want) {
			t.Errorf("easter(%d) = %v, want %v", year, got, want)
		}
	}
}

func TestGoodFriday_IsCAHoliday(t *testing.T) {
	// Easter 2026 is April 5, so Good Friday is April 3.
	ok, err := IsBusinessDay(d(2026, time.April, 3), "CA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("Good Friday should not be a CA business day")
	}

	// The US calendar does not observe it.
	ok, err = IsBusinessDay(d(2026, time.April, 3), "US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("Good Friday is a regular US business day")
	}
}

func TestVictoriaDay(t *testing.T) {
	// 2026: May 25 is a Monday, so Victoria Day is May 18.
	if got, want := mondayBefore(2026, time.May, 25), d(2026, time.May, 18); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	// 2024: May 25 is a Saturday; last Monday before is May 20.
	if got, want := mondayBefore(2024, time.May, 25), d(2024, time.May, 20); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLastWeekday_MemorialDay(t *testing.T) {
	if got, want := lastWeekday(2026, time.May, time.Monday), d(2026, time.May, 25); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNthWeekday_Thanksgiving(t *testing.T) {
	if got, want := nthWeekday(2026, time.November, time.Thursday, 4), d(2026, time.November, 26); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestUnknownCountry(t *testing.T) {
	if _, err := NextBusinessDay(time.Now(), "FR"); !errors.Is(err, ErrUnknownCountry) {
		t.Fatalf("expected ErrUnknownCountry, got %v", err)
	}
}

func TestNextBusinessDay_StrictlyAfterFrom(t *testing.T) {
	// From a Wednesday business day the answer is Thursday, never the same day.
	got, err := NextBusinessDay(d(2026, time.March, 11), "CA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := d(2026, time.March, 12); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
