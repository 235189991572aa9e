// Package calendar derives holiday and seasonal features for a civil date.
//
// Islamic holidays are approximated from a fixed anchor (Lebaran 2024-04-10)
// shifted by 10.875 days per year, the drift of a ~354.37 day lunar year
// against a ~365.25 day solar year. This is deliberately not an astronomical
// computation: models are trained against this exact approximation, so the
// formula must stay as it is.
package calendar

import (
	"math"
	"time"
)

const (
	lunarDriftDays = 10.875
	idulAdhaOffset = 70 * 24 * time.Hour
)

var lebaranAnchor = time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC)

// Date truncates t to a UTC civil date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LebaranDate approximates Eid al-Fitr for year. The fractional part of the
// shift is kept as hours, which matters for day differences near the holiday.
func LebaranDate(year int) time.Time {
	shift := time.Duration(float64(year-2024) * lunarDriftDays * float64(24*time.Hour))
	shifted := lebaranAnchor.Add(-shift)
	return time.Date(year, shifted.Month(), shifted.Day(), shifted.Hour(), shifted.Minute(), shifted.Second(), 0, time.UTC)
}

// IdulAdhaDate is exactly 70 days after LebaranDate.
func IdulAdhaDate(year int) time.Time {
	return LebaranDate(year).Add(idulAdhaOffset)
}

// Features is the full holiday feature set for one date. Every field is set
// for every input.
type Features struct {
	DaysToLebaran     int
	DaysFromLebaran   int
	IsLebaranWeek     bool
	IsLebaranPeriod   bool
	IsPreLebaran      bool
	IsPostLebaran     bool
	DaysToIdulAdha    int
	IsIdulAdhaWeek    bool
	IsIdulAdhaPeriod  bool
	DaysToChristmas   int
	DaysToNewYear     int
	IsChristmasPeriod bool
	IsYearEndHolidays bool
	IsIndependenceDay bool
	IsLaborDay        bool
	IsChineseNewYear  bool
	IsSchoolHoliday   bool
	IsMidYearHoliday  bool
	HolidayIntensity  float64
	IsPeakTravelMonth bool
	IsLowTravelMonth  bool
}

var featureNames = []string{
	"days_to_lebaran",
	"days_from_lebaran",
	"is_lebaran_week",
	"is_lebaran_period",
	"is_pre_lebaran",
	"is_post_lebaran",
	"days_to_idul_adha",
	"is_idul_adha_week",
	"is_idul_adha_period",
	"days_to_christmas",
	"days_to_new_year",
	"is_christmas_period",
	"is_year_end_holidays",
	"is_independence_day",
	"is_labor_day",
	"is_chinese_new_year",
	"is_school_holiday",
	"is_mid_year_holiday",
	"holiday_intensity",
	"is_peak_travel_month",
	"is_low_travel_month",
}

// Names lists feature columns in the order Values returns them.
func Names() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

func (f Features) Values() []float64 {
	return []float64{
		float64(f.DaysToLebaran),
		float64(f.DaysFromLebaran),
		b2f(f.IsLebaranWeek),
		b2f(f.IsLebaranPeriod),
		b2f(f.IsPreLebaran),
		b2f(f.IsPostLebaran),
		float64(f.DaysToIdulAdha),
		b2f(f.IsIdulAdhaWeek),
		b2f(f.IsIdulAdhaPeriod),
		float64(f.DaysToChristmas),
		float64(f.DaysToNewYear),
		b2f(f.IsChristmasPeriod),
		b2f(f.IsYearEndHolidays),
		b2f(f.IsIndependenceDay),
		b2f(f.IsLaborDay),
		b2f(f.IsChineseNewYear),
		b2f(f.IsSchoolHoliday),
		b2f(f.IsMidYearHoliday),
		f.HolidayIntensity,
		b2f(f.IsPeakTravelMonth),
		b2f(f.IsLowTravelMonth),
	}
}

// HolidayFeatures is pure: the same date always yields the same Features.
func HolidayFeatures(date time.Time) Features {
	date = Date(date)
	year, month, day := date.Date()

	var f Features

	f.DaysToLebaran = daysBetween(LebaranDate(year), date)
	f.DaysFromLebaran = -f.DaysToLebaran
	f.IsLebaranWeek = abs(f.DaysToLebaran) <= 3
	f.IsLebaranPeriod = abs(f.DaysToLebaran) <= 7
	f.IsPreLebaran = f.DaysToLebaran >= 0 && f.DaysToLebaran <= 14
	f.IsPostLebaran = f.DaysToLebaran >= -7 && f.DaysToLebaran <= 0

	f.DaysToIdulAdha = daysBetween(IdulAdhaDate(year), date)
	f.IsIdulAdhaWeek = abs(f.DaysToIdulAdha) <= 3
	f.IsIdulAdhaPeriod = abs(f.DaysToIdulAdha) <= 5

	christmas := time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)
	newYear := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	if month == time.December {
		newYear = time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	f.DaysToChristmas = daysBetween(christmas, date)
	f.DaysToNewYear = daysBetween(newYear, date)
	f.IsChristmasPeriod = (month == time.December && day >= 20) || (month == time.January && day <= 10)
	f.IsYearEndHolidays = month == time.December && day >= 15

	f.IsIndependenceDay = month == time.August && day >= 15 && day <= 17
	f.IsLaborDay = month == time.May && day == 1
	f.IsChineseNewYear = (month == time.January && day >= 20 && day <= 30) || (month == time.February && day <= 10)

	f.IsSchoolHoliday = month == time.June || month == time.July || month == time.December
	f.IsMidYearHoliday = month == time.June || month == time.July

	f.HolidayIntensity = intensity(f)

	switch month {
	case time.March, time.April, time.December, time.January:
		f.IsPeakTravelMonth = true
	case time.February, time.August, time.September:
		f.IsLowTravelMonth = true
	}

	return f
}

// intensity takes the maximum over every category that applies; categories
// never add up.
func intensity(f Features) float64 {
	score := 0.0
	for _, c := range []struct {
		on    bool
		value float64
	}{
		{f.IsLebaranWeek, 1.0},
		{f.IsChristmasPeriod, 0.9},
		{f.IsLebaranPeriod, 0.8},
		{f.IsIdulAdhaWeek, 0.7},
		{f.IsPreLebaran, 0.6},
		{f.IsSchoolHoliday, 0.4},
	} {
		if c.on && c.value > score {
			score = c.value
		}
	}
	return score
}

// HolidayMultiplier is the legacy demand multiplier carried in booking data.
// Later rules win: Idul Adha over Lebaran over Christmas, and a weekend
// outside Lebaran and Christmas is 1.3 even inside the Idul Adha period.
func HolidayMultiplier(f Features, isWeekend bool) float64 {
	m := 1.0
	if f.IsChristmasPeriod {
		m = 2.8
	}
	if f.IsLebaranPeriod {
		m = 2.5
	}
	if f.IsIdulAdhaPeriod {
		m = 2.0
	}
	if isWeekend && !f.IsLebaranPeriod && !f.IsChristmasPeriod {
		m = 1.3
	}
	return m
}

// IsWeekend reports Saturday or Sunday.
func IsWeekend(date time.Time) bool {
	wd := date.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DayOfWeek numbers Monday as 0 through Sunday as 6.
func DayOfWeek(date time.Time) int {
	return (int(date.Weekday()) + 6) % 7
}

// daysBetween floors (a - b) to whole days, so a holiday three hours after
// midnight is still "today" and one 21 hours before is "yesterday".
func daysBetween(a, b time.Time) int {
	return int(math.Floor(a.Sub(b).Hours() / 24))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
