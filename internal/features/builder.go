// Package features turns a booking series into the model's feature table.
//
// Series statistics are computed per (route, train_type) group after the
// group is sorted by date, and only ever look backwards: lag N is the value
// N rows earlier, rolling windows end at the current row. Gaps left by
// short histories are back-filled, then forward-filled, then zeroed within
// the group.
package features

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/stat"

	"trainflow/internal/calendar"
	"trainflow/internal/store"
)

var (
	DefaultLags    = []int{1, 7, 14, 30, 365}
	DefaultWindows = []int{7, 14, 30}
)

var dateColumns = []string{
	"day_of_week", "month", "day", "day_of_year", "week_of_year", "quarter", "year",
	"is_weekend", "is_friday", "is_sunday", "is_month_start", "is_month_end",
}

var contextColumns = []string{
	"is_holiday", "holiday_multiplier", "weekly_multiplier",
	"holiday_weekend_interaction", "route_popularity", "train_priority",
}

var encodedColumns = []string{"route_encoded", "train_type_encoded", "route_train_encoded"}

var trainPriority = map[string]float64{"Eksekutif": 3, "Bisnis": 2, "Ekonomi": 1}

// Builder derives features. The zero value uses DefaultLags and
// DefaultWindows and takes is_holiday from the records alone.
type Builder struct {
	Lags    []int
	Windows []int
	// Holidays, when set, also marks dates it knows as holidays.
	Holidays calendar.HolidaySource
}

func NewBuilder(holidays calendar.HolidaySource) *Builder {
	return &Builder{
		Lags:     DefaultLags,
		Windows:  DefaultWindows,
		Holidays: holidays,
	}
}

func (b *Builder) lags() []int {
	if len(b.Lags) == 0 {
		return DefaultLags
	}
	return b.Lags
}

func (b *Builder) windows() []int {
	if len(b.Windows) == 0 {
		return DefaultWindows
	}
	return b.Windows
}

// Columns lists the feature columns in table order.
func (b *Builder) Columns() []string {
	cols := slices.Concat(dateColumns, calendar.Names(), contextColumns, encodedColumns)
	for _, n := range b.lags() {
		cols = append(cols, fmt.Sprintf("bookings_lag_%d", n))
	}
	for _, n := range b.lags() {
		cols = append(cols, fmt.Sprintf("holiday_mult_lag_%d", n))
	}
	for _, w := range b.windows() {
		cols = append(cols,
			fmt.Sprintf("bookings_rolling_mean_%d", w),
			fmt.Sprintf("bookings_rolling_std_%d", w),
			fmt.Sprintf("bookings_trend_%d", w),
		)
	}
	return cols
}

// Build fits encoders on records and builds the table with them.
func (b *Builder) Build(ctx context.Context, records []store.Record) (*Table, error) {
	return b.BuildWithEncoders(ctx, records, FitEncoders(records))
}

// BuildWithEncoders builds the table using previously fitted encoders.
func (b *Builder) BuildWithEncoders(ctx context.Context, records []store.Record, enc Encoders) (*Table, error) {
	cols := b.Columns()
	t := &Table{
		Columns:  cols,
		Rows:     make([][]float64, 0, len(records)),
		Target:   make([]float64, 0, len(records)),
		Keys:     make([]RowKey, 0, len(records)),
		Encoders: enc,
	}
	seriesStart := len(dateColumns) + len(calendar.Names()) + len(contextColumns) + len(encodedColumns)

	for _, group := range groupSeries(records) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := make([][]float64, len(group))
		for i, r := range group {
			row := make([]float64, len(cols))
			b.fillStatic(ctx, row, r, enc)
			rows[i] = row
		}
		b.fillSeries(rows, group, seriesStart)
		fillGaps(rows, seriesStart)

		for i, r := range group {
			t.Rows = append(t.Rows, rows[i])
			t.Target = append(t.Target, float64(r.Bookings))
			t.Keys = append(t.Keys, RowKey{Route: r.Route, TrainType: r.TrainType, Date: r.Date})
		}
	}
	return t, nil
}

// groupSeries splits records by (route, train_type) in sorted key order and
// date-sorts each group. The input slice is not reordered.
func groupSeries(records []store.Record) [][]store.Record {
	type key struct{ route, trainType string }
	byKey := map[key][]store.Record{}
	for _, r := range records {
		k := key{r.Route, r.TrainType}
		byKey[k] = append(byKey[k], r)
	}
	keys := make([]key, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b key) int {
		return cmp.Or(cmp.Compare(a.route, b.route), cmp.Compare(a.trainType, b.trainType))
	})

	out := make([][]store.Record, len(keys))
	for i, k := range keys {
		group := byKey[k]
		slices.SortStableFunc(group, func(a, b store.Record) int {
			return a.Date.Compare(b.Date)
		})
		out[i] = group
	}
	return out
}

func (b *Builder) fillStatic(ctx context.Context, row []float64, r store.Record, enc Encoders) {
	date := calendar.Date(r.Date)
	dow := calendar.DayOfWeek(date)
	_, week := date.ISOWeek()
	day := date.Day()
	weekend := calendar.IsWeekend(date)

	i := 0
	put := func(v float64) {
		row[i] = v
		i++
	}

	put(float64(dow))
	put(float64(date.Month()))
	put(float64(day))
	put(float64(date.YearDay()))
	put(float64(week))
	put(float64((int(date.Month())-1)/3 + 1))
	put(float64(date.Year()))
	put(b2f(weekend))
	put(b2f(dow == 4))
	put(b2f(dow == 6))
	put(b2f(day <= 5))
	put(b2f(day >= 25))

	hf := calendar.HolidayFeatures(date)
	for _, v := range hf.Values() {
		put(v)
	}

	holiday := r.IsHoliday || (b.Holidays != nil && calendar.IsHoliday(ctx, b.Holidays, date))
	holidayMult := r.HolidayMultiplier
	if holidayMult == 0 {
		holidayMult = calendar.HolidayMultiplier(hf, weekend)
	}
	weeklyMult := r.WeeklyMultiplier
	if weeklyMult == 0 {
		weeklyMult = 1
	}
	priority, ok := trainPriority[r.TrainType]
	if !ok {
		priority = 2
	}
	put(b2f(holiday))
	put(holidayMult)
	put(weeklyMult)
	put(hf.HolidayIntensity * b2f(weekend))
	put(b2f(strings.Contains(r.Route, "Jakarta")))
	put(priority)

	route, trainType, pair := enc.encode(r)
	put(route)
	put(trainType)
	put(pair)
}

// fillSeries writes lag and rolling columns starting at offset. Undefined
// values are NaN until fillGaps runs.
func (b *Builder) fillSeries(rows [][]float64, group []store.Record, offset int) {
	// holiday_multiplier was resolved by fillStatic; reuse it.
	multCol := len(dateColumns) + len(calendar.Names()) + 1
	bookings := make([]float64, len(group))
	holidayMult := make([]float64, len(group))
	for i, r := range group {
		bookings[i] = float64(r.Bookings)
		holidayMult[i] = rows[i][multCol]
	}

	col := offset
	for _, series := range [][]float64{bookings, holidayMult} {
		for _, n := range b.lags() {
			for i := range rows {
				rows[i][col] = lag(series, i, n)
			}
			col++
		}
	}

	for _, w := range b.windows() {
		for i := range rows {
			mean, std := rolling(bookings, i, w)
			rows[i][col] = mean
			rows[i][col+1] = std
			rows[i][col+2] = bookings[i] / (mean + 1)
		}
		col += 3
	}
}

func lag(series []float64, i, n int) float64 {
	if i < n {
		return math.NaN()
	}
	return series[i-n]
}

// rolling returns the mean and sample standard deviation of the trailing
// window of w values ending at i. Short windows at the start of a series
// are allowed; the deviation of a single value is undefined.
func rolling(series []float64, i, w int) (mean, std float64) {
	start := max(0, i-w+1)
	window := series[start : i+1]
	mean = stat.Mean(window, nil)
	if len(window) < 2 {
		return mean, math.NaN()
	}
	return mean, stat.StdDev(window, nil)
}

// fillGaps back-fills, forward-fills and then zero-fills every column from
// offset on, within one group.
func fillGaps(rows [][]float64, offset int) {
	if len(rows) == 0 {
		return
	}
	for c := offset; c < len(rows[0]); c++ {
		next := math.NaN()
		for i := len(rows) - 1; i >= 0; i-- {
			if math.IsNaN(rows[i][c]) {
				rows[i][c] = next
			} else {
				next = rows[i][c]
			}
		}
		prev := math.NaN()
		for i := range rows {
			if math.IsNaN(rows[i][c]) {
				rows[i][c] = prev
			} else {
				prev = rows[i][c]
			}
		}
		for i := range rows {
			if math.IsNaN(rows[i][c]) {
				rows[i][c] = 0
			}
		}
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
