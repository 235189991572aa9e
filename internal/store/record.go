package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"trainflow/internal/calendar"
)

// ErrDataIO wraps every failure to read, parse or write a series file.
var ErrDataIO = errors.New("series data i/o error")

// Record is one day of bookings for a (route, train type) pair.
type Record struct {
	Date              time.Time
	Route             string
	TrainType         string
	Bookings          int
	HolidayMultiplier float64
	WeeklyMultiplier  float64
	IsHoliday         bool
	IsWeekend         bool
	DayOfWeek         int
	Month             int
	Year              int
	// Extra carries baseline columns the pipeline does not interpret.
	Extra map[string]string
}

// Key identifies the series a record belongs to.
func (r Record) Key() string {
	return r.Route + "_" + r.TrainType
}

// Normalize fills the date-derived fields from Date and defaults the
// multipliers when they are unset.
func (r Record) Normalize() Record {
	r.Date = calendar.Date(r.Date)
	r.IsWeekend = calendar.IsWeekend(r.Date)
	r.DayOfWeek = calendar.DayOfWeek(r.Date)
	r.Month = int(r.Date.Month())
	r.Year = r.Date.Year()
	if r.WeeklyMultiplier == 0 {
		r.WeeklyMultiplier = 1
	}
	if r.HolidayMultiplier == 0 {
		r.HolidayMultiplier = calendar.HolidayMultiplier(calendar.HolidayFeatures(r.Date), r.IsWeekend)
	}
	return r
}

var columns = []string{
	"date", "route", "train_type", "bookings", "holiday_multiplier", "weekly_multiplier",
	"is_holiday", "is_weekend", "day_of_week", "month", "year",
}

// Header returns the fixed column names followed by extra.
func Header(extra []string) []string {
	return append(append([]string{}, columns...), extra...)
}

// aliases maps the column spellings found in historical exports onto the
// canonical names.
var aliases = map[string]string{
	"date":              "date",
	"route":             "route",
	"traintype":         "train_type",
	"train_type":        "train_type",
	"bookings":          "bookings",
	"holidaymultiplier": "holiday_multiplier",
	"weeklymultiplier":  "weekly_multiplier",
	"isholiday":         "is_holiday",
	"isweekend":         "is_weekend",
	"dayofweek":         "day_of_week",
	"month":             "month",
	"year":              "year",
}

func canonical(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if c, ok := aliases[strings.ReplaceAll(key, "_", "")]; ok {
		return c, true
	}
	return name, false
}

// ReadCSV parses a series file. It returns the records and the names of the
// extra columns in file order.
func ReadCSV(r io.Reader) ([]Record, []string, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading header: %v", ErrDataIO, err)
	}

	index := make(map[string]int, len(header))
	var extra []string
	extraIdx := map[string]int{}
	for i, name := range header {
		c, known := canonical(name)
		if known {
			index[c] = i
			continue
		}
		extra = append(extra, name)
		extraIdx[name] = i
	}
	for _, required := range []string{"date", "route", "train_type", "bookings"} {
		if _, ok := index[required]; !ok {
			return nil, nil, fmt.Errorf("%w: missing column %q", ErrDataIO, required)
		}
	}

	var out []Record
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", ErrDataIO, line, err)
		}
		rec, err := parseRow(row, index)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", ErrDataIO, line, err)
		}
		if len(extra) > 0 {
			rec.Extra = make(map[string]string, len(extra))
			for _, name := range extra {
				rec.Extra[name] = row[extraIdx[name]]
			}
		}
		out = append(out, rec)
	}
	return out, extra, nil
}

func parseRow(row []string, index map[string]int) (Record, error) {
	get := func(col string) string {
		if i, ok := index[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	date, err := parseDate(get("date"))
	if err != nil {
		return Record{}, err
	}
	bookings, err := parseInt(get("bookings"))
	if err != nil {
		return Record{}, fmt.Errorf("bookings: %v", err)
	}
	if bookings < 0 {
		return Record{}, fmt.Errorf("bookings: negative value %d", bookings)
	}
	holidayMult, err := parseFloat(get("holiday_multiplier"))
	if err != nil {
		return Record{}, fmt.Errorf("holiday_multiplier: %v", err)
	}
	weeklyMult, err := parseFloat(get("weekly_multiplier"))
	if err != nil {
		return Record{}, fmt.Errorf("weekly_multiplier: %v", err)
	}
	isHoliday, err := parseBool(get("is_holiday"))
	if err != nil {
		return Record{}, fmt.Errorf("is_holiday: %v", err)
	}

	rec := Record{
		Date:              date,
		Route:             get("route"),
		TrainType:         get("train_type"),
		Bookings:          bookings,
		HolidayMultiplier: holidayMult,
		WeeklyMultiplier:  weeklyMult,
		IsHoliday:         isHoliday,
	}
	if rec.Route == "" || rec.TrainType == "" {
		return Record{}, errors.New("empty route or train_type")
	}
	return rec.Normalize(), nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.DateTime, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return calendar.Date(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("date: cannot parse %q", s)
}

func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	// Exported datasets may write integer columns as 123.0.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "false", "0.0":
		return false, nil
	case "1", "true", "1.0":
		return true, nil
	}
	return false, fmt.Errorf("cannot parse %q", s)
}

// WriteCSV writes records under Header(extra).
func WriteCSV(w io.Writer, records []Record, extra []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(extra)); err != nil {
		return err
	}
	row := make([]string, len(columns)+len(extra))
	for _, r := range records {
		row[0] = r.Date.Format(time.DateOnly)
		row[1] = r.Route
		row[2] = r.TrainType
		row[3] = strconv.Itoa(r.Bookings)
		row[4] = strconv.FormatFloat(r.HolidayMultiplier, 'f', -1, 64)
		row[5] = strconv.FormatFloat(r.WeeklyMultiplier, 'f', -1, 64)
		row[6] = boolString(r.IsHoliday)
		row[7] = boolString(r.IsWeekend)
		row[8] = strconv.Itoa(r.DayOfWeek)
		row[9] = strconv.Itoa(r.Month)
		row[10] = strconv.Itoa(r.Year)
		for i, name := range extra {
			row[len(columns)+i] = r.Extra[name]
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
