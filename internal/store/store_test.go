package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(start time.Time, n int, route string) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{
			Date:      start.AddDate(0, 0, i),
			Route:     route,
			TrainType: "Bisnis",
			Bookings:  100 + i,
		}
	}
	return out
}

func TestAppendRetentionBound(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "sim.csv"), filepath.Join(dir, "missing.csv"), 25, nil)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var n int
	var err error
	for i := 0; i < 6; i++ {
		n, err = s.Append(ctx, records(start.AddDate(0, 0, i*8), 8, "Jakarta-Bandung"))
		require.NoError(t, err)
	}
	assert.Equal(t, 25, n)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 25)

	// 48 rows were appended; the first 23 are gone.
	assert.Equal(t, start.AddDate(0, 0, 23), got[0].Date)
	assert.Equal(t, start.AddDate(0, 0, 47), got[24].Date)
	assert.Equal(t, 100+7, got[24].Bookings)
}

func TestAppendBelowBoundKeepsEverything(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "sim.csv"), "", 100, nil)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	n, err := s.Append(context.Background(), records(start, 10, "Jakarta-Solo"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestAppendSeedsFromBaseline(t *testing.T) {
	dir := t.TempDir()
	baseline := filepath.Join(dir, "base.csv")
	content := "Date,Route,TrainType,Bookings,IsHoliday,Season\n" +
		"2024-12-30,Jakarta-Surabaya,Eksekutif,700,0,high\n" +
		"2024-12-31 00:00:00,Jakarta-Surabaya,Eksekutif,820.0,1,high\n"
	require.NoError(t, os.WriteFile(baseline, []byte(content), 0o644))

	s := New(filepath.Join(dir, "sim.csv"), baseline, 1000, nil)
	ctx := context.Background()

	last, err := s.LastDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), last)

	n, err := s.Append(ctx, records(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 2, "Jakarta-Surabaya"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 820, got[1].Bookings)
	assert.True(t, got[1].IsHoliday)
	assert.Equal(t, "high", got[0].Extra["Season"])
	assert.Equal(t, "", got[3].Extra["Season"])
	assert.Equal(t, 3, got[3].DayOfWeek) // Thursday
	assert.Equal(t, 1.0, got[3].WeeklyMultiplier)

	raw, err := os.ReadFile(filepath.Join(dir, "sim.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw),
		"date,route,train_type,bookings,holiday_multiplier,weekly_multiplier,is_holiday,is_weekend,day_of_week,month,year,Season\n"))

	base, err := os.ReadFile(baseline)
	require.NoError(t, err)
	assert.Equal(t, content, string(base), "baseline must never be written")
}

func TestLoadMalformedBaseline(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing column", "date,route,bookings\n2025-01-01,A,1\n"},
		{"bad date", "date,route,train_type,bookings\nyesterday,A,Bisnis,1\n"},
		{"bad bookings", "date,route,train_type,bookings\n2025-01-01,A,Bisnis,many\n"},
		{"negative bookings", "date,route,train_type,bookings\n2025-01-01,A,Bisnis,-4\n"},
		{"empty route", "date,route,train_type,bookings\n2025-01-01,,Bisnis,4\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			baseline := filepath.Join(dir, "base.csv")
			require.NoError(t, os.WriteFile(baseline, []byte(tt.content), 0o644))

			s := New(filepath.Join(dir, "sim.csv"), baseline, 10, nil)
			_, err := s.Load(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDataIO))
		})
	}
}

func TestRetainAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.csv")
	s := New(path, "", 100, nil)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, records(start, 30, "Jakarta-Cirebon"))
	require.NoError(t, err)
	require.NoError(t, s.Retain(ctx, 5))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, start.AddDate(0, 0, 25), got[0].Date)

	require.NoError(t, s.Remove())
	require.NoError(t, s.Remove())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(filepath.Join(t.TempDir(), "sim.csv"), "", 10, nil).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
