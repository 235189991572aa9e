package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSource(t *testing.T) {
	days, err := StaticSource{}.Holidays(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, "Hari Kemerdekaan RI", days["2024-08-17"])
	assert.Contains(t, days, "2024-04-10")

	days, err = StaticSource{}.Holidays(context.Background(), 2031)
	require.NoError(t, err)
	assert.Contains(t, days, "2031-12-25")
	assert.NotContains(t, days, "2031-04-10")
}

func TestRemoteSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025", r.URL.Query().Get("year"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"holiday_date": "2025-03-31", "holiday_name": "Idul Fitri"},
			{"date": "2025-8-17", "name": "Kemerdekaan"}
		]`))
	}))
	defer srv.Close()

	days, err := NewRemoteSource(srv.URL+"/", time.Second).Holidays(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"2025-03-31": "Idul Fitri",
		"2025-08-17": "Kemerdekaan",
	}, days)
}

func TestRemoteSourceErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"not": "a list"`))
		}},
		{"malformed date", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"date": "yesterday", "name": "x"}]`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewRemoteSource(srv.URL, time.Second).Holidays(context.Background(), 2025)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrExternalService))
		})
	}
}

func TestFallbackSourceUsesStaticOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewFallbackSource(NewRemoteSource(srv.URL, time.Second), nil, nil)

	days, err := src.Holidays(context.Background(), 2024)
	require.NoError(t, err)
	assert.Contains(t, days, "2024-08-17")

	_, err = src.Holidays(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

// flakySource fails its first failures calls, then answers with days.
type flakySource struct {
	failures int
	calls    int
	days     map[string]string
}

func (f *flakySource) Holidays(context.Context, int) (map[string]string, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, ErrExternalService
	}
	return f.days, nil
}

func TestFallbackSourceRetriesAfterFailure(t *testing.T) {
	primary := &flakySource{failures: 1, days: map[string]string{"2031-03-24": "Idul Fitri"}}
	src := NewFallbackSource(primary, nil, nil)
	now := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	assert.False(t, IsHoliday(context.Background(), src, day("2031-03-24")))
	assert.True(t, IsHoliday(context.Background(), src, day("2031-12-25")))
	assert.Equal(t, 1, primary.calls)

	now = now.Add(src.RetryAfter + time.Second)
	assert.True(t, IsHoliday(context.Background(), src, day("2031-03-24")))
	assert.Equal(t, 2, primary.calls)

	now = now.Add(24 * time.Hour)
	assert.True(t, IsHoliday(context.Background(), src, day("2031-03-24")))
	assert.Equal(t, 2, primary.calls)
}

func TestFallbackSourceUnreachable(t *testing.T) {
	src := NewFallbackSource(NewRemoteSource("http://127.0.0.1:1", 200*time.Millisecond), nil, nil)

	assert.True(t, IsHoliday(context.Background(), src, day("2024-12-25")))
	assert.False(t, IsHoliday(context.Background(), src, day("2024-12-24")))
}

type failingSource struct{}

func (failingSource) Holidays(context.Context, int) (map[string]string, error) {
	return nil, ErrExternalService
}

func TestIsHolidayTreatsErrorsAsFalse(t *testing.T) {
	assert.False(t, IsHoliday(context.Background(), failingSource{}, day("2024-12-25")))
	assert.False(t, IsHoliday(context.Background(), nil, day("2024-12-25")))
}
