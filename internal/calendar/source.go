package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"trainflow/internal/logger"
)

// ErrExternalService marks a failed remote holiday lookup. FallbackSource
// never lets it reach callers.
var ErrExternalService = errors.New("holiday service unavailable")

// HolidaySource answers whether a date is a public holiday.
type HolidaySource interface {
	Holidays(ctx context.Context, year int) (map[string]string, error)
}

// StaticSource is the predefined table used when no remote service answers.
type StaticSource struct{}

var recurringHolidays = []struct {
	monthDay string
	name     string
}{
	{"01-01", "Tahun Baru"},
	{"03-29", "Hari Raya Nyepi"},
	{"04-01", "Isra Mi'raj"},
	{"05-01", "Hari Buruh"},
	{"05-09", "Kenaikan Isa Al-Masih"},
	{"06-01", "Hari Lahir Pancasila"},
	{"08-17", "Hari Kemerdekaan RI"},
	{"12-25", "Hari Raya Natal"},
}

var knownHolidays = map[int][]string{
	2024: {
		"2024-01-01", "2024-02-10", "2024-03-11", "2024-03-29",
		"2024-04-10", "2024-05-01", "2024-05-09", "2024-05-23",
		"2024-06-01", "2024-06-17", "2024-08-17", "2024-12-25",
	},
}

func (StaticSource) Holidays(_ context.Context, year int) (map[string]string, error) {
	out := make(map[string]string, len(recurringHolidays)+len(knownHolidays[year]))
	for _, h := range recurringHolidays {
		out[fmt.Sprintf("%04d-%s", year, h.monthDay)] = h.name
	}
	for _, d := range knownHolidays[year] {
		if _, ok := out[d]; !ok {
			out[d] = "Hari Libur Nasional"
		}
	}
	return out, nil
}

// RemoteSource queries a public-holiday HTTP service.
type RemoteSource struct {
	baseURL string
	client  *http.Client
}

func NewRemoteSource(baseURL string, timeout time.Duration) *RemoteSource {
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 2 * time.Second
	}
	return &RemoteSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type remoteHoliday struct {
	HolidayDate string `json:"holiday_date"`
	HolidayName string `json:"holiday_name"`
	Date        string `json:"date"`
	Name        string `json:"name"`
}

func (s *RemoteSource) Holidays(ctx context.Context, year int) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api?year=%d", s.baseURL, year), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code: %d", ErrExternalService, resp.StatusCode)
	}

	var rows []remoteHoliday
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: error decoding response: %v", ErrExternalService, err)
	}

	out := make(map[string]string, len(rows))
	for _, r := range rows {
		date, name := r.HolidayDate, r.HolidayName
		if date == "" {
			date, name = r.Date, r.Name
		}
		parsed, err := time.Parse(time.DateOnly, date)
		if err != nil {
			// Some feeds return 2025-1-1 style dates.
			parsed, err = time.Parse("2006-1-2", date)
			if err != nil {
				return nil, fmt.Errorf("%w: malformed date %q", ErrExternalService, date)
			}
		}
		out[parsed.Format(time.DateOnly)] = name
	}
	return out, nil
}

// FallbackSource tries Primary and silently falls back to Fallback. A
// primary answer is cached for good; a fallback answer only for RetryAfter,
// so a recovered service is picked up without hitting the network on every
// lookup while it is down.
type FallbackSource struct {
	primary  HolidaySource
	fallback HolidaySource
	log      *slog.Logger
	now      func() time.Time

	// RetryAfter is how long a fallback answer is served before the
	// primary is asked again.
	RetryAfter time.Duration

	mu    sync.Mutex
	cache map[int]cachedYear
}

type cachedYear struct {
	days map[string]string
	// expires is zero for primary answers.
	expires time.Time
}

func NewFallbackSource(primary, fallback HolidaySource, log *slog.Logger) *FallbackSource {
	if fallback == nil {
		fallback = StaticSource{}
	}
	return &FallbackSource{
		primary:    primary,
		fallback:   fallback,
		log:        logger.OrNop(log),
		now:        time.Now,
		RetryAfter: time.Minute,
		cache:      make(map[int]cachedYear),
	}
}

// Holidays never returns an error.
func (s *FallbackSource) Holidays(ctx context.Context, year int) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[year]; ok {
		if cached.expires.IsZero() || s.now().Before(cached.expires) {
			return cached.days, nil
		}
	}

	if s.primary != nil {
		days, err := s.primary.Holidays(ctx, year)
		if err == nil && days != nil {
			s.cache[year] = cachedYear{days: days}
			return days, nil
		}
		if err == nil {
			err = errors.New("empty answer")
		}
		s.log.Warn("holiday lookup failed, using predefined holidays", "year", year, "error", err)
	}

	days, _ := s.fallback.Holidays(ctx, year)
	entry := cachedYear{days: days}
	if s.primary != nil {
		entry.expires = s.now().Add(s.RetryAfter)
	}
	s.cache[year] = entry
	return days, nil
}

// IsHoliday looks date up in src; any error counts as "not a holiday".
func IsHoliday(ctx context.Context, src HolidaySource, date time.Time) bool {
	if src == nil {
		return false
	}
	days, err := src.Holidays(ctx, date.Year())
	if err != nil {
		return false
	}
	_, ok := days[Date(date).Format(time.DateOnly)]
	return ok
}
