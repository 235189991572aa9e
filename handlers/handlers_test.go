package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainflow/internal/predict"
	"trainflow/internal/simulation"
	"trainflow/internal/store"
)

type fakePredictor struct {
	err   error
	calls int
	start time.Time
	days  int
}

func (f *fakePredictor) Predict(_ context.Context, route, trainType string, date time.Time) (predict.Prediction, error) {
	f.calls++
	if f.err != nil {
		return predict.Prediction{}, f.err
	}
	return predict.Prediction{Route: route, TrainType: trainType, Date: date.Format(time.DateOnly), PredictedBookings: 812}, nil
}

func (f *fakePredictor) Forecast(_ context.Context, route, trainType string, start time.Time, days int) ([]predict.Prediction, error) {
	f.calls++
	f.start, f.days = start, days
	if f.err != nil {
		return nil, f.err
	}
	out := make([]predict.Prediction, days)
	for i := range out {
		out[i] = predict.Prediction{Route: route, TrainType: trainType, Date: start.AddDate(0, 0, i).Format(time.DateOnly)}
	}
	return out, nil
}

func (f *fakePredictor) RouteDemand(_ context.Context, route string, date time.Time) (predict.RouteDemand, error) {
	f.calls++
	if f.err != nil {
		return predict.RouteDemand{}, f.err
	}
	return predict.RouteDemand{Route: route, Date: date.Format(time.DateOnly), TotalPredicted: 2500, RouteCapacity: 4200}, nil
}

type fakeSeries []store.Record

func (s fakeSeries) Load(context.Context) ([]store.Record, error) { return s, nil }

func newRouter(p DemandPredictor, statusFile string, series SeriesReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	ph := NewPredictionHandler(p, nil, nil)
	ph.now = func() time.Time { return time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC) }
	sh := NewSimulationHandler(statusFile, series, nil)
	r.POST("/api/demand/predict", ph.Predict)
	r.GET("/api/demand/forecast", ph.Forecast)
	r.GET("/api/demand/route", ph.RouteDemand)
	r.GET("/api/routes", GetRoutes)
	r.GET("/api/simulation/status", sh.GetStatus)
	r.GET("/api/simulation/bookings", sh.GetBookings)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPredict(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"ok", `{"route":"Jakarta-Bandung","train_type":"Bisnis","date":"2025-03-30"}`, nil, http.StatusOK},
		{"missing field", `{"route":"Jakarta-Bandung","date":"2025-03-30"}`, nil, http.StatusBadRequest},
		{"bad date", `{"route":"Jakarta-Bandung","train_type":"Bisnis","date":"30/03/2025"}`, nil, http.StatusBadRequest},
		{"no model", `{"route":"Jakarta-Bandung","train_type":"Bisnis","date":"2025-03-30"}`, predict.ErrNoModel, http.StatusServiceUnavailable},
		{"internal", `{"route":"Jakarta-Bandung","train_type":"Bisnis","date":"2025-03-30"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(&fakePredictor{err: tt.err}, "", nil), http.MethodPost, "/api/demand/predict", tt.body)
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				var pred predict.Prediction
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pred))
				assert.Equal(t, 812, pred.PredictedBookings)
				assert.Equal(t, "2025-03-30", pred.Date)
			}
		})
	}
}

func TestForecastDefaults(t *testing.T) {
	fp := &fakePredictor{}
	w := do(newRouter(fp, "", nil), http.MethodGet, "/api/demand/forecast?route=Jakarta-Solo&train_type=Ekonomi", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, defaultForecastDays, fp.days)
	assert.Equal(t, "2025-03-02", fp.start.Format(time.DateOnly))

	var body struct {
		Data []predict.Prediction `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, defaultForecastDays)
}

func TestForecastErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		code   int
	}{
		{"missing train type", "/api/demand/forecast?route=Jakarta-Solo", nil, http.StatusBadRequest},
		{"bad start", "/api/demand/forecast?route=Jakarta-Solo&train_type=Bisnis&start=tomorrow", nil, http.StatusBadRequest},
		{"bad days", "/api/demand/forecast?route=Jakarta-Solo&train_type=Bisnis&days=x", nil, http.StatusBadRequest},
		{"rejected by predictor", "/api/demand/forecast?route=Jakarta-Solo&train_type=Bisnis&days=500", predict.ErrInvalidRequest, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(&fakePredictor{err: tt.err}, "", nil), http.MethodGet, tt.target, "")
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestRouteDemand(t *testing.T) {
	w := do(newRouter(&fakePredictor{}, "", nil), http.MethodGet, "/api/demand/route?route=Jakarta-Bandung&date=2025-03-30", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rd predict.RouteDemand
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rd))
	assert.Equal(t, 2500, rd.TotalPredicted)

	w = do(newRouter(&fakePredictor{}, "", nil), http.MethodGet, "/api/demand/route?route=Jakarta-Bandung", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRoutes(t *testing.T) {
	w := do(newRouter(&fakePredictor{}, "", nil), http.MethodGet, "/api/routes", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []predict.Route `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 8)
}

func TestGetStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulation_status.json")
	r := newRouter(&fakePredictor{}, path, nil)

	w := do(r, http.MethodGet, "/api/simulation/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st simulation.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, simulation.Stopped, st.State)

	require.NoError(t, simulation.WriteStatus(path, simulation.Status{IsRunning: true, State: simulation.Running, GenerationCount: 4}))
	w = do(r, http.MethodGet, "/api/simulation/status", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.IsRunning)
	assert.Equal(t, 4, st.GenerationCount)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	w = do(r, http.MethodGet, "/api/simulation/status", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetBookingsPaginates(t *testing.T) {
	var series fakeSeries
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		for _, route := range []string{"Jakarta-Bandung", "Jakarta-Solo"} {
			series = append(series, store.Record{Date: day.AddDate(0, 0, i), Route: route, TrainType: "Bisnis", Bookings: 100 + i}.Normalize())
		}
	}
	r := newRouter(&fakePredictor{}, "", series)

	var seen []string
	target := "/api/simulation/bookings?limit=4"
	for page := 0; page < 3; page++ {
		w := do(r, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data []struct {
				Date  string `json:"date"`
				Route string `json:"route"`
			} `json:"data"`
			NextCursor string `json:"next_cursor"`
			HasMore    bool   `json:"has_more"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		for _, b := range body.Data {
			seen = append(seen, b.Date+" "+b.Route)
		}
		if !body.HasMore {
			break
		}
		target = fmt.Sprintf("/api/simulation/bookings?limit=4&before=%s", url.QueryEscape(body.NextCursor))
	}

	assert.Equal(t, []string{
		"2025-03-03 Jakarta-Solo", "2025-03-03 Jakarta-Bandung",
		"2025-03-02 Jakarta-Solo", "2025-03-02 Jakarta-Bandung",
		"2025-03-01 Jakarta-Solo", "2025-03-01 Jakarta-Bandung",
	}, seen)

	w := do(r, http.MethodGet, "/api/simulation/bookings?route=Jakarta-Solo", "")
	assert.Equal(t, 3, strings.Count(w.Body.String(), "Jakarta-Solo"))
}

func TestParsePagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		query      string
		wantLimit  int
		wantCursor bool
	}{
		{"", DefaultLimit, false},
		{"limit=10", 10, false},
		{"limit=-1", DefaultLimit, false},
		{"limit=5000", MaxLimit, false},
		{"before=" + url.QueryEscape("2025-03-01|Jakarta-Solo|Bisnis"), DefaultLimit, true},
		{"before=garbage", DefaultLimit, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			p := ParsePagination(c)
			assert.Equal(t, tt.wantLimit, p.Limit)
			assert.Equal(t, tt.wantCursor, p.Before != nil)
		})
	}
}

func TestSimulationWebSocketPollsStatusFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "simulation_status.json")
	r := gin.New()
	r.GET("/ws/simulation", SimulationWebSocket(nil, path, 10*time.Millisecond, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/simulation", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg struct {
		Type string            `json:"type"`
		Data simulation.Status `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "simulation_status", msg.Type)
	assert.Equal(t, simulation.Stopped, msg.Data.State)

	require.NoError(t, simulation.WriteStatus(path, simulation.Status{IsRunning: true, State: simulation.Running, GenerationCount: 2}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, simulation.Running, msg.Data.State)
	assert.Equal(t, 2, msg.Data.GenerationCount)
}
