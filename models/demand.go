package models

import "time"

// PredictRequest is the body of POST /api/demand/predict.
type PredictRequest struct {
	Route     string `json:"route" binding:"required"`
	TrainType string `json:"train_type" binding:"required"`
	Date      string `json:"date" binding:"required"`
}

// ForecastQuery binds GET /api/demand/forecast.
type ForecastQuery struct {
	Route     string `form:"route" binding:"required"`
	TrainType string `form:"train_type" binding:"required"`
	Start     string `form:"start"`
	Days      int    `form:"days"`
}

// RouteDemandQuery binds GET /api/demand/route.
type RouteDemandQuery struct {
	Route string `form:"route" binding:"required"`
	Date  string `form:"date" binding:"required"`
}

// Booking is one stored series row as served by the API.
type Booking struct {
	Date      string `json:"date"`
	Route     string `json:"route"`
	TrainType string `json:"train_type"`
	Bookings  int    `json:"bookings"`
	IsHoliday bool   `json:"is_holiday"`
	IsWeekend bool   `json:"is_weekend"`
}

// ParseDate accepts YYYY-MM-DD only.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}
