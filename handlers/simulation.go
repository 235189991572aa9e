package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"trainflow/internal/logger"
	"trainflow/internal/simulation"
	"trainflow/internal/store"
	"trainflow/models"
)

// SeriesReader is satisfied by *store.Store.
type SeriesReader interface {
	Load(ctx context.Context) ([]store.Record, error)
}

type SimulationHandler struct {
	statusFile string
	series     SeriesReader
	log        *slog.Logger
}

func NewSimulationHandler(statusFile string, series SeriesReader, log *slog.Logger) *SimulationHandler {
	return &SimulationHandler{statusFile: statusFile, series: series, log: logger.OrNop(log)}
}

func (h *SimulationHandler) GetStatus(c *gin.Context) {
	st, err := simulation.ReadStatus(h.statusFile)
	if err != nil {
		h.log.Error("read simulation status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetBookings pages through the stored series, newest first. route and
// train_type narrow the result.
func (h *SimulationHandler) GetBookings(c *gin.Context) {
	p := ParsePagination(c)
	route := c.Query("route")
	trainType := c.Query("train_type")

	records, err := h.series.Load(c.Request.Context())
	if err != nil {
		h.log.Error("load series", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "series unavailable"})
		return
	}

	rows := make([]store.Record, 0, len(records))
	for _, r := range records {
		if route != "" && r.Route != route {
			continue
		}
		if trainType != "" && r.TrainType != trainType {
			continue
		}
		if p.Before != nil && !cursorOf(r).After(*p.Before) {
			continue
		}
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b store.Record) int {
		ca, cb := cursorOf(a), cursorOf(b)
		switch {
		case ca.After(cb):
			return 1
		case cb.After(ca):
			return -1
		}
		return 0
	})

	hasMore := len(rows) > p.Limit
	if hasMore {
		rows = rows[:p.Limit]
	}

	var nextCursor string
	if hasMore && len(rows) > 0 {
		nextCursor = cursorOf(rows[len(rows)-1]).String()
	}

	data := make([]models.Booking, len(rows))
	for i, r := range rows {
		data[i] = models.Booking{
			Date:      r.Date.Format(time.DateOnly),
			Route:     r.Route,
			TrainType: r.TrainType,
			Bookings:  r.Bookings,
			IsHoliday: r.IsHoliday,
			IsWeekend: r.IsWeekend,
		}
	}
	c.JSON(http.StatusOK, CursorResponse{Data: data, NextCursor: nextCursor, HasMore: hasMore})
}

func cursorOf(r store.Record) Cursor {
	return Cursor{Date: r.Date, Route: r.Route, TrainType: r.TrainType}
}
