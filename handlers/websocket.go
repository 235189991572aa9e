package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trainflow/internal/logger"
	"trainflow/internal/simulation"
	"trainflow/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type statusMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SimulationWebSocket streams status snapshots. The current snapshot is
// sent on connect; updates come from the Redis status channel, or from
// polling the status file every poll when Redis is not configured.
func SimulationWebSocket(cache *services.CacheService, statusFile string, poll time.Duration, log *slog.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	if cache == nil {
		cache = &services.CacheService{}
	}
	if poll <= 0 {
		poll = time.Second
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// Read pump: detect client disconnect
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(payload []byte) bool {
			if err := conn.WriteJSON(statusMessage{Type: "simulation_status", Data: payload}); err != nil {
				log.Debug("ws write error", "error", err)
				return false
			}
			return true
		}

		st, err := simulation.ReadStatus(statusFile)
		if err != nil {
			log.Warn("read simulation status", "error", err)
			st = simulation.StoppedStatus(time.Now())
		}
		initial, _ := json.Marshal(st)
		if !send(initial) {
			return
		}

		if pubsub := cache.Subscribe(ctx, simulation.StatusChannel); pubsub != nil {
			defer pubsub.Close()
			ch := pubsub.Channel()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					if !send([]byte(msg.Payload)) {
						return
					}
				}
			}
		}

		lastMod, exists := statusModTime(statusFile)
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mod, ok := statusModTime(statusFile)
				if ok == exists && mod.Equal(lastMod) {
					continue
				}
				lastMod, exists = mod, ok
				st, err := simulation.ReadStatus(statusFile)
				if err != nil {
					continue
				}
				payload, _ := json.Marshal(st)
				if !send(payload) {
					return
				}
			}
		}
	}
}

func statusModTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
