package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"trainflow/config"
)

// SetupCORS allows every origin for "*" and otherwise the listed ones. The
// API is read-only and unauthenticated, so only GET, POST and OPTIONS pass.
func SetupCORS(cfg config.CORSConfig) gin.HandlerFunc {
	var allowedOrigins []string
	for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowedOrigins = append(allowedOrigins, o)
		}
	}

	base := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		base.AllowAllOrigins = true
		return cors.New(base)
	}
	base.AllowOrigins = allowedOrigins
	return cors.New(base)
}
