package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/routes/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "/api/routes/:id", "200"))
	unmatched := testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404"))

	for _, path := range []string{"/api/routes/1", "/api/routes/2", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "/api/routes/:id", "200")) - before; got != 2 {
		t.Errorf("matched requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(requestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")) - unmatched; got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}
}
