package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePipelineRun(t *testing.T) {
	before := testutil.ToFloat64(pipelineRunsTotalMetric.WithLabelValues("ready"))

	ObservePipelineRun("ready", 2*time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(pipelineRunsTotalMetric.WithLabelValues("ready")))
}

func TestAddNotifierEvents_IgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(notifierEventsTotalMetric.WithLabelValues(PublishDelivered))

	AddNotifierEvents(PublishDelivered, 0)
	AddNotifierEvents(PublishDelivered, 3)

	assert.Equal(t, before+3, testutil.ToFloat64(notifierEventsTotalMetric.WithLabelValues(PublishDelivered)))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", gin.WrapH(Handler()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vidshare_http_requests_total{code="204",method="GET",path="/ping"}`)
}
