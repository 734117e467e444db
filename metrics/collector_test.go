package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordCall(t *testing.T) {
	c := NewCollector("test", zap.NewNop())

	c.RecordCall("click", "success", 50*time.Millisecond)
	c.RecordCall("click", "error", 10*time.Millisecond)
	c.RecordCall("navigate_to_url", "success", time.Second)

	assert.Equal(t, 3, testutil.CollectAndCount(c.callsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.callsTotal.WithLabelValues("click", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.callDuration))
}

func TestInFlightGauge(t *testing.T) {
	c := NewCollector("test", nil)

	c.CallStarted()
	c.CallStarted()
	c.CallFinished()
	assert.Equal(t, float64(1), testutil.ToFloat64(c.inFlight))
}

func TestFrameCounters(t *testing.T) {
	c := NewCollector("test", nil)

	c.RecordFrameSent("1", 100)
	c.RecordFrameSent("1", 50)
	c.RecordFrameSkipped("1")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.framesSent.WithLabelValues("1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.framesSkipped.WithLabelValues("1")))
	assert.Equal(t, float64(150), testutil.ToFloat64(c.frameBytes))
}

func TestConnectionState(t *testing.T) {
	c := NewCollector("test", nil)
	states := []string{"disconnected", "connecting", "connected"}

	c.SetConnectionState("connecting", states...)
	c.SetConnectionState("connected", states...)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.connectionState.WithLabelValues("connected")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.connectionState.WithLabelValues("connecting")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordCall("click", "success", time.Millisecond)
		c.CallStarted()
		c.CallFinished()
		c.RecordInvalidMessage()
		c.RecordFrameSent("1", 10)
		c.RecordFrameSkipped("1")
		c.SetConnectionState("connected")
		c.RecordConnectAttempt("failure")
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("agent", nil)
	c.RecordConnectAttempt("success")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `agent_connect_attempts_total{result="success"} 1`))
}
