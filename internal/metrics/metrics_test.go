package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndGauges(t *testing.T) {
	before := testutil.ToFloat64(actionsTotal.WithLabelValues("trade", "success"))
	ObserveAction("trade", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(actionsTotal.WithLabelValues("trade", "success")))

	ObserveRefresh(false)
	assert.GreaterOrEqual(t, testutil.ToFloat64(refreshTotal.WithLabelValues("error")), 1.0)

	SetSessionState(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(sessionState))

	SetGatePending(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(gatePending))

	SetMappedPositions(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(mappedPositions))

	ObserveGateWait("action", 20*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(gateWait))
}
