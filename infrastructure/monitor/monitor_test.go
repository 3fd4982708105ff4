package monitor

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-exec-go/order"
)

// TestMonitorOrderCounters 订单计数。
func TestMonitorOrderCounters(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordOrderSubmitted()
	m.RecordOrderSubmitted()
	m.RecordOrderTerminal(string(order.StateFilled))
	m.RecordOrderTerminal(string(order.StatePartialCancelled))
	m.UpdateActiveOrders(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersFilled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersPartialCancelled))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ordersCancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeOrders))
}

// TestMonitorTimeoutsByType 超时按类型分桶。
func TestMonitorTimeoutsByType(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordTimeout(string(order.TimeoutAck))
	m.RecordTimeout(string(order.TimeoutAck))
	m.RecordTimeout(string(order.TimeoutFill))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.timeoutsTotal.WithLabelValues("ACK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.timeoutsTotal.WithLabelValues("FILL")))
}

// TestMonitorBreakerMetrics 熔断指标。
func TestMonitorBreakerMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.UpdateBreakerState(2)
	m.UpdatePositionRatio(0.5)
	m.RecordBreakerTrigger()
	m.UpdateRiskMetrics(0.031, 0.052, 0.8, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.positionRatio))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerTriggers))
	assert.Equal(t, 0.031, testutil.ToFloat64(m.dailyLossPct))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.consecutiveLosses))
}

// TestMonitorHandlerServesMetrics Handler 输出指标文本。
func TestMonitorHandlerServesMetrics(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordTrade(5)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, "futures_exec_trades_total 1")
	assert.Contains(t, body, "futures_exec_traded_volume_total 5")
}

// TestMonitorNilReceiverSafe nil 接收者安全。
func TestMonitorNilReceiverSafe(t *testing.T) {
	var m *Monitor

	m.RecordOrderSubmitted()
	m.RecordOrderTerminal(string(order.StateFilled))
	m.UpdateActiveOrders(3)
	m.RecordTrade(1)
	m.RecordTimeout("ACK")
	m.UpdateBreakerState(1)
	m.RecordAlertSent("ERROR", "log")
	m.UpdatePool("margin", 10, 2)

	assert.Nil(t, m.Handler())
	assert.Nil(t, m.Registry())
}
