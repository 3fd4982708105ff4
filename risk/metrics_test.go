package risk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"futures-exec-go/risk"
)

// TestMetricsCollector_Collect 指标一轮算全。
func TestMetricsCollector_Collect(t *testing.T) {
	collector := risk.NewMetricsCollector()

	snap := risk.StateSnapshot{
		"day_start_equity": 100000.0,
		"current_equity":   96000.0,
		"margin_used":      40000.0,
		"margin_available": 60000.0,
		"positions": []risk.PositionSnapshot{
			{Symbol: "IF2409", Cost: 120000, Value: 114000},
		},
	}
	m := collector.Collect(snap)
	assert.InDelta(t, 0.04, m.DailyLossPct, 1e-9)
	assert.InDelta(t, 0.05, m.PositionLossPct, 1e-9)
	assert.InDelta(t, 0.40, m.MarginUsagePct, 1e-9)
	assert.Equal(t, 0, m.ConsecutiveLosses)
	assert.Equal(t, m, collector.LastMetrics())
}

// TestMetricsCollector_ConsecutiveLosses 亏损递增、盈利清零、日切清零。
func TestMetricsCollector_ConsecutiveLosses(t *testing.T) {
	collector := risk.NewMetricsCollector()

	assert.Equal(t, 1, collector.RecordTradeResult(-500))
	assert.Equal(t, 2, collector.RecordTradeResult(-120))
	assert.Equal(t, 3, collector.RecordTradeResult(-0.5))
	// 持平按非亏损处理，清零
	assert.Equal(t, 0, collector.RecordTradeResult(0))
	assert.Equal(t, 1, collector.RecordTradeResult(-10))
	assert.Equal(t, 0, collector.RecordTradeResult(250))

	collector.RecordTradeResult(-1)
	collector.RecordTradeResult(-1)
	collector.ResetDaily()
	assert.Equal(t, 0, collector.ConsecutiveLosses())
}

// TestMetricsCollector_SnapshotOverridesCounter 快照显式带连亏数时以快照为准。
func TestMetricsCollector_SnapshotOverridesCounter(t *testing.T) {
	collector := risk.NewMetricsCollector()
	collector.RecordTradeResult(-1)
	collector.RecordTradeResult(-1)

	// 无快照键：用内部计数
	m := collector.Collect(risk.StateSnapshot{})
	assert.Equal(t, 2, m.ConsecutiveLosses)

	// 快照键优先
	m = collector.Collect(risk.StateSnapshot{"consecutive_losses": 7})
	assert.Equal(t, 7, m.ConsecutiveLosses)
}

// TestStateSnapshot_SafeGetters 缺失键与错误类型一律按零值处理。
func TestStateSnapshot_SafeGetters(t *testing.T) {
	snap := risk.StateSnapshot{
		"f64":    1.5,
		"int":    3,
		"int64":  int64(9),
		"string": "not a number",
	}
	assert.Equal(t, 1.5, snap.Float("f64"))
	assert.Equal(t, 3.0, snap.Float("int"))
	assert.Equal(t, 9.0, snap.Float("int64"))
	assert.Equal(t, 0.0, snap.Float("string"))
	assert.Equal(t, 0.0, snap.Float("missing"))
	assert.Equal(t, 3, snap.Int("int"))
	assert.Equal(t, 0, snap.Int("missing"))
	assert.True(t, snap.Has("f64"))
	assert.False(t, snap.Has("missing"))
}

// TestStateSnapshot_Positions 持仓列表的多种载荷形态。
func TestStateSnapshot_Positions(t *testing.T) {
	// 原生结构体切片
	snap := risk.StateSnapshot{
		"positions": []risk.PositionSnapshot{{Symbol: "IF2409", Cost: 1, Value: 2, Qty: 3}},
	}
	got := snap.Positions()
	assert.Len(t, got, 1)
	assert.Equal(t, "IF2409", got[0].Symbol)

	// JSON 反序列化后的 map 形态
	snap = risk.StateSnapshot{
		"positions": []interface{}{
			map[string]interface{}{"symbol": "IC2409", "cost": 100.0, "value": 90.0, "qty": 2},
		},
	}
	got = snap.Positions()
	assert.Len(t, got, 1)
	assert.Equal(t, "IC2409", got[0].Symbol)
	assert.Equal(t, 90.0, got[0].Value)
	assert.Equal(t, int64(2), got[0].Qty)

	// 完全缺失
	assert.Empty(t, risk.StateSnapshot{}.Positions())
}
