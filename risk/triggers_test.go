package risk_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-exec-go/risk"
)

// TestDailyLossTrigger 日亏超限触发，分母非正按 0 处理不触发。
func TestDailyLossTrigger(t *testing.T) {
	trigger := &risk.DailyLossTrigger{Threshold: 0.03}

	cases := []struct {
		name     string
		snap     risk.StateSnapshot
		expected bool
	}{
		{
			name: "亏损 5% 超过 3% 阈值",
			snap: risk.StateSnapshot{
				"day_start_equity": 100000.0,
				"current_equity":   95000.0,
			},
			expected: true,
		},
		{
			name: "亏损 2% 未超阈值",
			snap: risk.StateSnapshot{
				"day_start_equity": 100000.0,
				"current_equity":   98000.0,
			},
			expected: false,
		},
		{
			name: "盈利不触发",
			snap: risk.StateSnapshot{
				"day_start_equity": 100000.0,
				"current_equity":   105000.0,
			},
			expected: false,
		},
		{
			name: "日初权益为零视为脏数据，不触发",
			snap: risk.StateSnapshot{
				"day_start_equity": 0.0,
				"current_equity":   -5000.0,
			},
			expected: false,
		},
		{
			name:     "缺失键按零处理，不触发",
			snap:     risk.StateSnapshot{},
			expected: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := trigger.Check(tc.snap)
			assert.Equal(t, tc.expected, res.Triggered)
			if tc.expected {
				assert.Contains(t, res.Details, "daily loss")
			}
		})
	}
}

// TestPositionLossTrigger 任一单仓超限即触发，并记录最差合约。
func TestPositionLossTrigger(t *testing.T) {
	trigger := &risk.PositionLossTrigger{Threshold: 0.05}

	snap := risk.StateSnapshot{
		"positions": []risk.PositionSnapshot{
			{Symbol: "IF2409", Cost: 100000, Value: 98000},  // 亏 2%
			{Symbol: "IC2409", Cost: 200000, Value: 184000}, // 亏 8%，最差
			{Symbol: "IH2409", Cost: 50000, Value: 51000},   // 盈利
		},
	}
	res := trigger.Check(snap)
	require.True(t, res.Triggered)
	assert.Contains(t, res.Details, "IC2409")

	// 成本非正的仓位跳过，不参与计算
	dirty := risk.StateSnapshot{
		"positions": []risk.PositionSnapshot{
			{Symbol: "IF2409", Cost: 0, Value: -1000},
		},
	}
	assert.False(t, trigger.Check(dirty).Triggered)

	// 无持仓列表时退化到标量成本/现值
	scalar := risk.StateSnapshot{
		"position_cost":  100000.0,
		"position_value": 90000.0,
	}
	assert.True(t, trigger.Check(scalar).Triggered)
}

// TestMarginUsageTrigger 保证金占用，分母非正时偏向视为占满。
func TestMarginUsageTrigger(t *testing.T) {
	trigger := &risk.MarginUsageTrigger{Threshold: 0.80}

	// used/(used+available)
	snap := risk.StateSnapshot{
		"margin_used":      90000.0,
		"margin_available": 10000.0,
	}
	assert.True(t, trigger.Check(snap).Triggered)

	// margin_available 缺失时退化为 used/equity
	snap = risk.StateSnapshot{
		"margin_used":    50000.0,
		"current_equity": 100000.0,
	}
	assert.False(t, trigger.Check(snap).Triggered)

	// 分母非正且有占用：按 1.0 处理，必须触发（脏数据不可静默当安全）
	snap = risk.StateSnapshot{
		"margin_used":      10000.0,
		"margin_available": -20000.0,
	}
	assert.True(t, trigger.Check(snap).Triggered)

	// 分母非正且无占用：按 0 处理
	snap = risk.StateSnapshot{
		"margin_used":      0.0,
		"margin_available": 0.0,
	}
	assert.False(t, trigger.Check(snap).Triggered)
}

// TestConsecutiveLossTrigger 连亏笔数达到阈值触发，阈值为零停用。
func TestConsecutiveLossTrigger(t *testing.T) {
	trigger := &risk.ConsecutiveLossTrigger{Threshold: 5}

	assert.False(t, trigger.Check(risk.StateSnapshot{"consecutive_losses": 4}).Triggered)
	assert.True(t, trigger.Check(risk.StateSnapshot{"consecutive_losses": 5}).Triggered)
	assert.True(t, trigger.Check(risk.StateSnapshot{"consecutive_losses": 9}).Triggered)

	disabled := &risk.ConsecutiveLossTrigger{Threshold: 0}
	assert.False(t, disabled.Check(risk.StateSnapshot{"consecutive_losses": 100}).Triggered)
}

// TestCompositeRiskTrigger_ORSemantics 任一子触发器命中即触发，原因全部收集。
func TestCompositeRiskTrigger_ORSemantics(t *testing.T) {
	composite := risk.NewRiskTriggers(testBreakerConfig())

	// 仅日亏超限：100000 -> 95000，5% > 3%
	snap := risk.StateSnapshot{
		"day_start_equity": 100000.0,
		"current_equity":   95000.0,
	}
	fired, reasons := composite.CheckAll(snap)
	require.True(t, fired, "单一触发条件即应熔断")
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "daily loss")

	// 日亏 + 保证金同时超限：两个原因都要在
	snap = risk.StateSnapshot{
		"day_start_equity": 100000.0,
		"current_equity":   95000.0,
		"margin_used":      85000.0,
		"margin_available": 10000.0,
	}
	fired, reasons = composite.CheckAll(snap)
	require.True(t, fired)
	require.Len(t, reasons, 2)
	joined := strings.Join(reasons, "; ")
	assert.Contains(t, joined, "daily loss")
	assert.Contains(t, joined, "margin usage")

	// 全部正常不触发
	fired, reasons = composite.CheckAll(risk.StateSnapshot{
		"day_start_equity": 100000.0,
		"current_equity":   99500.0,
	})
	assert.False(t, fired)
	assert.Empty(t, reasons)
}

// TestCompositeRiskTrigger_Check 合并结果的 Details 为分号连接。
func TestCompositeRiskTrigger_Check(t *testing.T) {
	composite := risk.NewRiskTriggers(testBreakerConfig())
	res := composite.Check(risk.StateSnapshot{
		"day_start_equity":   100000.0,
		"current_equity":     90000.0,
		"consecutive_losses": 6,
	})
	require.True(t, res.Triggered)
	assert.Contains(t, res.Details, "daily loss")
	assert.Contains(t, res.Details, "consecutive losses")
}
