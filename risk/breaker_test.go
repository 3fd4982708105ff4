package risk_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-exec-go/risk"
)

func testBreakerConfig() risk.BreakerConfig {
	return risk.BreakerConfig{
		DailyLossPct:        0.03,
		PositionLossPct:     0.05,
		MarginUsagePct:      0.80,
		ConsecutiveLosses:   5,
		CoolingDuration:     5 * time.Minute,
		FullCoolingDuration: 30 * time.Minute,
		PositionRatioSteps:  []float64{0.25, 0.50, 0.75, 1.0},
		StepInterval:        10 * time.Minute,
	}
}

func newTestBreaker(t *testing.T) (*risk.CircuitBreaker, *risk.ManualClock, *risk.MemoryAuditLogger) {
	t.Helper()
	clock := risk.NewManualClock(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))
	audit := risk.NewMemoryAuditLogger(0)
	cb, err := risk.NewCircuitBreaker(testBreakerConfig(), clock, audit, nil)
	require.NoError(t, err)
	return cb, clock, audit
}

// TestCircuitBreaker_Lifecycle 完整走一遍 触发→冷却→梯度恢复→正常。
func TestCircuitBreaker_Lifecycle(t *testing.T) {
	cb, clock, audit := newTestBreaker(t)

	assert.Equal(t, risk.BreakerNormal, cb.GetState())
	assert.Equal(t, 1.0, cb.PositionRatio())
	assert.True(t, cb.IsTradingAllowed())

	// 触发熔断
	fired := cb.Trigger(risk.Metrics{DailyLossPct: 0.05}, []string{"daily loss 5.00% exceeds limit 3.00%"})
	require.True(t, fired)
	assert.Equal(t, risk.BreakerTriggered, cb.GetState())
	assert.Equal(t, 0.0, cb.PositionRatio())
	assert.False(t, cb.IsTradingAllowed())
	assert.False(t, cb.IsNewPositionAllowed())

	// 冷却期未满，状态不变
	clock.Advance(4 * time.Minute)
	assert.Equal(t, risk.BreakerTriggered, cb.Tick())

	// 冷却期满进入 COOLING
	clock.Advance(1 * time.Minute)
	assert.Equal(t, risk.BreakerCooling, cb.Tick())
	assert.Equal(t, 0.0, cb.PositionRatio())

	// 完整冷却窗口未满，停在 COOLING
	clock.Advance(24 * time.Minute) // 触发后 29 分钟
	assert.Equal(t, risk.BreakerCooling, cb.Tick())

	// 完整冷却窗口期满进入 RECOVERY，第一梯级 0.25
	clock.Advance(1 * time.Minute) // 触发后 30 分钟
	assert.Equal(t, risk.BreakerRecovery, cb.Tick())
	assert.Equal(t, 0.25, cb.PositionRatio())
	assert.True(t, cb.IsTradingAllowed())

	// 每过一个梯级间隔比例抬一级，比例单调不降
	prev := cb.PositionRatio()
	clock.Advance(10 * time.Minute)
	cb.Tick()
	assert.Equal(t, 0.50, cb.PositionRatio())
	assert.GreaterOrEqual(t, cb.PositionRatio(), prev)

	clock.Advance(10 * time.Minute)
	cb.Tick()
	assert.Equal(t, 0.75, cb.PositionRatio())

	// 触达末级 1.0 即回到 NORMAL
	clock.Advance(10 * time.Minute)
	assert.Equal(t, risk.BreakerNormal, cb.Tick())
	assert.Equal(t, 1.0, cb.PositionRatio())
	assert.True(t, cb.IsTradingAllowed())

	// 全程恰好四次状态变更，审计一一对应
	records := audit.Records()
	require.Len(t, records, 4)
	assert.Equal(t, "NORMAL", records[0].FromState)
	assert.Equal(t, "TRIGGERED", records[0].ToState)
	assert.Equal(t, "TRIGGERED", records[1].FromState)
	assert.Equal(t, "COOLING", records[1].ToState)
	assert.Equal(t, "COOLING", records[2].FromState)
	assert.Equal(t, "RECOVERY", records[2].ToState)
	assert.Equal(t, "RECOVERY", records[3].FromState)
	assert.Equal(t, "NORMAL", records[3].ToState)
}

// TestCircuitBreaker_TriggerOnlyFromNormal 已熔断后重复触发被忽略。
func TestCircuitBreaker_TriggerOnlyFromNormal(t *testing.T) {
	cb, clock, audit := newTestBreaker(t)

	require.True(t, cb.Trigger(risk.Metrics{}, []string{"first"}))
	assert.False(t, cb.Trigger(risk.Metrics{}, []string{"second"}), "TRIGGERED 状态下不应重复触发")

	clock.Advance(5 * time.Minute)
	cb.Tick()
	assert.False(t, cb.Trigger(risk.Metrics{}, []string{"third"}), "COOLING 状态下不应触发")

	// 只有最初一次触发加一次冷却流转
	assert.Equal(t, 2, audit.Len())
	status := cb.GetStatus()
	assert.Equal(t, int64(1), status.TriggerCount)
	assert.Equal(t, []string{"first"}, status.LastReasons)
}

// TestCircuitBreaker_ManualOverride 任意状态可人工接管，重复接管不产生新审计。
func TestCircuitBreaker_ManualOverride(t *testing.T) {
	cb, clock, audit := newTestBreaker(t)

	cb.ManualOverride("市场异常，人工停机")
	assert.Equal(t, risk.BreakerManualOverride, cb.GetState())
	assert.Equal(t, 0.0, cb.PositionRatio())
	assert.False(t, cb.IsTradingAllowed())
	require.Equal(t, 1, audit.Len())

	// 已接管状态下重复调用只更新原因
	cb.ManualOverride("更新原因")
	assert.Equal(t, 1, audit.Len())
	assert.Equal(t, []string{"更新原因"}, cb.GetStatus().LastReasons)

	// 接管期间 Tick 不推进
	clock.Advance(2 * time.Hour)
	assert.Equal(t, risk.BreakerManualOverride, cb.Tick())

	// 释放到冷却：冷却窗口从释放时刻重新起算
	require.NoError(t, cb.ManualRelease(false))
	assert.Equal(t, risk.BreakerCooling, cb.GetState())
	clock.Advance(29 * time.Minute)
	assert.Equal(t, risk.BreakerCooling, cb.Tick())
	clock.Advance(1 * time.Minute)
	assert.Equal(t, risk.BreakerRecovery, cb.Tick())
}

// TestCircuitBreaker_ManualReleaseToNormal 直接释放回正常。
func TestCircuitBreaker_ManualReleaseToNormal(t *testing.T) {
	cb, _, _ := newTestBreaker(t)

	// 非接管状态下释放报错
	err := cb.ManualRelease(true)
	assert.ErrorIs(t, err, risk.ErrNotManualState)

	cb.ManualOverride("halt")
	require.NoError(t, cb.ManualRelease(true))
	assert.Equal(t, risk.BreakerNormal, cb.GetState())
	assert.True(t, cb.IsTradingAllowed())
}

// TestCircuitBreaker_ForceState 强制复位绕过流转规则但仍留审计。
func TestCircuitBreaker_ForceState(t *testing.T) {
	cb, _, audit := newTestBreaker(t)

	require.True(t, cb.Trigger(risk.Metrics{}, []string{"loss"}))
	cb.ForceState(risk.BreakerNormal, "管理员复位")
	assert.Equal(t, risk.BreakerNormal, cb.GetState())

	records := audit.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "force_state", records[1].EventType)
	assert.Equal(t, "TRIGGERED", records[1].FromState)
	assert.Equal(t, "NORMAL", records[1].ToState)
	assert.Equal(t, "管理员复位", records[1].Reason)

	// 目标与当前一致时不算变更
	cb.ForceState(risk.BreakerNormal, "再次复位")
	assert.Equal(t, 2, audit.Len())
}

// TestCircuitBreaker_ForceStateIntoRecovery 强制进入恢复期从首梯级开始。
func TestCircuitBreaker_ForceStateIntoRecovery(t *testing.T) {
	cb, clock, _ := newTestBreaker(t)

	cb.ForceState(risk.BreakerRecovery, "跳过冷却直接恢复")
	assert.Equal(t, risk.BreakerRecovery, cb.GetState())
	assert.Equal(t, 0.25, cb.PositionRatio())

	clock.Advance(10 * time.Minute)
	cb.Tick()
	assert.Equal(t, 0.50, cb.PositionRatio())
}

// TestCircuitBreaker_RecoveryBigClockJump 大幅时间跳变一次跨多级并收敛到 NORMAL。
func TestCircuitBreaker_RecoveryBigClockJump(t *testing.T) {
	cb, clock, audit := newTestBreaker(t)

	require.True(t, cb.Trigger(risk.Metrics{}, nil))
	clock.Advance(5 * time.Minute)
	cb.Tick() // COOLING
	clock.Advance(25 * time.Minute)
	cb.Tick() // RECOVERY @0.25

	// 一口气跳过全部梯级
	clock.Advance(time.Hour)
	assert.Equal(t, risk.BreakerNormal, cb.Tick())
	// 状态变更仍是四条：触发、冷却、恢复、回正常
	assert.Equal(t, 4, audit.Len())
}

// TestBreakerConfig_Validate 配置校验一次性收集全部问题。
func TestBreakerConfig_Validate(t *testing.T) {
	cfg := risk.BreakerConfig{
		DailyLossPct:        -0.1,
		PositionLossPct:     1.5,
		MarginUsagePct:      0.8,
		ConsecutiveLosses:   -1,
		CoolingDuration:     -time.Second,
		FullCoolingDuration: time.Minute,
		PositionRatioSteps:  []float64{0.5, 0.25, 0.9},
		StepInterval:        0,
	}
	errs := cfg.Validate()
	// daily、position、consecutive、cooling、step_interval、步长回落、末级非 1.0
	assert.GreaterOrEqual(t, len(errs), 6)

	_, err := risk.NewCircuitBreaker(cfg, nil, nil, nil)
	require.Error(t, err)
}

// TestBreakerConfig_Defaults 零值配置回填缺省后可用。
func TestBreakerConfig_Defaults(t *testing.T) {
	cb, err := risk.NewCircuitBreaker(risk.BreakerConfig{}, nil, nil, nil)
	require.NoError(t, err)
	cfg := cb.GetConfig()
	assert.Equal(t, 0.03, cfg.DailyLossPct)
	assert.Equal(t, 1.0, cfg.PositionRatioSteps[len(cfg.PositionRatioSteps)-1])
	assert.Equal(t, 5*time.Minute, cfg.CoolingDuration)
}

// TestCircuitBreaker_StateString 状态名与面板约定一致。
func TestCircuitBreaker_StateString(t *testing.T) {
	cases := map[risk.BreakerState]string{
		risk.BreakerNormal:         "NORMAL",
		risk.BreakerTriggered:      "TRIGGERED",
		risk.BreakerCooling:        "COOLING",
		risk.BreakerRecovery:       "RECOVERY",
		risk.BreakerManualOverride: "MANUAL_OVERRIDE",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
