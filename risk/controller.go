package risk

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ControllerStatus 一轮检查后的聚合状态。
type ControllerStatus struct {
	BreakerState         BreakerState
	RecoveryStage        RecoveryStage
	PositionRatio        float64
	IsTradingAllowed     bool
	IsNewPositionAllowed bool
	LastCheckTime        time.Time
	LastTriggerReasons   []string
	Metrics              Metrics
}

// Fields 展平为键值对，方便日志与面板输出。
func (s ControllerStatus) Fields() map[string]interface{} {
	return map[string]interface{}{
		"breaker_state":           s.BreakerState.String(),
		"recovery_stage":          s.RecoveryStage.String(),
		"position_ratio":          s.PositionRatio,
		"is_trading_allowed":      s.IsTradingAllowed,
		"is_new_position_allowed": s.IsNewPositionAllowed,
		"last_check_time":         s.LastCheckTime,
		"last_trigger_reasons":    s.LastTriggerReasons,
		"daily_loss_pct":          s.Metrics.DailyLossPct,
		"position_loss_pct":       s.Metrics.PositionLossPct,
		"margin_usage_pct":        s.Metrics.MarginUsagePct,
		"consecutive_losses":      s.Metrics.ConsecutiveLosses,
	}
}

// ControllerComponents 控制器的外部能力，未提供的项使用安全空实现。
type ControllerComponents struct {
	Alerts AlertSender
	Audit  AuditLogger
	Scaler PositionScaler
	Clock  Clock
	Logger *zap.Logger
}

// Controller 账户级风控总控：指标采集、触发判定、熔断联动、
// 恢复推进与目标仓位过滤在同一把锁下串行执行。
type Controller struct {
	mu sync.Mutex

	breaker   *CircuitBreaker
	collector *MetricsCollector
	triggers  *CompositeRiskTrigger
	recovery  *GradualRecoveryExecutor
	alerts    AlertSender
	logger    *zap.Logger
	clock     Clock

	lastCheck   time.Time
	lastMetrics Metrics
}

// NewController 配置问题在构造期一次性暴露。
func NewController(cfg BreakerConfig, comps ControllerComponents) (*Controller, error) {
	if comps.Alerts == nil {
		comps.Alerts = NopAlertSender{}
	}
	if comps.Audit == nil {
		comps.Audit = NopAuditLogger{}
	}
	if comps.Clock == nil {
		comps.Clock = NowUTC
	}
	if comps.Logger == nil {
		comps.Logger = zap.NewNop()
	}

	breaker, err := NewCircuitBreaker(cfg, comps.Clock, comps.Audit, comps.Logger)
	if err != nil {
		return nil, err
	}
	return &Controller{
		breaker:   breaker,
		collector: NewMetricsCollector(),
		triggers:  NewRiskTriggers(breaker.GetConfig()),
		recovery:  NewGradualRecoveryExecutor(breaker, comps.Scaler, comps.Alerts),
		alerts:    comps.Alerts,
		logger:    comps.Logger,
		clock:     comps.Clock,
	}, nil
}

// Check 完整的一轮风险检查：采集指标，仅在 NORMAL 下判定触发
// （已熔断时不重复触发），命中则熔断并告警，随后推进恢复执行器。
func (c *Controller) Check(snap StateSnapshot) ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	metrics := c.collector.Collect(snap)
	c.lastMetrics = metrics

	if c.breaker.GetState() == BreakerNormal {
		// 触发判定使用与指标一致的连亏计数。
		enriched := make(StateSnapshot, len(snap)+1)
		for k, v := range snap {
			enriched[k] = v
		}
		if !snap.Has(KeyConsecutiveLosses) {
			enriched[KeyConsecutiveLosses] = metrics.ConsecutiveLosses
		}
		if fired, reasons := c.triggers.CheckAll(enriched); fired {
			c.breaker.Trigger(metrics, reasons)
			c.alerts.SendAlert(AlertError, "circuit breaker triggered", map[string]interface{}{
				"reasons":            reasons,
				"daily_loss_pct":     metrics.DailyLossPct,
				"position_loss_pct":  metrics.PositionLossPct,
				"margin_usage_pct":   metrics.MarginUsagePct,
				"consecutive_losses": metrics.ConsecutiveLosses,
			})
			c.logger.Warn("风控触发熔断", zap.Strings("reasons", reasons))
		}
	}

	c.recovery.Tick()
	c.lastCheck = now
	return c.statusLocked()
}

// Tick 仅推进时间（冷却、恢复梯级），不重新判定触发。
func (c *Controller) Tick() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recovery.Tick()
	return c.statusLocked()
}

// FilterTargetPortfolio 按熔断状态过滤目标仓位。
//
// NORMAL 原样放行；TRIGGERED/COOLING/MANUAL_OVERRIDE 只减不增：
// 无持仓归零，多头钳制到 [0, current]，空头钳制到 [current, 0]；
// RECOVERY 先按比例缩放，无持仓放行缩放值，有持仓时在缩放方向上
// 限制到当前仓位的两倍，防止恢复初期一步放大。
func (c *Controller) FilterTargetPortfolio(target, current map[string]int64) map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.breaker.GetState() {
	case BreakerNormal:
		out := make(map[string]int64, len(target))
		for symbol, qty := range target {
			out[symbol] = qty
		}
		return out
	case BreakerRecovery:
		return c.filterRecoveryLocked(target, current)
	default:
		return filterReduceOnly(target, current)
	}
}

func filterReduceOnly(target, current map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(target))
	for symbol, want := range target {
		cur := current[symbol]
		switch {
		case cur == 0:
			out[symbol] = 0
		case cur > 0:
			out[symbol] = clampInt64(want, 0, cur)
		default:
			out[symbol] = clampInt64(want, cur, 0)
		}
	}
	return out
}

func (c *Controller) filterRecoveryLocked(target, current map[string]int64) map[string]int64 {
	scaled := c.recovery.GetScaledPosition(target)
	out := make(map[string]int64, len(scaled))
	for symbol, want := range scaled {
		cur := current[symbol]
		if cur == 0 {
			out[symbol] = want
			continue
		}
		leash := 2 * absInt64(cur)
		out[symbol] = clampInt64(want, -leash, leash)
	}
	return out
}

// GetStatus 当前聚合状态，不推进任何时钟。
func (c *Controller) GetStatus() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() ControllerStatus {
	bs := c.breaker.GetStatus()
	return ControllerStatus{
		BreakerState:         bs.State,
		RecoveryStage:        c.recovery.Stage(),
		PositionRatio:        bs.PositionRatio,
		IsTradingAllowed:     bs.State == BreakerNormal || bs.State == BreakerRecovery,
		IsNewPositionAllowed: bs.State == BreakerNormal || bs.State == BreakerRecovery,
		LastCheckTime:        c.lastCheck,
		LastTriggerReasons:   bs.LastReasons,
		Metrics:              c.lastMetrics,
	}
}

// ManualOverride 人工接管。
func (c *Controller) ManualOverride(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breaker.ManualOverride(reason)
	c.alerts.SendAlert(AlertWarn, "manual override engaged", map[string]interface{}{"reason": reason})
}

// ManualRelease 人工释放。
func (c *Controller) ManualRelease(toNormal bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breaker.ManualRelease(toNormal)
}

// Reset 管理员复位到 NORMAL，连亏计数一并清零。
func (c *Controller) Reset(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breaker.ForceState(BreakerNormal, reason)
	c.collector.ResetDaily()
}

// RecordTradeResult 上报单笔已实现盈亏，维护连亏计数。
func (c *Controller) RecordTradeResult(pnl float64) int {
	return c.collector.RecordTradeResult(pnl)
}

// ResetDaily 日切清零。
func (c *Controller) ResetDaily() {
	c.collector.ResetDaily()
}

// Breaker 暴露底层熔断器（联动 kill-switch 等高级用法）。
func (c *Controller) Breaker() *CircuitBreaker {
	return c.breaker
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
