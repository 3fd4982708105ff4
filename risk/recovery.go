package risk

import (
	"fmt"
	"sync"
	"time"
)

// RecoveryStage 恢复执行器对外呈现的阶段。
type RecoveryStage int

const (
	StageIdle RecoveryStage = iota
	StageCooling
	StageRecovering
	StageCompleted
)

func (s RecoveryStage) String() string {
	switch s {
	case StageIdle:
		return "IDLE"
	case StageCooling:
		return "COOLING"
	case StageRecovering:
		return "RECOVERING"
	case StageCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// RecoveryEventType 恢复过程事件类型。
type RecoveryEventType string

const (
	RecoveryEventTriggered      RecoveryEventType = "breaker_triggered"
	RecoveryEventCoolingStart   RecoveryEventType = "cooling_start"
	RecoveryEventRecoveryStart  RecoveryEventType = "recovery_start"
	RecoveryEventRecoveryStep   RecoveryEventType = "recovery_step"
	RecoveryEventComplete       RecoveryEventType = "recovery_complete"
	RecoveryEventManualOverride RecoveryEventType = "manual_override"
)

// RecoveryEvent 发往 AlertSender 的恢复过程事件。
type RecoveryEvent struct {
	Type      RecoveryEventType
	Stage     RecoveryStage
	Ratio     float64
	Message   string
	Timestamp time.Time
}

// PositionScaler 目标仓位缩放能力。
type PositionScaler interface {
	ScalePosition(target map[string]int64, ratio float64) map[string]int64
}

// DefaultScaler 截断取整；非零意图缩到零时按原方向保底一手，
// 避免低比例阶段目标仓位在 0 与 1 之间来回震荡。
type DefaultScaler struct{}

func (DefaultScaler) ScalePosition(target map[string]int64, ratio float64) map[string]int64 {
	scaled := make(map[string]int64, len(target))
	for symbol, qty := range target {
		v := int64(float64(qty) * ratio)
		if v == 0 && qty != 0 {
			if qty > 0 {
				v = 1
			} else {
				v = -1
			}
		}
		scaled[symbol] = v
	}
	return scaled
}

// GradualRecoveryExecutor 跟随熔断器推进恢复阶段，
// 对外提供缩放后的目标仓位，并把阶段变化以事件形式发给告警通道。
type GradualRecoveryExecutor struct {
	mu      sync.Mutex
	breaker *CircuitBreaker
	scaler  PositionScaler
	alerts  AlertSender

	stage     RecoveryStage
	lastState BreakerState
	lastRatio float64
}

func NewGradualRecoveryExecutor(breaker *CircuitBreaker, scaler PositionScaler, alerts AlertSender) *GradualRecoveryExecutor {
	if scaler == nil {
		scaler = DefaultScaler{}
	}
	if alerts == nil {
		alerts = NopAlertSender{}
	}
	return &GradualRecoveryExecutor{
		breaker:   breaker,
		scaler:    scaler,
		alerts:    alerts,
		stage:     StageIdle,
		lastState: breaker.GetState(),
		lastRatio: breaker.PositionRatio(),
	}
}

// Tick 先推进熔断器，再从其状态重算本地阶段。
// 阶段或梯级变化时发出对应事件。
func (e *GradualRecoveryExecutor) Tick() RecoveryStage {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.breaker.Tick()
	ratio := e.breaker.PositionRatio()
	e.resyncLocked(state, ratio)
	return e.stage
}

// resyncLocked 根据熔断器状态边沿发事件并更新阶段。
func (e *GradualRecoveryExecutor) resyncLocked(state BreakerState, ratio float64) {
	prevState := e.lastState
	prevRatio := e.lastRatio
	e.lastState = state
	e.lastRatio = ratio

	switch state {
	case BreakerTriggered:
		e.stage = StageCooling
		if prevState != BreakerTriggered {
			e.emitLocked(RecoveryEventTriggered, ratio, "circuit breaker triggered, trading halted")
		}
	case BreakerCooling:
		e.stage = StageCooling
		if prevState != BreakerCooling {
			e.emitLocked(RecoveryEventCoolingStart, ratio, "cooling period started, reduce-only")
		}
	case BreakerRecovery:
		e.stage = StageRecovering
		if prevState != BreakerRecovery {
			e.emitLocked(RecoveryEventRecoveryStart, ratio,
				fmt.Sprintf("gradual recovery started at ratio %.2f", ratio))
		} else if ratio != prevRatio {
			e.emitLocked(RecoveryEventRecoveryStep, ratio,
				fmt.Sprintf("recovery ratio raised to %.2f", ratio))
		}
	case BreakerManualOverride:
		// 人工接管期间同样按冷却对待：不开新仓。
		e.stage = StageCooling
		if prevState != BreakerManualOverride {
			e.emitLocked(RecoveryEventManualOverride, ratio, "manual override engaged")
		}
	case BreakerNormal:
		if prevState == BreakerRecovery {
			e.stage = StageCompleted
			e.emitLocked(RecoveryEventComplete, ratio, "recovery complete, trading resumed")
		} else if e.stage != StageCompleted {
			// COMPLETED 保持到下一次触发，便于面板确认恢复轨迹。
			e.stage = StageIdle
		}
	}
}

// Stage 当前阶段。
func (e *GradualRecoveryExecutor) Stage() RecoveryStage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

// GetScaledPosition 按熔断器状态过滤目标仓位：
// 停止期返回空表（只持有，不开新仓），恢复期按当前比例缩放，
// 正常期原样返回副本。
func (e *GradualRecoveryExecutor) GetScaledPosition(target map[string]int64) map[string]int64 {
	switch e.breaker.GetState() {
	case BreakerNormal:
		out := make(map[string]int64, len(target))
		for symbol, qty := range target {
			out[symbol] = qty
		}
		return out
	case BreakerRecovery:
		return e.scaler.ScalePosition(target, e.breaker.PositionRatio())
	default:
		return map[string]int64{}
	}
}

func (e *GradualRecoveryExecutor) emitLocked(eventType RecoveryEventType, ratio float64, message string) {
	ev := RecoveryEvent{
		Type:      eventType,
		Stage:     e.stage,
		Ratio:     ratio,
		Message:   message,
		Timestamp: e.breaker.clock.Now(),
	}
	level := AlertWarn
	switch eventType {
	case RecoveryEventTriggered:
		level = AlertError
	case RecoveryEventComplete, RecoveryEventRecoveryStep:
		level = AlertInfo
	}
	e.alerts.SendAlert(level, ev.Message, map[string]interface{}{
		"event": string(ev.Type),
		"stage": ev.Stage.String(),
		"ratio": ev.Ratio,
		"time":  ev.Timestamp,
	})
}
