package risk

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState 熔断器状态。
type BreakerState int

const (
	// BreakerNormal 正常交易。
	BreakerNormal BreakerState = iota
	// BreakerTriggered 刚触发熔断，全面停止开仓。
	BreakerTriggered
	// BreakerCooling 冷却期，仅允许减仓。
	BreakerCooling
	// BreakerRecovery 梯度恢复期，按比例放开仓位。
	BreakerRecovery
	// BreakerManualOverride 人工接管，停止开仓直至人工释放。
	BreakerManualOverride
)

func (s BreakerState) String() string {
	switch s {
	case BreakerNormal:
		return "NORMAL"
	case BreakerTriggered:
		return "TRIGGERED"
	case BreakerCooling:
		return "COOLING"
	case BreakerRecovery:
		return "RECOVERY"
	case BreakerManualOverride:
		return "MANUAL_OVERRIDE"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig 熔断阈值与恢复节奏配置。
type BreakerConfig struct {
	// 触发阈值，比例值 (0,1]，ConsecutiveLosses 为笔数（0 表示停用该触发器）。
	DailyLossPct      float64 `yaml:"daily_loss_pct"`
	PositionLossPct   float64 `yaml:"position_loss_pct"`
	MarginUsagePct    float64 `yaml:"margin_usage_pct"`
	ConsecutiveLosses int     `yaml:"consecutive_losses"`

	// 冷却与恢复节奏。FullCoolingDuration 自触发时刻起算，
	// 必须不小于 CoolingDuration。
	CoolingDuration     time.Duration `yaml:"cooling_duration"`
	FullCoolingDuration time.Duration `yaml:"full_cooling_duration"`
	PositionRatioSteps  []float64     `yaml:"position_ratio_steps"`
	StepInterval        time.Duration `yaml:"step_interval"`
}

// DefaultBreakerConfig 生产缺省值。
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
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

// withDefaults 零值字段回填缺省值，已设字段保持不动。
func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.DailyLossPct == 0 {
		c.DailyLossPct = def.DailyLossPct
	}
	if c.PositionLossPct == 0 {
		c.PositionLossPct = def.PositionLossPct
	}
	if c.MarginUsagePct == 0 {
		c.MarginUsagePct = def.MarginUsagePct
	}
	if c.CoolingDuration == 0 {
		c.CoolingDuration = def.CoolingDuration
	}
	if c.FullCoolingDuration == 0 {
		c.FullCoolingDuration = def.FullCoolingDuration
	}
	if len(c.PositionRatioSteps) == 0 {
		c.PositionRatioSteps = append([]float64(nil), def.PositionRatioSteps...)
	}
	if c.StepInterval == 0 {
		c.StepInterval = def.StepInterval
	}
	return c
}

// Validate 一次性收集全部配置问题，供启动期快速失败。
func (c BreakerConfig) Validate() ValidationErrors {
	var errs ValidationErrors
	checkPct := func(name string, v float64) {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%w: %s=%v not in (0,1]", ErrInvalidThreshold, name, v))
		}
	}
	checkPct("daily_loss_pct", c.DailyLossPct)
	checkPct("position_loss_pct", c.PositionLossPct)
	checkPct("margin_usage_pct", c.MarginUsagePct)
	if c.ConsecutiveLosses < 0 {
		errs = append(errs, fmt.Errorf("%w: consecutive_losses=%d negative", ErrInvalidThreshold, c.ConsecutiveLosses))
	}
	if c.CoolingDuration <= 0 {
		errs = append(errs, fmt.Errorf("cooling_duration must be positive, got %v", c.CoolingDuration))
	}
	if c.FullCoolingDuration < c.CoolingDuration {
		errs = append(errs, fmt.Errorf("full_cooling_duration %v shorter than cooling_duration %v",
			c.FullCoolingDuration, c.CoolingDuration))
	}
	if c.StepInterval <= 0 {
		errs = append(errs, fmt.Errorf("step_interval must be positive, got %v", c.StepInterval))
	}
	if len(c.PositionRatioSteps) == 0 {
		errs = append(errs, fmt.Errorf("%w: position_ratio_steps empty", ErrInvalidSteps))
	} else {
		prev := 0.0
		for i, step := range c.PositionRatioSteps {
			if step <= 0 || step > 1 {
				errs = append(errs, fmt.Errorf("%w: step[%d]=%v not in (0,1]", ErrInvalidSteps, i, step))
			}
			if step < prev {
				errs = append(errs, fmt.Errorf("%w: step[%d]=%v decreases from %v", ErrInvalidSteps, i, step, prev))
			}
			prev = step
		}
		if last := c.PositionRatioSteps[len(c.PositionRatioSteps)-1]; last != 1.0 {
			errs = append(errs, fmt.Errorf("%w: last step must be 1.0, got %v", ErrInvalidSteps, last))
		}
	}
	return errs
}

// BreakerStatus 熔断器状态快照。
type BreakerStatus struct {
	State          BreakerState
	StateEnteredAt time.Time
	TriggeredAt    time.Time
	StepIndex      int
	PositionRatio  float64
	LastReasons    []string
	TriggerCount   int64
}

// StateChangeCallback 状态变更回调，异步派发。
type StateChangeCallback func(from, to BreakerState, reason string)

// CircuitBreaker 账户级五态熔断器。
//
// 状态流转：NORMAL -> TRIGGERED -> COOLING -> RECOVERY -> NORMAL，
// 任意状态可被人工接管为 MANUAL_OVERRIDE。全部变更（含强制变更）
// 走同一收口，保证每次变更恰好产生一条审计记录。
type CircuitBreaker struct {
	mu sync.RWMutex

	cfg    BreakerConfig
	clock  Clock
	audit  AuditLogger
	logger *zap.Logger

	state          BreakerState
	stateEnteredAt time.Time
	triggeredAt    time.Time
	stepIndex      int
	stepEnteredAt  time.Time
	lastReasons    []string
	triggerCount   int64
	onStateChange  StateChangeCallback
}

// NewCircuitBreaker 配置校验失败立即报错，绝不带病启动。
func NewCircuitBreaker(cfg BreakerConfig, clock Clock, audit AuditLogger, logger *zap.Logger) (*CircuitBreaker, error) {
	cfg = cfg.withDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("breaker config: %w", errs)
	}
	if clock == nil {
		clock = NowUTC
	}
	if audit == nil {
		audit = NopAuditLogger{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		cfg:            cfg,
		clock:          clock,
		audit:          audit,
		logger:         logger,
		state:          BreakerNormal,
		stateEnteredAt: clock.Now(),
	}, nil
}

// SetStateChangeCallback 注册状态变更回调（如联动撤单的 kill-switch）。
func (cb *CircuitBreaker) SetStateChangeCallback(fn StateChangeCallback) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Trigger 触发熔断。仅在 NORMAL 状态生效，已熔断时重复触发被忽略，
// 返回是否真正触发。
func (cb *CircuitBreaker) Trigger(m Metrics, reasons []string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerNormal {
		return false
	}
	cb.triggeredAt = cb.clock.Now()
	cb.lastReasons = append([]string(nil), reasons...)
	cb.triggerCount++
	details := map[string]interface{}{
		"daily_loss_pct":     m.DailyLossPct,
		"position_loss_pct":  m.PositionLossPct,
		"margin_usage_pct":   m.MarginUsagePct,
		"consecutive_losses": m.ConsecutiveLosses,
	}
	cb.setStateLocked(BreakerTriggered, AuditBreakerStateChange, joinReasons(reasons), details)
	return true
}

// Tick 时间推进，每次调用最多前进一个状态。
// TRIGGERED 冷却期满进入 COOLING；COOLING 在完整冷却窗口过后进入
// RECOVERY；RECOVERY 按 StepInterval 逐级抬升比例，触达末级 1.0
// 即回到 NORMAL。NORMAL 与 MANUAL_OVERRIDE 下为空操作。
func (cb *CircuitBreaker) Tick() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.Now()
	switch cb.state {
	case BreakerTriggered:
		if now.Sub(cb.triggeredAt) >= cb.cfg.CoolingDuration {
			cb.setStateLocked(BreakerCooling, AuditBreakerStateChange, "cooling period started", nil)
		}
	case BreakerCooling:
		if now.Sub(cb.triggeredAt) >= cb.cfg.FullCoolingDuration {
			cb.stepIndex = 0
			cb.stepEnteredAt = now
			cb.setStateLocked(BreakerRecovery, AuditBreakerStateChange, "gradual recovery started", nil)
		}
	case BreakerRecovery:
		cb.advanceRecoveryLocked(now)
	}
	return cb.state
}

// advanceRecoveryLocked 大幅时间跳变时允许一次跨多级，
// 但进入 NORMAL 仍只产生一条审计记录。
func (cb *CircuitBreaker) advanceRecoveryLocked(now time.Time) {
	steps := cb.cfg.PositionRatioSteps
	for cb.stepIndex < len(steps)-1 && now.Sub(cb.stepEnteredAt) >= cb.cfg.StepInterval {
		cb.stepIndex++
		cb.stepEnteredAt = cb.stepEnteredAt.Add(cb.cfg.StepInterval)
	}
	// 末级必为 1.0（构造期已校验），触达即恢复正常。
	if cb.stepIndex >= len(steps)-1 {
		cb.setStateLocked(BreakerNormal, AuditBreakerStateChange, "recovery complete", nil)
	}
}

// ManualOverride 人工接管，任意状态均可进入。已处于接管状态时
// 仅更新原因，不算状态变更，不产生审计记录。
func (cb *CircuitBreaker) ManualOverride(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerManualOverride {
		cb.lastReasons = []string{reason}
		return
	}
	cb.lastReasons = []string{reason}
	cb.setStateLocked(BreakerManualOverride, AuditManualOverride, reason, nil)
}

// ManualRelease 人工释放。toNormal 为真直接恢复正常，
// 否则进入 COOLING 并重新起算冷却窗口。
func (cb *CircuitBreaker) ManualRelease(toNormal bool) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerManualOverride {
		return fmt.Errorf("%w: state=%s", ErrNotManualState, cb.state)
	}
	if toNormal {
		cb.setStateLocked(BreakerNormal, AuditManualRelease, "manual release to normal", nil)
		return nil
	}
	cb.triggeredAt = cb.clock.Now()
	cb.setStateLocked(BreakerCooling, AuditManualRelease, "manual release to cooling", nil)
	return nil
}

// ForceState 管理员强制设置状态，绕过流转规则。目标与当前一致时
// 不算变更、不产生审计记录。
func (cb *CircuitBreaker) ForceState(target BreakerState, reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if target == cb.state {
		return
	}
	now := cb.clock.Now()
	switch target {
	case BreakerTriggered, BreakerCooling:
		cb.triggeredAt = now
	case BreakerRecovery:
		cb.stepIndex = 0
		cb.stepEnteredAt = now
	}
	cb.setStateLocked(target, AuditForceState, reason, nil)
}

// GetState 当前状态。
func (cb *CircuitBreaker) GetState() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// PositionRatio 当前允许仓位比例：NORMAL 为 1.0，
// TRIGGERED/COOLING/MANUAL_OVERRIDE 为 0.0，RECOVERY 为当前梯级值。
func (cb *CircuitBreaker) PositionRatio() float64 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.positionRatioLocked()
}

func (cb *CircuitBreaker) positionRatioLocked() float64 {
	switch cb.state {
	case BreakerNormal:
		return 1.0
	case BreakerRecovery:
		return cb.cfg.PositionRatioSteps[cb.stepIndex]
	default:
		return 0.0
	}
}

// IsTradingAllowed NORMAL 与 RECOVERY 下允许交易。
func (cb *CircuitBreaker) IsTradingAllowed() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state == BreakerNormal || cb.state == BreakerRecovery
}

// IsNewPositionAllowed 与 IsTradingAllowed 一致：RECOVERY 允许按比例开新仓。
func (cb *CircuitBreaker) IsNewPositionAllowed() bool {
	return cb.IsTradingAllowed()
}

// GetStatus 状态快照。
func (cb *CircuitBreaker) GetStatus() BreakerStatus {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return BreakerStatus{
		State:          cb.state,
		StateEnteredAt: cb.stateEnteredAt,
		TriggeredAt:    cb.triggeredAt,
		StepIndex:      cb.stepIndex,
		PositionRatio:  cb.positionRatioLocked(),
		LastReasons:    append([]string(nil), cb.lastReasons...),
		TriggerCount:   cb.triggerCount,
	}
}

// GetConfig 返回配置副本。
func (cb *CircuitBreaker) GetConfig() BreakerConfig {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	cfg := cb.cfg
	cfg.PositionRatioSteps = append([]float64(nil), cb.cfg.PositionRatioSteps...)
	return cfg
}

// setStateLocked 状态变更唯一收口：恰好一条审计记录、一条日志、
// 一次回调。审计落地失败只记日志，不回传调用方。
func (cb *CircuitBreaker) setStateLocked(to BreakerState, eventType, reason string, details map[string]interface{}) {
	from := cb.state
	if from == to {
		return
	}
	now := cb.clock.Now()
	cb.state = to
	cb.stateEnteredAt = now

	record := AuditRecord{
		Timestamp: now,
		EventType: eventType,
		FromState: from.String(),
		ToState:   to.String(),
		Reason:    reason,
		Details:   details,
	}
	if err := cb.audit.Log(record); err != nil {
		cb.logger.Warn("审计写入失败", zap.Error(err), zap.String("event", eventType))
	}
	cb.logger.Info("熔断器状态变更",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason),
	)
	if cb.onStateChange != nil {
		go cb.onStateChange(from, to, reason)
	}
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "risk threshold breached"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
