package risk

import "sync"

// Metrics 一轮风险检查得出的派生指标。
// 纯计算结果，每次检查重算，不做历史留存。
type Metrics struct {
	DailyLossPct      float64 `json:"daily_loss_pct"`
	PositionLossPct   float64 `json:"position_loss_pct"`
	MarginUsagePct    float64 `json:"margin_usage_pct"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
}

// MetricsCollector 从账户快照计算风险指标，并维护连亏计数。
type MetricsCollector struct {
	mu                sync.Mutex
	consecutiveLosses int
	last              Metrics
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// Collect 计算一轮指标。快照里显式带 consecutive_losses 时以快照为准，
// 否则使用内部计数器。
func (c *MetricsCollector) Collect(snap StateSnapshot) Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metrics{
		DailyLossPct:      dailyLossPct(snap),
		MarginUsagePct:    marginUsagePct(snap),
		ConsecutiveLosses: c.consecutiveLosses,
	}
	m.PositionLossPct, _ = worstPositionLoss(snap)
	if snap.Has(KeyConsecutiveLosses) {
		m.ConsecutiveLosses = snap.Int(KeyConsecutiveLosses)
	}
	c.last = m
	return m
}

// RecordTradeResult 亏损递增、盈亏平衡或盈利清零，返回最新计数。
func (c *MetricsCollector) RecordTradeResult(pnl float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pnl < 0 {
		c.consecutiveLosses++
	} else {
		c.consecutiveLosses = 0
	}
	return c.consecutiveLosses
}

// ResetDaily 日切清零连亏计数。
func (c *MetricsCollector) ResetDaily() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveLosses = 0
}

func (c *MetricsCollector) ConsecutiveLosses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveLosses
}

// LastMetrics 最近一轮计算结果。
func (c *MetricsCollector) LastMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// dailyLossPct 日内亏损比例。day_start_equity <= 0 视为数据异常，
// 返回 0 而不是抛错（日亏触发器宁可漏报也不能因脏数据误熔断）。
func dailyLossPct(snap StateSnapshot) float64 {
	dayStart := snap.Float(KeyDayStartEquity)
	if dayStart <= 0 {
		return 0
	}
	loss := (dayStart - snap.Float(KeyCurrentEquity)) / dayStart
	if loss < 0 {
		return 0
	}
	return loss
}

// worstPositionLoss 返回最差单仓亏损比例及其合约。
func worstPositionLoss(snap StateSnapshot) (float64, string) {
	worst := 0.0
	offender := ""
	for _, p := range snap.Positions() {
		if p.Cost <= 0 {
			continue
		}
		loss := (p.Cost - p.Value) / p.Cost
		if loss > worst {
			worst = loss
			offender = p.Symbol
		}
	}
	return worst, offender
}

// marginUsagePct 保证金占用比例。分母非正时偏向“视为占满”：
// 歧义的风险数据绝不能静默当作安全。
func marginUsagePct(snap StateSnapshot) float64 {
	used := snap.Float(KeyMarginUsed)
	var base float64
	if snap.Has(KeyMarginAvailable) {
		base = used + snap.Float(KeyMarginAvailable)
	} else {
		base = snap.Float(KeyCurrentEquity)
	}
	if base <= 0 {
		if used > 0 {
			return 1.0
		}
		return 0.0
	}
	return used / base
}
