package risk

import (
	"fmt"
	"strings"
)

// TriggerResult 单个触发器的判定结果。
type TriggerResult struct {
	Triggered bool
	Details   string
}

// Trigger 风险触发器。Check 只读快照，不产生副作用。
type Trigger interface {
	Name() string
	Check(snap StateSnapshot) TriggerResult
}

// DailyLossTrigger 日内亏损比例超限触发。
type DailyLossTrigger struct {
	Threshold float64
}

func (t *DailyLossTrigger) Name() string { return "daily_loss" }

func (t *DailyLossTrigger) Check(snap StateSnapshot) TriggerResult {
	loss := dailyLossPct(snap)
	if loss > t.Threshold {
		return TriggerResult{
			Triggered: true,
			Details:   fmt.Sprintf("daily loss %.2f%% exceeds limit %.2f%%", loss*100, t.Threshold*100),
		}
	}
	return TriggerResult{}
}

// PositionLossTrigger 任一单仓亏损比例超限触发，记录最差合约。
type PositionLossTrigger struct {
	Threshold float64
}

func (t *PositionLossTrigger) Name() string { return "position_loss" }

func (t *PositionLossTrigger) Check(snap StateSnapshot) TriggerResult {
	worst, offender := worstPositionLoss(snap)
	if worst > t.Threshold {
		return TriggerResult{
			Triggered: true,
			Details: fmt.Sprintf("position %s loss %.2f%% exceeds limit %.2f%%",
				offender, worst*100, t.Threshold*100),
		}
	}
	return TriggerResult{}
}

// MarginUsageTrigger 保证金占用比例超限触发。
type MarginUsageTrigger struct {
	Threshold float64
}

func (t *MarginUsageTrigger) Name() string { return "margin_usage" }

func (t *MarginUsageTrigger) Check(snap StateSnapshot) TriggerResult {
	usage := marginUsagePct(snap)
	if usage > t.Threshold {
		return TriggerResult{
			Triggered: true,
			Details:   fmt.Sprintf("margin usage %.2f%% exceeds limit %.2f%%", usage*100, t.Threshold*100),
		}
	}
	return TriggerResult{}
}

// ConsecutiveLossTrigger 连亏笔数达到阈值触发。
type ConsecutiveLossTrigger struct {
	Threshold int
}

func (t *ConsecutiveLossTrigger) Name() string { return "consecutive_loss" }

func (t *ConsecutiveLossTrigger) Check(snap StateSnapshot) TriggerResult {
	losses := snap.Int(KeyConsecutiveLosses)
	if t.Threshold > 0 && losses >= t.Threshold {
		return TriggerResult{
			Triggered: true,
			Details:   fmt.Sprintf("consecutive losses %d reached limit %d", losses, t.Threshold),
		}
	}
	return TriggerResult{}
}

// CompositeRiskTrigger 逻辑或组合：任一子触发器命中即触发，
// 汇总全部命中原因供审计。
type CompositeRiskTrigger struct {
	triggers []Trigger
}

func NewCompositeRiskTrigger(triggers ...Trigger) *CompositeRiskTrigger {
	return &CompositeRiskTrigger{triggers: triggers}
}

// NewRiskTriggers 按配置组装标准四触发器。
func NewRiskTriggers(cfg BreakerConfig) *CompositeRiskTrigger {
	return NewCompositeRiskTrigger(
		&DailyLossTrigger{Threshold: cfg.DailyLossPct},
		&PositionLossTrigger{Threshold: cfg.PositionLossPct},
		&MarginUsageTrigger{Threshold: cfg.MarginUsagePct},
		&ConsecutiveLossTrigger{Threshold: cfg.ConsecutiveLosses},
	)
}

// Check 返回合并结果，Details 为分号连接的全部原因。
func (c *CompositeRiskTrigger) Check(snap StateSnapshot) TriggerResult {
	fired, reasons := c.CheckAll(snap)
	return TriggerResult{Triggered: fired, Details: strings.Join(reasons, "; ")}
}

// CheckAll 逐一执行子触发器，返回是否触发与全部命中原因。
func (c *CompositeRiskTrigger) CheckAll(snap StateSnapshot) (bool, []string) {
	var reasons []string
	for _, t := range c.triggers {
		if res := t.Check(snap); res.Triggered {
			reasons = append(reasons, res.Details)
		}
	}
	return len(reasons) > 0, reasons
}
