package federation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"futures-exec-go/risk"
)

// Signal 单个策略对单个合约的目标仓位信号。
type Signal struct {
	StrategyID string
	Symbol     string
	TargetQty  int64
	Priority   int // 越大越优先
	Timestamp  time.Time
}

// SignalArbiter 多策略信号仲裁：同合约冲突时高优先级胜出，
// 同优先级取最新信号，再同则按策略名字典序保证确定性。
// 每个发生压制的合约产生一条审计记录。
type SignalArbiter struct {
	mu    sync.Mutex
	audit risk.AuditLogger
}

func NewSignalArbiter(audit risk.AuditLogger) *SignalArbiter {
	if audit == nil {
		audit = risk.NopAuditLogger{}
	}
	return &SignalArbiter{audit: audit}
}

// Arbitrate 返回每合约的胜出信号。
func (a *SignalArbiter) Arbitrate(signals []Signal) map[string]Signal {
	a.mu.Lock()
	defer a.mu.Unlock()

	bySymbol := make(map[string][]Signal)
	for _, s := range signals {
		if s.Symbol == "" {
			continue
		}
		bySymbol[s.Symbol] = append(bySymbol[s.Symbol], s)
	}

	winners := make(map[string]Signal, len(bySymbol))
	for symbol, group := range bySymbol {
		sort.Slice(group, func(i, j int) bool {
			if group[i].Priority != group[j].Priority {
				return group[i].Priority > group[j].Priority
			}
			if !group[i].Timestamp.Equal(group[j].Timestamp) {
				return group[i].Timestamp.After(group[j].Timestamp)
			}
			return group[i].StrategyID < group[j].StrategyID
		})
		winner := group[0]
		winners[symbol] = winner

		if len(group) > 1 {
			a.auditOverrideLocked(symbol, winner, group[1:])
		}
	}
	return winners
}

// ArbitrateTargets 直接展平成 symbol -> 目标手数。
func (a *SignalArbiter) ArbitrateTargets(signals []Signal) map[string]int64 {
	winners := a.Arbitrate(signals)
	out := make(map[string]int64, len(winners))
	for symbol, s := range winners {
		out[symbol] = s.TargetQty
	}
	return out
}

func (a *SignalArbiter) auditOverrideLocked(symbol string, winner Signal, losers []Signal) {
	overridden := make([]string, 0, len(losers))
	for _, l := range losers {
		overridden = append(overridden, fmt.Sprintf("%s(qty=%d,prio=%d)", l.StrategyID, l.TargetQty, l.Priority))
	}
	// 审计失败不影响仲裁结果。
	_ = a.audit.Log(risk.AuditRecord{
		Timestamp: winner.Timestamp,
		EventType: risk.AuditSignalOverride,
		Reason:    fmt.Sprintf("symbol %s: %s wins with qty=%d prio=%d", symbol, winner.StrategyID, winner.TargetQty, winner.Priority),
		Details: map[string]interface{}{
			"symbol":     symbol,
			"winner":     winner.StrategyID,
			"target_qty": winner.TargetQty,
			"priority":   winner.Priority,
			"overridden": overridden,
		},
	})
}
