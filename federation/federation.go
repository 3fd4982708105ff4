package federation

import (
	"errors"
	"fmt"
	"sync"

	"futures-exec-go/risk"
)

var (
	ErrTradingNotAllowed = errors.New("federation: trading not allowed by circuit breaker")
	ErrUnknownPool       = errors.New("federation: unknown pool")
	ErrDuplicatePool     = errors.New("federation: pool already registered")
)

// TradingGate 熔断门。*risk.CircuitBreaker 与 *risk.Controller 均满足。
type TradingGate interface {
	IsTradingAllowed() bool
}

// StrategyFederation 多策略联邦层：信号仲裁 + 共享资源池，
// 所有扩张性操作先过熔断门。归还类操作不设门——减少占用永远安全。
type StrategyFederation struct {
	mu sync.Mutex

	gate    TradingGate
	arbiter *SignalArbiter
	pools   map[string]*ResourcePool
}

func NewStrategyFederation(gate TradingGate, audit risk.AuditLogger) *StrategyFederation {
	return &StrategyFederation{
		gate:    gate,
		arbiter: NewSignalArbiter(audit),
		pools:   make(map[string]*ResourcePool),
	}
}

// AddPool 注册资源池，名称唯一。
func (f *StrategyFederation) AddPool(pool *ResourcePool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.pools[pool.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePool, pool.Name())
	}
	f.pools[pool.Name()] = pool
	return nil
}

// Pool 按名取池。
func (f *StrategyFederation) Pool(name string) (*ResourcePool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[name]
	return p, ok
}

// Allocate 熔断停止期拒绝一切新划拨。
func (f *StrategyFederation) Allocate(poolName, strategyID string, amount float64) error {
	if f.gate != nil && !f.gate.IsTradingAllowed() {
		return ErrTradingNotAllowed
	}
	pool, ok := f.Pool(poolName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, poolName)
	}
	return pool.Allocate(strategyID, amount)
}

// Release 归还不设熔断门。
func (f *StrategyFederation) Release(poolName, strategyID string, amount float64) error {
	pool, ok := f.Pool(poolName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, poolName)
	}
	return pool.Release(strategyID, amount)
}

// ReleaseStrategy 策略下线：归还其在全部池中的划拨。
func (f *StrategyFederation) ReleaseStrategy(strategyID string) map[string]float64 {
	f.mu.Lock()
	pools := make([]*ResourcePool, 0, len(f.pools))
	for _, p := range f.pools {
		pools = append(pools, p)
	}
	f.mu.Unlock()

	released := make(map[string]float64)
	for _, p := range pools {
		if amount := p.ReleaseAll(strategyID); amount > 0 {
			released[p.Name()] = amount
		}
	}
	return released
}

// ArbitrateTargets 仲裁多策略信号为最终目标仓位。
// 熔断停止期拒绝仲裁（上游不应在停止期继续派发目标）。
func (f *StrategyFederation) ArbitrateTargets(signals []Signal) (map[string]int64, error) {
	if f.gate != nil && !f.gate.IsTradingAllowed() {
		return nil, ErrTradingNotAllowed
	}
	return f.arbiter.ArbitrateTargets(signals), nil
}

// Snapshot 全部池的状态快照。
func (f *StrategyFederation) Snapshot() map[string]PoolSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]PoolSnapshot, len(f.pools))
	for name, p := range f.pools {
		out[name] = p.Snapshot()
	}
	return out
}
