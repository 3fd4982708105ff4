package federation

import (
	"errors"
	"fmt"
	"sync"
)

// 标准资源池名称。
const (
	PoolPositionQuota = "position_quota"
	PoolMarginQuota   = "margin_quota"
	PoolOrderRate     = "order_rate"
	PoolComputeSlots  = "compute_slots"
)

var (
	ErrInsufficient    = errors.New("insufficient pool capacity")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrOverRelease     = errors.New("release exceeds allocation")
	ErrOverUnreserve   = errors.New("unreserve exceeds reserved")
	ErrInvalidCapacity = errors.New("total capacity must be positive")
)

// PoolSnapshot 资源池状态快照。
type PoolSnapshot struct {
	Name          string
	TotalCapacity float64
	Available     float64
	Reserved      float64
	Allocations   map[string]float64
}

// Sum 校验用：available + reserved + Σallocations。
func (s PoolSnapshot) Sum() float64 {
	sum := s.Available + s.Reserved
	for _, v := range s.Allocations {
		sum += v
	}
	return sum
}

// ResourcePool 跨策略共享的单一资源池（仓位额度、保证金额度、
// 报单频率、计算槽）。全部操作在同一把锁下完成，任何时刻满足
// available + reserved + Σallocations == total_capacity。
type ResourcePool struct {
	mu sync.Mutex

	name        string
	total       float64
	available   float64
	reserved    float64
	allocations map[string]float64
}

func NewResourcePool(name string, totalCapacity float64) (*ResourcePool, error) {
	if totalCapacity <= 0 {
		return nil, fmt.Errorf("%w: %s=%v", ErrInvalidCapacity, name, totalCapacity)
	}
	return &ResourcePool{
		name:        name,
		total:       totalCapacity,
		available:   totalCapacity,
		allocations: make(map[string]float64),
	}, nil
}

func (p *ResourcePool) Name() string { return p.name }

// Allocate 给策略划拨额度，余量不足整笔拒绝，绝不部分成交。
func (p *ResourcePool) Allocate(strategyID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: allocate %v", ErrInvalidAmount, amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount > p.available {
		return fmt.Errorf("%w: pool %s available %v, requested %v",
			ErrInsufficient, p.name, p.available, amount)
	}
	p.available -= amount
	p.allocations[strategyID] += amount
	return nil
}

// Release 归还额度。超出该策略当前划拨视为记账错误，整笔拒绝。
func (p *ResourcePool) Release(strategyID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: release %v", ErrInvalidAmount, amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.allocations[strategyID]
	if amount > held {
		return fmt.Errorf("%w: strategy %s holds %v, releasing %v",
			ErrOverRelease, strategyID, held, amount)
	}
	p.available += amount
	if held == amount {
		delete(p.allocations, strategyID)
	} else {
		p.allocations[strategyID] = held - amount
	}
	return nil
}

// ReleaseAll 归还某策略全部划拨，返回归还量。策略下线时使用。
func (p *ResourcePool) ReleaseAll(strategyID string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.allocations[strategyID]
	if held > 0 {
		p.available += held
		delete(p.allocations, strategyID)
	}
	return held
}

// Reserve 预留额度（尚未归属任何策略，例如为待确认订单占坑）。
func (p *ResourcePool) Reserve(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: reserve %v", ErrInvalidAmount, amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount > p.available {
		return fmt.Errorf("%w: pool %s available %v, reserving %v",
			ErrInsufficient, p.name, p.available, amount)
	}
	p.available -= amount
	p.reserved += amount
	return nil
}

// Unreserve 释放预留。
func (p *ResourcePool) Unreserve(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: unreserve %v", ErrInvalidAmount, amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount > p.reserved {
		return fmt.Errorf("%w: pool %s reserved %v, unreserving %v",
			ErrOverUnreserve, p.name, p.reserved, amount)
	}
	p.reserved -= amount
	p.available += amount
	return nil
}

// CommitReserved 把预留转为某策略的正式划拨（下单确认后落账）。
func (p *ResourcePool) CommitReserved(strategyID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: commit %v", ErrInvalidAmount, amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount > p.reserved {
		return fmt.Errorf("%w: pool %s reserved %v, committing %v",
			ErrOverUnreserve, p.name, p.reserved, amount)
	}
	p.reserved -= amount
	p.allocations[strategyID] += amount
	return nil
}

// AllocationOf 某策略当前划拨量。
func (p *ResourcePool) AllocationOf(strategyID string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocations[strategyID]
}

// Available 当前可用余量。
func (p *ResourcePool) Available() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Snapshot 返回深拷贝快照。
func (p *ResourcePool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	allocs := make(map[string]float64, len(p.allocations))
	for k, v := range p.allocations {
		allocs[k] = v
	}
	return PoolSnapshot{
		Name:          p.name,
		TotalCapacity: p.total,
		Available:     p.available,
		Reserved:      p.reserved,
		Allocations:   allocs,
	}
}
