package order

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// PriceMode 追价定价模式
type PriceMode string

const (
	// PriceToBest 直接取对手价
	PriceToBest PriceMode = "TO_BEST"
	// PriceToBestPlusTick 对手价再让一跳
	PriceToBestPlusTick PriceMode = "TO_BEST_PLUS_TICK"
	// PriceToCross 对手价让两跳，确保穿越价差
	PriceToCross PriceMode = "TO_CROSS"
)

// RetryConfig 重试与追价配置
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	RepriceMode   PriceMode     `yaml:"reprice_mode"`
}

// DefaultRetryConfig 默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		RepriceMode:   PriceToBestPlusTick,
	}
}

// Validate 校验配置，返回首个问题之外的全部问题
func (c RetryConfig) Validate() []error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("base_delay must be positive, got %s", c.BaseDelay))
	}
	if c.MaxDelay < c.BaseDelay {
		errs = append(errs, fmt.Errorf("max_delay %s must be >= base_delay %s", c.MaxDelay, c.BaseDelay))
	}
	if c.BackoffFactor < 1.0 {
		errs = append(errs, fmt.Errorf("backoff_factor must be >= 1.0, got %v", c.BackoffFactor))
	}
	switch c.RepriceMode {
	case PriceToBest, PriceToBestPlusTick, PriceToCross:
	default:
		errs = append(errs, fmt.Errorf("unknown reprice_mode %q", c.RepriceMode))
	}
	return errs
}

// RetryState 单个订单的重试记录
type RetryState struct {
	LocalID       string
	RetryCount    int
	LastRetryAt   time.Time
	NextRetryAt   time.Time
	Reason        string
	OriginalPrice float64
	NewPrice      float64
}

// RetryPolicy 指数退避重试与追价计算。
// 订单终态或显式清理时移除其重试记录。
type RetryPolicy struct {
	mu     sync.Mutex
	cfg    RetryConfig
	states map[string]*RetryState
}

// NewRetryPolicy 创建重试策略，零值字段回落到默认值
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.RepriceMode == "" {
		cfg.RepriceMode = def.RepriceMode
	}
	return &RetryPolicy{
		cfg:    cfg,
		states: make(map[string]*RetryState),
	}
}

// CalculateDelay 第 retryCount 次重试后的等待时间：
// min(base_delay * backoff_factor^retryCount, max_delay)
func (p *RetryPolicy) CalculateDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := p.cfg.BaseDelay.Seconds() * math.Pow(p.cfg.BackoffFactor, float64(retryCount))
	if maxDelay := p.cfg.MaxDelay.Seconds(); delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(delay * float64(time.Second))
}

// ShouldRetry 重试次数未用尽返回 true；无记录视为首次，总是允许
func (p *RetryPolicy) ShouldRetry(localID, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.states[localID]
	if !ok {
		return p.cfg.MaxRetries > 0
	}
	return state.RetryCount < p.cfg.MaxRetries
}

// RegisterRetry 登记一次重试：首次创建记录，之后递增计数。
// 下次重试时间按当前已完成次数的退避延迟计算。
func (p *RetryPolicy) RegisterRetry(localID, reason string, originalPrice, newPrice float64, now time.Time) RetryState {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.states[localID]
	if !ok {
		state = &RetryState{LocalID: localID}
		p.states[localID] = state
	}

	delay := p.CalculateDelay(state.RetryCount)
	state.RetryCount++
	state.LastRetryAt = now
	state.NextRetryAt = now.Add(delay)
	state.Reason = reason
	state.OriginalPrice = originalPrice
	state.NewPrice = newPrice

	return *state
}

// GetRetryState 返回订单重试记录的副本
func (p *RetryPolicy) GetRetryState(localID string) (RetryState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.states[localID]
	if !ok {
		return RetryState{}, false
	}
	return *state, true
}

// ClearRetry 清除订单的重试记录（终态清理）
func (p *RetryPolicy) ClearRetry(localID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, localID)
}

// Reprice 按配置模式计算追价。纯函数：
// 买向基于卖一加价，卖向基于买一减价。
// 对手价无效（<=0）时返回原价，不做任何改善。
func (p *RetryPolicy) Reprice(direction Side, originalPrice, bid, ask, tickSize float64) float64 {
	return Reprice(p.cfg.RepriceMode, direction, originalPrice, bid, ask, tickSize)
}

// Reprice 追价定价：
// BUY:  TO_BEST→ask, TO_BEST_PLUS_TICK→ask+tick, TO_CROSS→ask+2*tick
// SELL: TO_BEST→bid, TO_BEST_PLUS_TICK→bid-tick, TO_CROSS→bid-2*tick
func Reprice(mode PriceMode, direction Side, originalPrice, bid, ask, tickSize float64) float64 {
	if direction == SideBuy {
		if ask <= 0 {
			return originalPrice
		}
		switch mode {
		case PriceToBest:
			return ask
		case PriceToBestPlusTick:
			return ask + tickSize
		case PriceToCross:
			return ask + 2*tickSize
		}
		return originalPrice
	}

	if bid <= 0 {
		return originalPrice
	}
	switch mode {
	case PriceToBest:
		return bid
	case PriceToBestPlusTick:
		return bid - tickSize
	case PriceToCross:
		return bid - 2*tickSize
	}
	return originalPrice
}
