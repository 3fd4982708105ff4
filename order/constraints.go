package order

import (
	"fmt"
	"math"
)

// SymbolConstraints 描述合约的最小变动价位与手数限制。
type SymbolConstraints struct {
	PriceTick float64
	MinLots   int64
	MaxLots   int64
}

// Validate 检查报单价格/手数是否符合合约约束。
func (c SymbolConstraints) Validate(price float64, qty int64) error {
	if price <= 0 {
		return fmt.Errorf("price %.4f must be positive", price)
	}
	if qty <= 0 {
		return fmt.Errorf("qty %d must be positive", qty)
	}
	if c.PriceTick > 0 && !isMultiple(price, c.PriceTick) {
		return fmt.Errorf("price %.4f not aligned to priceTick %.4f", price, c.PriceTick)
	}
	if c.MinLots > 0 && qty < c.MinLots {
		return fmt.Errorf("qty %d < minLots %d", qty, c.MinLots)
	}
	if c.MaxLots > 0 && qty > c.MaxLots {
		return fmt.Errorf("qty %d > maxLots %d", qty, c.MaxLots)
	}
	return nil
}

// AlignPrice 将价格对齐到最小变动价位：买向向下取整，卖向向上取整，
// 保证对齐后的价格不会比原价更激进。
func (c SymbolConstraints) AlignPrice(price float64, direction Side) float64 {
	if c.PriceTick <= 0 {
		return price
	}
	ticks := price / c.PriceTick
	if direction == SideBuy {
		return math.Floor(ticks+1e-8) * c.PriceTick
	}
	return math.Ceil(ticks-1e-8) * c.PriceTick
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := value / step
	return math.Abs(ratio-math.Round(ratio)) <= 1e-8
}
