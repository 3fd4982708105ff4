package order

import (
	"sync"
)

// FillRecord 单笔成交记录
type FillRecord struct {
	TradeID string
	Volume  int64
	Price   float64
}

// orderFills 单个订单的成交账本
type orderFills struct {
	fills    []FillRecord
	tradeIDs map[string]struct{}
	volume   int64
	notional float64
}

// FillTracker 按订单跟踪成交明细。柜台可能重复推送同一笔成交，
// 按 trade_id 去重；累计量与加权均价只计入首次出现的成交。
type FillTracker struct {
	mu     sync.RWMutex
	orders map[string]*orderFills
}

// NewFillTracker 创建成交跟踪器
func NewFillTracker() *FillTracker {
	return &FillTracker{
		orders: make(map[string]*orderFills),
	}
}

// RecordTrade 记录一笔成交。重复的 trade_id 返回 false 且不计入。
func (f *FillTracker) RecordTrade(localID, tradeID string, volume int64, price float64) bool {
	if volume <= 0 {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	of, ok := f.orders[localID]
	if !ok {
		of = &orderFills{tradeIDs: make(map[string]struct{})}
		f.orders[localID] = of
	}

	if tradeID != "" {
		if _, dup := of.tradeIDs[tradeID]; dup {
			return false
		}
		of.tradeIDs[tradeID] = struct{}{}
	}

	of.fills = append(of.fills, FillRecord{TradeID: tradeID, Volume: volume, Price: price})
	of.volume += volume
	of.notional += float64(volume) * price
	return true
}

// FilledQty 订单累计成交量
func (f *FillTracker) FilledQty(localID string) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	of, ok := f.orders[localID]
	if !ok {
		return 0
	}
	return of.volume
}

// AvgPrice 订单成交加权均价，无成交时为 0
func (f *FillTracker) AvgPrice(localID string) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	of, ok := f.orders[localID]
	if !ok || of.volume == 0 {
		return 0
	}
	return of.notional / float64(of.volume)
}

// Fills 返回订单成交明细副本
func (f *FillTracker) Fills(localID string) []FillRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()

	of, ok := f.orders[localID]
	if !ok {
		return nil
	}
	out := make([]FillRecord, len(of.fills))
	copy(out, of.fills)
	return out
}

// Clear 移除订单的成交账本（终态回收）
func (f *FillTracker) Clear(localID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orders, localID)
}

// TotalOrders 当前跟踪的订单数
func (f *FillTracker) TotalOrders() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.orders)
}
