package order

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrUnknownOrder 注册表中不存在该订单
	ErrUnknownOrder = errors.New("unknown order")
	// ErrDuplicateKey 键已绑定到其他订单
	ErrDuplicateKey = errors.New("duplicate order key")
)

// OrderContext 一次下单意图的完整上下文。
// local_id 创建时生成；order_ref/order_sys_id 由柜台异步回填。
// 终态前由引擎独占持有。
type OrderContext struct {
	LocalID   string
	Symbol    string
	Direction Side
	Offset    Offset
	Qty       int64
	Price     float64

	OrderRef   string
	OrderSysID string
	FrontID    int
	SessionID  int

	CreatedAt time.Time
}

// OrderResult 订单终态结果
type OrderResult struct {
	LocalID   string
	State     State
	FilledQty int64
	AvgPrice  float64
	Err       error
}

// IsSuccess 完全成交
func (r OrderResult) IsSuccess() bool {
	return r.State == StateFilled
}

// IsPartial 部分成交后撤单
func (r OrderResult) IsPartial() bool {
	return r.State == StatePartialCancelled && r.FilledQty > 0
}

// ErrorMessage 错误描述，无错误返回空串
func (r OrderResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Registry 订单上下文注册表，三键双向索引：
// local_id / order_ref / order_sys_id → OrderContext。
// 不变式：任一键同一时刻至多映射一个上下文。
type Registry struct {
	mu      sync.RWMutex
	byLocal map[string]*OrderContext
	byRef   map[string]string // order_ref -> local_id
	bySysID map[string]string // order_sys_id -> local_id
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		byLocal: make(map[string]*OrderContext),
		byRef:   make(map[string]string),
		bySysID: make(map[string]string),
	}
}

// Add 登记新订单上下文，local_id 重复时报错
func (r *Registry) Add(octx *OrderContext) error {
	if octx == nil || octx.LocalID == "" {
		return fmt.Errorf("order context requires local_id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byLocal[octx.LocalID]; ok {
		return fmt.Errorf("%w: local_id %s", ErrDuplicateKey, octx.LocalID)
	}
	r.byLocal[octx.LocalID] = octx
	if octx.OrderRef != "" {
		r.byRef[octx.OrderRef] = octx.LocalID
	}
	if octx.OrderSysID != "" {
		r.bySysID[octx.OrderSysID] = octx.LocalID
	}
	return nil
}

// BindOrderRef 柜台回填报单引用。已绑定到其他订单时报错。
func (r *Registry) BindOrderRef(localID, orderRef string) error {
	if orderRef == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	octx, ok := r.byLocal[localID]
	if !ok {
		return fmt.Errorf("%w: local_id %s", ErrUnknownOrder, localID)
	}
	if owner, ok := r.byRef[orderRef]; ok && owner != localID {
		return fmt.Errorf("%w: order_ref %s already bound to %s", ErrDuplicateKey, orderRef, owner)
	}
	if octx.OrderRef != "" && octx.OrderRef != orderRef {
		delete(r.byRef, octx.OrderRef)
	}
	octx.OrderRef = orderRef
	r.byRef[orderRef] = localID
	return nil
}

// BindOrderSysID 交易所回填系统报单编号。已绑定到其他订单时报错。
func (r *Registry) BindOrderSysID(localID, orderSysID string) error {
	if orderSysID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	octx, ok := r.byLocal[localID]
	if !ok {
		return fmt.Errorf("%w: local_id %s", ErrUnknownOrder, localID)
	}
	if owner, ok := r.bySysID[orderSysID]; ok && owner != localID {
		return fmt.Errorf("%w: order_sys_id %s already bound to %s", ErrDuplicateKey, orderSysID, owner)
	}
	if octx.OrderSysID != "" && octx.OrderSysID != orderSysID {
		delete(r.bySysID, octx.OrderSysID)
	}
	octx.OrderSysID = orderSysID
	r.bySysID[orderSysID] = localID
	return nil
}

// GetByLocalID 按 local_id 查找
func (r *Registry) GetByLocalID(localID string) (*OrderContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	octx, ok := r.byLocal[localID]
	return octx, ok
}

// GetByOrderRef 按报单引用查找
func (r *Registry) GetByOrderRef(orderRef string) (*OrderContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	localID, ok := r.byRef[orderRef]
	if !ok {
		return nil, false
	}
	octx, ok := r.byLocal[localID]
	return octx, ok
}

// GetByOrderSysID 按系统报单编号查找
func (r *Registry) GetByOrderSysID(orderSysID string) (*OrderContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	localID, ok := r.bySysID[orderSysID]
	if !ok {
		return nil, false
	}
	octx, ok := r.byLocal[localID]
	return octx, ok
}

// Resolve 依次按 local_id / order_ref / order_sys_id 查找，
// 用于回报只携带部分键的场合
func (r *Registry) Resolve(localID, orderRef, orderSysID string) (*OrderContext, bool) {
	if localID != "" {
		if octx, ok := r.GetByLocalID(localID); ok {
			return octx, true
		}
	}
	if orderRef != "" {
		if octx, ok := r.GetByOrderRef(orderRef); ok {
			return octx, true
		}
	}
	if orderSysID != "" {
		if octx, ok := r.GetByOrderSysID(orderSysID); ok {
			return octx, true
		}
	}
	return nil, false
}

// Remove 移除订单上下文及其全部键（终态回收）
func (r *Registry) Remove(localID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	octx, ok := r.byLocal[localID]
	if !ok {
		return
	}
	if octx.OrderRef != "" {
		delete(r.byRef, octx.OrderRef)
	}
	if octx.OrderSysID != "" {
		delete(r.bySysID, octx.OrderSysID)
	}
	delete(r.byLocal, localID)
}

// Len 在册订单数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byLocal)
}

// LocalIDs 返回全部在册 local_id 快照
func (r *Registry) LocalIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byLocal))
	for id := range r.byLocal {
		ids = append(ids, id)
	}
	return ids
}
