package gateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"futures-exec-go/order"
)

// SimQuote 模拟盘口
type SimQuote struct {
	Bid float64
	Ask float64
}

// SimOptions SimBroker 可选项
type SimOptions struct {
	// AutoAck 下单后立即回送 STATUS_3 确认回报。
	// 关闭后由测试脚本通过 AckOrder/EmitOrderReturn 手工驱动。
	AutoAck bool
	Limiter RateLimiter
	Logger  *zap.Logger
}

// simOrder 柜台侧委托镜像
type simOrder struct {
	localID   string
	orderRef  string
	sysID     string
	symbol    string
	direction order.Side
	price     float64
	qty       int64
	filled    int64
	cancelled bool
}

// SimBroker 确定性模拟柜台。实现 order.Broker 与引擎的 QuoteSource。
// 回报通过显式方法（AckOrder/Fill/...）脚本化触发，除 AutoAck 外
// 不做任何自发推进，测试与演练场景可完全掌控时序。
type SimBroker struct {
	mu      sync.Mutex
	opts    SimOptions
	logger  *zap.Logger
	limiter RateLimiter

	refSeq   int
	sysSeq   int
	tradeSeq int

	orders  map[string]*simOrder // order_ref -> order
	byLocal map[string]string    // local_id -> order_ref
	quotes  map[string]SimQuote

	// 注入项：下一次调用返回该错误后清零
	nextPlaceErr  error
	nextCancelErr error
	dropNextAck   bool

	placeCount  int
	cancelCount int

	onOrderReturn func(order.OrderReturn)
	onTradeReturn func(order.TradeReturn)
}

// NewSimBroker 创建模拟柜台
func NewSimBroker(opts SimOptions) *SimBroker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimBroker{
		opts:    opts,
		logger:  logger,
		limiter: opts.Limiter,
		orders:  make(map[string]*simOrder),
		byLocal: make(map[string]string),
		quotes:  make(map[string]SimQuote),
	}
}

// SetCallbacks 挂接回报回调，通常指向引擎的 OnOrderReturn/OnTradeReturn
func (b *SimBroker) SetCallbacks(onOrder func(order.OrderReturn), onTrade func(order.TradeReturn)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onOrderReturn = onOrder
	b.onTradeReturn = onTrade
}

// SetQuote 设置模拟盘口
func (b *SimBroker) SetQuote(symbol string, bid, ask float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[symbol] = SimQuote{Bid: bid, Ask: ask}
}

// Touch 实现 QuoteSource
func (b *SimBroker) Touch(symbol string) (bid, ask float64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.quotes[symbol]
	return q.Bid, q.Ask, ok
}

// FailNextPlace 注入一次下单失败
func (b *SimBroker) FailNextPlace(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPlaceErr = err
}

// FailNextCancel 注入一次撤单失败
func (b *SimBroker) FailNextCancel(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextCancelErr = err
}

// DropNextAck 吞掉下一笔委托的确认回报，用于 ACK 超时场景
func (b *SimBroker) DropNextAck() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropNextAck = true
}

// PlaceOrder 实现 order.Broker
func (b *SimBroker) PlaceOrder(ctx context.Context, req order.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if b.limiter != nil {
		b.limiter.Wait()
	}

	b.mu.Lock()
	b.placeCount++
	if err := b.nextPlaceErr; err != nil {
		b.nextPlaceErr = nil
		b.mu.Unlock()
		return "", err
	}

	b.refSeq++
	o := &simOrder{
		localID:   req.LocalID,
		orderRef:  fmt.Sprintf("SIM%06d", b.refSeq),
		symbol:    req.Symbol,
		direction: req.Direction,
		price:     req.Price,
		qty:       req.Qty,
	}
	b.orders[o.orderRef] = o
	b.byLocal[o.localID] = o.orderRef

	autoAck := b.opts.AutoAck && !b.dropNextAck
	suppressed := b.opts.AutoAck && b.dropNextAck
	b.dropNextAck = false
	ref := o.orderRef
	b.mu.Unlock()

	b.logger.Debug("Sim place order",
		zap.String("local_id", req.LocalID),
		zap.String("order_ref", ref),
		zap.String("symbol", req.Symbol),
		zap.Int64("qty", req.Qty),
		zap.Float64("price", req.Price))

	if suppressed {
		b.logger.Debug("Sim ack suppressed", zap.String("order_ref", ref))
	}
	if autoAck {
		b.AckOrder(req.LocalID)
	}
	return ref, nil
}

// CancelOrder 实现 order.Broker，按系统编号撤单
func (b *SimBroker) CancelOrder(ctx context.Context, orderSysID string) error {
	return b.cancel(ctx, func(o *simOrder) bool { return o.sysID == orderSysID }, orderSysID)
}

// CancelOrderByRef 实现 order.Broker，按报单引用撤单
func (b *SimBroker) CancelOrderByRef(ctx context.Context, orderRef string) error {
	return b.cancel(ctx, func(o *simOrder) bool { return o.orderRef == orderRef }, orderRef)
}

func (b *SimBroker) cancel(ctx context.Context, match func(*simOrder) bool, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.limiter != nil {
		b.limiter.Wait()
	}

	b.mu.Lock()
	b.cancelCount++
	if err := b.nextCancelErr; err != nil {
		b.nextCancelErr = nil
		b.mu.Unlock()
		return err
	}

	var target *simOrder
	for _, o := range b.orders {
		if match(o) {
			target = o
			break
		}
	}
	if target == nil {
		b.mu.Unlock()
		return fmt.Errorf("sim: order not found: %s", key)
	}
	if target.filled >= target.qty {
		b.mu.Unlock()
		return fmt.Errorf("sim: order already filled: %s", key)
	}
	target.cancelled = true
	ret := order.OrderReturn{
		LocalID:    target.localID,
		OrderRef:   target.orderRef,
		OrderSysID: target.sysID,
		StatusCode: order.StatusCodeCancelled,
		FilledQty:  target.filled,
		StatusMsg:  "cancelled",
	}
	cb := b.onOrderReturn
	b.mu.Unlock()

	if cb != nil {
		cb(ret)
	}
	return nil
}

// AckOrder 回送委托确认（STATUS_3），并分配柜台系统编号
func (b *SimBroker) AckOrder(localID string) {
	b.mu.Lock()
	o := b.lookupLocked(localID)
	if o == nil {
		b.mu.Unlock()
		return
	}
	if o.sysID == "" {
		b.sysSeq++
		o.sysID = fmt.Sprintf("9%08d", b.sysSeq)
	}
	ret := order.OrderReturn{
		LocalID:    o.localID,
		OrderRef:   o.orderRef,
		OrderSysID: o.sysID,
		StatusCode: order.StatusCodeNoTradeQueue,
		FilledQty:  o.filled,
	}
	cb := b.onOrderReturn
	b.mu.Unlock()

	if cb != nil {
		cb(ret)
	}
}

// RejectOrder 回送 STATUS_4（未成交已撤出柜台队列）
func (b *SimBroker) RejectOrder(localID, reason string) {
	b.mu.Lock()
	o := b.lookupLocked(localID)
	if o == nil {
		b.mu.Unlock()
		return
	}
	ret := order.OrderReturn{
		LocalID:    o.localID,
		OrderRef:   o.orderRef,
		OrderSysID: o.sysID,
		StatusCode: order.StatusCodeNoTradeOut,
		FilledQty:  o.filled,
		StatusMsg:  reason,
	}
	cb := b.onOrderReturn
	b.mu.Unlock()

	if cb != nil {
		cb(ret)
	}
}

// Fill 回送一笔成交，volume 超出剩余量时截断
func (b *SimBroker) Fill(localID string, volume int64, price float64) {
	b.mu.Lock()
	o := b.lookupLocked(localID)
	if o == nil || o.cancelled {
		b.mu.Unlock()
		return
	}
	if remaining := o.qty - o.filled; volume > remaining {
		volume = remaining
	}
	if volume <= 0 {
		b.mu.Unlock()
		return
	}
	o.filled += volume
	b.tradeSeq++
	tr := order.TradeReturn{
		LocalID:  o.localID,
		OrderRef: o.orderRef,
		TradeID:  fmt.Sprintf("T%08d", b.tradeSeq),
		Volume:   volume,
		Price:    price,
	}
	cb := b.onTradeReturn
	b.mu.Unlock()

	if cb != nil {
		cb(tr)
	}
}

// FillAll 剩余量一次性成交
func (b *SimBroker) FillAll(localID string, price float64) {
	b.mu.Lock()
	var remaining int64
	if o := b.lookupLocked(localID); o != nil {
		remaining = o.qty - o.filled
	}
	b.mu.Unlock()
	if remaining > 0 {
		b.Fill(localID, remaining, price)
	}
}

// EmitOrderReturn 直接透传一条委托回报，供构造异常时序
func (b *SimBroker) EmitOrderReturn(ret order.OrderReturn) {
	b.mu.Lock()
	cb := b.onOrderReturn
	b.mu.Unlock()
	if cb != nil {
		cb(ret)
	}
}

// EmitTradeReturn 直接透传一条成交回报
func (b *SimBroker) EmitTradeReturn(tr order.TradeReturn) {
	b.mu.Lock()
	cb := b.onTradeReturn
	b.mu.Unlock()
	if cb != nil {
		cb(tr)
	}
}

// RefOf 查询委托的报单引用
func (b *SimBroker) RefOf(localID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.byLocal[localID]
	return ref, ok
}

// FilledOf 查询柜台侧已成交量
func (b *SimBroker) FilledOf(localID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o := b.lookupLocked(localID); o != nil {
		return o.filled
	}
	return 0
}

// Statistics 调用计数
func (b *SimBroker) Statistics() (placed, cancelled int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.placeCount, b.cancelCount
}

func (b *SimBroker) lookupLocked(localID string) *simOrder {
	ref, ok := b.byLocal[localID]
	if !ok {
		return nil
	}
	return b.orders[ref]
}
