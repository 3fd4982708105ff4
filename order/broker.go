package order

import "context"

// 交易所委托状态码（回报 StatusCode 字段取值）
const (
	StatusCodeAllTraded       = "0" // 全部成交
	StatusCodePartTradedQueue = "1" // 部分成交还在队列中
	StatusCodePartTradedOut   = "2" // 部分成交不在队列中
	StatusCodeNoTradeQueue    = "3" // 未成交还在队列中
	StatusCodeNoTradeOut      = "4" // 未成交不在队列中（已撤出）
	StatusCodeCancelled       = "5" // 撤单（等待撤单回报，不单独驱动状态）
)

// OrderRequest 下单请求
type OrderRequest struct {
	LocalID   string
	Symbol    string
	Direction Side
	Offset    Offset
	Qty       int64
	Price     float64
}

// Broker 柜台能力抽象：下单、撤单。
// 回报通过 OrderReturn/TradeReturn 异步送回引擎。
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (orderRef string, err error)
	CancelOrder(ctx context.Context, orderSysID string) error
	CancelOrderByRef(ctx context.Context, orderRef string) error
}

// OrderReturn 委托回报。键字段按柜台实际回填，
// 引擎按 local_id / order_ref / order_sys_id 依次解析。
type OrderReturn struct {
	LocalID    string
	OrderRef   string
	OrderSysID string
	StatusCode string
	FilledQty  int64
	StatusMsg  string
}

// TradeReturn 成交回报
type TradeReturn struct {
	LocalID  string
	OrderRef string
	TradeID  string
	Volume   int64
	Price    float64
}
