package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-exec-go/order"
)

type capturedReturns struct {
	orders []order.OrderReturn
	trades []order.TradeReturn
}

func attachCapture(b *SimBroker) *capturedReturns {
	c := &capturedReturns{}
	b.SetCallbacks(
		func(ret order.OrderReturn) { c.orders = append(c.orders, ret) },
		func(tr order.TradeReturn) { c.trades = append(c.trades, tr) },
	)
	return c
}

// TestSimBrokerAutoAck 下单自动确认。
func TestSimBrokerAutoAck(t *testing.T) {
	b := NewSimBroker(SimOptions{AutoAck: true})
	c := attachCapture(b)

	ref, err := b.PlaceOrder(context.Background(), order.OrderRequest{
		LocalID: "L1", Symbol: "IF2609", Direction: order.SideBuy, Qty: 10, Price: 4500.0,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	require.Len(t, c.orders, 1)
	ack := c.orders[0]
	assert.Equal(t, "L1", ack.LocalID)
	assert.Equal(t, ref, ack.OrderRef)
	assert.Equal(t, order.StatusCodeNoTradeQueue, ack.StatusCode)
	assert.NotEmpty(t, ack.OrderSysID)
}

// TestSimBrokerDropAck 吞确认用于超时场景。
func TestSimBrokerDropAck(t *testing.T) {
	b := NewSimBroker(SimOptions{AutoAck: true})
	c := attachCapture(b)

	b.DropNextAck()
	_, err := b.PlaceOrder(context.Background(), order.OrderRequest{
		LocalID: "L1", Symbol: "IF2609", Direction: order.SideBuy, Qty: 1, Price: 4500.0,
	})
	require.NoError(t, err)
	assert.Empty(t, c.orders, "确认被吞掉，不应有回报")

	// 只吞一次
	_, err = b.PlaceOrder(context.Background(), order.OrderRequest{
		LocalID: "L2", Symbol: "IF2609", Direction: order.SideBuy, Qty: 1, Price: 4500.0,
	})
	require.NoError(t, err)
	assert.Len(t, c.orders, 1)
}

// TestSimBrokerFillAccumulation 成交累计与截断。
func TestSimBrokerFillAccumulation(t *testing.T) {
	b := NewSimBroker(SimOptions{AutoAck: true})
	c := attachCapture(b)

	_, err := b.PlaceOrder(context.Background(), order.OrderRequest{
		LocalID: "L1", Symbol: "IF2609", Direction: order.SideSell, Qty: 10, Price: 4500.0,
	})
	require.NoError(t, err)

	b.Fill("L1", 4, 4500.2)
	b.Fill("L1", 20, 4500.4) // 超出剩余量，截断为 6

	require.Len(t, c.trades, 2)
	assert.Equal(t, int64(4), c.trades[0].Volume)
	assert.Equal(t, int64(6), c.trades[1].Volume)
	assert.NotEqual(t, c.trades[0].TradeID, c.trades[1].TradeID)
	assert.Equal(t, int64(10), b.FilledOf("L1"))

	// 已全成，后续成交不再产生
	b.Fill("L1", 1, 4500.6)
	assert.Len(t, c.trades, 2)
}

// TestSimBrokerCancel 撤单路径。
func TestSimBrokerCancel(t *testing.T) {
	b := NewSimBroker(SimOptions{AutoAck: true})
	c := attachCapture(b)

	ref, err := b.PlaceOrder(context.Background(), order.OrderRequest{
		LocalID: "L1", Symbol: "IF2609", Direction: order.SideBuy, Qty: 10, Price: 4500.0,
	})
	require.NoError(t, err)
	c.orders = nil

	require.NoError(t, b.CancelOrderByRef(context.Background(), ref))
	require.Len(t, c.orders, 1)
	assert.Equal(t, order.StatusCodeCancelled, c.orders[0].StatusCode)

	// 撤单后不再产生成交
	b.Fill("L1", 1, 4500.0)
	assert.Empty(t, c.trades)

	// 未知引用
	assert.Error(t, b.CancelOrderByRef(context.Background(), "SIM999999"))
}

// TestSimBrokerCancelBySysID 按系统编号撤单。
func TestSimBrokerCancelBySysID(t *testing.T) {
	b := NewSimBroker(SimOptions{AutoAck: true})
	c := attachCapture(b)

	_, err := b.PlaceOrder(context.Background(), order.OrderRequest{
		LocalID: "L1", Symbol: "IF2609", Direction: order.SideBuy, Qty: 5, Price: 4500.0,
	})
	require.NoError(t, err)
	sysID := c.orders[0].OrderSysID
	require.NotEmpty(t, sysID)

	require.NoError(t, b.CancelOrder(context.Background(), sysID))
}

// TestSimBrokerFaultInjectionOneShot 错误注入一次性生效。
func TestSimBrokerFaultInjectionOneShot(t *testing.T) {
	b := NewSimBroker(SimOptions{})
	injected := errors.New("front disconnected")
	b.FailNextPlace(injected)

	_, err := b.PlaceOrder(context.Background(), order.OrderRequest{
		LocalID: "L1", Symbol: "IF2609", Direction: order.SideBuy, Qty: 1, Price: 4500.0,
	})
	assert.ErrorIs(t, err, injected)

	_, err = b.PlaceOrder(context.Background(), order.OrderRequest{
		LocalID: "L2", Symbol: "IF2609", Direction: order.SideBuy, Qty: 1, Price: 4500.0,
	})
	assert.NoError(t, err)

	placed, _ := b.Statistics()
	assert.Equal(t, 2, placed)
}

// TestSimBrokerQuoteLookup 盘口查询。
func TestSimBrokerQuoteLookup(t *testing.T) {
	b := NewSimBroker(SimOptions{})

	_, _, ok := b.Touch("IF2609")
	assert.False(t, ok)

	b.SetQuote("IF2609", 4499.8, 4500.2)
	bid, ask, ok := b.Touch("IF2609")
	require.True(t, ok)
	assert.Equal(t, 4499.8, bid)
	assert.Equal(t, 4500.2, ask)
}

// TestSimBrokerCancelledContext 取消的上下文直接拒绝。
func TestSimBrokerCancelledContext(t *testing.T) {
	b := NewSimBroker(SimOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.PlaceOrder(ctx, order.OrderRequest{LocalID: "L1", Symbol: "IF2609", Qty: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Error(t, b.CancelOrderByRef(ctx, "SIM000001"))
}

// TestTokenBucketLimiterBurstNoBlock 突发额度内不阻塞。
func TestTokenBucketLimiterBurstNoBlock(t *testing.T) {
	l := NewTokenBucketLimiter(100, 5)
	for i := 0; i < 5; i++ {
		l.Wait()
	}
}
