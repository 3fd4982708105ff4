package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"futures-exec-go/gateway"
	"futures-exec-go/internal/engine"
	"futures-exec-go/order"
	"futures-exec-go/risk"
)

// 本地模拟演练：随机盘口驱动委托引擎与风控闸门走一遍完整链路。
// 不连接真实柜台，仅用于验证链路与观察日志。
func main() {
	symbol := flag.String("symbol", "IF2609", "合约代码")
	rounds := flag.Int("rounds", 10, "模拟轮数")
	qty := flag.Int64("qty", 4, "每轮委托手数")
	mid := flag.Float64("mid", 4500.0, "初始中间价")
	tick := flag.Float64("tick", 0.2, "最小变动价位")
	lossPct := flag.Float64("lossPct", 0.03, "日内亏损熔断阈值")
	seed := flag.Int64("seed", 0, "随机种子，0 取当前时间")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	zl, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zl.Sync()

	broker := gateway.NewSimBroker(gateway.SimOptions{AutoAck: true, Logger: zl})

	cfg := risk.DefaultBreakerConfig()
	cfg.DailyLossPct = *lossPct
	ctrl, err := risk.NewController(cfg, risk.ControllerComponents{Logger: zl})
	if err != nil {
		log.Fatalf("初始化风控失败: %v", err)
	}

	eng, err := engine.New(engine.Config{
		Constraints: map[string]order.SymbolConstraints{
			*symbol: {PriceTick: *tick, MinLots: 1, MaxLots: 100},
		},
	}, engine.Components{Broker: broker, Quotes: broker, Logger: zl})
	if err != nil {
		log.Fatalf("初始化引擎失败: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		log.Fatalf("启动引擎失败: %v", err)
	}
	defer eng.Stop()
	broker.SetCallbacks(eng.OnOrderReturn, eng.OnTradeReturn)

	equity := 1_000_000.0
	dayStart := equity
	price := *mid
	current := map[string]int64{*symbol: 0}

	for i := 0; i < *rounds; i++ {
		// 随机游走盘口
		price += (rng.Float64() - 0.5) * 10 * *tick
		bid := price - *tick
		ask := price + *tick
		broker.SetQuote(*symbol, bid, ask)

		status := ctrl.Check(risk.StateSnapshot{
			risk.KeyDayStartEquity: dayStart,
			risk.KeyCurrentEquity:  equity,
		})
		fmt.Printf("[%02d] mid=%.1f equity=%.0f breaker=%s ratio=%.2f\n",
			i, price, equity, status.BreakerState, status.PositionRatio)

		target := map[string]int64{*symbol: current[*symbol] + *qty}
		allowed := ctrl.FilterTargetPortfolio(target, current)
		delta := allowed[*symbol] - current[*symbol]
		if delta <= 0 {
			fmt.Printf("     风控闸门拦截加仓（目标 %d -> 放行 %d）\n", target[*symbol], allowed[*symbol])
			continue
		}

		localID, err := eng.Submit(order.OrderRequest{
			Symbol:    *symbol,
			Direction: order.SideBuy,
			Offset:    order.OffsetOpen,
			Qty:       delta,
			Price:     ask,
		})
		if err != nil {
			fmt.Printf("     下单失败: %v\n", err)
			continue
		}

		// 随机部分或全部成交
		time.Sleep(20 * time.Millisecond)
		fill := delta
		if rng.Float64() < 0.3 {
			fill = delta / 2
		}
		if fill > 0 {
			broker.Fill(localID, fill, ask)
		}
		time.Sleep(20 * time.Millisecond)
		if fill < delta {
			_ = eng.Cancel(localID)
			time.Sleep(20 * time.Millisecond)
		}

		result, done := eng.GetResult(localID)
		if done {
			fmt.Printf("     %s -> %s 成交 %d/%d 均价 %.1f\n",
				localID, result.State, result.FilledQty, delta, result.AvgPrice)
			current[*symbol] += result.FilledQty
		}

		// 盯市：随机盈亏，亏损积累最终触发熔断
		pnl := (rng.Float64() - 0.55) * 6000
		equity += pnl
		ctrl.RecordTradeResult(pnl)
	}

	stats := eng.GetStatistics()
	placed, cancelled := broker.Statistics()
	fmt.Printf("\n共提交 %d 笔，成交回报 %d 笔；柜台下单 %d 次、撤单 %d 次；终态熔断状态 %s\n",
		stats.TotalSubmitted, stats.TotalTrades, placed, cancelled, ctrl.GetStatus().BreakerState)
}
