package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus 指标收集器。所有方法对 nil 接收者安全，
// 不接监控的场合可以直接传 nil。
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersSubmitted        prometheus.Counter
	ordersFilled           prometheus.Counter
	ordersCancelled        prometheus.Counter
	ordersPartialCancelled prometheus.Counter
	ordersRejected         prometheus.Counter
	ordersErrored          prometheus.Counter
	activeOrders           prometheus.Gauge
	queueDepth             prometheus.Gauge

	// 成交指标
	tradesTotal  prometheus.Counter
	tradedVolume prometheus.Counter

	// 追单与超时指标
	chasesTotal        prometheus.Counter
	timeoutsTotal      *prometheus.CounterVec
	invalidTransitions prometheus.Counter
	unknownReturns     prometheus.Counter

	// 熔断指标
	breakerState      prometheus.Gauge
	positionRatio     prometheus.Gauge
	breakerTriggers   prometheus.Counter
	dailyLossPct      prometheus.Gauge
	positionLossPct   prometheus.Gauge
	marginUsagePct    prometheus.Gauge
	consecutiveLosses prometheus.Gauge

	// 告警指标
	alertsSent      *prometheus.CounterVec
	alertsThrottled prometheus.Counter

	// 资源池指标
	poolAvailable *prometheus.GaugeVec
	poolReserved  *prometheus.GaugeVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "futures",
		Subsystem: "exec",
	}
}

// New 创建 Monitor，使用独立 Registry 避免污染全局。
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Monitor{
		registry: reg,

		ordersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_submitted_total",
			Help:      "提交到柜台的订单总数",
		}),
		ordersFilled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_filled_total",
			Help:      "全部成交的订单总数",
		}),
		ordersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_cancelled_total",
			Help:      "全部撤销的订单总数",
		}),
		ordersPartialCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_partial_cancelled_total",
			Help:      "部分成交后撤销的订单总数",
		}),
		ordersRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_rejected_total",
			Help:      "被拒绝的订单总数",
		}),
		ordersErrored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_errored_total",
			Help:      "进入错误终态的订单总数",
		}),
		activeOrders: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "active_orders",
			Help:      "当前在途订单数",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "command_queue_depth",
			Help:      "引擎命令队列当前深度",
		}),

		tradesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "trades_total",
			Help:      "成交回报笔数",
		}),
		tradedVolume: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "traded_volume_total",
			Help:      "累计成交手数",
		}),

		chasesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "chases_total",
			Help:      "追单（CHASE）次数",
		}),
		timeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "timeouts_total",
				Help:      "按类型统计的订单超时次数",
			},
			[]string{"type"},
		),
		invalidTransitions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "invalid_transitions_total",
			Help:      "状态机容忍掉的非法事件次数",
		}),
		unknownReturns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "unknown_returns_total",
			Help:      "无法关联到本地订单的回报次数",
		}),

		breakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "breaker_state",
			Help:      "熔断器状态(0=NORMAL,1=TRIGGERED,2=COOLING,3=RECOVERY,4=MANUAL_OVERRIDE)",
		}),
		positionRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "position_ratio",
			Help:      "当前允许仓位比例",
		}),
		breakerTriggers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "breaker_triggers_total",
			Help:      "熔断触发总次数",
		}),
		dailyLossPct: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "daily_loss_pct",
			Help:      "日内亏损比例",
		}),
		positionLossPct: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "position_loss_pct",
			Help:      "最差单仓亏损比例",
		}),
		marginUsagePct: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "margin_usage_pct",
			Help:      "保证金占用比例",
		}),
		consecutiveLosses: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "consecutive_losses",
			Help:      "当前连亏笔数",
		}),

		alertsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "alerts_sent_total",
				Help:      "按级别与通道统计的告警发送数",
			},
			[]string{"level", "channel"},
		),
		alertsThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "alerts_throttled_total",
			Help:      "被限流抑制的告警数",
		}),

		poolAvailable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pool_available",
				Help:      "资源池可用余量",
			},
			[]string{"pool"},
		),
		poolReserved: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pool_reserved",
				Help:      "资源池预留量",
			},
			[]string{"pool"},
		),
	}

	return m
}

// 订单相关方法
func (m *Monitor) RecordOrderSubmitted() {
	if m == nil {
		return
	}
	m.ordersSubmitted.Inc()
}

func (m *Monitor) RecordOrderTerminal(state string) {
	if m == nil {
		return
	}
	switch state {
	case "FILLED":
		m.ordersFilled.Inc()
	case "CANCELLED":
		m.ordersCancelled.Inc()
	case "PARTIAL_CANCELLED":
		m.ordersPartialCancelled.Inc()
	case "REJECTED", "CANCEL_REJECTED":
		m.ordersRejected.Inc()
	case "ERROR":
		m.ordersErrored.Inc()
	}
}

func (m *Monitor) UpdateActiveOrders(n int) {
	if m == nil {
		return
	}
	m.activeOrders.Set(float64(n))
}

func (m *Monitor) UpdateQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// 成交相关方法
func (m *Monitor) RecordTrade(volume int64) {
	if m == nil {
		return
	}
	m.tradesTotal.Inc()
	m.tradedVolume.Add(float64(volume))
}

// 追单与超时相关方法
func (m *Monitor) RecordChase() {
	if m == nil {
		return
	}
	m.chasesTotal.Inc()
}

func (m *Monitor) RecordTimeout(timeoutType string) {
	if m == nil {
		return
	}
	m.timeoutsTotal.WithLabelValues(timeoutType).Inc()
}

func (m *Monitor) RecordInvalidTransition() {
	if m == nil {
		return
	}
	m.invalidTransitions.Inc()
}

func (m *Monitor) RecordUnknownReturn() {
	if m == nil {
		return
	}
	m.unknownReturns.Inc()
}

// 熔断相关方法
func (m *Monitor) UpdateBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

func (m *Monitor) UpdatePositionRatio(ratio float64) {
	if m == nil {
		return
	}
	m.positionRatio.Set(ratio)
}

func (m *Monitor) RecordBreakerTrigger() {
	if m == nil {
		return
	}
	m.breakerTriggers.Inc()
}

func (m *Monitor) UpdateRiskMetrics(dailyLoss, positionLoss, marginUsage float64, consecutive int) {
	if m == nil {
		return
	}
	m.dailyLossPct.Set(dailyLoss)
	m.positionLossPct.Set(positionLoss)
	m.marginUsagePct.Set(marginUsage)
	m.consecutiveLosses.Set(float64(consecutive))
}

// 告警相关方法
func (m *Monitor) RecordAlertSent(level, channel string) {
	if m == nil {
		return
	}
	m.alertsSent.WithLabelValues(level, channel).Inc()
}

func (m *Monitor) RecordAlertThrottled() {
	if m == nil {
		return
	}
	m.alertsThrottled.Inc()
}

// 资源池相关方法
func (m *Monitor) UpdatePool(pool string, available, reserved float64) {
	if m == nil {
		return
	}
	m.poolAvailable.WithLabelValues(pool).Set(available)
	m.poolReserved.WithLabelValues(pool).Set(reserved)
}

// Handler 返回暴露指标的 HTTP handler。
func (m *Monitor) Handler() http.Handler {
	if m == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 registry，供测试断言指标值。
func (m *Monitor) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
