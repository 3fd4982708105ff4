package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"futures-exec-go/infrastructure/monitor"
	"futures-exec-go/order"
	"futures-exec-go/risk"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// ErrEngineStopped 引擎已停止，不再接受命令
var ErrEngineStopped = errors.New("engine stopped")

// ErrEngineNotStarted 引擎尚未启动，事件循环不在运行
var ErrEngineNotStarted = errors.New("engine not started")

// ErrUnknownLocalID 引擎不持有该订单
var ErrUnknownLocalID = errors.New("unknown local_id")

// OrderEvent 订单事件回调载荷，每次状态机转换触发一次
type OrderEvent struct {
	LocalID   string
	Symbol    string
	From      order.State
	To        order.State
	Event     order.Event
	FilledQty int64
}

// OrderObserver 订单事件观察者。在引擎事件循环内调用，
// 回调中不得再同步调用引擎方法（会死锁），耗时处理请自行转发。
type OrderObserver func(ev OrderEvent)

// QuoteSource 盘口查询能力，追价定价使用
type QuoteSource interface {
	Touch(symbol string) (bid, ask float64, ok bool)
}

// Config 引擎配置
type Config struct {
	QueueSize     int                                `yaml:"queue_size"`     // 命令队列容量
	IOWorkers     int                                `yaml:"io_workers"`     // 柜台并发调用上限
	SweepInterval time.Duration                      `yaml:"sweep_interval"` // 超时巡检间隔，0 表示仅手动触发
	ChaseEnabled  bool                               `yaml:"chase_enabled"`  // 部分成交后允许追价
	Timeouts      order.TimeoutConfig                `yaml:"timeouts"`
	Retry         order.RetryConfig                  `yaml:"retry"`
	Constraints   map[string]order.SymbolConstraints `yaml:"-"` // 按合约的价格/手数约束
}

// Components 引擎依赖组件
type Components struct {
	Broker   order.Broker
	Quotes   QuoteSource
	Observer OrderObserver
	Audit    risk.AuditLogger
	Monitor  *monitor.Monitor
	Logger   *zap.Logger
	Clock    risk.Clock
}

// AutoOrderEngine 自动委托引擎。
// 所有状态变更（状态机、注册表、超时集合、重试记录）都在单一事件
// 循环上串行执行：外部调用只是把闭包命令入队。柜台 IO 在有界执行器
// 上异步运行，完成结果重新入队，保证核心状态的跨字段不变式原子更新。
type AutoOrderEngine struct {
	config Config

	broker   order.Broker
	quotes   QuoteSource
	observer OrderObserver
	audit    risk.AuditLogger
	monitor  *monitor.Monitor
	logger   *zap.Logger
	clock    risk.Clock

	// 订单簿内核，仅事件循环写入
	registry *order.Registry
	timeouts *order.TimeoutManager
	retry    *order.RetryPolicy
	tracker  *order.FillTracker
	causes   map[string]error // 终态错误暂存，local_id -> err
	absorbed bool             // 上一次 Transition 是否被容忍吸收，仅事件循环访问

	machinesMu sync.RWMutex
	machines   map[string]*order.StateMachine

	resultsMu sync.RWMutex
	results   map[string]order.OrderResult

	// 状态与控制通道
	mu        sync.RWMutex
	state     EngineState
	cmds      chan func()
	stopChan  chan struct{}
	doneChan  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc

	// IO 执行器
	ioSem chan struct{}
	ioWG  sync.WaitGroup

	statsMu sync.RWMutex
	stats   Statistics
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime             time.Time
	TotalSubmitted        int64
	TotalFilled           int64
	TotalCancelled        int64
	TotalPartialCancelled int64
	TotalRejected         int64
	TotalTrades           int64
	TotalChases           int64
	TotalTimeouts         int64
	TotalErrors           int64
	LastSubmitTime        time.Time
	LastTradeTime         time.Time
}

// New 创建自动委托引擎
func New(cfg Config, components Components) (*AutoOrderEngine, error) {
	// 参数验证
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}

	// 设置默认值
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.IOWorkers <= 0 {
		cfg.IOWorkers = 4
	}
	if components.Logger == nil {
		components.Logger = zap.NewNop()
	}
	if components.Clock == nil {
		components.Clock = risk.NowUTC
	}
	if components.Audit == nil {
		components.Audit = risk.NopAuditLogger{}
	}

	engine := &AutoOrderEngine{
		config:   cfg,
		broker:   components.Broker,
		quotes:   components.Quotes,
		observer: components.Observer,
		audit:    components.Audit,
		monitor:  components.Monitor,
		logger:   components.Logger,
		clock:    components.Clock,
		registry: order.NewRegistry(),
		timeouts: order.NewTimeoutManager(cfg.Timeouts),
		retry:    order.NewRetryPolicy(cfg.Retry),
		tracker:  order.NewFillTracker(),
		causes:   make(map[string]error),
		machines: make(map[string]*order.StateMachine),
		results:  make(map[string]order.OrderResult),
		state:    StateIdle,
		cmds:     make(chan func(), cfg.QueueSize),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		ioSem:    make(chan struct{}, cfg.IOWorkers),
	}

	return engine, nil
}

// Start 启动事件循环
func (e *AutoOrderEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	// 从 StateStopped 复启需要重建通道
	if e.state == StateStopped {
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
		e.cmds = make(chan func(), e.config.QueueSize)
	}
	e.state = StateRunning
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = e.clock.Now()
	e.statsMu.Unlock()

	e.logger.Info("Auto order engine starting",
		zap.Int("queue_size", e.config.QueueSize),
		zap.Int("io_workers", e.config.IOWorkers),
		zap.Duration("sweep_interval", e.config.SweepInterval),
		zap.Bool("chase_enabled", e.config.ChaseEnabled))

	go e.run()

	return nil
}

// Stop 停止引擎。等待事件循环退出并回收在途 IO。
func (e *AutoOrderEngine) Stop() error {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return nil // 幂等：已停止则直接返回
	}
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	stopChan := e.stopChan
	doneChan := e.doneChan
	cancel := e.runCancel
	e.mu.Unlock()

	e.logger.Info("Auto order engine stopping...")

	// 发送停止信号（仅当通道未关闭）
	select {
	case <-stopChan:
	default:
		close(stopChan)
	}

	// 等待事件循环结束
	select {
	case <-doneChan:
	case <-time.After(10 * time.Second):
		e.logger.Warn("Timeout waiting for engine loop to stop")
	}

	// 解除在途柜台调用并等待 IO 执行器回收
	if cancel != nil {
		cancel()
	}
	ioDone := make(chan struct{})
	go func() {
		e.ioWG.Wait()
		close(ioDone)
	}()
	select {
	case <-ioDone:
	case <-time.After(10 * time.Second):
		e.logger.Warn("Timeout waiting for broker IO to drain")
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	e.logger.Info("Auto order engine stopped")

	return nil
}

// Submit 提交一笔限价委托，返回 local_id。
// 校验同步完成，下单动作在事件循环上执行。
func (e *AutoOrderEngine) Submit(req order.OrderRequest) (string, error) {
	if req.LocalID == "" {
		req.LocalID = uuid.NewString()
	}
	if req.Symbol == "" {
		return "", errors.New("symbol is required")
	}
	if req.Direction != order.SideBuy && req.Direction != order.SideSell {
		return "", fmt.Errorf("unknown direction %q", req.Direction)
	}
	if cs, ok := e.config.Constraints[req.Symbol]; ok {
		if err := cs.Validate(req.Price, req.Qty); err != nil {
			return "", fmt.Errorf("constraints for %s: %w", req.Symbol, err)
		}
	} else {
		if req.Qty <= 0 {
			return "", fmt.Errorf("qty %d must be positive", req.Qty)
		}
		if req.Price <= 0 {
			return "", fmt.Errorf("price %.4f must be positive", req.Price)
		}
	}

	if err := e.enqueue(func() { e.doSubmit(req) }); err != nil {
		return "", err
	}
	return req.LocalID, nil
}

// Cancel 请求撤销一笔在途委托
func (e *AutoOrderEngine) Cancel(localID string) error {
	if _, ok := e.registry.GetByLocalID(localID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLocalID, localID)
	}
	return e.enqueue(func() { e.doCancel(localID) })
}

// OnOrderReturn 柜台委托回报入口，由 broker 适配层调用
func (e *AutoOrderEngine) OnOrderReturn(ret order.OrderReturn) {
	if err := e.enqueue(func() { e.doOrderReturn(ret) }); err != nil {
		e.logger.Debug("Order return dropped", zap.Error(err), zap.String("order_ref", ret.OrderRef))
	}
}

// OnTradeReturn 柜台成交回报入口，由 broker 适配层调用
func (e *AutoOrderEngine) OnTradeReturn(tr order.TradeReturn) {
	if err := e.enqueue(func() { e.doTradeReturn(tr) }); err != nil {
		e.logger.Debug("Trade return dropped", zap.Error(err), zap.String("trade_id", tr.TradeID))
	}
}

// CheckTimeouts 立即执行一轮超时巡检并返回到期项。
// 同步等待巡检在事件循环上完成，适合测试与外部调度器驱动。
func (e *AutoOrderEngine) CheckTimeouts() []order.ExpiredTimeout {
	reply := make(chan []order.ExpiredTimeout, 1)
	if err := e.enqueue(func() { reply <- e.sweepTimeouts() }); err != nil {
		return nil
	}
	return <-reply
}

// GetResult 查询订单终态结果。订单尚未终态时第二个返回值为 false。
func (e *AutoOrderEngine) GetResult(localID string) (order.OrderResult, bool) {
	e.resultsMu.RLock()
	defer e.resultsMu.RUnlock()
	result, ok := e.results[localID]
	return result, ok
}

// StateOf 查询订单当前状态：在途订单取状态机，终态订单取结果
func (e *AutoOrderEngine) StateOf(localID string) (order.State, bool) {
	e.machinesMu.RLock()
	sm, ok := e.machines[localID]
	e.machinesMu.RUnlock()
	if ok {
		return sm.State(), true
	}
	if result, ok := e.GetResult(localID); ok {
		return result.State, true
	}
	return "", false
}

// ActiveOrders 返回全部在途订单 local_id
func (e *AutoOrderEngine) ActiveOrders() []string {
	return e.registry.LocalIDs()
}

// ActiveCount 在途订单数
func (e *AutoOrderEngine) ActiveCount() int {
	return e.registry.Len()
}

// GetState 获取引擎状态
func (e *AutoOrderEngine) GetState() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// GetStatistics 获取统计信息快照
func (e *AutoOrderEngine) GetStatistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// GetRetryState 查询订单重试记录
func (e *AutoOrderEngine) GetRetryState(localID string) (order.RetryState, bool) {
	return e.retry.GetRetryState(localID)
}

// enqueue 命令入队。未启动或已停止时返回错误，绝不阻塞在不存在的循环上。
func (e *AutoOrderEngine) enqueue(cmd func()) error {
	e.mu.RLock()
	state := e.state
	cmds := e.cmds
	stopChan := e.stopChan
	e.mu.RUnlock()

	if state == StateIdle {
		return ErrEngineNotStarted
	}
	select {
	case <-stopChan:
		return ErrEngineStopped
	default:
	}
	select {
	case cmds <- cmd:
		return nil
	case <-stopChan:
		return ErrEngineStopped
	}
}

// run 事件循环：串行应用全部命令
func (e *AutoOrderEngine) run() {
	e.mu.RLock()
	cmds := e.cmds
	stopChan := e.stopChan
	doneChan := e.doneChan
	ctx := e.runCtx
	e.mu.RUnlock()

	defer close(doneChan)

	var sweepC <-chan time.Time
	if e.config.SweepInterval > 0 {
		ticker := time.NewTicker(e.config.SweepInterval)
		defer ticker.Stop()
		sweepC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Context done, stopping engine loop")
			return

		case <-stopChan:
			e.logger.Info("Stop signal received")
			return

		case cmd := <-cmds:
			e.apply(cmd)
			e.monitor.UpdateQueueDepth(len(cmds))

		case <-sweepC:
			e.apply(func() { e.sweepTimeouts() })
		}
	}
}

// apply 执行单条命令，panic 只断送当前命令不断送循环
func (e *AutoOrderEngine) apply(cmd func()) {
	defer func() {
		if r := recover(); r != nil {
			e.recordError()
			e.logger.Error("Command panicked", zap.Any("panic", r))
		}
	}()
	cmd()
}

// dispatchIO 在有界执行器上运行一次柜台调用
func (e *AutoOrderEngine) dispatchIO(op func(ctx context.Context)) {
	e.mu.RLock()
	ctx := e.runCtx
	e.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	e.ioWG.Add(1)
	go func() {
		defer e.ioWG.Done()
		e.ioSem <- struct{}{}
		defer func() { <-e.ioSem }()
		op(ctx)
	}()
}

// doSubmit 事件循环：登记订单并发起柜台下单
func (e *AutoOrderEngine) doSubmit(req order.OrderRequest) {
	now := e.clock.Now()

	// 1. 登记上下文与状态机
	octx := &order.OrderContext{
		LocalID:   req.LocalID,
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Offset:    req.Offset,
		Qty:       req.Qty,
		Price:     req.Price,
		CreatedAt: now,
	}
	if err := e.registry.Add(octx); err != nil {
		e.logger.Error("Register order failed", zap.String("local_id", req.LocalID), zap.Error(err))
		e.recordError()
		return
	}

	sm := order.NewStateMachine(order.StateMachineConfig{
		TargetQty:           req.Qty,
		Mode:                order.ModeTolerant,
		OnTransition:        e.makeTransitionObserver(req.LocalID, req.Symbol),
		OnInvalidTransition: e.makeInvalidObserver(req.LocalID),
	})
	e.machinesMu.Lock()
	e.machines[req.LocalID] = sm
	e.machinesMu.Unlock()

	// 2. CREATED -> SUBMITTING，挂确认超时
	if _, err := sm.Transition(order.EventSubmit, 0); err != nil {
		e.logger.Error("Submit transition failed", zap.String("local_id", req.LocalID), zap.Error(err))
		e.recordError()
		return
	}
	e.timeouts.RegisterAckTimeout(req.LocalID, now)

	e.statsMu.Lock()
	e.stats.TotalSubmitted++
	e.stats.LastSubmitTime = now
	e.statsMu.Unlock()
	e.monitor.RecordOrderSubmitted()
	e.monitor.UpdateActiveOrders(e.registry.Len())

	// 3. 柜台下单。失败映射为 REJECT 并把错误带进终态结果。
	localID := req.LocalID
	e.dispatchIO(func(ctx context.Context) {
		orderRef, err := e.broker.PlaceOrder(ctx, req)
		if err != nil {
			e.logger.Warn("Broker place order failed", zap.String("local_id", localID), zap.Error(err))
			if qerr := e.enqueue(func() { e.applyEvent(localID, order.EventReject, 0, err) }); qerr != nil {
				e.logger.Debug("Reject completion dropped", zap.String("local_id", localID), zap.Error(qerr))
			}
			return
		}
		if orderRef == "" {
			return
		}
		if qerr := e.enqueue(func() {
			if err := e.registry.BindOrderRef(localID, orderRef); err != nil {
				e.logger.Warn("Bind order_ref failed", zap.String("local_id", localID), zap.Error(err))
			}
		}); qerr != nil {
			e.logger.Debug("Bind completion dropped", zap.String("local_id", localID), zap.Error(qerr))
		}
	})
}

// doCancel 事件循环：进入撤单流程
func (e *AutoOrderEngine) doCancel(localID string) {
	e.machinesMu.RLock()
	sm, ok := e.machines[localID]
	e.machinesMu.RUnlock()
	if !ok {
		return
	}
	if !sm.State().CanCancel() {
		e.logger.Debug("Order not cancellable",
			zap.String("local_id", localID),
			zap.String("state", string(sm.State())))
		return
	}

	if state, _ := sm.Transition(order.EventCancelRequest, 0); state != order.StateCancelSubmitting {
		return
	}
	e.issueCancel(localID)
}

// issueCancel 挂撤单超时并发起柜台撤单。
// 优先用 order_sys_id，缺失时退回 order_ref；两者皆缺视为撤单被拒。
func (e *AutoOrderEngine) issueCancel(localID string) {
	octx, ok := e.registry.GetByLocalID(localID)
	if !ok {
		return
	}
	e.timeouts.RegisterCancelTimeout(localID, e.clock.Now())

	sysID, orderRef := octx.OrderSysID, octx.OrderRef
	e.dispatchIO(func(ctx context.Context) {
		var err error
		switch {
		case sysID != "":
			err = e.broker.CancelOrder(ctx, sysID)
		case orderRef != "":
			err = e.broker.CancelOrderByRef(ctx, orderRef)
		default:
			err = errors.New("order has no broker keys yet")
		}
		if err != nil {
			e.logger.Warn("Broker cancel failed", zap.String("local_id", localID), zap.Error(err))
			if qerr := e.enqueue(func() { e.applyEvent(localID, order.EventCancelReject, 0, err) }); qerr != nil {
				e.logger.Debug("Cancel completion dropped", zap.String("local_id", localID), zap.Error(qerr))
			}
		}
	})
}

// doOrderReturn 事件循环：委托回报映射为状态机事件。
// 状态码映射：'0'全成→FILL；'1'队列中有新成交→PARTIAL_FILL 否则→ACK；
// '2'→PARTIAL_FILL；'3'→ACK；'4'→STATUS_4；'5'仅在撤单在途时→CANCEL_ACK，
// 其余场合等待后续回报。
func (e *AutoOrderEngine) doOrderReturn(ret order.OrderReturn) {
	octx, ok := e.registry.Resolve(ret.LocalID, ret.OrderRef, ret.OrderSysID)
	if !ok {
		e.monitor.RecordUnknownReturn()
		e.logger.Warn("Order return for unknown order",
			zap.String("local_id", ret.LocalID),
			zap.String("order_ref", ret.OrderRef),
			zap.String("order_sys_id", ret.OrderSysID),
			zap.String("status", ret.StatusCode))
		return
	}
	localID := octx.LocalID

	// 回填柜台键
	if ret.OrderRef != "" {
		if err := e.registry.BindOrderRef(localID, ret.OrderRef); err != nil {
			e.logger.Warn("Bind order_ref failed", zap.String("local_id", localID), zap.Error(err))
		}
	}
	if ret.OrderSysID != "" {
		if err := e.registry.BindOrderSysID(localID, ret.OrderSysID); err != nil {
			e.logger.Warn("Bind order_sys_id failed", zap.String("local_id", localID), zap.Error(err))
		}
	}

	e.machinesMu.RLock()
	sm, ok := e.machines[localID]
	e.machinesMu.RUnlock()
	if !ok {
		return
	}

	switch ret.StatusCode {
	case order.StatusCodeAllTraded:
		delta := ret.FilledQty - sm.FilledQty()
		if delta <= 0 {
			delta = sm.RemainingQty()
		}
		e.applyEvent(localID, order.EventFill, delta, nil)

	case order.StatusCodePartTradedQueue:
		if delta := ret.FilledQty - sm.FilledQty(); delta > 0 {
			e.applyEvent(localID, order.EventPartialFill, delta, nil)
		} else {
			e.applyEvent(localID, order.EventAck, 0, nil)
		}

	case order.StatusCodePartTradedOut:
		delta := ret.FilledQty - sm.FilledQty()
		if delta < 0 {
			delta = 0
		}
		e.applyEvent(localID, order.EventPartialFill, delta, nil)

	case order.StatusCodeNoTradeQueue:
		e.applyEvent(localID, order.EventAck, 0, nil)

	case order.StatusCodeNoTradeOut:
		e.applyEvent(localID, order.EventStatus4, 0, errorFromStatus(ret.StatusMsg))

	case order.StatusCodeCancelled:
		// 撤单在途时该码即撤单确认；否则等待明确回报
		if sm.State() == order.StateCancelSubmitting {
			e.applyEvent(localID, order.EventCancelAck, 0, nil)
		}

	default:
		e.logger.Warn("Unknown order status code",
			zap.String("local_id", localID),
			zap.String("status", ret.StatusCode))
	}
}

// doTradeReturn 事件循环：成交回报累计并驱动 FILL/PARTIAL_FILL
func (e *AutoOrderEngine) doTradeReturn(tr order.TradeReturn) {
	octx, ok := e.registry.Resolve(tr.LocalID, tr.OrderRef, "")
	if !ok {
		e.monitor.RecordUnknownReturn()
		e.logger.Warn("Trade return for unknown order",
			zap.String("local_id", tr.LocalID),
			zap.String("order_ref", tr.OrderRef),
			zap.String("trade_id", tr.TradeID))
		return
	}
	localID := octx.LocalID

	// 按 trade_id 去重
	if !e.tracker.RecordTrade(localID, tr.TradeID, tr.Volume, tr.Price) {
		e.logger.Debug("Duplicate trade ignored",
			zap.String("local_id", localID),
			zap.String("trade_id", tr.TradeID))
		return
	}

	now := e.clock.Now()
	e.statsMu.Lock()
	e.stats.TotalTrades++
	e.stats.LastTradeTime = now
	e.statsMu.Unlock()
	e.monitor.RecordTrade(tr.Volume)

	e.machinesMu.RLock()
	sm, ok := e.machines[localID]
	e.machinesMu.RUnlock()
	if !ok {
		return
	}

	// 累计到目标即全成，否则部分成交
	if sm.FilledQty()+tr.Volume >= sm.TargetQty() {
		e.applyEvent(localID, order.EventFill, tr.Volume, nil)
	} else {
		e.applyEvent(localID, order.EventPartialFill, tr.Volume, nil)
	}
}

// sweepTimeouts 事件循环：处理全部到期超时。
// ACK 超时转查询；FILL 超时转撤单并自动发起柜台撤单（硬性行为），
// 允许重试时记录追价；CANCEL 超时仅通知。
func (e *AutoOrderEngine) sweepTimeouts() []order.ExpiredTimeout {
	now := e.clock.Now()
	expired := e.timeouts.CheckExpired(now)

	for _, exp := range expired {
		e.statsMu.Lock()
		e.stats.TotalTimeouts++
		e.statsMu.Unlock()
		e.monitor.RecordTimeout(string(exp.Type))

		e.logger.Warn("Order timeout",
			zap.String("local_id", exp.LocalID),
			zap.String("type", string(exp.Type)),
			zap.Time("deadline", exp.Deadline))

		switch exp.Type {
		case order.TimeoutAck:
			e.applyEvent(exp.LocalID, order.EventAckTimeout, 0, nil)

		case order.TimeoutFill:
			if e.applyEvent(exp.LocalID, order.EventFillTimeout, 0, nil) {
				e.onFillTimeout(exp.LocalID, now)
			}

		case order.TimeoutCancel:
			e.applyEvent(exp.LocalID, order.EventCancelTimeout, 0, nil)
		}
	}
	return expired
}

// onFillTimeout FILL 超时善后：柜台撤单 + 追价重试记录
func (e *AutoOrderEngine) onFillTimeout(localID string, now time.Time) {
	e.machinesMu.RLock()
	sm, ok := e.machines[localID]
	e.machinesMu.RUnlock()
	if !ok || sm.State() != order.StateCancelSubmitting {
		return
	}

	e.issueCancel(localID)

	if !e.retry.ShouldRetry(localID, "fill timeout") {
		return
	}
	octx, ok := e.registry.GetByLocalID(localID)
	if !ok {
		return
	}
	newPrice := octx.Price
	if e.quotes != nil {
		if bid, ask, ok := e.quotes.Touch(octx.Symbol); ok {
			newPrice = e.retry.Reprice(octx.Direction, octx.Price, bid, ask, e.tickSizeFor(octx.Symbol))
		}
	}
	state := e.retry.RegisterRetry(localID, "fill timeout", octx.Price, newPrice, now)
	e.logger.Info("Fill timeout retry registered",
		zap.String("local_id", localID),
		zap.Int("retry_count", state.RetryCount),
		zap.Float64("original_price", octx.Price),
		zap.Float64("new_price", newPrice),
		zap.Time("next_retry_at", state.NextRetryAt))
}

// maybeChase 部分成交后的追价：重试预算允许时把状态机切到
// CHASE_PENDING 并登记改价，实际重新报单由上层编排
func (e *AutoOrderEngine) maybeChase(localID string) {
	if !e.config.ChaseEnabled {
		return
	}
	if !e.retry.ShouldRetry(localID, "partial fill chase") {
		return
	}
	octx, ok := e.registry.GetByLocalID(localID)
	if !ok {
		return
	}
	e.machinesMu.RLock()
	sm, ok := e.machines[localID]
	e.machinesMu.RUnlock()
	if !ok {
		return
	}

	newPrice := octx.Price
	if e.quotes != nil {
		if bid, ask, ok := e.quotes.Touch(octx.Symbol); ok {
			newPrice = e.retry.Reprice(octx.Direction, octx.Price, bid, ask, e.tickSizeFor(octx.Symbol))
		}
	}

	if state, _ := sm.Transition(order.EventChase, 0); state != order.StateChasePending {
		return
	}
	retryState := e.retry.RegisterRetry(localID, "partial fill chase", octx.Price, newPrice, e.clock.Now())

	e.statsMu.Lock()
	e.stats.TotalChases++
	e.statsMu.Unlock()
	e.monitor.RecordChase()

	e.logger.Info("Chase registered",
		zap.String("local_id", localID),
		zap.String("symbol", octx.Symbol),
		zap.Int("retry_count", retryState.RetryCount),
		zap.Float64("original_price", octx.Price),
		zap.Float64("new_price", newPrice))
}

// applyEvent 事件循环：应用状态机事件并处理伴随的超时登记。
// cause 非空时暂存，订单落终态后带进 OrderResult。
// 返回事件是否真正生效（被容忍吸收的非法事件返回 false）。
func (e *AutoOrderEngine) applyEvent(localID string, event order.Event, fillDelta int64, cause error) bool {
	e.machinesMu.RLock()
	sm, ok := e.machines[localID]
	e.machinesMu.RUnlock()
	if !ok {
		return false
	}

	if cause != nil {
		e.causes[localID] = cause
	}

	e.absorbed = false
	to, err := sm.Transition(event, fillDelta)
	if err != nil {
		// 容忍模式下不会到达；严格模式下记录后丢弃
		e.logger.Warn("Transition rejected",
			zap.String("local_id", localID),
			zap.String("event", string(event)),
			zap.Error(err))
		delete(e.causes, localID)
		return false
	}
	if e.absorbed {
		delete(e.causes, localID)
		return false
	}

	now := e.clock.Now()
	switch {
	case event == order.EventAck && to == order.StatePending:
		// 确认到达：撤 ACK 超时，挂成交超时
		e.timeouts.CancelTimeout(localID, order.TimeoutAck)
		e.timeouts.RegisterFillTimeout(localID, now)

	case event == order.EventPartialFill && to == order.StatePartialFilled:
		// 新成交刷新成交超时，再看是否追价
		e.timeouts.CancelTimeout(localID, order.TimeoutAck)
		e.timeouts.CancelTimeout(localID, order.TimeoutFill)
		e.timeouts.RegisterFillTimeout(localID, now)
		e.maybeChase(localID)
	}
	return true
}

// makeTransitionObserver 构造单个订单的转换观察者。
// 观察者在事件循环内被状态机调用：记录、审计、外部通知、终态收尾。
func (e *AutoOrderEngine) makeTransitionObserver(localID, symbol string) order.TransitionObserver {
	return func(from, to order.State, event order.Event, filledQty int64) {
		e.logger.Info("Order transition",
			zap.String("local_id", localID),
			zap.String("symbol", symbol),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("event", string(event)),
			zap.Int64("filled_qty", filledQty))

		if err := e.audit.Log(risk.AuditRecord{
			Timestamp: e.clock.Now(),
			EventType: risk.AuditOrderTransition,
			FromState: string(from),
			ToState:   string(to),
			Reason:    string(event),
			Details: map[string]interface{}{
				"local_id":   localID,
				"symbol":     symbol,
				"filled_qty": filledQty,
			},
		}); err != nil {
			e.logger.Warn("Audit write failed", zap.String("local_id", localID), zap.Error(err))
		}

		e.notifyObserver(OrderEvent{
			LocalID:   localID,
			Symbol:    symbol,
			From:      from,
			To:        to,
			Event:     event,
			FilledQty: filledQty,
		})

		if to.IsTerminal() {
			e.finalizeOrder(localID, to, filledQty)
		}
	}
}

// makeInvalidObserver 容忍模式下被吸收事件的观察者
func (e *AutoOrderEngine) makeInvalidObserver(localID string) order.InvalidTransitionObserver {
	return func(state order.State, event order.Event, reason string) {
		e.absorbed = true
		e.monitor.RecordInvalidTransition()
		e.logger.Debug("Event absorbed",
			zap.String("local_id", localID),
			zap.String("state", string(state)),
			zap.String("event", string(event)),
			zap.String("reason", reason))
	}
}

// notifyObserver 外部回调，panic 不外溢
func (e *AutoOrderEngine) notifyObserver(ev OrderEvent) {
	if e.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Order observer panicked",
				zap.String("local_id", ev.LocalID),
				zap.Any("panic", r))
		}
	}()
	e.observer(ev)
}

// finalizeOrder 终态收尾：撤销全部超时、清理重试记录、固化结果、
// 释放注册表键位
func (e *AutoOrderEngine) finalizeOrder(localID string, state order.State, filledQty int64) {
	e.timeouts.CancelAllForOrder(localID)
	e.retry.ClearRetry(localID)

	result := order.OrderResult{
		LocalID:   localID,
		State:     state,
		FilledQty: filledQty,
		AvgPrice:  e.tracker.AvgPrice(localID),
		Err:       e.causes[localID],
	}
	delete(e.causes, localID)

	e.resultsMu.Lock()
	e.results[localID] = result
	e.resultsMu.Unlock()

	e.registry.Remove(localID)
	e.machinesMu.Lock()
	delete(e.machines, localID)
	e.machinesMu.Unlock()
	e.tracker.Clear(localID)

	e.statsMu.Lock()
	switch state {
	case order.StateFilled:
		e.stats.TotalFilled++
	case order.StateCancelled:
		e.stats.TotalCancelled++
	case order.StatePartialCancelled:
		e.stats.TotalPartialCancelled++
	case order.StateRejected, order.StateCancelRejected:
		e.stats.TotalRejected++
	case order.StateError:
		e.stats.TotalErrors++
	}
	e.statsMu.Unlock()
	e.monitor.RecordOrderTerminal(string(state))
	e.monitor.UpdateActiveOrders(e.registry.Len())

	e.logger.Info("Order finalized",
		zap.String("local_id", localID),
		zap.String("state", string(state)),
		zap.Int64("filled_qty", filledQty),
		zap.Float64("avg_price", result.AvgPrice),
		zap.String("error", result.ErrorMessage()))
}

// tickSizeFor 合约最小变动价位，未配置时返回 0（追价退化为对手价）
func (e *AutoOrderEngine) tickSizeFor(symbol string) float64 {
	if cs, ok := e.config.Constraints[symbol]; ok {
		return cs.PriceTick
	}
	return 0
}

// recordError 记录错误
func (e *AutoOrderEngine) recordError() {
	e.statsMu.Lock()
	e.stats.TotalErrors++
	e.statsMu.Unlock()
}

// errorFromStatus 状态4回报的错误包装，空消息给默认描述
func errorFromStatus(msg string) error {
	if msg == "" {
		return errors.New("order removed from queue by exchange")
	}
	return errors.New(msg)
}

// validateConfig 验证配置。超时与重试的零值字段由各组件构造时补默认。
func validateConfig(cfg Config) error {
	if cfg.QueueSize < 0 {
		return errors.New("queue_size must be >= 0")
	}
	if cfg.IOWorkers < 0 {
		return errors.New("io_workers must be >= 0")
	}
	if cfg.SweepInterval < 0 {
		return errors.New("sweep_interval must be >= 0")
	}
	return nil
}

// validateComponents 验证组件
func validateComponents(comp Components) error {
	if comp.Broker == nil {
		return errors.New("broker is required")
	}
	return nil
}
