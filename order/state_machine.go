package order

import (
	"errors"
	"fmt"
	"sync"
)

// Mode 状态机校验模式
type Mode int

const (
	// ModeStrict 未定义的转换返回错误
	ModeStrict Mode = iota
	// ModeTolerant 未定义的转换静默忽略，仅通知观察者
	ModeTolerant
)

// ErrInvalidTransition 严格模式下未定义转换的错误
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionObserver 每次成功转换后调用一次
type TransitionObserver func(from, to State, event Event, filledQty int64)

// InvalidTransitionObserver 容忍模式下吸收非法事件时调用
type InvalidTransitionObserver func(state State, event Event, reason string)

// transitionKey (当前状态, 事件)
type transitionKey struct {
	From  State
	Event Event
}

// 静态转换表。条件性转换（CANCEL_ACK、STATUS_4）不在表内，
// 由 resolveConditional 根据已成交数量决定目标状态。
var transitions = map[transitionKey]State{
	{StateCreated, EventSubmit}: StateSubmitting,

	{StateSubmitting, EventAck}:         StatePending,
	{StateSubmitting, EventReject}:      StateRejected,
	{StateSubmitting, EventFill}:        StateFilled,
	{StateSubmitting, EventPartialFill}: StatePartialFilled,
	{StateSubmitting, EventAckTimeout}:  StateQuerying,

	{StatePending, EventFill}:          StateFilled,
	{StatePending, EventPartialFill}:   StatePartialFilled,
	{StatePending, EventCancelRequest}: StateCancelSubmitting,
	{StatePending, EventFillTimeout}:   StateCancelSubmitting,

	{StatePartialFilled, EventFill}:          StateFilled,
	{StatePartialFilled, EventPartialFill}:   StatePartialFilled,
	{StatePartialFilled, EventCancelRequest}: StateCancelSubmitting,
	{StatePartialFilled, EventFillTimeout}:   StateCancelSubmitting,
	{StatePartialFilled, EventChase}:         StateChasePending,

	{StateChasePending, EventFill}:          StateFilled,
	{StateChasePending, EventPartialFill}:   StatePartialFilled,
	{StateChasePending, EventCancelRequest}: StateCancelSubmitting,
	{StateChasePending, EventFillTimeout}:   StateCancelSubmitting,

	// 撤单与成交的竞态：撤单期间到达的成交以成交为准
	{StateCancelSubmitting, EventFill}:          StateFilled,
	{StateCancelSubmitting, EventPartialFill}:   StatePartialCancelled,
	{StateCancelSubmitting, EventCancelReject}:  StateCancelRejected,
	{StateCancelSubmitting, EventCancelTimeout}: StateCancelSubmitting,

	{StateQuerying, EventAck}:           StatePending,
	{StateQuerying, EventFill}:          StateFilled,
	{StateQuerying, EventPartialFill}:   StatePartialFilled,
	{StateQuerying, EventReject}:        StateRejected,
	{StateQuerying, EventCancelRequest}: StateCancelSubmitting,
}

// StateMachineConfig 状态机配置
type StateMachineConfig struct {
	TargetQty           int64
	Mode                Mode
	OnTransition        TransitionObserver
	OnInvalidTransition InvalidTransitionObserver
}

// StateMachine 单个订单的生命周期状态机。
// 状态与已成交数量必须原子更新，由内部互斥锁保证。
type StateMachine struct {
	mu sync.Mutex

	state     State
	targetQty int64
	filledQty int64

	mode                Mode
	onTransition        TransitionObserver
	onInvalidTransition InvalidTransitionObserver
}

// NewStateMachine 创建新的订单状态机，初始状态 CREATED
func NewStateMachine(cfg StateMachineConfig) *StateMachine {
	return &StateMachine{
		state:               StateCreated,
		targetQty:           cfg.TargetQty,
		mode:                cfg.Mode,
		onTransition:        cfg.OnTransition,
		onInvalidTransition: cfg.OnInvalidTransition,
	}
}

// Transition 应用一个事件。fillDelta 仅在 FILL/PARTIAL_FILL 时累加，
// 已成交数量单调不减且不超过目标数量。
// 终态吸收一切事件：两种模式下都返回当前状态且不报错。
func (m *StateMachine) Transition(event Event, fillDelta int64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if from.IsTerminal() {
		return from, nil
	}

	to, ok := m.resolveLocked(from, event)
	if !ok {
		reason := fmt.Sprintf("event %s not defined for state %s", event, from)
		if m.mode == ModeStrict {
			return from, fmt.Errorf("%w: %s + %s", ErrInvalidTransition, from, event)
		}
		if m.onInvalidTransition != nil {
			m.onInvalidTransition(from, event, reason)
		}
		return from, nil
	}

	m.applyFillLocked(event, fillDelta)
	m.state = to

	if m.onTransition != nil {
		m.onTransition(from, to, event, m.filledQty)
	}
	return to, nil
}

// resolveLocked 返回事件对应的目标状态
func (m *StateMachine) resolveLocked(from State, event Event) (State, bool) {
	// 交易所状态4（已撤出队列）：有成交按部分成交撤单收尾，无成交视为异常
	if event == EventStatus4 {
		switch from {
		case StatePending, StatePartialFilled, StateCancelSubmitting, StateQuerying:
			if m.filledQty > 0 {
				return StatePartialCancelled, true
			}
			return StateError, true
		default:
			return "", false
		}
	}

	// 撤单确认：有成交收PARTIAL_CANCELLED，无成交收CANCELLED
	if event == EventCancelAck && from == StateCancelSubmitting {
		if m.filledQty > 0 {
			return StatePartialCancelled, true
		}
		return StateCancelled, true
	}

	to, ok := transitions[transitionKey{From: from, Event: event}]
	return to, ok
}

// applyFillLocked 累加成交数量，负增量忽略，上限为目标数量
func (m *StateMachine) applyFillLocked(event Event, fillDelta int64) {
	if event != EventFill && event != EventPartialFill {
		return
	}
	if fillDelta <= 0 {
		return
	}
	m.filledQty += fillDelta
	if m.filledQty > m.targetQty {
		m.filledQty = m.targetQty
	}
}

// State 当前状态
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FilledQty 累计已成交数量
func (m *StateMachine) FilledQty() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filledQty
}

// TargetQty 目标数量
func (m *StateMachine) TargetQty() int64 {
	return m.targetQty
}

// RemainingQty 剩余未成交数量
func (m *StateMachine) RemainingQty() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetQty - m.filledQty
}

// AllowedEvents 返回当前状态下所有定义过的事件
func (m *StateMachine) AllowedEvents() []Event {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state.IsTerminal() {
		return nil
	}

	allowed := make([]Event, 0)
	for key := range transitions {
		if key.From == state {
			allowed = append(allowed, key.Event)
		}
	}
	if state == StateCancelSubmitting {
		allowed = append(allowed, EventCancelAck, EventStatus4)
	}
	switch state {
	case StatePending, StatePartialFilled, StateQuerying:
		allowed = append(allowed, EventStatus4)
	}
	return allowed
}
