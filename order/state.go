package order

// State represents order lifecycle.
type State string

const (
	StateCreated          State = "CREATED"
	StateSubmitting       State = "SUBMITTING"
	StatePending          State = "PENDING"
	StatePartialFilled    State = "PARTIAL_FILLED"
	StateChasePending     State = "CHASE_PENDING"
	StateCancelSubmitting State = "CANCEL_SUBMITTING"
	StateQuerying         State = "QUERYING"

	// 终态：进入后吸收一切事件
	StateFilled           State = "FILLED"
	StateCancelled        State = "CANCELLED"
	StatePartialCancelled State = "PARTIAL_CANCELLED"
	StateCancelRejected   State = "CANCEL_REJECTED"
	StateRejected         State = "REJECTED"
	StateError            State = "ERROR"
)

// Event drives state transitions.
type Event string

const (
	EventSubmit        Event = "SUBMIT"
	EventAck           Event = "ACK"
	EventReject        Event = "REJECT"
	EventFill          Event = "FILL"
	EventPartialFill   Event = "PARTIAL_FILL"
	EventCancelRequest Event = "CANCEL_REQUEST"
	EventCancelAck     Event = "CANCEL_ACK"
	EventCancelReject  Event = "CANCEL_REJECT"
	EventAckTimeout    Event = "ACK_TIMEOUT"
	EventFillTimeout   Event = "FILL_TIMEOUT"
	EventCancelTimeout Event = "CANCEL_TIMEOUT"
	EventChase         Event = "CHASE"
	EventStatus4       Event = "STATUS_4"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Offset 开平标志
type Offset string

const (
	OffsetOpen  Offset = "OPEN"
	OffsetClose Offset = "CLOSE"
)

// IsTerminal 判断是否是终态
func (s State) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StatePartialCancelled,
		StateCancelRejected, StateRejected, StateError:
		return true
	default:
		return false
	}
}

// IsActive 判断是否是活跃状态（可能产生成交）
func (s State) IsActive() bool {
	switch s {
	case StateSubmitting, StatePending, StatePartialFilled,
		StateChasePending, StateCancelSubmitting, StateQuerying:
		return true
	default:
		return false
	}
}

// CanCancel 判断当前状态下是否可以发起撤单
func (s State) CanCancel() bool {
	switch s {
	case StatePending, StatePartialFilled, StateChasePending, StateQuerying:
		return true
	default:
		return false
	}
}

// Description 获取状态描述
func (s State) Description() string {
	descriptions := map[State]string{
		StateCreated:          "订单已创建",
		StateSubmitting:       "订单报单中",
		StatePending:          "订单已挂单",
		StatePartialFilled:    "订单部分成交",
		StateChasePending:     "订单待追价",
		StateCancelSubmitting: "订单撤单中",
		StateQuerying:         "订单状态查询中",
		StateFilled:           "订单完全成交",
		StateCancelled:        "订单已撤销",
		StatePartialCancelled: "订单部分成交后撤销",
		StateCancelRejected:   "撤单被拒绝",
		StateRejected:         "订单被拒绝",
		StateError:            "订单异常",
	}

	if desc, ok := descriptions[s]; ok {
		return desc
	}
	return "未知状态"
}

// TerminalStates 返回全部终态集合
func TerminalStates() []State {
	return []State{
		StateFilled, StateCancelled, StatePartialCancelled,
		StateCancelRejected, StateRejected, StateError,
	}
}
