package order

import (
	"container/heap"
	"sync"
	"time"
)

// TimeoutType 超时类型
type TimeoutType string

const (
	TimeoutAck    TimeoutType = "ACK"
	TimeoutFill   TimeoutType = "FILL"
	TimeoutCancel TimeoutType = "CANCEL"
)

// TimeoutConfig 各类超时时长
type TimeoutConfig struct {
	AckTimeout    time.Duration `yaml:"ack_timeout"`
	FillTimeout   time.Duration `yaml:"fill_timeout"`
	CancelTimeout time.Duration `yaml:"cancel_timeout"`
}

// DefaultTimeoutConfig 默认超时配置
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		AckTimeout:    3 * time.Second,
		FillTimeout:   30 * time.Second,
		CancelTimeout: 5 * time.Second,
	}
}

// ExpiredTimeout CheckExpired 的返回项
type ExpiredTimeout struct {
	LocalID  string
	Type     TimeoutType
	Deadline time.Time
}

type timeoutKey struct {
	LocalID string
	Type    TimeoutType
}

type timeoutEntry struct {
	key      timeoutKey
	deadline time.Time
	index    int
}

// timeoutHeap 按截止时间排序的最小堆
type timeoutHeap []*timeoutEntry

func (h timeoutHeap) Len() int           { return len(h) }
func (h timeoutHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timeoutHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timeoutHeap) Push(x interface{}) {
	entry := x.(*timeoutEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *timeoutHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// TimeoutManager 跟踪 (订单, 超时类型) 截止时间。
// 同一键重复注册为替换语义；单次操作 O(log n)。
// 不自带定时线程，由调用方以注入的时钟拉取 CheckExpired。
type TimeoutManager struct {
	mu      sync.Mutex
	cfg     TimeoutConfig
	heap    timeoutHeap
	entries map[timeoutKey]*timeoutEntry
}

// NewTimeoutManager 创建超时管理器，零值时长回落到默认值
func NewTimeoutManager(cfg TimeoutConfig) *TimeoutManager {
	def := DefaultTimeoutConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = def.FillTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = def.CancelTimeout
	}
	return &TimeoutManager{
		cfg:     cfg,
		heap:    make(timeoutHeap, 0),
		entries: make(map[timeoutKey]*timeoutEntry),
	}
}

// RegisterAckTimeout 注册报单确认超时
func (t *TimeoutManager) RegisterAckTimeout(localID string, now time.Time) {
	t.register(localID, TimeoutAck, now.Add(t.cfg.AckTimeout))
}

// RegisterFillTimeout 注册成交超时
func (t *TimeoutManager) RegisterFillTimeout(localID string, now time.Time) {
	t.register(localID, TimeoutFill, now.Add(t.cfg.FillTimeout))
}

// RegisterCancelTimeout 注册撤单确认超时
func (t *TimeoutManager) RegisterCancelTimeout(localID string, now time.Time) {
	t.register(localID, TimeoutCancel, now.Add(t.cfg.CancelTimeout))
}

// register 同键已存在时更新截止时间并调整堆位置
func (t *TimeoutManager) register(localID string, typ TimeoutType, deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := timeoutKey{LocalID: localID, Type: typ}
	if existing, ok := t.entries[key]; ok {
		existing.deadline = deadline
		heap.Fix(&t.heap, existing.index)
		return
	}

	entry := &timeoutEntry{key: key, deadline: deadline}
	heap.Push(&t.heap, entry)
	t.entries[key] = entry
}

// CancelTimeout 取消指定订单的某类超时，存在则返回 true
func (t *TimeoutManager) CancelTimeout(localID string, typ TimeoutType) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := timeoutKey{LocalID: localID, Type: typ}
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	heap.Remove(&t.heap, entry.index)
	delete(t.entries, key)
	return true
}

// CancelAllForOrder 移除订单的全部超时（终态清理）
func (t *TimeoutManager) CancelAllForOrder(localID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, typ := range []TimeoutType{TimeoutAck, TimeoutFill, TimeoutCancel} {
		key := timeoutKey{LocalID: localID, Type: typ}
		if entry, ok := t.entries[key]; ok {
			heap.Remove(&t.heap, entry.index)
			delete(t.entries, key)
		}
	}
}

// HasTimeout 判断订单是否有某类在途超时
func (t *TimeoutManager) HasTimeout(localID string, typ TimeoutType) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[timeoutKey{LocalID: localID, Type: typ}]
	return ok
}

// CheckExpired 弹出所有截止时间不晚于 now 的条目
func (t *TimeoutManager) CheckExpired(now time.Time) []ExpiredTimeout {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []ExpiredTimeout
	for t.heap.Len() > 0 {
		top := t.heap[0]
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&t.heap)
		delete(t.entries, top.key)
		expired = append(expired, ExpiredTimeout{
			LocalID:  top.key.LocalID,
			Type:     top.key.Type,
			Deadline: top.deadline,
		})
	}
	return expired
}

// Len 在途超时条目数
func (t *TimeoutManager) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// NextDeadline 最近的截止时间；无条目时返回零值和 false
func (t *TimeoutManager) NextDeadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.heap.Len() == 0 {
		return time.Time{}, false
	}
	return t.heap[0].deadline, true
}
