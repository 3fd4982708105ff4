package federation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"futures-exec-go/risk"
)

var ErrAllFallbacksFailed = errors.New("all fallback entries failed or cooling")

// FallbackStatus 链上单个条目的健康状况。
type FallbackStatus struct {
	Name         string
	Failures     int
	CoolingUntil time.Time
	Available    bool
}

// FallbackManager 顺序降级链。按登记顺序尝试，失败的条目进入
// 冷却窗口，窗口内跳过。无后台线程，全部基于注入时钟惰性判定。
type FallbackManager struct {
	mu sync.Mutex

	clock    risk.Clock
	cooldown time.Duration

	order        []string
	failures     map[string]int
	coolingUntil map[string]time.Time
}

func NewFallbackManager(cooldown time.Duration, clock risk.Clock, names ...string) *FallbackManager {
	if clock == nil {
		clock = risk.NowUTC
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &FallbackManager{
		clock:        clock,
		cooldown:     cooldown,
		order:        append([]string(nil), names...),
		failures:     make(map[string]int),
		coolingUntil: make(map[string]time.Time),
	}
}

// Execute 依次尝试链上每个可用条目，op 返回 nil 即成功。
// 失败条目记一次失败并进入冷却，返回最终成功的条目名。
func (m *FallbackManager) Execute(op func(name string) error) (string, error) {
	m.mu.Lock()
	candidates := m.availableLocked()
	m.mu.Unlock()

	var lastErr error
	for _, name := range candidates {
		if err := op(name); err != nil {
			lastErr = err
			m.MarkFailure(name)
			continue
		}
		m.markSuccess(name)
		return name, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: last error: %v", ErrAllFallbacksFailed, lastErr)
	}
	return "", ErrAllFallbacksFailed
}

// MarkFailure 记一次失败并进入冷却窗口。
func (m *FallbackManager) MarkFailure(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name]++
	m.coolingUntil[name] = m.clock.Now().Add(m.cooldown)
}

func (m *FallbackManager) markSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name] = 0
	delete(m.coolingUntil, name)
}

// Available 当前未在冷却中的条目，保持登记顺序。
func (m *FallbackManager) Available() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableLocked()
}

func (m *FallbackManager) availableLocked() []string {
	now := m.clock.Now()
	out := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if until, cooling := m.coolingUntil[name]; cooling && now.Before(until) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Status 全链健康快照。
func (m *FallbackManager) Status() []FallbackStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	out := make([]FallbackStatus, 0, len(m.order))
	for _, name := range m.order {
		until := m.coolingUntil[name]
		out = append(out, FallbackStatus{
			Name:         name,
			Failures:     m.failures[name],
			CoolingUntil: until,
			Available:    until.IsZero() || !now.Before(until),
		})
	}
	return out
}
