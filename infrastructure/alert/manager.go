package alert

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"futures-exec-go/infrastructure/monitor"
	"futures-exec-go/risk"
)

// Alert 告警信息
type Alert struct {
	Level     risk.AlertLevel        // INFO / WARN / ERROR
	Message   string                 // 告警消息
	Timestamp time.Time              // 告警时间
	Details   map[string]interface{} // 附加字段
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 告警管理器。实现 risk.AlertSender：发送失败在这里消化，
// 绝不向风控决策路径回抛错误。
type Manager struct {
	channels []Channel
	throttle *Throttler
	monitor  *monitor.Monitor
	logger   *zap.Logger
	mu       sync.RWMutex
}

// Throttler 告警限流器，按 (级别,消息) 键限制发送频率
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	nowFn    func() time.Time
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		nowFn:    time.Now,
	}
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFn()
	lastTime, exists := t.lastSent[key]

	if !exists || now.Sub(lastTime) >= t.interval {
		t.lastSent[key] = now
		return true
	}

	return false
}

// Reset 重置单个键的限流记录
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// ManagerOptions 可选依赖
type ManagerOptions struct {
	Monitor *monitor.Monitor
	Logger  *zap.Logger
}

// NewManager 创建告警管理器。throttleInterval<=0 表示不限流。
func NewManager(channels []Channel, throttleInterval time.Duration, opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
		monitor:  opts.Monitor,
		logger:   opts.Logger,
	}
}

// SendAlert 实现 risk.AlertSender。限流命中静默丢弃；
// 通道失败记录日志与指标后继续。
func (m *Manager) SendAlert(level risk.AlertLevel, message string, details map[string]interface{}) {
	alert := Alert{
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}

	if m.throttle.interval > 0 {
		key := fmt.Sprintf("%s:%s", level, message)
		if !m.throttle.Allow(key) {
			m.monitor.RecordAlertThrottled()
			return
		}
	}

	m.mu.RLock()
	channels := m.channels
	m.mu.RUnlock()

	for _, ch := range channels {
		if err := ch.Send(alert); err != nil {
			m.logger.Warn("Alert channel failed",
				zap.String("channel", ch.Name()),
				zap.String("level", string(level)),
				zap.String("message", message),
				zap.Error(err))
			continue
		}
		m.monitor.RecordAlertSent(string(level), ch.Name())
	}
}

// SendInfo 发送INFO级别告警
func (m *Manager) SendInfo(message string, details map[string]interface{}) {
	m.SendAlert(risk.AlertInfo, message, details)
}

// SendWarn 发送WARN级别告警
func (m *Manager) SendWarn(message string, details map[string]interface{}) {
	m.SendAlert(risk.AlertWarn, message, details)
}

// SendError 发送ERROR级别告警
func (m *Manager) SendError(message string, details map[string]interface{}) {
	m.SendAlert(risk.AlertError, message, details)
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// RemoveChannel 移除告警通道
func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	m.channels = filtered
}

// GetChannels 获取所有通道名称
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 清空限流记录
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
