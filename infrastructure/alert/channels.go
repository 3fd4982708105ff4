package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"futures-exec-go/risk"
)

// frame 各通道共用的外发载荷
type frame struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func toFrame(alert Alert) frame {
	return frame{
		Level:     string(alert.Level),
		Message:   alert.Message,
		Timestamp: alert.Timestamp.Format(time.RFC3339Nano),
		Details:   alert.Details,
	}
}

// LogChannel 结构化日志告警通道
type LogChannel struct {
	logger *zap.Logger
	name   string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{
		logger: logger,
		name:   name,
	}
}

// Send 发送告警到日志
func (c *LogChannel) Send(alert Alert) error {
	fields := []zap.Field{
		zap.String("level", string(alert.Level)),
		zap.Time("timestamp", alert.Timestamp),
	}
	for k, v := range alert.Details {
		fields = append(fields, zap.Any(k, v))
	}

	switch alert.Level {
	case risk.AlertError:
		c.logger.Error(alert.Message, fields...)
	case risk.AlertWarn:
		c.logger.Warn(alert.Message, fields...)
	default:
		c.logger.Info(alert.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

// WebhookChannel POST JSON 到运维端点
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookChannel 创建 webhook 通道
func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send 发送告警到 webhook 端点
func (c *WebhookChannel) Send(alert Alert) error {
	body, err := json.Marshal(toFrame(alert))
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Name 返回通道名称
func (c *WebhookChannel) Name() string {
	return c.name
}

// WebsocketChannel 向运维端点推送告警帧。连接懒建立，
// 写失败丢弃当前连接，下次发送时重连。
type WebsocketChannel struct {
	name string
	url  string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebsocketChannel 创建 websocket 通道
func NewWebsocketChannel(name, url string) *WebsocketChannel {
	return &WebsocketChannel{
		name: name,
		url:  url,
	}
}

// Send 发送告警帧
func (c *WebsocketChannel) Send(alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", c.url, err)
		}
		c.conn = conn
	}

	if err := c.conn.WriteJSON(toFrame(alert)); err != nil {
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("write alert frame: %w", err)
	}
	return nil
}

// Name 返回通道名称
func (c *WebsocketChannel) Name() string {
	return c.name
}

// Close 关闭底层连接
func (c *WebsocketChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// MockChannel 模拟告警通道（用于测试）
type MockChannel struct {
	name      string
	mu        sync.Mutex
	alerts    []Alert
	shouldErr bool
}

// NewMockChannel 创建模拟告警通道
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{
		name:   name,
		alerts: make([]Alert, 0),
	}
}

// Send 记录告警（用于测试验证）
func (c *MockChannel) Send(alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

// Name 返回通道名称
func (c *MockChannel) Name() string {
	return c.name
}

// GetAlerts 获取所有接收到的告警
func (c *MockChannel) GetAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// SetShouldError 设置是否返回错误
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

// Clear 清空告警记录
func (c *MockChannel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = c.alerts[:0]
}

// Count 返回接收到的告警数量
func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
