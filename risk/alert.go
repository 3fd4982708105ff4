package risk

// AlertLevel 告警级别。
type AlertLevel string

const (
	AlertInfo  AlertLevel = "INFO"
	AlertWarn  AlertLevel = "WARN"
	AlertError AlertLevel = "ERROR"
)

// AlertSender 通知能力。实现必须自行吞掉发送失败，
// 不允许把告警通道的故障传导回风控决策路径。
type AlertSender interface {
	SendAlert(level AlertLevel, message string, details map[string]interface{})
}

// NopAlertSender 丢弃全部告警。
type NopAlertSender struct{}

func (NopAlertSender) SendAlert(AlertLevel, string, map[string]interface{}) {}
