package risk

import (
	"sync"
	"time"
)

// 审计事件类型。
const (
	AuditBreakerStateChange = "breaker_state_change"
	AuditManualOverride     = "manual_override"
	AuditManualRelease      = "manual_release"
	AuditForceState         = "force_state"
	AuditOrderTransition    = "order_transition"
	AuditSignalOverride     = "signal_override"
)

// AuditRecord 一次状态变更的审计记录。
type AuditRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	FromState string                 `json:"from_state"`
	ToState   string                 `json:"to_state"`
	Reason    string                 `json:"reason"`
	Operator  string                 `json:"operator,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AuditLogger 审计落地能力。实现不得阻塞调用方，写失败自行消化。
type AuditLogger interface {
	Log(record AuditRecord) error
}

// NopAuditLogger 丢弃全部记录。
type NopAuditLogger struct{}

func (NopAuditLogger) Log(AuditRecord) error { return nil }

// MemoryAuditLogger 进程内审计缓冲，测试与只读查询使用。
type MemoryAuditLogger struct {
	mu      sync.Mutex
	records []AuditRecord
	limit   int
}

// NewMemoryAuditLogger limit<=0 表示不限长度。
func NewMemoryAuditLogger(limit int) *MemoryAuditLogger {
	return &MemoryAuditLogger{limit: limit}
}

func (m *MemoryAuditLogger) Log(record AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	if m.limit > 0 && len(m.records) > m.limit {
		m.records = m.records[len(m.records)-m.limit:]
	}
	return nil
}

// Records 返回副本。
func (m *MemoryAuditLogger) Records() []AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditRecord, len(m.records))
	copy(out, m.records)
	return out
}

func (m *MemoryAuditLogger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
