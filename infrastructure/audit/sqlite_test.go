package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-exec-go/risk"
)

func openTempLogger(t *testing.T) *SQLiteAuditLogger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// TestSQLiteAuditLoggerRoundTrip 读写往返。
func TestSQLiteAuditLoggerRoundTrip(t *testing.T) {
	l := openTempLogger(t)

	ts := time.Date(2026, 3, 14, 9, 30, 0, 123456789, time.UTC)
	err := l.Log(risk.AuditRecord{
		Timestamp: ts,
		EventType: risk.AuditBreakerStateChange,
		FromState: "NORMAL",
		ToState:   "TRIGGERED",
		Reason:    "daily_loss_exceeded",
		Details:   map[string]interface{}{"daily_loss_pct": 0.042},
	})
	require.NoError(t, err)

	records, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.True(t, got.Timestamp.Equal(ts), "纳秒时间戳应无损往返")
	assert.Equal(t, risk.AuditBreakerStateChange, got.EventType)
	assert.Equal(t, "NORMAL", got.FromState)
	assert.Equal(t, "TRIGGERED", got.ToState)
	assert.Equal(t, "daily_loss_exceeded", got.Reason)
	assert.InDelta(t, 0.042, got.Details["daily_loss_pct"], 1e-9)
}

// TestSQLiteAuditLoggerBackfillsZeroTimestamp 零时间戳回填。
func TestSQLiteAuditLoggerBackfillsZeroTimestamp(t *testing.T) {
	l := openTempLogger(t)

	require.NoError(t, l.Log(risk.AuditRecord{EventType: risk.AuditManualOverride, Operator: "ops"}))

	records, err := l.Recent(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Timestamp.IsZero())
	assert.Nil(t, records[0].Details)
}

// TestSQLiteAuditLoggerRecentOrderAndLimit Recent 倒序与限量。
func TestSQLiteAuditLoggerRecentOrderAndLimit(t *testing.T) {
	l := openTempLogger(t)

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Log(risk.AuditRecord{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			EventType: risk.AuditOrderTransition,
			Reason:    "r",
		}))
	}

	records, err := l.Recent(3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].Timestamp.After(records[1].Timestamp))
	assert.True(t, records[1].Timestamp.After(records[2].Timestamp))
}

// TestSQLiteAuditLoggerByEventTypeAndSummary 按类型查询与摘要。
func TestSQLiteAuditLoggerByEventTypeAndSummary(t *testing.T) {
	l := openTempLogger(t)

	base := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Log(risk.AuditRecord{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			EventType: risk.AuditBreakerStateChange,
		}))
	}
	require.NoError(t, l.Log(risk.AuditRecord{
		Timestamp: base.Add(time.Hour),
		EventType: risk.AuditManualRelease,
		Operator:  "ops",
	}))

	byType, err := l.ByEventType(risk.AuditBreakerStateChange)
	require.NoError(t, err)
	require.Len(t, byType, 3)
	assert.True(t, byType[0].Timestamp.Before(byType[2].Timestamp), "同类型查询按时间正序")

	summary, err := l.Summarize()
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 3, summary.ByEventType[risk.AuditBreakerStateChange])
	assert.Equal(t, 1, summary.ByEventType[risk.AuditManualRelease])
	assert.True(t, summary.First.Equal(base))
	assert.True(t, summary.Last.Equal(base.Add(time.Hour)))
}

// TestSQLiteAuditLoggerEmptySummary 空库摘要。
func TestSQLiteAuditLoggerEmptySummary(t *testing.T) {
	l := openTempLogger(t)

	summary, err := l.Summarize()
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, summary.ByEventType)
}
