package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"futures-exec-go/risk"
)

// SQLiteAuditLogger 把审计记录落到 SQLite。实现 risk.AuditLogger。
// 写路径单条 INSERT，WAL 模式下不阻塞读方（cmd/audit_report）。
type SQLiteAuditLogger struct {
	db *sql.DB
}

// Open 打开（必要时创建）审计库并执行迁移。
func Open(path string) (*SQLiteAuditLogger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// modernc 驱动串行化写入，单连接避免 database is locked
	db.SetMaxOpenConns(1)

	l := &SQLiteAuditLogger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteAuditLogger) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS audit_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts TEXT NOT NULL,
  event_type TEXT NOT NULL,
  from_state TEXT NOT NULL DEFAULT '',
  to_state TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL DEFAULT '',
  operator TEXT NOT NULL DEFAULT '',
  details TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_records_type_ts ON audit_records(event_type, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate audit db: %w", err)
		}
	}
	return nil
}

// Log 实现 risk.AuditLogger。
func (l *SQLiteAuditLogger) Log(record risk.AuditRecord) error {
	var details []byte
	if len(record.Details) > 0 {
		var err error
		details, err = json.Marshal(record.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
	}

	ts := record.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := l.db.Exec(
		`INSERT INTO audit_records (ts, event_type, from_state, to_state, reason, operator, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano),
		record.EventType,
		record.FromState,
		record.ToState,
		record.Reason,
		record.Operator,
		nullableString(details),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Recent 按时间倒序取最近 limit 条记录。limit<=0 取全部。
func (l *SQLiteAuditLogger) Recent(limit int) ([]risk.AuditRecord, error) {
	query := `SELECT ts, event_type, from_state, to_state, reason, operator, details
		FROM audit_records ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []risk.AuditRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// ByEventType 按事件类型取记录，时间正序。
func (l *SQLiteAuditLogger) ByEventType(eventType string) ([]risk.AuditRecord, error) {
	rows, err := l.db.Query(
		`SELECT ts, event_type, from_state, to_state, reason, operator, details
		 FROM audit_records WHERE event_type = ? ORDER BY id ASC`, eventType)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []risk.AuditRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Summary 审计库摘要，供报表输出。
type Summary struct {
	Total       int
	ByEventType map[string]int
	First       time.Time
	Last        time.Time
}

// Summarize 统计记录总量、分类型数量与时间范围。
func (l *SQLiteAuditLogger) Summarize() (Summary, error) {
	summary := Summary{ByEventType: make(map[string]int)}

	rows, err := l.db.Query(`SELECT event_type, COUNT(*) FROM audit_records GROUP BY event_type`)
	if err != nil {
		return summary, fmt.Errorf("summarize audit records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return summary, err
		}
		summary.ByEventType[eventType] = count
		summary.Total += count
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}
	if summary.Total == 0 {
		return summary, nil
	}

	var first, last string
	if err := l.db.QueryRow(`SELECT MIN(ts), MAX(ts) FROM audit_records`).Scan(&first, &last); err != nil {
		return summary, err
	}
	summary.First, _ = time.Parse(time.RFC3339Nano, first)
	summary.Last, _ = time.Parse(time.RFC3339Nano, last)
	return summary, nil
}

// Close 关闭底层数据库。
func (l *SQLiteAuditLogger) Close() error {
	return l.db.Close()
}

func scanRecord(rows *sql.Rows) (risk.AuditRecord, error) {
	var record risk.AuditRecord
	var ts string
	var details sql.NullString

	if err := rows.Scan(&ts, &record.EventType, &record.FromState,
		&record.ToState, &record.Reason, &record.Operator, &details); err != nil {
		return record, fmt.Errorf("scan audit record: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return record, fmt.Errorf("parse audit ts %q: %w", ts, err)
	}
	record.Timestamp = parsed

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &record.Details); err != nil {
			return record, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	return record, nil
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
