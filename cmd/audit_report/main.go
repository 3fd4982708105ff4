package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"futures-exec-go/infrastructure/audit"
	"futures-exec-go/risk"
)

// 审计报表：离线读取审计库，输出事件统计与最近记录。
func main() {
	dbPath := flag.String("db", "data/audit.db", "审计库路径")
	limit := flag.Int("limit", 20, "最近记录条数")
	eventType := flag.String("type", "", "只看指定事件类型")
	asJSON := flag.Bool("json", false, "以 JSON 输出记录")
	flag.Parse()

	store, err := audit.Open(*dbPath)
	if err != nil {
		log.Fatalf("打开审计库失败: %v", err)
	}
	defer store.Close()

	summary, err := store.Summarize()
	if err != nil {
		log.Fatalf("统计失败: %v", err)
	}

	fmt.Printf("审计库: %s\n", *dbPath)
	fmt.Printf("记录总数: %d\n", summary.Total)
	if summary.Total > 0 {
		fmt.Printf("时间范围: %s ~ %s\n",
			summary.First.Local().Format(time.RFC3339),
			summary.Last.Local().Format(time.RFC3339))
	}

	types := make([]string, 0, len(summary.ByEventType))
	for t := range summary.ByEventType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-24s %d\n", t, summary.ByEventType[t])
	}

	records, err := fetch(store, *eventType, *limit)
	if err != nil {
		log.Fatalf("读取记录失败: %v", err)
	}
	if len(records) == 0 {
		return
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			log.Fatalf("输出失败: %v", err)
		}
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "时间\t事件\t从\t到\t原因\t操作人")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			r.EventType, r.FromState, r.ToState, r.Reason, r.Operator)
	}
	w.Flush()
}

func fetch(store *audit.SQLiteAuditLogger, eventType string, limit int) ([]risk.AuditRecord, error) {
	if eventType == "" {
		return store.Recent(limit)
	}
	records, err := store.ByEventType(eventType)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}
