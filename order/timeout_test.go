package order

import (
	"testing"
	"time"
)

var timeoutTestCfg = TimeoutConfig{
	AckTimeout:    3 * time.Second,
	FillTimeout:   30 * time.Second,
	CancelTimeout: 5 * time.Second,
}

func TestTimeoutRegisterAndExpire(t *testing.T) {
	tm := NewTimeoutManager(timeoutTestCfg)
	now := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

	tm.RegisterAckTimeout("o1", now)
	tm.RegisterFillTimeout("o1", now)
	tm.RegisterAckTimeout("o2", now.Add(time.Second))

	if tm.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", tm.Len())
	}
	if !tm.HasTimeout("o1", TimeoutAck) || tm.HasTimeout("o1", TimeoutCancel) {
		t.Fatalf("HasTimeout wrong")
	}

	// 没到期：不弹出
	if got := tm.CheckExpired(now.Add(2 * time.Second)); len(got) != 0 {
		t.Fatalf("nothing should expire yet, got %v", got)
	}

	// o1 ACK 到期（3s），o2 ACK 在 4s 到期
	expired := tm.CheckExpired(now.Add(3 * time.Second))
	if len(expired) != 1 || expired[0].LocalID != "o1" || expired[0].Type != TimeoutAck {
		t.Fatalf("expected o1 ACK expiry, got %v", expired)
	}

	expired = tm.CheckExpired(now.Add(5 * time.Second))
	if len(expired) != 1 || expired[0].LocalID != "o2" {
		t.Fatalf("expected o2 ACK expiry, got %v", expired)
	}

	if tm.Len() != 1 {
		t.Fatalf("only o1 FILL should remain, len=%d", tm.Len())
	}
}

func TestTimeoutExpireOrdering(t *testing.T) {
	tm := NewTimeoutManager(timeoutTestCfg)
	now := time.Unix(1000, 0)

	// 乱序注册，到期必须按截止时间排序弹出
	tm.RegisterFillTimeout("late", now)  // +30s
	tm.RegisterCancelTimeout("mid", now) // +5s
	tm.RegisterAckTimeout("early", now)  // +3s

	expired := tm.CheckExpired(now.Add(time.Minute))
	if len(expired) != 3 {
		t.Fatalf("expected 3 expiries, got %d", len(expired))
	}
	wantOrder := []string{"early", "mid", "late"}
	for i, want := range wantOrder {
		if expired[i].LocalID != want {
			t.Fatalf("expiry %d: expected %s, got %s", i, want, expired[i].LocalID)
		}
	}
}

func TestTimeoutReplaceSemantics(t *testing.T) {
	tm := NewTimeoutManager(timeoutTestCfg)
	now := time.Unix(1000, 0)

	tm.RegisterAckTimeout("o1", now)
	// 同键重复注册：替换而非累积
	tm.RegisterAckTimeout("o1", now.Add(10*time.Second))

	if tm.Len() != 1 {
		t.Fatalf("replace must keep one entry, got %d", tm.Len())
	}

	// 旧截止时间（+3s）不再生效
	if got := tm.CheckExpired(now.Add(5 * time.Second)); len(got) != 0 {
		t.Fatalf("old deadline must be replaced, got %v", got)
	}
	if got := tm.CheckExpired(now.Add(13 * time.Second)); len(got) != 1 {
		t.Fatalf("new deadline must fire, got %v", got)
	}
}

func TestTimeoutCancel(t *testing.T) {
	tm := NewTimeoutManager(timeoutTestCfg)
	now := time.Unix(1000, 0)

	tm.RegisterAckTimeout("o1", now)
	tm.RegisterFillTimeout("o1", now)
	tm.RegisterCancelTimeout("o1", now)

	if !tm.CancelTimeout("o1", TimeoutAck) {
		t.Fatalf("cancel existing timeout should return true")
	}
	if tm.CancelTimeout("o1", TimeoutAck) {
		t.Fatalf("double cancel should return false")
	}

	tm.CancelAllForOrder("o1")
	if tm.Len() != 0 {
		t.Fatalf("expected empty manager, len=%d", tm.Len())
	}
	if got := tm.CheckExpired(now.Add(time.Hour)); len(got) != 0 {
		t.Fatalf("cancelled timeouts must not expire, got %v", got)
	}
}

func TestTimeoutNextDeadline(t *testing.T) {
	tm := NewTimeoutManager(timeoutTestCfg)
	now := time.Unix(1000, 0)

	if _, ok := tm.NextDeadline(); ok {
		t.Fatalf("empty manager has no deadline")
	}

	tm.RegisterFillTimeout("o1", now)
	tm.RegisterAckTimeout("o2", now)

	deadline, ok := tm.NextDeadline()
	if !ok || !deadline.Equal(now.Add(3*time.Second)) {
		t.Fatalf("expected earliest deadline +3s, got %v ok=%v", deadline, ok)
	}
}

func TestTimeoutDefaults(t *testing.T) {
	tm := NewTimeoutManager(TimeoutConfig{})
	def := DefaultTimeoutConfig()
	if tm.cfg.AckTimeout != def.AckTimeout || tm.cfg.FillTimeout != def.FillTimeout || tm.cfg.CancelTimeout != def.CancelTimeout {
		t.Fatalf("zero config must fall back to defaults: %+v", tm.cfg)
	}
}
