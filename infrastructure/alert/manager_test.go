package alert

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"futures-exec-go/risk"
)

func TestNewManager(t *testing.T) {
	ch := NewMockChannel("test")
	mgr := NewManager([]Channel{ch}, 5*time.Minute, ManagerOptions{})

	channels := mgr.GetChannels()
	if len(channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(channels))
	}
	if channels[0] != "test" {
		t.Errorf("channel name = %s, want test", channels[0])
	}
}

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute, ManagerOptions{})

	mgr.SendAlert(risk.AlertError, "circuit breaker triggered", map[string]interface{}{
		"daily_loss_pct": 0.05,
	})

	alerts := mock.GetAlerts()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Level != risk.AlertError {
		t.Errorf("level = %s", alerts[0].Level)
	}
	if alerts[0].Message != "circuit breaker triggered" {
		t.Errorf("message = %s", alerts[0].Message)
	}
	if alerts[0].Details["daily_loss_pct"] != 0.05 {
		t.Errorf("details = %v", alerts[0].Details)
	}
	if alerts[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

// TestThrottlerSuppressionWindow 抑制窗口。
func TestThrottlerSuppressionWindow(t *testing.T) {
	throttle := NewThrottler(time.Minute)
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	throttle.nowFn = func() time.Time { return now }

	if !throttle.Allow("ERROR:same") {
		t.Fatal("first send should pass")
	}
	now = now.Add(30 * time.Second)
	if throttle.Allow("ERROR:same") {
		t.Error("duplicate within window should be throttled")
	}
	if !throttle.Allow("ERROR:other") {
		t.Error("different key should pass")
	}
	now = now.Add(31 * time.Second)
	if !throttle.Allow("ERROR:same") {
		t.Error("send after window should pass")
	}
}

// TestSendAlertThrottlesDuplicates 重复消息被限流。
func TestSendAlertThrottlesDuplicates(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Minute, ManagerOptions{})
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	mgr.throttle.nowFn = func() time.Time { return now }

	mgr.SendAlert(risk.AlertWarn, "margin high", nil)
	mgr.SendAlert(risk.AlertWarn, "margin high", nil)
	if mock.Count() != 1 {
		t.Errorf("expected 1 delivered alert, got %d", mock.Count())
	}

	// 同文本不同级别是不同的限流键
	mgr.SendAlert(risk.AlertError, "margin high", nil)
	if mock.Count() != 2 {
		t.Errorf("expected 2 delivered alerts, got %d", mock.Count())
	}
}

// TestSendAlertChannelFailureContained 通道失败不外溢。
func TestSendAlertChannelFailureContained(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	good := NewMockChannel("good")
	mgr := NewManager([]Channel{bad, good}, 0, ManagerOptions{})

	// 不允许 panic 或向调用方回抛错误
	mgr.SendAlert(risk.AlertError, "boom", nil)

	if good.Count() != 1 {
		t.Errorf("good channel should still receive, got %d", good.Count())
	}
	if bad.Count() != 0 {
		t.Errorf("bad channel recorded %d", bad.Count())
	}
}

func TestWebhookChannel(t *testing.T) {
	received := make(chan frame, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var f frame
		if err := json.Unmarshal(body, &f); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		received <- f
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("webhook", srv.URL)
	err := ch.Send(Alert{
		Level:     risk.AlertWarn,
		Message:   "manual override engaged",
		Timestamp: time.Now().UTC(),
		Details:   map[string]interface{}{"reason": "ops"},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case f := <-received:
		if f.Level != "WARN" || f.Message != "manual override engaged" {
			t.Errorf("frame = %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook not hit")
	}
}

// TestWebhookChannelNon2xxFails 非 2xx 视为失败。
func TestWebhookChannelNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("webhook", srv.URL)
	if err := ch.Send(Alert{Level: risk.AlertInfo, Message: "x"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestRemoveChannel(t *testing.T) {
	a := NewMockChannel("a")
	b := NewMockChannel("b")
	mgr := NewManager([]Channel{a, b}, 0, ManagerOptions{})

	mgr.RemoveChannel("a")
	mgr.SendAlert(risk.AlertInfo, "hello", nil)

	if a.Count() != 0 {
		t.Errorf("removed channel received %d", a.Count())
	}
	if b.Count() != 1 {
		t.Errorf("remaining channel got %d", b.Count())
	}
}
