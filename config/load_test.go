package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
env: test
account: acc-001
risk:
  daily_loss_pct: 0.03
  position_loss_pct: 0.05
  margin_usage_pct: 0.8
  consecutive_losses: 5
  cooling_duration_seconds: 300
  full_cooling_duration_seconds: 1800
  position_ratio_steps: [0.25, 0.5, 0.75, 1.0]
  step_interval_seconds: 600
timeouts:
  ack_timeout_s: 3
  fill_timeout_s: 30
  cancel_timeout_s: 5
retry:
  max_retries: 3
  base_delay_s: 1
  max_delay_s: 30
  backoff_factor: 2.0
  reprice_mode: TO_BEST_PLUS_TICK
engine:
  queue_size: 128
  io_workers: 2
  sweep_interval_ms: 200
  chase_enabled: true
alerts:
  enabled: true
  throttle_interval_seconds: 60
  channels: [log]
symbols:
  IF2501:
    price_tick: 0.2
    min_lots: 1
    max_lots: 500
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写配置文件失败: %v", err)
	}
	return path
}

// TestLoadFullConfig 完整配置。
func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}

	if cfg.Account != "acc-001" {
		t.Errorf("account = %q", cfg.Account)
	}
	bc := cfg.Risk.BreakerConfig()
	if bc.DailyLossPct != 0.03 {
		t.Errorf("daily_loss_pct = %v", bc.DailyLossPct)
	}
	if bc.CoolingDuration != 5*time.Minute {
		t.Errorf("cooling_duration = %v", bc.CoolingDuration)
	}
	if len(bc.PositionRatioSteps) != 4 || bc.PositionRatioSteps[0] != 0.25 {
		t.Errorf("position_ratio_steps = %v", bc.PositionRatioSteps)
	}

	tc := cfg.Timeouts.TimeoutConfig()
	if tc.AckTimeout != 3*time.Second || tc.FillTimeout != 30*time.Second {
		t.Errorf("timeouts = %+v", tc)
	}

	rc := cfg.Retry.RetryConfig()
	if rc.MaxRetries != 3 || rc.BackoffFactor != 2.0 {
		t.Errorf("retry = %+v", rc)
	}

	cs := cfg.Constraints()
	if cs["IF2501"].PriceTick != 0.2 {
		t.Errorf("constraints = %+v", cs["IF2501"])
	}
}

// TestLoadDefaults 缺省值回填。
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "env: dev\naccount: a\n"))
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.Timeouts.AckTimeoutS != 3 {
		t.Errorf("ack_timeout_s 缺省 = %v", cfg.Timeouts.AckTimeoutS)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("max_retries 缺省 = %d", cfg.Retry.MaxRetries)
	}
	if cfg.Engine.QueueSize != 256 {
		t.Errorf("queue_size 缺省 = %d", cfg.Engine.QueueSize)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level 缺省 = %q", cfg.Logging.Level)
	}
	if cfg.Risk.CoolingDurationSeconds != 300 {
		t.Errorf("cooling_duration_seconds 缺省 = %d", cfg.Risk.CoolingDurationSeconds)
	}
}

// TestLoadMissingFile 文件不存在。
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("期望读文件错误")
	}
}

// TestValidateCollectsAllProblems 收集全部问题。
func TestValidateCollectsAllProblems(t *testing.T) {
	bad := strings.Replace(sampleYAML, "daily_loss_pct: 0.03", "daily_loss_pct: 1.5", 1)
	bad = strings.Replace(bad, "reprice_mode: TO_BEST_PLUS_TICK", "reprice_mode: NOPE", 1)
	bad = strings.Replace(bad, "price_tick: 0.2", "price_tick: -1", 1)

	_, err := Load(writeConfig(t, bad))
	if err == nil {
		t.Fatal("期望校验失败")
	}
	msg := err.Error()
	for _, want := range []string{"daily_loss_pct", "reprice_mode", "price_tick"} {
		if !strings.Contains(msg, want) {
			t.Errorf("错误信息缺少 %q: %s", want, msg)
		}
	}
}

// TestLoadWithEnvOverridesAlertEndpoints 告警地址环境变量覆盖。
func TestLoadWithEnvOverridesAlertEndpoints(t *testing.T) {
	withWebhook := strings.Replace(sampleYAML, "channels: [log]", "channels: [log, webhook]", 1)

	// 无环境变量且未配置 webhook_url 时校验失败
	if _, err := Load(writeConfig(t, withWebhook)); err == nil {
		t.Fatal("期望 webhook_url 缺失错误")
	}

	t.Setenv("FX_ALERT_WEBHOOK_URL", "http://ops.example/hook")
	cfg, err := LoadWithEnvOverrides(writeConfig(t, withWebhook))
	if err != nil {
		t.Fatalf("LoadWithEnvOverrides 失败: %v", err)
	}
	if cfg.Alerts.WebhookURL != "http://ops.example/hook" {
		t.Errorf("webhook_url = %q", cfg.Alerts.WebhookURL)
	}
}
