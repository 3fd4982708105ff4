package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"futures-exec-go/infrastructure/logger"
	"futures-exec-go/order"
	"futures-exec-go/risk"
)

// AppConfig 进程级运行配置。
type AppConfig struct {
	Env      string                   `yaml:"env"`
	Account  string                   `yaml:"account"`
	Risk     RiskSection              `yaml:"risk"`
	Timeouts TimeoutSection           `yaml:"timeouts"`
	Retry    RetrySection             `yaml:"retry"`
	Engine   EngineSection            `yaml:"engine"`
	Logging  logger.Config            `yaml:"logging"`
	Alerts   AlertSection             `yaml:"alerts"`
	Monitor  MonitorSection           `yaml:"monitor"`
	Audit    AuditSection             `yaml:"audit"`
	Symbols  map[string]SymbolSection `yaml:"symbols"`
}

// RiskSection 熔断阈值与恢复节奏。时间项以秒为单位。
type RiskSection struct {
	DailyLossPct               float64   `yaml:"daily_loss_pct"`
	PositionLossPct            float64   `yaml:"position_loss_pct"`
	MarginUsagePct             float64   `yaml:"margin_usage_pct"`
	ConsecutiveLosses          int       `yaml:"consecutive_losses"`
	CoolingDurationSeconds     int       `yaml:"cooling_duration_seconds"`
	FullCoolingDurationSeconds int       `yaml:"full_cooling_duration_seconds"`
	PositionRatioSteps         []float64 `yaml:"position_ratio_steps"`
	StepIntervalSeconds        int       `yaml:"step_interval_seconds"`
}

// BreakerConfig 转换为熔断器配置。
func (s RiskSection) BreakerConfig() risk.BreakerConfig {
	return risk.BreakerConfig{
		DailyLossPct:        s.DailyLossPct,
		PositionLossPct:     s.PositionLossPct,
		MarginUsagePct:      s.MarginUsagePct,
		ConsecutiveLosses:   s.ConsecutiveLosses,
		CoolingDuration:     time.Duration(s.CoolingDurationSeconds) * time.Second,
		FullCoolingDuration: time.Duration(s.FullCoolingDurationSeconds) * time.Second,
		PositionRatioSteps:  append([]float64(nil), s.PositionRatioSteps...),
		StepInterval:        time.Duration(s.StepIntervalSeconds) * time.Second,
	}
}

// TimeoutSection 各类订单超时，秒为单位，支持小数。
type TimeoutSection struct {
	AckTimeoutS    float64 `yaml:"ack_timeout_s"`
	FillTimeoutS   float64 `yaml:"fill_timeout_s"`
	CancelTimeoutS float64 `yaml:"cancel_timeout_s"`
}

// TimeoutConfig 转换为超时管理器配置。
func (s TimeoutSection) TimeoutConfig() order.TimeoutConfig {
	return order.TimeoutConfig{
		AckTimeout:    secondsToDuration(s.AckTimeoutS),
		FillTimeout:   secondsToDuration(s.FillTimeoutS),
		CancelTimeout: secondsToDuration(s.CancelTimeoutS),
	}
}

// RetrySection 指数退避重试与追价。
type RetrySection struct {
	MaxRetries    int     `yaml:"max_retries"`
	BaseDelayS    float64 `yaml:"base_delay_s"`
	MaxDelayS     float64 `yaml:"max_delay_s"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	RepriceMode   string  `yaml:"reprice_mode"`
}

// RetryConfig 转换为重试策略配置。
func (s RetrySection) RetryConfig() order.RetryConfig {
	return order.RetryConfig{
		MaxRetries:    s.MaxRetries,
		BaseDelay:     secondsToDuration(s.BaseDelayS),
		MaxDelay:      secondsToDuration(s.MaxDelayS),
		BackoffFactor: s.BackoffFactor,
		RepriceMode:   order.PriceMode(s.RepriceMode),
	}
}

// EngineSection 委托引擎运行参数。
type EngineSection struct {
	QueueSize       int  `yaml:"queue_size"`
	IOWorkers       int  `yaml:"io_workers"`
	SweepIntervalMs int  `yaml:"sweep_interval_ms"`
	ChaseEnabled    bool `yaml:"chase_enabled"`
}

// AlertSection 告警通道配置。
type AlertSection struct {
	Enabled                 bool     `yaml:"enabled"`
	ThrottleIntervalSeconds int      `yaml:"throttle_interval_seconds"`
	Channels                []string `yaml:"channels"` // log, webhook, websocket
	WebhookURL              string   `yaml:"webhook_url"`
	WebsocketURL            string   `yaml:"websocket_url"`
}

// MonitorSection Prometheus 暴露配置。Listen 留空则不开监听。
type MonitorSection struct {
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// AuditSection 审计落地配置。Path 留空则只保留内存审计。
type AuditSection struct {
	Path        string `yaml:"path"`
	MemoryLimit int    `yaml:"memory_limit"`
}

// SymbolSection 合约约束。
type SymbolSection struct {
	PriceTick float64 `yaml:"price_tick"`
	MinLots   int64   `yaml:"min_lots"`
	MaxLots   int64   `yaml:"max_lots"`
}

// Constraints 转换为按合约报单约束表。
func (c AppConfig) Constraints() map[string]order.SymbolConstraints {
	out := make(map[string]order.SymbolConstraints, len(c.Symbols))
	for sym, sc := range c.Symbols {
		out[sym] = order.SymbolConstraints{
			PriceTick: sc.PriceTick,
			MinLots:   sc.MinLots,
			MaxLots:   sc.MaxLots,
		}
	}
	return out
}

// Load 读取 YAML 配置并做启动期校验。
func Load(path string) (AppConfig, error) {
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// LoadWithEnvOverrides 加载后用环境变量覆盖敏感项，覆盖完成再校验，
// 允许敏感地址只通过环境变量提供。
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("FX_ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alerts.WebhookURL = v
	}
	if v := os.Getenv("FX_ALERT_WS_URL"); v != "" {
		cfg.Alerts.WebsocketURL = v
	}
	return cfg, Validate(cfg)
}

// load 读取并回填缺省值，不做校验。
func load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return applyDefaults(cfg), nil
}

// applyDefaults 校验前回填零值字段的缺省值。
func applyDefaults(cfg AppConfig) AppConfig {
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Account == "" {
		cfg.Account = "default"
	}

	def := risk.DefaultBreakerConfig()
	if cfg.Risk.DailyLossPct == 0 {
		cfg.Risk.DailyLossPct = def.DailyLossPct
	}
	if cfg.Risk.PositionLossPct == 0 {
		cfg.Risk.PositionLossPct = def.PositionLossPct
	}
	if cfg.Risk.MarginUsagePct == 0 {
		cfg.Risk.MarginUsagePct = def.MarginUsagePct
	}
	if cfg.Risk.ConsecutiveLosses == 0 {
		cfg.Risk.ConsecutiveLosses = def.ConsecutiveLosses
	}
	if cfg.Risk.CoolingDurationSeconds == 0 {
		cfg.Risk.CoolingDurationSeconds = int(def.CoolingDuration / time.Second)
	}
	if cfg.Risk.FullCoolingDurationSeconds == 0 {
		cfg.Risk.FullCoolingDurationSeconds = int(def.FullCoolingDuration / time.Second)
	}
	if len(cfg.Risk.PositionRatioSteps) == 0 {
		cfg.Risk.PositionRatioSteps = append([]float64(nil), def.PositionRatioSteps...)
	}
	if cfg.Risk.StepIntervalSeconds == 0 {
		cfg.Risk.StepIntervalSeconds = int(def.StepInterval / time.Second)
	}

	defTimeout := order.DefaultTimeoutConfig()
	if cfg.Timeouts.AckTimeoutS == 0 {
		cfg.Timeouts.AckTimeoutS = defTimeout.AckTimeout.Seconds()
	}
	if cfg.Timeouts.FillTimeoutS == 0 {
		cfg.Timeouts.FillTimeoutS = defTimeout.FillTimeout.Seconds()
	}
	if cfg.Timeouts.CancelTimeoutS == 0 {
		cfg.Timeouts.CancelTimeoutS = defTimeout.CancelTimeout.Seconds()
	}

	defRetry := order.DefaultRetryConfig()
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = defRetry.MaxRetries
	}
	if cfg.Retry.BaseDelayS == 0 {
		cfg.Retry.BaseDelayS = defRetry.BaseDelay.Seconds()
	}
	if cfg.Retry.MaxDelayS == 0 {
		cfg.Retry.MaxDelayS = defRetry.MaxDelay.Seconds()
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = defRetry.BackoffFactor
	}
	if cfg.Retry.RepriceMode == "" {
		cfg.Retry.RepriceMode = string(defRetry.RepriceMode)
	}

	if cfg.Engine.QueueSize == 0 {
		cfg.Engine.QueueSize = 256
	}
	if cfg.Engine.IOWorkers == 0 {
		cfg.Engine.IOWorkers = 4
	}
	if cfg.Engine.SweepIntervalMs == 0 {
		cfg.Engine.SweepIntervalMs = 500
	}

	if cfg.Logging.Level == "" {
		cfg.Logging = logger.DefaultConfig()
	}
	if cfg.Alerts.ThrottleIntervalSeconds == 0 {
		cfg.Alerts.ThrottleIntervalSeconds = 60
	}
	if len(cfg.Alerts.Channels) == 0 {
		cfg.Alerts.Channels = []string{"log"}
	}
	if cfg.Monitor.Namespace == "" {
		cfg.Monitor.Namespace = "futures"
	}
	if cfg.Monitor.Subsystem == "" {
		cfg.Monitor.Subsystem = "exec"
	}
	return cfg
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
