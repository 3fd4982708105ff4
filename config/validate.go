package config

import (
	"errors"
	"fmt"
)

// Validate 一次性收集全部配置问题，不在第一个错误处止步。
// 阈值转换后的深度校验复用各域配置自己的 Validate。
func Validate(cfg AppConfig) error {
	var errs []error

	if cfg.Env == "" {
		errs = append(errs, errors.New("env is required"))
	}
	if cfg.Account == "" {
		errs = append(errs, errors.New("account is required"))
	}

	if verrs := cfg.Risk.BreakerConfig().Validate(); len(verrs) > 0 {
		for _, err := range verrs {
			errs = append(errs, fmt.Errorf("risk: %w", err))
		}
	}

	if cfg.Timeouts.AckTimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.ack_timeout_s must be > 0, got %v", cfg.Timeouts.AckTimeoutS))
	}
	if cfg.Timeouts.FillTimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.fill_timeout_s must be > 0, got %v", cfg.Timeouts.FillTimeoutS))
	}
	if cfg.Timeouts.CancelTimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.cancel_timeout_s must be > 0, got %v", cfg.Timeouts.CancelTimeoutS))
	}

	for _, err := range cfg.Retry.RetryConfig().Validate() {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}

	if cfg.Engine.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("engine.queue_size must be >= 0, got %d", cfg.Engine.QueueSize))
	}
	if cfg.Engine.IOWorkers < 0 {
		errs = append(errs, fmt.Errorf("engine.io_workers must be >= 0, got %d", cfg.Engine.IOWorkers))
	}
	if cfg.Engine.SweepIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("engine.sweep_interval_ms must be >= 0, got %d", cfg.Engine.SweepIntervalMs))
	}

	if cfg.Alerts.Enabled {
		for _, ch := range cfg.Alerts.Channels {
			switch ch {
			case "log":
			case "webhook":
				if cfg.Alerts.WebhookURL == "" {
					errs = append(errs, errors.New("alerts.webhook_url is required for webhook channel (or FX_ALERT_WEBHOOK_URL)"))
				}
			case "websocket":
				if cfg.Alerts.WebsocketURL == "" {
					errs = append(errs, errors.New("alerts.websocket_url is required for websocket channel (or FX_ALERT_WS_URL)"))
				}
			default:
				errs = append(errs, fmt.Errorf("unknown alert channel %q", ch))
			}
		}
		if cfg.Alerts.ThrottleIntervalSeconds < 0 {
			errs = append(errs, fmt.Errorf("alerts.throttle_interval_seconds must be >= 0, got %d", cfg.Alerts.ThrottleIntervalSeconds))
		}
	}

	if cfg.Audit.MemoryLimit < 0 {
		errs = append(errs, fmt.Errorf("audit.memory_limit must be >= 0, got %d", cfg.Audit.MemoryLimit))
	}

	for sym, sc := range cfg.Symbols {
		if sc.PriceTick <= 0 {
			errs = append(errs, fmt.Errorf("symbol %s price_tick must be > 0", sym))
		}
		if sc.MinLots < 0 || sc.MaxLots < 0 {
			errs = append(errs, fmt.Errorf("symbol %s lot bounds must be >= 0", sym))
		}
		if sc.MaxLots > 0 && sc.MinLots > sc.MaxLots {
			errs = append(errs, fmt.Errorf("symbol %s min_lots %d exceeds max_lots %d", sym, sc.MinLots, sc.MaxLots))
		}
	}

	return errors.Join(errs...)
}
