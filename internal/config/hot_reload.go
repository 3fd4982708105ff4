package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 5 * time.Second,
	}
}

// ParameterValidator 参数验证器接口。验证失败时旧值保持生效。
type ParameterValidator interface {
	Validate(params map[string]interface{}) error
}

// ParameterApplier 参数应用器接口
type ParameterApplier interface {
	ApplyParameters(params map[string]interface{}) error
}

// HotReloader 配置热更新器。监听配置文件变化，把候选参数
// 先过验证器再交应用器，风控阈值、重试与超时参数是在线可调集合。
type HotReloader struct {
	config        HotReloadConfig
	configPath    string
	watcher       *fsnotify.Watcher
	logger        *zap.Logger
	validators    map[string]ParameterValidator
	appliers      map[string]ParameterApplier
	lastReload    time.Time
	mu            sync.RWMutex
	stopChan      chan struct{}
	doneChan      chan struct{}
	reloadHandler func() error
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, logger *zap.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HotReloader{
		config:     cfg,
		configPath: configPath,
		watcher:    watcher,
		logger:     logger,
		validators: make(map[string]ParameterValidator),
		appliers:   make(map[string]ParameterApplier),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// RegisterValidator 注册参数验证器
func (h *HotReloader) RegisterValidator(name string, validator ParameterValidator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.validators[name] = validator
}

// RegisterApplier 注册参数应用器
func (h *HotReloader) RegisterApplier(name string, applier ParameterApplier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers[name] = applier
}

// SetReloadHandler 设置重载处理函数，文件变化且通过冷却后调用
func (h *HotReloader) SetReloadHandler(handler func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloadHandler = handler
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}

	if err := h.watcher.Add(h.configPath); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	go h.watch(ctx)

	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	if !h.config.Enabled {
		if h.watcher != nil {
			return h.watcher.Close()
		}
		return nil
	}

	select {
	case <-h.stopChan:
		// 已经停止
	default:
		close(h.stopChan)
	}

	// 等待 goroutine 结束（带超时，watch 可能没有启动过）
	select {
	case <-h.doneChan:
	case <-time.After(1 * time.Second):
	}

	if h.watcher != nil {
		return h.watcher.Close()
	}

	return nil
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// 只处理写入和创建事件
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				h.handleConfigChange()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

// handleConfigChange 处理配置变化。重载失败只记录，旧配置继续生效。
func (h *HotReloader) handleConfigChange() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if time.Since(h.lastReload) < h.config.CooldownTime {
		return
	}

	if h.reloadHandler != nil {
		if err := h.reloadHandler(); err != nil {
			h.logger.Warn("Config reload rejected", zap.String("path", h.configPath), zap.Error(err))
			return
		}
	}

	h.lastReload = time.Now()
	h.logger.Info("Config reloaded", zap.String("path", h.configPath))
}

// ValidateParameters 验证参数
func (h *HotReloader) ValidateParameters(category string, params map[string]interface{}) error {
	h.mu.RLock()
	validator, ok := h.validators[category]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no validator registered for category: %s", category)
	}

	return validator.Validate(params)
}

// ApplyParameters 应用参数：先验证，验证不过不触碰现值。
func (h *HotReloader) ApplyParameters(category string, params map[string]interface{}) error {
	if err := h.ValidateParameters(category, params); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	h.mu.RLock()
	applier, ok := h.appliers[category]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no applier registered for category: %s", category)
	}

	return applier.ApplyParameters(params)
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// RiskParameterValidator 熔断阈值验证器
type RiskParameterValidator struct{}

func (v *RiskParameterValidator) Validate(params map[string]interface{}) error {
	for _, key := range []string{"daily_loss_pct", "position_loss_pct", "margin_usage_pct"} {
		if pct, ok := params[key].(float64); ok {
			if pct <= 0 || pct > 1.0 {
				return fmt.Errorf("%s must be in (0,1], got %f", key, pct)
			}
		}
	}

	if losses, ok := params["consecutive_losses"].(int); ok {
		if losses < 0 {
			return fmt.Errorf("consecutive_losses must be >= 0, got %d", losses)
		}
	}

	if cooling, ok := params["cooling_duration_seconds"].(int); ok {
		if cooling <= 0 {
			return fmt.Errorf("cooling_duration_seconds must be positive, got %d", cooling)
		}
		if full, ok := params["full_cooling_duration_seconds"].(int); ok && full < cooling {
			return fmt.Errorf("full_cooling_duration_seconds %d shorter than cooling_duration_seconds %d", full, cooling)
		}
	}

	return nil
}

// RetryParameterValidator 重试参数验证器
type RetryParameterValidator struct{}

func (v *RetryParameterValidator) Validate(params map[string]interface{}) error {
	if max, ok := params["max_retries"].(int); ok {
		if max < 0 || max > 20 {
			return fmt.Errorf("max_retries must be between 0 and 20, got %d", max)
		}
	}

	base, hasBase := params["base_delay_s"].(float64)
	if hasBase && base <= 0 {
		return fmt.Errorf("base_delay_s must be positive, got %f", base)
	}
	if maxDelay, ok := params["max_delay_s"].(float64); ok {
		if maxDelay <= 0 {
			return fmt.Errorf("max_delay_s must be positive, got %f", maxDelay)
		}
		if hasBase && maxDelay < base {
			return fmt.Errorf("max_delay_s %f shorter than base_delay_s %f", maxDelay, base)
		}
	}

	if factor, ok := params["backoff_factor"].(float64); ok {
		if factor < 1.0 || factor > 10.0 {
			return fmt.Errorf("backoff_factor must be between 1 and 10, got %f", factor)
		}
	}

	return nil
}

// TimeoutParameterValidator 订单超时参数验证器
type TimeoutParameterValidator struct{}

func (v *TimeoutParameterValidator) Validate(params map[string]interface{}) error {
	for _, key := range []string{"ack_timeout_s", "fill_timeout_s", "cancel_timeout_s"} {
		if sec, ok := params[key].(float64); ok {
			if sec <= 0 || sec > 600 {
				return fmt.Errorf("%s must be in (0,600], got %f", key, sec)
			}
		}
	}

	return nil
}
