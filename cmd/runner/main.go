package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"futures-exec-go/config"
	"futures-exec-go/gateway"
	"futures-exec-go/infrastructure/alert"
	"futures-exec-go/infrastructure/audit"
	"futures-exec-go/infrastructure/logger"
	"futures-exec-go/infrastructure/monitor"
	hotreload "futures-exec-go/internal/config"
	"futures-exec-go/internal/engine"
	"futures-exec-go/risk"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	restRate := flag.Float64("restRate", 5, "柜台限流：每秒令牌数")
	restBurst := flag.Int("restBurst", 10, "柜台限流：最大突发令牌数")
	tickInterval := flag.Duration("riskTick", time.Second, "风控巡检间隔")
	flag.Parse()

	// .env 可选，缺失不报错
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()
	zl := lg.Logger

	mon := monitor.New(monitor.Config{
		Namespace: cfg.Monitor.Namespace,
		Subsystem: cfg.Monitor.Subsystem,
	})
	var metricsSrv *http.Server
	if cfg.Monitor.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", mon.Handler())
		metricsSrv = &http.Server{Addr: cfg.Monitor.Listen, Handler: mux}
		go func() {
			zl.Info("Metrics listening", zap.String("addr", cfg.Monitor.Listen))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zl.Error("Metrics server exited", zap.Error(err))
			}
		}()
	}

	// 审计：配置了路径走 SQLite，否则退化为内存缓冲
	var auditLog risk.AuditLogger
	if cfg.Audit.Path != "" {
		sqliteAudit, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			zl.Fatal("打开审计库失败", zap.String("path", cfg.Audit.Path), zap.Error(err))
		}
		defer sqliteAudit.Close()
		auditLog = sqliteAudit
	} else {
		auditLog = risk.NewMemoryAuditLogger(cfg.Audit.MemoryLimit)
	}

	var alerts risk.AlertSender = risk.NopAlertSender{}
	if cfg.Alerts.Enabled {
		var channels []alert.Channel
		for _, name := range cfg.Alerts.Channels {
			switch name {
			case "log":
				channels = append(channels, alert.NewLogChannel("log", zl))
			case "webhook":
				channels = append(channels, alert.NewWebhookChannel("webhook", cfg.Alerts.WebhookURL))
			case "websocket":
				ws := alert.NewWebsocketChannel("websocket", cfg.Alerts.WebsocketURL)
				defer ws.Close()
				channels = append(channels, ws)
			default:
				zl.Warn("未知告警通道，跳过", zap.String("channel", name))
			}
		}
		alerts = alert.NewManager(channels,
			time.Duration(cfg.Alerts.ThrottleIntervalSeconds)*time.Second,
			alert.ManagerOptions{Monitor: mon, Logger: zl})
	}

	ctrl, err := risk.NewController(cfg.Risk.BreakerConfig(), risk.ControllerComponents{
		Alerts: alerts,
		Audit:  auditLog,
		Logger: zl,
	})
	if err != nil {
		zl.Fatal("初始化风控失败", zap.Error(err))
	}

	// 模拟柜台：限流生效，确认自动回送
	broker := gateway.NewSimBroker(gateway.SimOptions{
		AutoAck: true,
		Limiter: gateway.NewTokenBucketLimiter(*restRate, *restBurst),
		Logger:  zl,
	})

	eng, err := engine.New(engine.Config{
		QueueSize:     cfg.Engine.QueueSize,
		IOWorkers:     cfg.Engine.IOWorkers,
		SweepInterval: time.Duration(cfg.Engine.SweepIntervalMs) * time.Millisecond,
		ChaseEnabled:  cfg.Engine.ChaseEnabled,
		Timeouts:      cfg.Timeouts.TimeoutConfig(),
		Retry:         cfg.Retry.RetryConfig(),
		Constraints:   cfg.Constraints(),
	}, engine.Components{
		Broker: broker,
		Quotes: broker,
		Observer: func(ev engine.OrderEvent) {
			lg.LogOrder("transition", ev.LocalID, map[string]interface{}{
				"symbol": ev.Symbol,
				"from":   string(ev.From),
				"to":     string(ev.To),
				"event":  string(ev.Event),
				"filled": ev.FilledQty,
			})
		},
		Audit:   auditLog,
		Monitor: mon,
		Logger:  zl,
	})
	if err != nil {
		zl.Fatal("初始化委托引擎失败", zap.Error(err))
	}
	broker.SetCallbacks(eng.OnOrderReturn, eng.OnTradeReturn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		zl.Fatal("启动委托引擎失败", zap.Error(err))
	}

	// 配置热更新：校验通过的参数变更在线生效
	reloader, err := hotreload.NewHotReloader(*cfgPath, hotreload.DefaultHotReloadConfig(), zl)
	if err != nil {
		zl.Warn("热更新不可用", zap.Error(err))
	} else {
		reloader.RegisterValidator("risk", &hotreload.RiskParameterValidator{})
		reloader.RegisterValidator("retry", &hotreload.RetryParameterValidator{})
		reloader.RegisterValidator("timeouts", &hotreload.TimeoutParameterValidator{})
		reloader.SetReloadHandler(func() error {
			next, err := config.LoadWithEnvOverrides(*cfgPath)
			if err != nil {
				return err
			}
			zl.Info("配置已重载",
				zap.Float64("daily_loss_pct", next.Risk.DailyLossPct),
				zap.Int("max_retries", next.Retry.MaxRetries))
			return nil
		})
		if err := reloader.Start(ctx); err != nil {
			zl.Warn("启动热更新失败", zap.Error(err))
		} else {
			defer reloader.Stop()
		}
	}

	// 风控巡检：推进冷却/恢复状态机并上报指标
	go func() {
		ticker := time.NewTicker(*tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status := ctrl.Tick()
				mon.UpdateBreakerState(int(status.BreakerState))
				mon.UpdatePositionRatio(status.PositionRatio)
				mon.UpdateRiskMetrics(
					status.Metrics.DailyLossPct,
					status.Metrics.PositionLossPct,
					status.Metrics.MarginUsagePct,
					status.Metrics.ConsecutiveLosses)
				mon.UpdateActiveOrders(eng.ActiveCount())
			}
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	zl.Info("Runner started",
		zap.String("env", cfg.Env),
		zap.String("account", cfg.Account),
		zap.Int("symbols", len(cfg.Symbols)))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	zl.Info("收到退出信号", zap.String("signal", received.String()))

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()

	// 先停引擎（排空在途委托），再关外围
	if err := eng.Stop(); err != nil && err != engine.ErrEngineStopped {
		zl.Warn("停止引擎异常", zap.Error(err))
	}
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	zl.Info("Runner stopped")
}
