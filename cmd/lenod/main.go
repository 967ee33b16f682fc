package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"Leno-Agent/internal/api"
	"Leno-Agent/internal/config"
	"Leno-Agent/internal/observability/metrics"
	"Leno-Agent/pkg/logger"
)

var version = "dev"

// main 是 Leno 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:    "lenod",
		Usage:   "Leno 多智能体对话服务",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "JSON 配置文件路径",
				Value:   filepath.Join("configs", "leno.json"),
				EnvVars: []string{"LENO_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "启动前加载的 .env 文件，不存在时忽略",
				Value:   ".env",
				EnvVars: []string{"LENO_ENV_FILE"},
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "覆盖配置中的 API 监听地址",
			},
		},
		Action: func(c *cli.Context) error {
			if err := loadEnvFile(c.String("env-file")); err != nil {
				return err
			}
			return run(c.Context, c.String("config"), c.String("addr"))
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("lenod 运行失败: %v", err)
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("加载环境变量文件失败: %w", err)
	}
	return nil
}

func run(ctx context.Context, configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Address = addr
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	lg := logger.Named("lenod")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	// 启动任务处理器。
	processorErr := make(chan error, 1)
	go func() {
		if err := app.processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			processorErr <- err
		}
		close(processorErr)
	}()

	if addr := cfg.Server.MetricsAddress; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, app.chat,
		api.WithTaskService(app.tasks),
		api.WithToolInvoker(app.registry),
		api.WithAuth(app.auth),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		api.WithLogger(logger.Named("api")),
	)

	lg.Info("Leno 服务启动",
		slog.String("address", cfg.Server.Address),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("session_driver", cfg.Session.Driver),
		slog.String("history_driver", cfg.Storage.History.Driver),
		slog.String("task_queue", cfg.TaskQueue.Driver),
		slog.String("auth_mode", cfg.Auth.Mode))

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	select {
	case err := <-serverErr:
		return err
	case err, ok := <-processorErr:
		if ok && err != nil {
			return fmt.Errorf("任务处理器异常退出: %w", err)
		}
		return <-serverErr
	}
}
