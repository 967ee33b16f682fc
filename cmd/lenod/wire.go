package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"Leno-Agent/internal/agent"
	"Leno-Agent/internal/auth"
	"Leno-Agent/internal/chat"
	"Leno-Agent/internal/config"
	"Leno-Agent/internal/history"
	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/llm/anthropic"
	"Leno-Agent/internal/llm/openai"
	"Leno-Agent/internal/manager"
	"Leno-Agent/internal/observability/alerting"
	"Leno-Agent/internal/runner"
	"Leno-Agent/internal/session"
	redisstore "Leno-Agent/internal/storage/redis"
	"Leno-Agent/internal/storage/sqldb"
	"Leno-Agent/internal/task"
	"Leno-Agent/internal/tool"
	"Leno-Agent/internal/tool/builtin"
	"Leno-Agent/internal/tool/httptool"
	"Leno-Agent/pkg/logger"
)

// application 汇总启动阶段构建的全部组件。
type application struct {
	chat      *chat.Service
	tasks     *task.Service
	processor *task.Processor
	registry  *tool.Registry
	auth      *auth.Service

	closers []func() error
}

func (a *application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close 以构建的逆序释放资源。
func (a *application) close() {
	log := logger.Named("lenod")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("释放资源失败", slog.Any("error", err))
		}
	}
}

func build(ctx context.Context, cfg *config.Config) (app *application, err error) {
	app = &application{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	llmClient, err := createLLMClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	var redisClient *goredis.Client
	if cfg.Session.Driver == "redis" || cfg.TaskQueue.Driver == "redis" {
		redisClient, err = redisstore.NewClient(ctx, redisstore.Config{
			Address:  cfg.Storage.Redis.Address,
			Username: cfg.Storage.Redis.Username,
			Password: cfg.Storage.Redis.ResolvePassword(),
			DB:       cfg.Storage.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		app.onClose(redisClient.Close)
	}

	store, locker, err := createSessionStore(cfg.Session, redisClient)
	if err != nil {
		return nil, err
	}
	app.onClose(store.Close)

	historyLog, err := createHistoryLog(ctx, cfg.Storage.History)
	if err != nil {
		return nil, err
	}
	app.onClose(historyLog.Close)

	registry, err := createToolRegistry(cfg, app)
	if err != nil {
		return nil, err
	}
	app.registry = registry

	run := runner.New(llmClient, registry,
		runner.WithMaxSteps(cfg.Agents.MaxSteps),
		runner.WithLLMTimeout(cfg.LLM.LLMTimeout()),
		runner.WithLogger(logger.Named("runner")),
	)

	catalog, err := agent.LoadCatalog(cfg.Agents.Catalog, cfg.Agents.DocsDir)
	if err != nil {
		return nil, err
	}
	team, err := agent.NewTeam(catalog, run, store, registry, agent.TeamConfig{
		User:         cfg.Agents.User,
		Session:      cfg.Agents.Session,
		ManagerApp:   cfg.Agents.ManagerApp,
		BrokerageApp: cfg.Agents.BrokerageApp,
	}, agent.WithLogger(logger.Named("agent")))
	if err != nil {
		return nil, err
	}

	identity := manager.Identity{
		App:          cfg.Agents.ManagerApp,
		BrokerageApp: cfg.Agents.BrokerageApp,
		User:         cfg.Agents.User,
		Session:      cfg.Agents.Session,
	}
	var brokerage manager.MessageHandler
	if b, ok := team.Brokerage(); ok {
		brokerage = b
	}
	dispatcher := manager.New(store, run, team.ManagerSpec(), brokerage, identity,
		manager.WithLocker(locker),
		manager.WithLogger(logger.Named("manager")),
	)

	app.chat = chat.NewService(dispatcher, historyLog, cfg.Agents.User, chat.WithLogger(logger.Named("chat")))

	taskStore, err := createTaskStore(ctx, cfg.Storage.TaskStore)
	if err != nil {
		return nil, err
	}
	queue, err := createTaskQueue(cfg.TaskQueue, redisClient)
	if err != nil {
		taskStore.Close()
		return nil, err
	}
	app.tasks = task.NewService(taskStore, queue, cfg.TaskQueue.MaxRetries)
	app.onClose(app.tasks.Close)

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, time.Duration(cfg.Alerting.TimeoutSeconds)*time.Second))
	}
	app.processor = task.NewProcessor(app.chat, taskStore, queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
		task.WithProcessorLogger(logger.Named("task")),
	)

	app.auth, err = auth.NewService(auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTConfig{
			Secret:   cfg.Auth.JWT.ResolveSecret(),
			Issuer:   cfg.Auth.JWT.Issuer,
			Audience: cfg.Auth.JWT.Audience,
		},
		Tokens: cfg.Auth.ResolveTokens(),
	})
	if err != nil {
		return nil, err
	}

	return app, nil
}

func createLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.ResolveAPIKey(),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     cfg.LLMTimeout(),
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.ResolveAPIKey(),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			MaxRetries:  cfg.MaxRetries,
			Timeout:     cfg.LLMTimeout(),
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("暂不支持的模型提供方: %s", cfg.Provider)
	}
}

func createSessionStore(cfg config.SessionConfig, client *goredis.Client) (session.Store, session.Locker, error) {
	switch cfg.Driver {
	case "memory":
		var locker session.Locker = session.NopLocker{}
		if cfg.Serialize {
			locker = session.NewKeyedMutex()
		}
		return session.NewMemoryStore(), locker, nil
	case "redis":
		store, err := session.NewRedisStore(client, session.WithTTL(cfg.TTL()))
		if err != nil {
			return nil, nil, err
		}
		var locker session.Locker = session.NopLocker{}
		if cfg.Serialize {
			rl, err := session.NewRedisLocker(client, cfg.LockTTL())
			if err != nil {
				return nil, nil, err
			}
			locker = rl
		}
		return store, locker, nil
	default:
		return nil, nil, fmt.Errorf("暂不支持的会话存储: %s", cfg.Driver)
	}
}

func createHistoryLog(ctx context.Context, cfg config.HistoryConfig) (history.Log, error) {
	switch cfg.Driver {
	case "memory":
		return history.NewMemoryLog(), nil
	case "file":
		return history.NewFileLog(cfg.Path)
	case sqldb.DialectSQLite, sqldb.DialectMySQL:
		return sqldb.NewHistoryRepository(ctx, sqldb.Config{Dialect: cfg.Driver, DSN: cfg.DSN})
	default:
		return nil, fmt.Errorf("暂不支持的历史存储: %s", cfg.Driver)
	}
}

// createToolRegistry 注册内置工具与 REST 目录中启用的工具，智能体委派工具由 agent.NewTeam 追加。
func createToolRegistry(cfg *config.Config, app *application) (*tool.Registry, error) {
	registry := tool.NewRegistry(
		tool.WithTimeout(cfg.Agents.ToolTimeout()),
		tool.WithLogger(logger.Named("tool")),
	)

	if err := registry.Register(builtin.NewSummarizer(cfg.Agents.DocsDir).Tool()); err != nil {
		return nil, err
	}
	workspace, err := builtin.NewWorkspace(cfg.Agents.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(workspace.Tools()...); err != nil {
		return nil, err
	}

	catalog, err := httptool.LoadCatalog(cfg.Agents.Tools, nil)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Named("lenod").Warn("未找到 REST 工具目录，跳过", slog.String("path", cfg.Agents.Tools))
			return registry, nil
		}
		return nil, err
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}

	resolver, err := tool.NewResolver(cfg.Resolver.MaxEntries, cfg.Resolver.CacheTTL())
	if err != nil {
		return nil, err
	}
	app.onClose(func() error {
		resolver.Close()
		return nil
	})
	engine := httptool.NewEngine(
		httptool.WithResolver(resolver),
		httptool.WithDefaultTimeout(cfg.Agents.ToolTimeout()),
		httptool.WithLogger(logger.Named("httptool")),
	)
	if err := registry.Register(engine.Tools(catalog)...); err != nil {
		return nil, err
	}
	return registry, nil
}

func createTaskStore(ctx context.Context, cfg config.TaskStoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		db, err := sqldb.Open(ctx, sqldb.Config{Dialect: sqldb.DialectMySQL, DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		if err := sqldb.Migrate(ctx, db, sqldb.DialectMySQL); err != nil {
			db.Close()
			return nil, err
		}
		return task.NewMySQLStore(db)
	default:
		return nil, fmt.Errorf("暂不支持的任务存储: %s", cfg.Driver)
	}
}

func createTaskQueue(cfg config.TaskQueueConfig, client *goredis.Client) (task.Queue, error) {
	switch cfg.Driver {
	case "memory":
		return task.NewMemoryQueue(cfg.Workers * 64), nil
	case "redis":
		return task.NewRedisQueue(client, task.RedisQueueConfig{
			Key:       cfg.RedisKey,
			BlockWait: cfg.BlockTimeout(),
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
		})
	default:
		return nil, fmt.Errorf("暂不支持的任务队列: %s", cfg.Driver)
	}
}
