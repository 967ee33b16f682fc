package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"Leno-Agent/internal/api"
	"Leno-Agent/internal/auth"
	"Leno-Agent/sdk/go/leno"
)

// main 是 Leno 命令行客户端的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		log.Fatalf("lenoctl: %v", err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "lenoctl",
		Usage:     "与 Leno 服务交互的命令行工具",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Leno 服务地址",
				Value:   "http://127.0.0.1:3001",
				EnvVars: []string{"LENO_SERVER"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "访问令牌",
				EnvVars: []string{"LENO_TOKEN"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "单次请求超时",
				Value: leno.DefaultHTTPTimeout,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "chat",
				Usage:     "发送一条消息并打印回复",
				ArgsUsage: "<message>",
				Action: func(c *cli.Context) error {
					message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
					if message == "" {
						return errors.New("消息不能为空")
					}
					client, err := newClient(c)
					if err != nil {
						return err
					}
					reply, err := client.Chat(c.Context, message)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, reply)
					return nil
				},
			},
			{
				Name:  "history",
				Usage: "打印任务历史",
				Action: func(c *cli.Context) error {
					client, err := newClient(c)
					if err != nil {
						return err
					}
					entries, err := client.TaskHistory(c.Context)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, entries)
				},
			},
			{
				Name:  "health",
				Usage: "检查服务是否存活",
				Action: func(c *cli.Context) error {
					client, err := newClient(c)
					if err != nil {
						return err
					}
					if err := client.Health(c.Context); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "ok")
					return nil
				},
			},
			{
				Name:      "quote",
				Usage:     "查询实时股价",
				ArgsUsage: "<symbol>",
				Action: func(c *cli.Context) error {
					client, err := newClient(c)
					if err != nil {
						return err
					}
					quote, err := client.StockQuote(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, quote)
				},
			},
			{
				Name:      "submit",
				Usage:     "提交异步对话任务",
				ArgsUsage: "<message>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "自定义任务 ID，重复提交时返回已有任务"},
					&cli.BoolFlag{Name: "wait", Usage: "等待任务完成"},
					&cli.DurationFlag{Name: "wait-timeout", Value: 5 * time.Minute, Usage: "等待的最长时间"},
				},
				Action: func(c *cli.Context) error {
					message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
					if message == "" {
						return errors.New("消息不能为空")
					}
					client, err := newClient(c)
					if err != nil {
						return err
					}
					created, err := client.SubmitTask(c.Context, leno.TaskSubmission{ID: c.String("id"), Message: message})
					if err != nil {
						return err
					}
					if !c.Bool("wait") {
						return printJSON(c.App.Writer, created)
					}
					ctx, cancel := context.WithTimeout(c.Context, c.Duration("wait-timeout"))
					defer cancel()
					done, err := client.WaitTask(ctx, created.ID, time.Second)
					if err != nil {
						return fmt.Errorf("等待任务 %s 失败: %w", created.ID, err)
					}
					return printJSON(c.App.Writer, done)
				},
			},
			{
				Name:  "tasks",
				Usage: "列出异步任务",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "按状态过滤，逗号分隔"},
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "关键字"},
					&cli.IntFlag{Name: "limit", Value: 20},
					&cli.IntFlag{Name: "offset"},
					&cli.BoolFlag{Name: "stats", Usage: "只打印统计"},
				},
				Action: func(c *cli.Context) error {
					client, err := newClient(c)
					if err != nil {
						return err
					}
					if c.Bool("stats") {
						stats, err := client.TaskStats(c.Context)
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, stats)
					}
					tasks, err := client.ListTasks(c.Context, leno.ListOptions{
						Status: c.String("status"),
						Query:  c.String("query"),
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, tasks)
				},
			},
			{
				Name:      "task",
				Usage:     "查看单个任务",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return errors.New("任务 ID 不能为空")
					}
					client, err := newClient(c)
					if err != nil {
						return err
					}
					found, err := client.GetTask(c.Context, id)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, found)
				},
			},
			{
				Name:  "token",
				Usage: "签发 HS256 访问令牌",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "secret", Usage: "签名密钥", EnvVars: []string{"LENO_JWT_SECRET"}, Required: true},
					&cli.StringFlag{Name: "subject", Value: "user_1"},
					&cli.StringFlag{Name: "issuer", Value: "leno"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
					&cli.StringSliceFlag{Name: "scope", Value: cli.NewStringSlice(api.ScopeRead, api.ScopeWrite)},
				},
				Action: func(c *cli.Context) error {
					token, err := auth.IssueToken(c.String("secret"), c.String("subject"), c.Duration("ttl"), c.String("issuer"), c.StringSlice("scope")...)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, token)
					return nil
				},
			},
		},
	}
}

func newClient(c *cli.Context) (*leno.Client, error) {
	client, err := leno.NewClient(c.String("server"), &http.Client{Timeout: c.Duration("timeout")})
	if err != nil {
		return nil, err
	}
	client.SetAccessToken(c.String("token"))
	return client, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
