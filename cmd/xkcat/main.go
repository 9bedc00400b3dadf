// xkcat 是基于 xkafka 的命令行客户端，用于生产、消费与管理 Kafka 主题。
//
// 用法:
//
//	xkcat [全局选项] <命令> [命令选项] [参数]
//
// 全局选项:
//
//	-b, --brokers        bootstrap.servers（环境变量 XKCLIENT_BROKERS）
//	-c, --config         配置文件（YAML/JSON），kafka 节点下的键作为客户端属性
//	-X, --property       额外的客户端属性 key=value，可重复
//	    --transport      传输实现：sarama（默认）、confluent（需 cgo）、mock
//	-t, --timeout        单次请求超时（默认 30s）
//	    --log-level      日志级别 debug/info/warn/error（默认 warn）
//	    --log-format     text 或 json
//	    --log-file       写入文件并按大小轮转
//	    --metrics-addr   在该地址暴露 /metrics（Prometheus）
//
// 命令:
//
//	produce      从参数或标准输入逐行写入消息
//	consume      消费并打印消息
//	lag          查看消费组积压
//	watermarks   查看分区高低水位
//	offsets      按时间或最早/最新查询偏移
//	topic        创建、删除主题
//	cluster      查看集群节点与主题
//
// 配置优先级从低到高：配置文件、XKCLIENT_ 前缀的环境变量、命令行。
// 配置文件中的 log.level 在运行期修改后立即生效。
//
// 退出码:
//
//	0: 成功
//	1: 执行失败（包括部分消息投递失败）
//	2: 参数错误
//
// 示例:
//
//	xkcat -b localhost:9092 topic create orders -p 3
//	printf 'k1:v1\nk2:v2\n' | xkcat -b localhost:9092 produce -T orders -K :
//	xkcat -b localhost:9092 consume -T orders -G billing -o beginning -n 10
//	xkcat -b localhost:9092 lag -G billing -T orders
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

// defaultTimeout 默认请求超时。
const defaultTimeout = 30 * time.Second

// 版本信息，可通过 -ldflags 注入:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(context.Background(), os.Args, os.Stdin, os.Stdout, os.Stderr))
}

// createApp 创建 CLI 应用。
func createApp(stdin io.Reader, stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "xkcat",
		Usage:     "Kafka 命令行客户端",
		Version:   fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "brokers",
				Aliases: []string{"b"},
				Usage:   "bootstrap.servers，逗号分隔",
				Sources: cli.EnvVars("XKCLIENT_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（YAML/JSON）",
			},
			&cli.StringSliceFlag{
				Name:    "property",
				Aliases: []string{"X"},
				Usage:   "客户端属性 key=value",
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "传输实现: " + transportNames(),
				Value: "sarama",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "请求超时",
				Value:   defaultTimeout,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别",
				Value: "warn",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "日志格式 text/json",
				Value: "text",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "日志文件（按大小轮转），默认写标准错误",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Prometheus 指标监听地址，如 :9102",
			},
		},
		Commands: createCommands(),
		ExitErrHandler: func(_ context.Context, cmd *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(cmd.Root().ErrWriter, err)
			}
		},
	}
}

// run 执行命令并映射退出码。
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	app := createApp(stdin, stdout, stderr)
	err := app.Run(ctx, args)
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	if isCLIUsageError(err) {
		return 2
	}
	fmt.Fprintf(stderr, "错误: %v\n", err)
	return 1
}
