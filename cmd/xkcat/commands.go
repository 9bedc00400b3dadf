package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xkclient/pkg/mq/xkafka"
)

// errDone 有限任务正常完成，用于结束同组的长期任务。
var errDone = errors.New("done")

// createCommands 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createProduceCommand(),
		createConsumeCommand(),
		createLagCommand(),
		createWatermarksCommand(),
		createOffsetsCommand(),
		createTopicCommand(),
		createClusterCommand(),
	}
}

func topicFlag(multi bool) cli.Flag {
	if multi {
		return &cli.StringSliceFlag{Name: "topic", Aliases: []string{"T"}, Usage: "主题，可重复"}
	}
	return &cli.StringFlag{Name: "topic", Aliases: []string{"T"}, Usage: "主题"}
}

func createProduceCommand() *cli.Command {
	return &cli.Command{
		Name:      "produce",
		Aliases:   []string{"P"},
		Usage:     "写入消息，没有参数时从标准输入逐行读取",
		ArgsUsage: "[value...]",
		Flags: []cli.Flag{
			topicFlag(false),
			&cli.IntFlag{Name: "partition", Aliases: []string{"p"}, Usage: "目标分区，-1 由分区器选择", Value: -1},
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "所有消息使用的键"},
			&cli.StringFlag{Name: "key-delimiter", Aliases: []string{"K"}, Usage: "按该分隔符把每行拆为 键+值"},
			&cli.StringSliceFlag{Name: "header", Aliases: []string{"H"}, Usage: "消息头 key=value，可重复"},
			&cli.BoolFlag{Name: "report", Usage: "逐条打印投递结果"},
		},
		Action: withSession(cmdProduce),
	}
}

func createConsumeCommand() *cli.Command {
	return &cli.Command{
		Name:    "consume",
		Aliases: []string{"C"},
		Usage:   "消费消息；指定 --group 时加入消费组，否则直接分配全部分区",
		Flags: []cli.Flag{
			topicFlag(true),
			&cli.StringFlag{Name: "group", Aliases: []string{"G"}, Usage: "消费组"},
			&cli.StringFlag{Name: "offset", Aliases: []string{"o"}, Usage: "起点 beginning|end|stored|<offset>", Value: "end"},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "消费条数后退出，0 不限"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "输出格式 value|text|json", Value: "value"},
			&cli.DurationFlag{Name: "lag-interval", Usage: "按该周期记录积压日志（需要 --group），0 关闭"},
		},
		Action: withSession(cmdConsume),
	}
}

func createLagCommand() *cli.Command {
	return &cli.Command{
		Name:   "lag",
		Usage:  "查看消费组在各分区的已提交偏移与积压",
		Flags:  []cli.Flag{topicFlag(true), &cli.StringFlag{Name: "group", Aliases: []string{"G"}, Usage: "消费组"}},
		Action: withSession(cmdLag),
	}
}

func createWatermarksCommand() *cli.Command {
	return &cli.Command{
		Name:   "watermarks",
		Usage:  "查看分区高低水位",
		Flags:  []cli.Flag{topicFlag(true)},
		Action: withSession(cmdWatermarks),
	}
}

func createOffsetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "offsets",
		Usage: "查询分区偏移",
		Flags: []cli.Flag{
			topicFlag(true),
			&cli.StringFlag{Name: "at", Usage: "earliest|latest|RFC3339 时间|毫秒时间戳", Value: "latest"},
		},
		Action: withSession(cmdOffsets),
	}
}

func createTopicCommand() *cli.Command {
	return &cli.Command{
		Name:  "topic",
		Usage: "主题管理",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "创建主题",
				ArgsUsage: "<topic...>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "partitions", Aliases: []string{"p"}, Usage: "分区数", Value: 1},
					&cli.IntFlag{Name: "replication-factor", Aliases: []string{"r"}, Usage: "副本数，-1 使用 broker 默认", Value: -1},
					&cli.StringSliceFlag{Name: "topic-config", Usage: "主题配置 key=value，可重复"},
				},
				Action: withSession(cmdTopicCreate),
			},
			{
				Name:      "delete",
				Usage:     "删除主题",
				ArgsUsage: "<topic...>",
				Action:    withSession(cmdTopicDelete),
			},
		},
	}
}

func createClusterCommand() *cli.Command {
	return &cli.Command{
		Name:   "cluster",
		Usage:  "查看集群节点与主题",
		Action: withSession(cmdCluster),
	}
}

// =============================================================================
// 参数解析
// =============================================================================

func requireTopics(cmd *cli.Command) ([]string, error) {
	topics := cmd.StringSlice("topic")
	if len(topics) == 0 {
		return nil, usagef("--topic is required")
	}
	return topics, nil
}

// parseStart 解析消费起点。
func parseStart(s string) (xkafka.Offset, error) {
	switch strings.ToLower(s) {
	case "beginning", "earliest":
		return xkafka.OffsetBeginning, nil
	case "end", "latest":
		return xkafka.OffsetEnd, nil
	case "stored":
		return xkafka.OffsetStored, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, usagef("invalid offset %q", s)
	}
	return xkafka.Offset(n), nil
}

// parseOffsetSpec 解析 ListOffsets 的查询条件：最早、最新或毫秒时间戳。
func parseOffsetSpec(s string) (xkafka.Offset, error) {
	switch strings.ToLower(s) {
	case "earliest", "beginning":
		return xkafka.OffsetBeginning, nil
	case "latest", "end":
		return xkafka.OffsetEnd, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return xkafka.Offset(t.UnixMilli()), nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return 0, usagef("invalid --at %q", s)
	}
	return xkafka.Offset(ms), nil
}

// parsePairs 解析 key=value 列表。
func parsePairs(flag string, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, usagef("invalid --%s %q, want key=value", flag, kv)
		}
		out[k] = v
	}
	return out, nil
}

// partitions 通过元数据展开 topics 的全部分区。
func (s *session) partitions(ctx context.Context, topics []string) ([]xkafka.TopicPartition, error) {
	var out []xkafka.TopicPartition
	err := xkafka.UseAdmin(s.clientConf(nil), func(a *xkafka.Admin) error {
		md, err := a.GetMetadata(ctx, topics, s.timeout)
		if err != nil {
			return err
		}
		for _, name := range topics {
			t, ok := md.Topics[name]
			if !ok {
				return fmt.Errorf("topic %q: not found", name)
			}
			if t.Err != nil {
				return fmt.Errorf("topic %q: %w", name, t.Err)
			}
			for _, p := range t.Partitions {
				out = append(out, xkafka.TopicPartition{Topic: name, Partition: p.ID})
			}
		}
		return nil
	}, s.opts...)
	if err != nil {
		return nil, err
	}
	list := xkafka.NewTopicPartitionList(out...)
	list.Sort()
	return list.Items(), nil
}
