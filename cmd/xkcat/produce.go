package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xkclient/pkg/lifecycle/xrun"
	"github.com/omeyang/xkclient/pkg/mq/xkafka"
	"github.com/omeyang/xkclient/pkg/observability/xlog"
)

const (
	// maxLineBytes 标准输入单行上限。
	maxLineBytes = 4 << 20
	// reportPollSlice 服务投递报告时单次 Poll 的阻塞上限。
	reportPollSlice = 100 * time.Millisecond
)

// record 待写入的一条输入。
type record struct {
	key   []byte
	value []byte
}

// cmdProduce 写入与等待投递并行：读取侧入队，报告侧按入队顺序等待结果。
func cmdProduce(ctx context.Context, cmd *cli.Command, s *session) error {
	topic := cmd.String("topic")
	if topic == "" {
		return usagef("--topic is required")
	}
	partition := cmd.Int("partition")
	if partition < int(xkafka.PartitionAny) {
		return usagef("invalid --partition %d", partition)
	}
	hdrs, err := parsePairs("header", cmd.StringSlice("header"))
	if err != nil {
		return err
	}
	var headers []xkafka.Header
	for k, v := range hdrs {
		headers = append(headers, xkafka.Header{Key: k, Value: []byte(v)})
	}
	out := cmd.Root().Writer
	report := cmd.Bool("report")

	var total, failed int
	opts := append(slices.Clone(s.opts), xkafka.WithBackgroundPoll(false))
	err = xkafka.UseProducer(s.clientConf(nil), func(p *xkafka.Producer) error {
		handles := make(chan *xkafka.DeliveryHandle, 1024)
		g, gctx := errgroup.WithContext(ctx)
		// 投递报告由本命令的 poll 任务送达，报告侧结束后停止
		pctx, stopPoll := context.WithCancel(gctx)
		g.Go(func() error { return xrun.PollLoop(p.Poll, reportPollSlice)(pctx) })
		g.Go(func() error {
			defer close(handles)
			return readRecords(cmd, func(r record) error {
				msg := &xkafka.Message{
					TopicPartition: xkafka.TopicPartition{Topic: topic, Partition: int32(partition)},
					Key:            r.key,
					Value:          r.value,
					Headers:        headers,
				}
				dh, err := p.Produce(gctx, msg)
				if err != nil {
					return err
				}
				select {
				case handles <- dh:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		})
		g.Go(func() error {
			defer stopPoll()
			for dh := range handles {
				total++
				r, err := dh.WaitContext(gctx)
				if r == nil && err != nil {
					return err
				}
				if err != nil {
					failed++
					s.logger.Error(gctx, "delivery failed", xlog.Topic(topic), xlog.Err(err))
					continue
				}
				if report {
					fmt.Fprintln(out, r.Message.TopicPartition)
				}
			}
			return nil
		})
		return g.Wait()
	}, opts...)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "produce finished", xlog.Topic(topic), xlog.Count(int64(total-failed)))
	if failed > 0 {
		return fmt.Errorf("%d of %d messages failed", failed, total)
	}
	return nil
}

// readRecords 依次产出参数或标准输入中的记录。
func readRecords(cmd *cli.Command, fn func(record) error) error {
	delim := cmd.String("key-delimiter")
	var fixedKey []byte
	if k := cmd.String("key"); k != "" {
		fixedKey = []byte(k)
	}
	parse := func(line string) record {
		r := record{key: fixedKey, value: []byte(line)}
		if delim != "" {
			if k, v, ok := strings.Cut(line, delim); ok {
				r.key, r.value = []byte(k), []byte(v)
			}
		}
		return r
	}

	if args := cmd.Args().Slice(); len(args) > 0 {
		for _, a := range args {
			if err := fn(parse(a)); err != nil {
				return err
			}
		}
		return nil
	}
	return scanLines(cmd.Root().Reader, func(line string) error { return fn(parse(line)) })
}

func scanLines(r io.Reader, fn func(string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)
	for sc.Scan() {
		if err := fn(sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}
