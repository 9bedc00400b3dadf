package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/xkclient/pkg/lifecycle/xrun"
	"github.com/omeyang/xkclient/pkg/mq/xkafka"
	"github.com/omeyang/xkclient/pkg/observability/xlog"
)

func cmdConsume(ctx context.Context, cmd *cli.Command, s *session) error {
	topics, err := requireTopics(cmd)
	if err != nil {
		return err
	}
	start, err := parseStart(cmd.String("offset"))
	if err != nil {
		return err
	}
	count := cmd.Int("count")
	if count < 0 {
		return usagef("invalid --count %d", count)
	}
	pr, err := newPrinter(cmd.Root().Writer, cmd.String("format"))
	if err != nil {
		return err
	}
	group := cmd.String("group")
	lagEvery := cmd.Duration("lag-interval")
	if lagEvery > 0 && group == "" {
		return usagef("--lag-interval requires --group")
	}

	extra := xkafka.ConfigMap{}
	var assign *xkafka.TopicPartitionList
	if group == "" {
		parts, err := s.partitions(ctx, topics)
		if err != nil {
			return err
		}
		assign = xkafka.NewTopicPartitionList()
		for _, tp := range parts {
			assign.AddPartition(tp.Topic, tp.Partition, start)
		}
		extra["group.id"] = "xkcat-" + uuid.NewString()
		extra["enable.auto.commit"] = false
	} else {
		extra["group.id"] = group
		switch start {
		case xkafka.OffsetBeginning:
			extra["auto.offset.reset"] = "earliest"
		case xkafka.OffsetEnd:
			extra["auto.offset.reset"] = "latest"
		}
	}

	return xkafka.UseConsumer(s.clientConf(extra), func(c *xkafka.Consumer) error {
		if assign != nil {
			if err := c.Assign(assign); err != nil {
				return err
			}
		} else if err := c.Subscribe(topics...); err != nil {
			return err
		}

		consume := func(ctx context.Context) error {
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()
			n := 0
			err := c.Each(cctx, func(_ context.Context, m *xkafka.Message) error {
				if err := pr.print(m); err != nil {
					return err
				}
				n++
				if count > 0 && n >= count {
					cancel()
				}
				return nil
			})
			if ctx.Err() == nil && cctx.Err() != nil {
				err = errDone
			}
			if assign == nil {
				cerr := commitConsumed(ctx, c, s.timeout)
				if cerr != nil {
					return errors.Join(err, cerr)
				}
			}
			return err
		}

		tasks := []func(context.Context) error{consume}
		if lagEvery > 0 {
			tasks = append(tasks, xrun.Ticker(lagEvery, false, func(ctx context.Context) error {
				s.logLag(ctx, c)
				return nil
			}))
		}
		err := s.serve(ctx, tasks...)
		if errors.Is(err, errDone) {
			return nil
		}
		return err
	}, s.opts...)
}

// commitConsumed 同步提交已消费的位置，没有可提交的偏移不算失败。
func commitConsumed(ctx context.Context, c *xkafka.Consumer, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	_, err := c.Commit(cctx, nil, false)
	if err != nil && xkafka.CodeOf(err) != xkafka.ErrNoOffset {
		return err
	}
	return nil
}

// logLag 记录当前分配的积压。
func (s *session) logLag(ctx context.Context, c *xkafka.Consumer) {
	committed, err := c.Committed(nil, s.timeout)
	if err != nil {
		s.logger.Warn(ctx, "query committed offsets", xlog.Err(err))
		return
	}
	lag, err := c.Lag(committed, s.timeout)
	if err != nil {
		s.logger.Warn(ctx, "query lag", xlog.Err(err))
		return
	}
	for topic, parts := range lag {
		for p, n := range parts {
			s.logger.Info(ctx, "consumer lag", xlog.Topic(topic), xlog.Partition(p), xlog.Count(n))
		}
	}
}

// printer 按格式输出消息。
type printer struct {
	w      io.Writer
	format string
	enc    *json.Encoder
}

// jsonMessage json 格式的一条消息。
type jsonMessage struct {
	Topic     string            `json:"topic"`
	Partition int32             `json:"partition"`
	Offset    int64             `json:"offset"`
	Key       string            `json:"key,omitempty"`
	Value     string            `json:"value"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case "value", "text":
		return &printer{w: w, format: format}, nil
	case "json":
		return &printer{w: w, format: format, enc: json.NewEncoder(w)}, nil
	default:
		return nil, usagef("invalid --format %q, want value|text|json", format)
	}
}

func (p *printer) print(m *xkafka.Message) error {
	tp := m.TopicPartition
	switch p.format {
	case "text":
		_, err := fmt.Fprintf(p.w, "%s [%d] @ %d: key=%q %s\n", tp.Topic, tp.Partition, int64(tp.Offset), m.Key, m.Value)
		return err
	case "json":
		jm := jsonMessage{
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Offset:    int64(tp.Offset),
			Key:       string(m.Key),
			Value:     string(m.Value),
			Timestamp: m.Timestamp,
		}
		if len(m.Headers) > 0 {
			jm.Headers = make(map[string]string, len(m.Headers))
			for _, h := range m.Headers {
				jm.Headers[h.Key] = string(h.Value)
			}
		}
		return p.enc.Encode(jm)
	default:
		_, err := fmt.Fprintf(p.w, "%s\n", m.Value)
		return err
	}
}
