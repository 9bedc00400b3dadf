package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xkclient/pkg/mq/xkafka"
)

func newTable(w io.Writer, header string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	return tw
}

func cmdLag(ctx context.Context, cmd *cli.Command, s *session) error {
	topics, err := requireTopics(cmd)
	if err != nil {
		return err
	}
	group := cmd.String("group")
	if group == "" {
		return usagef("--group is required")
	}
	parts, err := s.partitions(ctx, topics)
	if err != nil {
		return err
	}
	conf := s.clientConf(xkafka.ConfigMap{"group.id": group, "enable.auto.commit": false})
	return xkafka.UseConsumer(conf, func(c *xkafka.Consumer) error {
		committed, err := c.Committed(xkafka.NewTopicPartitionList(parts...), s.timeout)
		if err != nil {
			return err
		}
		lag, err := c.Lag(committed, s.timeout)
		if err != nil {
			return err
		}
		tw := newTable(cmd.Root().Writer, "TOPIC\tPARTITION\tCOMMITTED\tLAG")
		var total int64
		for _, tp := range committed.Items() {
			n, ok := lag[tp.Topic][tp.Partition]
			if !ok {
				fmt.Fprintf(tw, "%s\t%d\t-\t-\n", tp.Topic, tp.Partition)
				continue
			}
			total += n
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", tp.Topic, tp.Partition, int64(tp.Offset), n)
		}
		fmt.Fprintf(tw, "TOTAL\t\t\t%d\n", total)
		return tw.Flush()
	}, s.opts...)
}

func cmdWatermarks(ctx context.Context, cmd *cli.Command, s *session) error {
	topics, err := requireTopics(cmd)
	if err != nil {
		return err
	}
	parts, err := s.partitions(ctx, topics)
	if err != nil {
		return err
	}
	return xkafka.UseProducer(s.clientConf(nil), func(p *xkafka.Producer) error {
		tw := newTable(cmd.Root().Writer, "TOPIC\tPARTITION\tLOW\tHIGH\tMESSAGES")
		for _, tp := range parts {
			low, high, err := p.QueryWatermarkOffsets(tp.Topic, tp.Partition, s.timeout)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", tp.Topic, tp.Partition, err)
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", tp.Topic, tp.Partition, low, high, high-low)
		}
		return tw.Flush()
	}, s.opts...)
}

func cmdOffsets(ctx context.Context, cmd *cli.Command, s *session) error {
	topics, err := requireTopics(cmd)
	if err != nil {
		return err
	}
	spec, err := parseOffsetSpec(cmd.String("at"))
	if err != nil {
		return err
	}
	parts, err := s.partitions(ctx, topics)
	if err != nil {
		return err
	}
	list := xkafka.NewTopicPartitionList()
	for _, tp := range parts {
		list.AddPartition(tp.Topic, tp.Partition, spec)
	}
	return xkafka.UseAdmin(s.clientConf(nil), func(a *xkafka.Admin) error {
		op, err := a.ListOffsets(ctx, list)
		if err != nil {
			return err
		}
		wctx, cancel := s.ctx(ctx)
		defer cancel()
		res, err := op.WaitContext(wctx)
		var partial *xkafka.PartitionErrors
		if err != nil && !errors.As(err, &partial) {
			return err
		}
		tw := newTable(cmd.Root().Writer, "TOPIC\tPARTITION\tOFFSET\tTIMESTAMP")
		for _, r := range res {
			tp := r.TopicPartition
			if tp.Error != nil {
				fmt.Fprintf(tw, "%s\t%d\terror: %v\t\n", tp.Topic, tp.Partition, tp.Error)
				continue
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", tp.Topic, tp.Partition, int64(tp.Offset), r.Timestamp)
		}
		if ferr := tw.Flush(); ferr != nil {
			return ferr
		}
		if partial != nil {
			return partial
		}
		return nil
	}, s.opts...)
}

func cmdTopicCreate(ctx context.Context, cmd *cli.Command, s *session) error {
	names := cmd.Args().Slice()
	if len(names) == 0 {
		return usagef("at least one topic is required")
	}
	cfg, err := parsePairs("topic-config", cmd.StringSlice("topic-config"))
	if err != nil {
		return err
	}
	specs := make([]xkafka.TopicSpecification, len(names))
	for i, name := range names {
		specs[i] = xkafka.TopicSpecification{
			Topic:             name,
			NumPartitions:     cmd.Int("partitions"),
			ReplicationFactor: cmd.Int("replication-factor"),
			Config:            cfg,
		}
	}
	return runTopicOp(ctx, cmd, s, "created", func(a *xkafka.Admin) (*xkafka.Operation[[]xkafka.TopicResult], error) {
		return a.CreateTopics(ctx, specs...)
	})
}

func cmdTopicDelete(ctx context.Context, cmd *cli.Command, s *session) error {
	names := cmd.Args().Slice()
	if len(names) == 0 {
		return usagef("at least one topic is required")
	}
	return runTopicOp(ctx, cmd, s, "deleted", func(a *xkafka.Admin) (*xkafka.Operation[[]xkafka.TopicResult], error) {
		return a.DeleteTopics(ctx, names...)
	})
}

// runTopicOp 提交主题操作并逐主题打印结果，任一主题失败时退出码为 1。
func runTopicOp(ctx context.Context, cmd *cli.Command, s *session, verb string,
	submit func(a *xkafka.Admin) (*xkafka.Operation[[]xkafka.TopicResult], error)) error {
	var failed int
	err := xkafka.UseAdmin(s.clientConf(nil), func(a *xkafka.Admin) error {
		op, err := submit(a)
		if err != nil {
			var kerr *xkafka.Error
			if errors.As(err, &kerr) && kerr.Kind == xkafka.KindValidation {
				return usagef("%v", err)
			}
			return err
		}
		wctx, cancel := s.ctx(ctx)
		defer cancel()
		res, err := op.WaitContext(wctx)
		if err != nil {
			return err
		}
		out, errOut := cmd.Root().Writer, cmd.Root().ErrWriter
		for _, r := range res {
			if r.Error != nil {
				failed++
				fmt.Fprintf(errOut, "%s: %v\n", r.Topic, r.Error)
				continue
			}
			fmt.Fprintf(out, "%s %s\n", verb, r.Topic)
		}
		return nil
	}, s.opts...)
	if err != nil {
		return err
	}
	if failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}

func cmdCluster(ctx context.Context, cmd *cli.Command, s *session) error {
	return xkafka.UseAdmin(s.clientConf(nil), func(a *xkafka.Admin) error {
		wctx, cancel := s.ctx(ctx)
		defer cancel()
		d, err := a.DescribeCluster(ctx).WaitContext(wctx)
		if err != nil {
			return err
		}
		out := cmd.Root().Writer
		fmt.Fprintf(out, "cluster: %s\ncontroller: %d\n", d.ClusterID, d.ControllerID)
		tw := newTable(out, "BROKER\tADDRESS")
		for _, b := range d.Brokers {
			fmt.Fprintf(tw, "%d\t%s:%d\n", b.ID, b.Host, b.Port)
		}
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "TOPIC\tPARTITIONS")
		names := make([]string, 0, len(d.Topics))
		for name := range d.Topics {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(tw, "%s\t%d\n", name, d.Topics[name])
		}
		return tw.Flush()
	}, s.opts...)
}
