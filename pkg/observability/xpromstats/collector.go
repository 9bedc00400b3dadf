package xpromstats

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoName 表示统计 JSON 缺少 name 字段，无法区分客户端实例。
var ErrNoName = errors.New("xpromstats: statistics without client name")

// snapshot 是统计 JSON 中被导出的部分。
type snapshot struct {
	Name     string                `json:"name"`
	ClientID string                `json:"client_id"`
	Type     string                `json:"type"`
	MsgCnt   float64               `json:"msg_cnt"`
	Tx       float64               `json:"tx"`
	TxMsgs   float64               `json:"txmsgs"`
	TxBytes  float64               `json:"txmsg_bytes"`
	TxErrs   float64               `json:"txerrs"`
	RxMsgs   float64               `json:"rxmsgs"`
	RxBytes  float64               `json:"rxmsg_bytes"`
	Topics   map[string]topicStats `json:"topics"`
	Cgrp     *groupStats           `json:"cgrp"`
}

type topicStats struct {
	Partitions map[string]partitionStats `json:"partitions"`
}

type partitionStats struct {
	Partition       int32   `json:"partition"`
	MsgqCnt         float64 `json:"msgq_cnt"`
	HiOffset        float64 `json:"hi_offset"`
	LoOffset        float64 `json:"lo_offset"`
	CommittedOffset float64 `json:"committed_offset"`
	ConsumerLag     float64 `json:"consumer_lag"`
}

type groupStats struct {
	State          string  `json:"state"`
	JoinState      string  `json:"join_state"`
	RebalanceCnt   float64 `json:"rebalance_cnt"`
	AssignmentSize float64 `json:"assignment_size"`
	Generation     float64 `json:"generation"`
}

// Collector 实现 prometheus.Collector。
type Collector struct {
	mu    sync.Mutex
	last  map[string]*snapshot
	descs descs
}

type descs struct {
	queued, tx, txMsgs, txBytes, txErrs, rxMsgs, rxBytes *prometheus.Desc
	partQueued, hi, lo, committed, lag                   *prometheus.Desc
	rebalances, assigned, generation                     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector 以 namespace 为指标前缀创建 Collector。
func NewCollector(namespace string) *Collector {
	client := []string{"client", "client_id", "type"}
	part := []string{"client", "topic", "partition"}
	group := []string{"client", "state", "join_state"}
	d := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		last: make(map[string]*snapshot),
		descs: descs{
			queued:     d("queued_messages", "Messages waiting in the client (produced, not yet delivered).", client),
			tx:         d("requests_total", "Requests sent to brokers.", client),
			txMsgs:     d("tx_messages_total", "Messages delivered to brokers.", client),
			txBytes:    d("tx_bytes_total", "Payload bytes delivered to brokers.", client),
			txErrs:     d("tx_errors_total", "Failed message deliveries.", client),
			rxMsgs:     d("rx_messages_total", "Messages fetched from brokers.", client),
			rxBytes:    d("rx_bytes_total", "Payload bytes fetched from brokers.", client),
			partQueued: d("partition_queued_messages", "Messages queued for a partition.", part),
			hi:         d("partition_high_watermark", "Last known high watermark.", part),
			lo:         d("partition_low_watermark", "Last known low watermark.", part),
			committed:  d("partition_committed_offset", "Last committed offset.", part),
			lag:        d("partition_consumer_lag", "High watermark minus committed offset.", part),
			rebalances: d("group_rebalances_total", "Rebalances seen by the consumer.", group),
			assigned:   d("group_assigned_partitions", "Partitions currently assigned.", group),
			generation: d("group_generation", "Current group generation.", group),
		},
	}
}

// Update 解析 data 并替换同名客户端的快照。
func (c *Collector) Update(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("xpromstats: decode statistics: %w", err)
	}
	if s.Name == "" {
		return ErrNoName
	}
	c.mu.Lock()
	c.last[s.Name] = &s
	c.mu.Unlock()
	return nil
}

// Forget 移除客户端 name 的所有序列。
func (c *Collector) Forget(name string) {
	c.mu.Lock()
	delete(c.last, name)
	c.mu.Unlock()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	d := c.descs
	for _, desc := range []*prometheus.Desc{
		d.queued, d.tx, d.txMsgs, d.txBytes, d.txErrs, d.rxMsgs, d.rxBytes,
		d.partQueued, d.hi, d.lo, d.committed, d.lag,
		d.rebalances, d.assigned, d.generation,
	} {
		ch <- desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	snaps := make([]*snapshot, 0, len(c.last))
	for _, s := range c.last {
		snaps = append(snaps, s)
	}
	c.mu.Unlock()

	d := c.descs
	for _, s := range snaps {
		labels := []string{s.Name, s.ClientID, s.Type}
		ch <- prometheus.MustNewConstMetric(d.queued, prometheus.GaugeValue, s.MsgCnt, labels...)
		ch <- prometheus.MustNewConstMetric(d.tx, prometheus.CounterValue, s.Tx, labels...)
		ch <- prometheus.MustNewConstMetric(d.txMsgs, prometheus.CounterValue, s.TxMsgs, labels...)
		ch <- prometheus.MustNewConstMetric(d.txBytes, prometheus.CounterValue, s.TxBytes, labels...)
		ch <- prometheus.MustNewConstMetric(d.txErrs, prometheus.CounterValue, s.TxErrs, labels...)
		ch <- prometheus.MustNewConstMetric(d.rxMsgs, prometheus.CounterValue, s.RxMsgs, labels...)
		ch <- prometheus.MustNewConstMetric(d.rxBytes, prometheus.CounterValue, s.RxBytes, labels...)

		for topic, ts := range s.Topics {
			for key, ps := range ts.Partitions {
				// librdkafka 的 -1 分区是未分配消息的内部队列
				if ps.Partition < 0 || key == "-1" {
					continue
				}
				pl := []string{s.Name, topic, strconv.Itoa(int(ps.Partition))}
				ch <- prometheus.MustNewConstMetric(d.partQueued, prometheus.GaugeValue, ps.MsgqCnt, pl...)
				gaugeIfKnown(ch, d.hi, ps.HiOffset, pl)
				gaugeIfKnown(ch, d.lo, ps.LoOffset, pl)
				gaugeIfKnown(ch, d.committed, ps.CommittedOffset, pl)
				gaugeIfKnown(ch, d.lag, ps.ConsumerLag, pl)
			}
		}

		if g := s.Cgrp; g != nil {
			gl := []string{s.Name, g.State, g.JoinState}
			ch <- prometheus.MustNewConstMetric(d.rebalances, prometheus.CounterValue, g.RebalanceCnt, gl...)
			ch <- prometheus.MustNewConstMetric(d.assigned, prometheus.GaugeValue, g.AssignmentSize, gl...)
			ch <- prometheus.MustNewConstMetric(d.generation, prometheus.GaugeValue, g.Generation, gl...)
		}
	}
}

// gaugeIfKnown 跳过 -1（未知）值。
func gaugeIfKnown(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labels []string) {
	if v < 0 {
		return
	}
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
}
