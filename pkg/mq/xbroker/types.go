package xbroker

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"
)

// TopicPartition 标识一个主题分区。
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s[%d]", tp.Topic, tp.Partition)
}

// Compare 按 (Topic, Partition) 排序。
func (tp TopicPartition) Compare(other TopicPartition) int {
	if c := cmp.Compare(tp.Topic, other.Topic); c != 0 {
		return c
	}
	return cmp.Compare(tp.Partition, other.Partition)
}

// SortPartitions 原地排序。
func SortPartitions(tps []TopicPartition) {
	slices.SortFunc(tps, TopicPartition.Compare)
}

// Header 消息头，允许重复键。
type Header struct {
	Key   string
	Value []byte
}

// Record 待写入的记录。
type Record struct {
	Key       []byte
	Value     []byte
	Headers   []Header
	Timestamp time.Time
}

// ProduceResult 单条记录的写入结果。
type ProduceResult struct {
	Offset    int64
	Timestamp time.Time
	Err       error
}

// FetchedRecord 读到的记录。
type FetchedRecord struct {
	Record
	Offset      int64
	LeaderEpoch int32
}

// Watermarks 分区水位。High 为下一条将写入的偏移。
type Watermarks struct {
	Low  int64
	High int64
}

// FetchResult 一次拉取的结果。
type FetchResult struct {
	Records    []FetchedRecord
	Watermarks Watermarks
}

// OffsetSpec 偏移查询条件：OffsetSpecEarliest、OffsetSpecLatest 或毫秒时间戳。
type OffsetSpec int64

const (
	OffsetSpecEarliest OffsetSpec = -2
	OffsetSpecLatest   OffsetSpec = -1
)

// OffsetSpecForTimestamp 查询时间戳不早于 ms 的第一条记录。
func OffsetSpecForTimestamp(ms int64) OffsetSpec {
	return OffsetSpec(max(ms, 0))
}

// ListedOffset 偏移查询结果。没有满足条件的记录时 Offset 为 -1。
type ListedOffset struct {
	Offset      int64
	Timestamp   int64
	LeaderEpoch int32
}

// NoCommittedOffset 表示消费组在该分区没有提交记录。
const NoCommittedOffset int64 = -1

// OffsetAndMetadata 提交的偏移与元数据。
type OffsetAndMetadata struct {
	Offset      int64
	Metadata    string
	LeaderEpoch int32
}

// TopicSpec 创建主题的参数。
type TopicSpec struct {
	Name              string
	NumPartitions     int32
	ReplicationFactor int16
	Config            map[string]string
}

// BrokerMetadata broker 节点信息。
type BrokerMetadata struct {
	ID   int32
	Host string
	Port int
}

// PartitionMetadata 分区元数据。
type PartitionMetadata struct {
	ID       int32
	Leader   int32
	Replicas []int32
	ISR      []int32
	Err      error
}

// TopicMetadata 主题元数据。主题不存在时 Err 非 nil。
type TopicMetadata struct {
	Name       string
	Partitions []PartitionMetadata
	Err        error
}

// Metadata 集群元数据。
type Metadata struct {
	ClusterID    string
	ControllerID int32
	Brokers      []BrokerMetadata
	Topics       map[string]TopicMetadata
}

// Protocol 再均衡协议。
type Protocol int

const (
	ProtocolEager Protocol = iota
	ProtocolCooperative
)

func (p Protocol) String() string {
	if p == ProtocolCooperative {
		return "COOPERATIVE"
	}
	return "EAGER"
}

// JoinRequest 加入消费组的参数。
type JoinRequest struct {
	Group          string
	InstanceID     string
	Topics         []string
	Assignor       string
	Protocol       Protocol
	SessionTimeout time.Duration
}

// GroupEvent 协调器下发的分配。
//
// Lost 为 true 表示成员已被协调器逐出（如会话超时），Assignment 为空，
// 会话随后失效。Err 非 nil 表示会话因错误终止。
type GroupEvent struct {
	Generation int32
	Assignment []TopicPartition
	Lost       bool
	Err        error
}

// GroupSession 一次组成员身份。
type GroupSession interface {
	MemberID() string
	// Events 推送分配事件，会话结束后关闭。
	Events() <-chan GroupEvent
	// Leave 主动离组。
	Leave(ctx context.Context) error
}
