package xkafka

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// PartitionAny 表示由分区器选择分区。
const PartitionAny int32 = -1

// Offset 分区偏移，负值为逻辑偏移。
type Offset int64

// 逻辑偏移。
const (
	OffsetBeginning Offset = -2
	OffsetEnd       Offset = -1
	OffsetStored    Offset = -1000
	OffsetInvalid   Offset = -1001
)

func (o Offset) String() string {
	switch o {
	case OffsetBeginning:
		return "beginning"
	case OffsetEnd:
		return "end"
	case OffsetStored:
		return "stored"
	case OffsetInvalid:
		return "unset"
	default:
		return strconv.FormatInt(int64(o), 10)
	}
}

// Valid 报告 o 是否为具体偏移。
func (o Offset) Valid() bool { return o >= 0 }

// TopicPartition 主题分区及其偏移。
type TopicPartition struct {
	Topic       string
	Partition   int32
	Offset      Offset
	Metadata    *string
	LeaderEpoch *int32
	Error       error
}

func (tp TopicPartition) String() string {
	s := fmt.Sprintf("%s[%d]@%s", tp.Topic, tp.Partition, tp.Offset)
	if tp.Error != nil {
		s += "(" + tp.Error.Error() + ")"
	}
	return s
}

func (tp TopicPartition) key() xbroker.TopicPartition {
	return xbroker.TopicPartition{Topic: tp.Topic, Partition: tp.Partition}
}

func fromKey(k xbroker.TopicPartition, off Offset) TopicPartition {
	return TopicPartition{Topic: k.Topic, Partition: k.Partition, Offset: off}
}

func compareTP(a, b TopicPartition) int {
	if c := cmp.Compare(a.Topic, b.Topic); c != 0 {
		return c
	}
	return cmp.Compare(a.Partition, b.Partition)
}

// TopicPartitionList 有序、无重复的分区集合。
//
// 每个 (Topic, Partition) 至多出现一次，Add 遇到重复时原位替换。
// 零值可用，但不是并发安全的。
type TopicPartitionList struct {
	items []TopicPartition
	index map[xbroker.TopicPartition]int
}

// NewTopicPartitionList 按顺序加入 tps，重复项以后者为准。
func NewTopicPartitionList(tps ...TopicPartition) *TopicPartitionList {
	l := &TopicPartitionList{}
	for _, tp := range tps {
		l.Add(tp)
	}
	return l
}

// Add 加入 tp；已存在时原位替换，保持首次出现的位置。
func (l *TopicPartitionList) Add(tp TopicPartition) *TopicPartitionList {
	if l.index == nil {
		l.index = make(map[xbroker.TopicPartition]int)
	}
	k := tp.key()
	if i, ok := l.index[k]; ok {
		l.items[i] = tp
		return l
	}
	l.index[k] = len(l.items)
	l.items = append(l.items, tp)
	return l
}

// AddPartition 以指定偏移加入分区。
func (l *TopicPartitionList) AddPartition(topic string, partition int32, offset Offset) *TopicPartitionList {
	return l.Add(TopicPartition{Topic: topic, Partition: partition, Offset: offset})
}

// Remove 删除分区，报告是否存在。
func (l *TopicPartitionList) Remove(topic string, partition int32) bool {
	if l == nil || l.index == nil {
		return false
	}
	k := xbroker.TopicPartition{Topic: topic, Partition: partition}
	i, ok := l.index[k]
	if !ok {
		return false
	}
	l.items = slices.Delete(l.items, i, i+1)
	delete(l.index, k)
	for j := i; j < len(l.items); j++ {
		l.index[l.items[j].key()] = j
	}
	return true
}

// Get 返回分区条目。
func (l *TopicPartitionList) Get(topic string, partition int32) (TopicPartition, bool) {
	if l == nil || l.index == nil {
		return TopicPartition{}, false
	}
	i, ok := l.index[xbroker.TopicPartition{Topic: topic, Partition: partition}]
	if !ok {
		return TopicPartition{}, false
	}
	return l.items[i], true
}

// Contains 报告分区是否在列表中。
func (l *TopicPartitionList) Contains(topic string, partition int32) bool {
	_, ok := l.Get(topic, partition)
	return ok
}

// Len 返回分区数。nil 列表长度为 0。
func (l *TopicPartitionList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Items 返回条目副本。
func (l *TopicPartitionList) Items() []TopicPartition {
	if l == nil {
		return nil
	}
	return slices.Clone(l.items)
}

// Topics 返回去重后的主题名，按首次出现排序。
func (l *TopicPartitionList) Topics() []string {
	if l == nil {
		return nil
	}
	var topics []string
	seen := make(map[string]struct{})
	for _, tp := range l.items {
		if _, ok := seen[tp.Topic]; !ok {
			seen[tp.Topic] = struct{}{}
			topics = append(topics, tp.Topic)
		}
	}
	return topics
}

// Clone 深拷贝顺序与条目。
func (l *TopicPartitionList) Clone() *TopicPartitionList {
	if l == nil {
		return nil
	}
	return NewTopicPartitionList(l.items...)
}

// Sort 按 (Topic, Partition) 原地排序。
func (l *TopicPartitionList) Sort() {
	if l == nil {
		return
	}
	slices.SortFunc(l.items, compareTP)
	for i, tp := range l.items {
		l.index[tp.key()] = i
	}
}

// ToMap 转换为 topic → partition → offset 映射。
// 映射不保留顺序、元数据与错误。
func (l *TopicPartitionList) ToMap() map[string]map[int32]Offset {
	m := make(map[string]map[int32]Offset)
	if l == nil {
		return m
	}
	for _, tp := range l.items {
		inner, ok := m[tp.Topic]
		if !ok {
			inner = make(map[int32]Offset)
			m[tp.Topic] = inner
		}
		inner[tp.Partition] = tp.Offset
	}
	return m
}

// FromMap 由映射构建列表，按 (Topic, Partition) 排序。
func FromMap(m map[string]map[int32]Offset) *TopicPartitionList {
	l := &TopicPartitionList{}
	for topic, inner := range m {
		for p, off := range inner {
			l.AddPartition(topic, p, off)
		}
	}
	l.Sort()
	return l
}

// Equal 集合相等：同一组分区且偏移一致，与顺序无关。
func (l *TopicPartitionList) Equal(o *TopicPartitionList) bool {
	if l.Len() != o.Len() {
		return false
	}
	if l.Len() == 0 {
		return true
	}
	for _, tp := range l.items {
		other, ok := o.Get(tp.Topic, tp.Partition)
		if !ok || other.Offset != tp.Offset {
			return false
		}
	}
	return true
}

func (l *TopicPartitionList) String() string {
	if l.Len() == 0 {
		return "[]"
	}
	parts := make([]string, 0, len(l.items))
	for _, tp := range l.items {
		parts = append(parts, tp.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Header 消息头，允许重复键。
type Header struct {
	Key   string
	Value []byte
}

func (h Header) String() string {
	return fmt.Sprintf("%s=%q", h.Key, h.Value)
}

// TimestampType 消息时间戳类型。
type TimestampType int

const (
	TimestampNotAvailable TimestampType = iota
	TimestampCreateTime
	TimestampLogAppendTime
)

// Message 生产或消费的消息。
type Message struct {
	TopicPartition TopicPartition
	Key            []byte
	Value          []byte
	Headers        []Header
	Timestamp      time.Time
	TimestampType  TimestampType
	// Opaque 原样带回投递报告。
	Opaque any
}

func (m *Message) String() string {
	return fmt.Sprintf("message %s key=%q (%d bytes)", m.TopicPartition, m.Key, len(m.Value))
}

// clone 复制消息，生产者持有快照，调用方可以继续修改原消息。
func (m *Message) clone() *Message {
	c := *m
	c.Key = slices.Clone(m.Key)
	c.Value = slices.Clone(m.Value)
	if len(m.Headers) > 0 {
		c.Headers = make([]Header, len(m.Headers))
		for i, h := range m.Headers {
			c.Headers[i] = Header{Key: h.Key, Value: slices.Clone(h.Value)}
		}
	}
	return &c
}

func (m *Message) size() int {
	n := len(m.Key) + len(m.Value)
	for _, h := range m.Headers {
		n += len(h.Key) + len(h.Value)
	}
	return n
}

// headerSeq 按原始顺序遍历消息头。
func (m *Message) headerSeq() iter.Seq2[string, []byte] {
	return func(yield func(string, []byte) bool) {
		for _, h := range m.Headers {
			if !yield(h.Key, h.Value) {
				return
			}
		}
	}
}

// setHeader 覆盖同名头，不存在时追加。
func (m *Message) setHeader(key, value string) {
	for i := range m.Headers {
		if m.Headers[i].Key == key {
			m.Headers[i].Value = []byte(value)
			return
		}
	}
	m.Headers = append(m.Headers, Header{Key: key, Value: []byte(value)})
}

func toBrokerHeaders(hs []Header) []xbroker.Header {
	if len(hs) == 0 {
		return nil
	}
	out := make([]xbroker.Header, len(hs))
	for i, h := range hs {
		out[i] = xbroker.Header{Key: h.Key, Value: h.Value}
	}
	return out
}

func fromBrokerHeaders(hs []xbroker.Header) []Header {
	if len(hs) == 0 {
		return nil
	}
	out := make([]Header, len(hs))
	for i, h := range hs {
		out[i] = Header{Key: h.Key, Value: h.Value}
	}
	return out
}
