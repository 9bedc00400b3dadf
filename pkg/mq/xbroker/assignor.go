package xbroker

import (
	"cmp"
	"slices"
)

// Member 组成员及其订阅。
type Member struct {
	ID     string
	Topics []string
}

func (m Member) subscribes(topic string) bool {
	return slices.Contains(m.Topics, topic)
}

// Assignor 计算组内分配。
//
// partitions 为主题到分区数的映射，current 为上一代分配（首次为 nil）。
// 返回值对每个成员都有条目（可能为空切片），分区按 (topic, partition) 排序。
type Assignor interface {
	Name() string
	Protocol() Protocol
	Assign(members []Member, partitions map[string]int32, current map[string][]TopicPartition) map[string][]TopicPartition
}

// AssignorByName 按 partition.assignment.strategy 名称查找分配器。
func AssignorByName(name string) (Assignor, bool) {
	switch name {
	case "range":
		return RangeAssignor{}, true
	case "roundrobin":
		return RoundRobinAssignor{}, true
	case "cooperative-sticky":
		return StickyAssignor{}, true
	default:
		return nil, false
	}
}

func sortedMembers(members []Member) []Member {
	out := slices.Clone(members)
	slices.SortFunc(out, func(a, b Member) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func sortedTopics(partitions map[string]int32) []string {
	topics := make([]string, 0, len(partitions))
	for t := range partitions {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

func emptyAssignment(members []Member) map[string][]TopicPartition {
	out := make(map[string][]TopicPartition, len(members))
	for _, m := range members {
		out[m.ID] = []TopicPartition{}
	}
	return out
}

func finish(out map[string][]TopicPartition) map[string][]TopicPartition {
	for _, tps := range out {
		SortPartitions(tps)
	}
	return out
}

// RangeAssignor 按主题把分区切成连续区间，靠前的成员多分一个。
type RangeAssignor struct{}

func (RangeAssignor) Name() string       { return "range" }
func (RangeAssignor) Protocol() Protocol { return ProtocolEager }

func (RangeAssignor) Assign(members []Member, partitions map[string]int32, _ map[string][]TopicPartition) map[string][]TopicPartition {
	members = sortedMembers(members)
	out := emptyAssignment(members)
	for _, topic := range sortedTopics(partitions) {
		var subs []string
		for _, m := range members {
			if m.subscribes(topic) {
				subs = append(subs, m.ID)
			}
		}
		if len(subs) == 0 {
			continue
		}
		n := int(partitions[topic])
		per, extra := n/len(subs), n%len(subs)
		p := 0
		for i, id := range subs {
			count := per
			if i < extra {
				count++
			}
			for range count {
				out[id] = append(out[id], TopicPartition{Topic: topic, Partition: int32(p)})
				p++
			}
		}
	}
	return finish(out)
}

// RoundRobinAssignor 将全部分区按序轮流分给订阅了该主题的成员。
type RoundRobinAssignor struct{}

func (RoundRobinAssignor) Name() string       { return "roundrobin" }
func (RoundRobinAssignor) Protocol() Protocol { return ProtocolEager }

func (RoundRobinAssignor) Assign(members []Member, partitions map[string]int32, _ map[string][]TopicPartition) map[string][]TopicPartition {
	members = sortedMembers(members)
	out := emptyAssignment(members)
	if len(members) == 0 {
		return out
	}
	next := 0
	for _, topic := range sortedTopics(partitions) {
		for p := range partitions[topic] {
			for range members {
				m := members[next%len(members)]
				next++
				if m.subscribes(topic) {
					out[m.ID] = append(out[m.ID], TopicPartition{Topic: topic, Partition: p})
					break
				}
			}
		}
	}
	return finish(out)
}

// StickyAssignor 尽量保留上一代分配，只移动恢复均衡所需的分区。
// 用于 cooperative 协议。
type StickyAssignor struct{}

func (StickyAssignor) Name() string       { return "cooperative-sticky" }
func (StickyAssignor) Protocol() Protocol { return ProtocolCooperative }

func (StickyAssignor) Assign(members []Member, partitions map[string]int32, current map[string][]TopicPartition) map[string][]TopicPartition {
	members = sortedMembers(members)
	out := emptyAssignment(members)
	if len(members) == 0 {
		return out
	}

	byID := make(map[string]Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}
	exists := func(tp TopicPartition) bool {
		n, ok := partitions[tp.Topic]
		return ok && tp.Partition >= 0 && tp.Partition < n
	}

	total := 0
	for _, n := range partitions {
		total += int(n)
	}
	minQuota := total / len(members)
	maxQuota := minQuota
	if total%len(members) != 0 {
		maxQuota++
	}
	// 不能整除时，最多 slots 个成员可以持有 maxQuota 个分区
	slots := total % len(members)

	// 1. 保留仍然有效的旧分配
	owned := make(map[TopicPartition]bool)
	for _, m := range members {
		prev := slices.Clone(current[m.ID])
		SortPartitions(prev)
		for _, tp := range prev {
			if !exists(tp) || !byID[m.ID].subscribes(tp.Topic) || owned[tp] {
				continue
			}
			out[m.ID] = append(out[m.ID], tp)
			owned[tp] = true
		}
	}

	// 2. 收回超额分区
	var pool []TopicPartition
	for _, m := range members {
		limit := minQuota
		if slots > 0 && len(out[m.ID]) >= maxQuota {
			limit = maxQuota
			slots--
		}
		if tps := out[m.ID]; len(tps) > limit {
			pool = append(pool, tps[limit:]...)
			out[m.ID] = tps[:limit:limit]
		}
	}
	for _, tp := range pool {
		delete(owned, tp)
	}

	// 3. 未分配的分区交给负载最低的可用成员
	var unassigned []TopicPartition
	for _, topic := range sortedTopics(partitions) {
		for p := range partitions[topic] {
			tp := TopicPartition{Topic: topic, Partition: p}
			if !owned[tp] {
				unassigned = append(unassigned, tp)
			}
		}
	}
	for _, tp := range unassigned {
		var best string
		for _, m := range members {
			if !m.subscribes(tp.Topic) {
				continue
			}
			if best == "" || len(out[m.ID]) < len(out[best]) {
				best = m.ID
			}
		}
		if best != "" {
			out[best] = append(out[best], tp)
		}
	}
	return finish(out)
}
