package xkafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// statsDoc 统计 JSON，字段名沿用 librdkafka 的 statistics 格式子集。
type statsDoc struct {
	Name     string                 `json:"name"`
	ClientID string                 `json:"client_id"`
	Type     string                 `json:"type"`
	TS       int64                  `json:"ts"`
	Time     int64                  `json:"time"`
	MsgCnt   int                    `json:"msg_cnt"`
	Tx       int64                  `json:"tx"`
	TxMsgs   int64                  `json:"txmsgs"`
	TxBytes  int64                  `json:"txmsg_bytes"`
	TxErrs   int64                  `json:"txerrs"`
	RxMsgs   int64                  `json:"rxmsgs"`
	RxBytes  int64                  `json:"rxmsg_bytes"`
	Topics   map[string]*topicStats `json:"topics"`
	Cgrp     *cgrpStats             `json:"cgrp,omitempty"`
}

type topicStats struct {
	Topic      string                     `json:"topic"`
	Partitions map[string]*partitionStats `json:"partitions"`
}

type partitionStats struct {
	Partition       int32  `json:"partition"`
	MsgqCnt         int    `json:"msgq_cnt"`
	FetchState      string `json:"fetch_state,omitempty"`
	HiOffset        int64  `json:"hi_offset"`
	LoOffset        int64  `json:"lo_offset"`
	AppOffset       int64  `json:"app_offset"`
	StoredOffset    int64  `json:"stored_offset"`
	CommittedOffset int64  `json:"committed_offset"`
	ConsumerLag     int64  `json:"consumer_lag"`
}

type cgrpStats struct {
	State          string `json:"state"`
	RebalanceState string `json:"join_state"`
	RebalanceCnt   int    `json:"rebalance_cnt"`
	AssignmentSize int    `json:"assignment_size"`
	Generation     int32  `json:"generation"`
}

func (d *statsDoc) partition(topic string, p int32) *partitionStats {
	if d.Topics == nil {
		d.Topics = make(map[string]*topicStats)
	}
	ts, ok := d.Topics[topic]
	if !ok {
		ts = &topicStats{Topic: topic, Partitions: make(map[string]*partitionStats)}
		d.Topics[topic] = ts
	}
	key := strconv.Itoa(int(p))
	ps, ok := ts.Partitions[key]
	if !ok {
		ps = &partitionStats{
			Partition: p, HiOffset: -1, LoOffset: -1, AppOffset: -1,
			StoredOffset: -1, CommittedOffset: -1, ConsumerLag: -1,
		}
		ts.Partitions[key] = ps
	}
	return ps
}

// buildStats 在 serve goroutine 上生成一次统计快照。
func (h *handle) buildStats() *statsDoc {
	now := time.Now()
	doc := &statsDoc{
		Name:     h.name,
		ClientID: h.conf.clientID,
		Type:     h.role.String(),
		TS:       now.UnixMicro(),
		Time:     now.Unix(),
		Tx:       h.stats.requests.Load(),
		TxMsgs:   h.stats.txMsgs.Load(),
		TxBytes:  h.stats.txBytes.Load(),
		TxErrs:   h.stats.txErrs.Load(),
		RxMsgs:   h.stats.rxMsgs.Load(),
		RxBytes:  h.stats.rxBytes.Load(),
		Topics:   make(map[string]*topicStats),
	}
	h.eng.appendStats(doc)
	return doc
}

func (h *handle) emitStats() {
	data, err := json.Marshal(h.buildStats())
	if err != nil {
		h.log(logWarning, "STATS", "marshal statistics: "+err.Error())
		return
	}
	h.mainQ.Push(&Stats{JSON: string(data)})
}

// statsJSON 在 serve goroutine 上生成一次统计快照并返回 JSON。
func (h *handle) statsJSON(ctx context.Context) (string, error) {
	v, err := h.call(ctx, "stats", h.conf.requestTimeout, func(context.Context) (any, error) {
		data, err := json.Marshal(h.buildStats())
		if err != nil {
			return nil, newErrorf(KindLocal, ErrFail, "stats", "marshal statistics: %v", err)
		}
		return string(data), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
