package xkafka

import (
	"context"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/util/xlru"
)

const metadataCacheSize = 4096

// topicInfo 缓存的主题元数据。err 非 nil 表示 broker 报告主题不可用。
type topicInfo struct {
	partitions int32
	err        error
}

// metadataCache 主题元数据缓存。
// 条目在 topic.metadata.refresh.interval.ms 后过期；并发刷新同一组主题只发一次请求。
type metadataCache struct {
	t       xbroker.Transport
	timeout time.Duration
	lru     *xlru.Cache[string, topicInfo]
	sf      singleflight.Group
}

func newMetadataCache(t xbroker.Transport, ttl, timeout time.Duration) (*metadataCache, error) {
	lru, err := xlru.New[string, topicInfo](xlru.Config{Size: metadataCacheSize, TTL: max(ttl, 0)})
	if err != nil {
		return nil, err
	}
	return &metadataCache{t: t, timeout: timeout, lru: lru}, nil
}

// lookup 只读缓存。
func (c *metadataCache) lookup(topic string) (topicInfo, bool) {
	return c.lru.Get(topic)
}

// partitions 返回已知可用主题的分区数。
func (c *metadataCache) partitions(topic string) (int32, bool) {
	info, ok := c.lru.Get(topic)
	if !ok || info.err != nil {
		return 0, false
	}
	return info.partitions, true
}

// refresh 向 broker 请求元数据并更新缓存。topics 为空时请求全部主题。
func (c *metadataCache) refresh(ctx context.Context, topics []string) (*xbroker.Metadata, error) {
	sorted := slices.Clone(topics)
	slices.Sort(sorted)
	key := strings.Join(sorted, ",")

	v, err, _ := c.sf.Do(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		md, err := c.t.Metadata(rctx, sorted)
		if err != nil {
			return nil, err
		}
		for name, tm := range md.Topics {
			c.lru.Set(name, topicInfo{partitions: int32(len(tm.Partitions)), err: tm.Err})
		}
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	md, _ := v.(*xbroker.Metadata)
	return md, nil
}

// invalidate 删除条目，下次使用时重新拉取。
func (c *metadataCache) invalidate(topic string) {
	c.lru.Delete(topic)
}

// close 释放缓存的过期清理 goroutine。
func (c *metadataCache) close() {
	c.lru.Close()
}
