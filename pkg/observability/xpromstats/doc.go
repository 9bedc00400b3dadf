// Package xpromstats 把客户端的统计 JSON 转成 Prometheus 指标。
//
// 统计 JSON 使用 librdkafka statistics 格式的子集，因此 xkafka 客户端与
// 直接使用 librdkafka 的程序都可以接入：
//
//	c := xpromstats.NewCollector("xkclient")
//	prometheus.MustRegister(c)
//	conf["statistics.interval.ms"] = 5000
//	p, _ := xkafka.NewProducer(conf, xkafka.WithEventSink(xpromstats.NewSink(c, nil)))
//
// Collector 保存每个客户端实例（以 name 区分）最近一次的快照，抓取时
// 以常量指标导出。客户端关闭后调用 Forget 移除它的序列。
package xpromstats
