// Package xconf 加载 xkclient 的配置文件，基于 koanf。
//
// 一份配置由文件（YAML 或 JSON）与可选的环境变量覆盖组成：
//
//	cfg, err := xconf.New("/etc/xkcat/client.yaml", xconf.WithEnvPrefix("XKCLIENT_"))
//	conf, err := xkafka.ConfigFromXconf(cfg, "kafka")
//
// 环境变量 XKCLIENT_KAFKA_BOOTSTRAP_SERVERS=b1:9092 覆盖文件中的
// kafka.bootstrap.servers。
//
// # 快照
//
// Client 返回的 *koanf.Koanf 是不可变快照。Reload 构建新快照后原子替换，
// 并发 Reload 串行执行。需要最新值时每次重新调用 Client。
//
// # 监视
//
// Watch 基于 fsnotify 监视文件所在目录，带防抖；每次重载（成功或失败）
// 都会回调。从字节创建的配置不能监视。
package xconf
