// Package xlru 提供带 TTL 的泛型 LRU 缓存。
//
// 基于 github.com/hashicorp/golang-lru/v2/expirable。上游在 TTL > 0 时
// 启动的清理 goroutine 没有公开的停止方法，[Cache.Close] 负责停止它；
// 每个客户端持有一个缓存，客户端关闭时必须关闭缓存，否则 goroutine 泄漏。
//
// Get/Peek 过滤已过期条目，Len 可能包含尚未被后台清理的条目。
package xlru
