// Package util 收纳客户端内部复用的通用组件。
//
//   - xlru: 带 TTL 的 LRU 缓存，可关闭后台清理 goroutine
package util
