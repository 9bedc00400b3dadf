package xlog

import (
	"log/slog"
	"time"
)

// 标准字段名。
const (
	KeyError      = "error"
	KeyStack      = "stack"
	KeyDuration   = "duration"
	KeyCount      = "count"
	KeyComponent  = "component"
	KeyOperation  = "operation"
	KeyClient     = "client"
	KeyTopic      = "topic"
	KeyPartition  = "partition"
	KeyOffset     = "offset"
	KeyGroup      = "group"
	KeyMember     = "member"
	KeyGeneration = "generation"
)

// Err 记录错误，nil 得到空属性（slog 会忽略）。
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 以可读形式记录耗时，例如 "1.5s"。
func Duration(d time.Duration) slog.Attr { return slog.String(KeyDuration, d.String()) }

func Count(n int64) slog.Attr { return slog.Int64(KeyCount, n) }

func Component(name string) slog.Attr { return slog.String(KeyComponent, name) }

func Operation(name string) slog.Attr { return slog.String(KeyOperation, name) }

// Client 记录客户端实例名，例如 "rdkafka#consumer-3"。
func Client(name string) slog.Attr { return slog.String(KeyClient, name) }

func Topic(name string) slog.Attr { return slog.String(KeyTopic, name) }

func Partition(p int32) slog.Attr { return slog.Int(KeyPartition, int(p)) }

func Offset(o int64) slog.Attr { return slog.Int64(KeyOffset, o) }

func Group(id string) slog.Attr { return slog.String(KeyGroup, id) }

func Member(id string) slog.Attr { return slog.String(KeyMember, id) }

func Generation(g int32) slog.Attr { return slog.Int(KeyGeneration, int(g)) }
