package xkafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/omeyang/xkclient/internal/mqcore"
	"github.com/omeyang/xkclient/pkg/mq/xbroker"
	"github.com/omeyang/xkclient/pkg/resilience/xretry"
)

// 重导出共享错误
var (
	// ErrNilMessage 表示传入的消息为空。
	ErrNilMessage = mqcore.ErrNilMessage

	// ErrNilHandler 表示传入的处理函数为空。
	ErrNilHandler = mqcore.ErrNilHandler

	// ErrClosed 表示客户端已关闭。所有关闭错误都满足 errors.Is(err, ErrClosed)。
	ErrClosed = mqcore.ErrClosed
)

var (
	// ErrRebalanceCallback 表示再均衡回调返回错误或 panic。
	ErrRebalanceCallback = errors.New("xkafka: rebalance callback failed")

	// ErrNoTransport 表示既没有注入 Transport，也没有可用的 Factory。
	ErrNoTransport = errors.New("xkafka: no transport configured")
)

// ErrorCode 错误码。
//
// 负数为本地错误，编号沿用 librdkafka；非负数为 broker 错误码原样透传。
type ErrorCode int

// 本地错误码。
const (
	ErrDestroy          ErrorCode = -197
	ErrFail             ErrorCode = -196
	ErrTransport        ErrorCode = -195
	ErrMsgTimedOut      ErrorCode = -192
	ErrPartitionEOF     ErrorCode = -191
	ErrUnknownPartition ErrorCode = -190
	ErrUnknownTopic     ErrorCode = -188
	ErrInvalidArg       ErrorCode = -186
	ErrTimedOut         ErrorCode = -185
	ErrQueueFull        ErrorCode = -184
	ErrState            ErrorCode = -172
	ErrAuthentication   ErrorCode = -169
	ErrNoOffset         ErrorCode = -168
	ErrPurgeQueue       ErrorCode = -152
	ErrFatal            ErrorCode = -150
	ErrAssignmentLost   ErrorCode = -142
	ErrAutoOffsetReset  ErrorCode = -140
	ErrNoError          ErrorCode = 0
)

// 常用 broker 错误码。
const (
	ErrOffsetOutOfRange         = ErrorCode(xbroker.ErrOffsetOutOfRange)
	ErrUnknownTopicOrPartition  = ErrorCode(xbroker.ErrUnknownTopicOrPartition)
	ErrNotLeaderForPartition    = ErrorCode(xbroker.ErrNotLeaderForPartition)
	ErrRequestTimedOut          = ErrorCode(xbroker.ErrRequestTimedOut)
	ErrMsgSizeTooLarge          = ErrorCode(xbroker.ErrMessageSizeTooLarge)
	ErrTopicAlreadyExists       = ErrorCode(xbroker.ErrTopicAlreadyExists)
	ErrInvalidPartitions        = ErrorCode(xbroker.ErrInvalidPartitions)
	ErrOutOfOrderSequenceNumber = ErrorCode(xbroker.ErrOutOfOrderSequenceNumber)
	ErrInvalidProducerEpoch     = ErrorCode(xbroker.ErrInvalidProducerEpoch)
	ErrProducerFenced           = ErrorCode(xbroker.ErrProducerFenced)
)

var localCodeNames = map[ErrorCode]string{
	ErrDestroy:          "_DESTROY",
	ErrFail:             "_FAIL",
	ErrTransport:        "_TRANSPORT",
	ErrMsgTimedOut:      "_MSG_TIMED_OUT",
	ErrPartitionEOF:     "_PARTITION_EOF",
	ErrUnknownPartition: "_UNKNOWN_PARTITION",
	ErrUnknownTopic:     "_UNKNOWN_TOPIC",
	ErrInvalidArg:       "_INVALID_ARG",
	ErrTimedOut:         "_TIMED_OUT",
	ErrQueueFull:        "_QUEUE_FULL",
	ErrAuthentication:   "_AUTHENTICATION",
	ErrState:            "_STATE",
	ErrNoOffset:         "_NO_OFFSET",
	ErrPurgeQueue:       "_PURGE_QUEUE",
	ErrFatal:            "_FATAL",
	ErrAssignmentLost:   "_ASSIGNMENT_LOST",
	ErrAutoOffsetReset:  "_AUTO_OFFSET_RESET",
}

func (c ErrorCode) String() string {
	if c >= 0 {
		return xbroker.ErrorCode(c).String()
	}
	if name, ok := localCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("_ERROR_%d", int(c))
}

// Kind 错误分类。
type Kind int

const (
	KindLocal Kind = iota
	KindValidation
	KindBroker
	KindTimeout
	KindFatal
	KindClosed
	KindConfig
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBroker:
		return "broker"
	case KindTimeout:
		return "timeout"
	case KindFatal:
		return "fatal"
	case KindClosed:
		return "closed"
	case KindConfig:
		return "config"
	case KindState:
		return "state"
	default:
		return "local"
	}
}

// Error 客户端错误。
type Error struct {
	Code      ErrorCode
	Kind      Kind
	Op        string
	Message   string
	Fatal     bool
	Retriable bool

	cause error
}

func newError(kind Kind, code ErrorCode, op, msg string) *Error {
	return &Error{Code: code, Kind: kind, Op: op, Message: msg}
}

func newErrorf(kind Kind, code ErrorCode, op, format string, args ...any) *Error {
	return newError(kind, code, op, fmt.Sprintf(format, args...))
}

func newClosedError(op string) *Error {
	return &Error{Code: ErrDestroy, Kind: KindClosed, Op: op, Message: "client closed", cause: ErrClosed}
}

func newTimeoutError(op string) *Error {
	return &Error{Code: ErrTimedOut, Kind: KindTimeout, Op: op, Message: "timed out", Retriable: true}
}

func newConfigError(key, format string, args ...any) *Error {
	return &Error{
		Code:    ErrInvalidArg,
		Kind:    KindConfig,
		Op:      "config",
		Message: key + ": " + fmt.Sprintf(format, args...),
	}
}

// fromBroker 把 Transport 错误转换为 *Error。
// broker 错误保留错误码与消息文本，其余视为传输故障。
func fromBroker(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke
	}
	var be *xbroker.Error
	if errors.As(err, &be) {
		msg := be.Message
		if msg == "" {
			msg = be.Code.String()
		}
		return &Error{
			Code:      ErrorCode(be.Code),
			Kind:      KindBroker,
			Op:        op,
			Message:   msg,
			Retriable: be.Code.Retriable(),
			cause:     err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e := newTimeoutError(op)
		e.cause = err
		return e
	}
	return &Error{Code: ErrTransport, Kind: KindLocal, Op: op, Message: err.Error(), Retriable: xretry.IsRetryable(err), cause: err}
}

// withOp 返回 Op 替换后的副本，用于粘性错误在不同调用处返回。
func (e *Error) withOp(op string) *Error {
	c := *e
	c.Op = op
	return &c
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("xkafka: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Code.String())
	}
	return b.String()
}

// String 实现 Event。
func (e *Error) String() string { return e.Error() }

// Unwrap 返回底层原因。
func (e *Error) Unwrap() error { return e.cause }

// Is 按错误码匹配另一个 *Error。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable 实现 xretry.RetryableError。
func (e *Error) Retryable() bool { return e.Retriable && !e.Fatal }

// IsTimeout 报告 err 是否为超时错误。
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && (e.Kind == KindTimeout || e.Code == ErrTimedOut || e.Code == ErrMsgTimedOut)
}

// IsFatal 报告 err 是否为致命错误。
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Fatal
}

// IsClosed 报告 err 是否因客户端关闭产生。
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsRetriable 报告 err 是否可重试。
func IsRetriable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// CodeOf 返回 err 链中的错误码，没有时返回 ErrNoError。
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if code, ok := xbroker.CodeOf(err); ok {
		return ErrorCode(code)
	}
	return ErrNoError
}

// PartitionErrors 聚合多分区操作中的逐分区失败。
// Partitions 中每个元素的 Error 字段非 nil。
type PartitionErrors struct {
	Op         string
	Partitions []TopicPartition
}

func (e *PartitionErrors) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "xkafka: %s: %d partition(s) failed", e.Op, len(e.Partitions))
	for i, tp := range e.Partitions {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s[%d]: %v", tp.Topic, tp.Partition, tp.Error)
	}
	return b.String()
}

// Unwrap 返回逐分区错误，支持 errors.Is/As 逐个匹配。
func (e *PartitionErrors) Unwrap() []error {
	errs := make([]error, 0, len(e.Partitions))
	for _, tp := range e.Partitions {
		errs = append(errs, tp.Error)
	}
	return errs
}

func partitionErrors(op string, tps []TopicPartition) error {
	var failed []TopicPartition
	for _, tp := range tps {
		if tp.Error != nil {
			failed = append(failed, tp)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &PartitionErrors{Op: op, Partitions: failed}
}
