package xbroker

import (
	"errors"
	"fmt"
)

// ErrTransportClosed 表示传输已关闭。
var ErrTransportClosed = errors.New("xbroker: transport closed")

// ErrorCode broker 协议错误码。
type ErrorCode int16

const (
	ErrUnknownServerError         ErrorCode = -1
	ErrNone                       ErrorCode = 0
	ErrOffsetOutOfRange           ErrorCode = 1
	ErrCorruptMessage             ErrorCode = 2
	ErrUnknownTopicOrPartition    ErrorCode = 3
	ErrLeaderNotAvailable         ErrorCode = 5
	ErrNotLeaderForPartition      ErrorCode = 6
	ErrRequestTimedOut            ErrorCode = 7
	ErrBrokerNotAvailable         ErrorCode = 8
	ErrMessageSizeTooLarge        ErrorCode = 10
	ErrNetworkException           ErrorCode = 13
	ErrCoordinatorNotAvailable    ErrorCode = 15
	ErrNotCoordinator             ErrorCode = 16
	ErrInvalidTopic               ErrorCode = 17
	ErrRecordListTooLarge         ErrorCode = 18
	ErrNotEnoughReplicas          ErrorCode = 19
	ErrIllegalGeneration          ErrorCode = 22
	ErrUnknownMemberID            ErrorCode = 25
	ErrRebalanceInProgress        ErrorCode = 27
	ErrTopicAuthorizationFailed   ErrorCode = 29
	ErrGroupAuthorizationFailed   ErrorCode = 30
	ErrTopicAlreadyExists         ErrorCode = 36
	ErrInvalidPartitions          ErrorCode = 37
	ErrInvalidReplicationFactor   ErrorCode = 38
	ErrOutOfOrderSequenceNumber   ErrorCode = 45
	ErrDuplicateSequenceNumber    ErrorCode = 46
	ErrInvalidProducerEpoch       ErrorCode = 47
	ErrUnknownProducerID          ErrorCode = 59
	ErrFencedLeaderEpoch          ErrorCode = 74
	ErrProducerFenced             ErrorCode = 90
)

var codeNames = map[ErrorCode]string{
	ErrUnknownServerError:       "UNKNOWN_SERVER_ERROR",
	ErrNone:                     "NONE",
	ErrOffsetOutOfRange:         "OFFSET_OUT_OF_RANGE",
	ErrCorruptMessage:           "CORRUPT_MESSAGE",
	ErrUnknownTopicOrPartition:  "UNKNOWN_TOPIC_OR_PARTITION",
	ErrLeaderNotAvailable:       "LEADER_NOT_AVAILABLE",
	ErrNotLeaderForPartition:    "NOT_LEADER_OR_FOLLOWER",
	ErrRequestTimedOut:          "REQUEST_TIMED_OUT",
	ErrBrokerNotAvailable:       "BROKER_NOT_AVAILABLE",
	ErrMessageSizeTooLarge:      "MESSAGE_TOO_LARGE",
	ErrNetworkException:         "NETWORK_EXCEPTION",
	ErrCoordinatorNotAvailable:  "COORDINATOR_NOT_AVAILABLE",
	ErrNotCoordinator:           "NOT_COORDINATOR",
	ErrInvalidTopic:             "INVALID_TOPIC_EXCEPTION",
	ErrRecordListTooLarge:       "RECORD_LIST_TOO_LARGE",
	ErrNotEnoughReplicas:        "NOT_ENOUGH_REPLICAS",
	ErrIllegalGeneration:        "ILLEGAL_GENERATION",
	ErrUnknownMemberID:          "UNKNOWN_MEMBER_ID",
	ErrRebalanceInProgress:      "REBALANCE_IN_PROGRESS",
	ErrTopicAuthorizationFailed: "TOPIC_AUTHORIZATION_FAILED",
	ErrGroupAuthorizationFailed: "GROUP_AUTHORIZATION_FAILED",
	ErrTopicAlreadyExists:       "TOPIC_ALREADY_EXISTS",
	ErrInvalidPartitions:        "INVALID_PARTITIONS",
	ErrInvalidReplicationFactor: "INVALID_REPLICATION_FACTOR",
	ErrOutOfOrderSequenceNumber: "OUT_OF_ORDER_SEQUENCE_NUMBER",
	ErrDuplicateSequenceNumber:  "DUPLICATE_SEQUENCE_NUMBER",
	ErrInvalidProducerEpoch:     "INVALID_PRODUCER_EPOCH",
	ErrUnknownProducerID:        "UNKNOWN_PRODUCER_ID",
	ErrFencedLeaderEpoch:        "FENCED_LEADER_EPOCH",
	ErrProducerFenced:           "PRODUCER_FENCED",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int16(c))
}

// Retriable 报告该错误码在协议上是否可重试。
func (c ErrorCode) Retriable() bool {
	switch c {
	case ErrCorruptMessage, ErrUnknownTopicOrPartition, ErrLeaderNotAvailable,
		ErrNotLeaderForPartition, ErrRequestTimedOut, ErrNetworkException,
		ErrCoordinatorNotAvailable, ErrNotCoordinator, ErrNotEnoughReplicas,
		ErrRebalanceInProgress, ErrFencedLeaderEpoch:
		return true
	default:
		return false
	}
}

// Error broker 返回的错误。
type Error struct {
	Code    ErrorCode
	Message string
}

// NewError 创建 broker 错误。message 为空时使用错误码名称。
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "xbroker: " + e.Code.String()
	}
	return fmt.Sprintf("xbroker: %s: %s", e.Code, e.Message)
}

// Retryable 实现 xretry.RetryableError。
func (e *Error) Retryable() bool { return e.Code.Retriable() }

// Is 按错误码匹配，errors.Is(err, NewError(code, "")) 可用于判断。
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf 返回 err 链中的 broker 错误码，没有时返回 ErrNone 和 false。
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return ErrNone, false
}
