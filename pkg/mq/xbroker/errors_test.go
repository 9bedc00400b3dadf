package xbroker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "OFFSET_OUT_OF_RANGE", ErrOffsetOutOfRange.String())
	assert.Equal(t, "PRODUCER_FENCED", ErrProducerFenced.String())
	assert.Equal(t, "ERROR_999", ErrorCode(999).String())
}

func TestError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("produce: %w", NewError(ErrNotLeaderForPartition, "leader moved"))
	assert.ErrorIs(t, err, NewError(ErrNotLeaderForPartition, ""))
	assert.NotErrorIs(t, err, NewError(ErrOffsetOutOfRange, ""))
	assert.Contains(t, err.Error(), "NOT_LEADER_OR_FOLLOWER: leader moved")

	code, ok := CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, ErrNotLeaderForPartition, code)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, NewError(ErrRequestTimedOut, "").Retryable())
	assert.True(t, NewError(ErrRebalanceInProgress, "").Retryable())
	assert.False(t, NewError(ErrTopicAlreadyExists, "").Retryable())
	assert.False(t, NewError(ErrOutOfOrderSequenceNumber, "").Retryable())
}
