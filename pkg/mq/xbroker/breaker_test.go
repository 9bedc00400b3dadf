package xbroker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/omeyang/xkclient/pkg/resilience/xbreaker"
)

func TestWithBreaker_OpensOnConnectionFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := NewMockTransport(ctrl)
	errConn := errors.New("dial tcp: connection refused")
	tp := TopicPartition{Topic: "t"}

	next.EXPECT().Watermarks(gomock.Any(), tp).Return(Watermarks{}, errConn).Times(2)

	b := NewBreaker("b1", xbreaker.WithTripPolicy(xbreaker.NewConsecutiveFailures(2)), xbreaker.WithTimeout(time.Hour))
	tr := WithBreaker(next, b)
	ctx := context.Background()

	for range 2 {
		_, err := tr.Watermarks(ctx, tp)
		assert.ErrorIs(t, err, errConn)
	}
	_, err := tr.Watermarks(ctx, tp)
	assert.True(t, xbreaker.IsOpen(err))
}

func TestWithBreaker_BusinessErrorsDoNotTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := NewMockTransport(ctrl)

	exists := NewError(ErrTopicAlreadyExists, "")
	next.EXPECT().Metadata(gomock.Any(), gomock.Any()).Return(nil, exists).Times(5)
	next.EXPECT().Close().Return(nil)

	b := NewBreaker("b2", xbreaker.WithTripPolicy(xbreaker.NewConsecutiveFailures(1)))
	tr := WithBreaker(next, b)
	for range 5 {
		_, err := tr.Metadata(context.Background(), nil)
		assert.ErrorIs(t, err, exists)
	}
	assert.Equal(t, xbreaker.StateClosed, b.State())
	require.NoError(t, tr.Close())
}

func TestWithBreaker_PreservesPartialResults(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := NewMockTransport(ctrl)
	tp := TopicPartition{Topic: "t"}
	oor := NewError(ErrOffsetOutOfRange, "")
	next.EXPECT().Fetch(gomock.Any(), tp, int64(9), 5).
		Return(FetchResult{Watermarks: Watermarks{Low: 0, High: 3}}, oor)

	tr := WithBreaker(next, NewBreaker("b3"))
	fr, err := tr.Fetch(context.Background(), tp, 9, 5)
	assert.ErrorIs(t, err, oor)
	assert.Equal(t, int64(3), fr.Watermarks.High)

	assert.Same(t, next, WithBreaker(next, nil))
}
