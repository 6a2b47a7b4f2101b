package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoricalRequest_Duration(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{3, "3 D"},
		{364, "364 D"},
		{365, "1 Y"},
		{730, "2 Y"},
		{800, "800 D"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HistoricalRequest{SpanDays: tt.days}.Duration())
	}

	asOf := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 7, 20, 0, 0, 0, time.UTC), HistoricalRequest{AsOf: asOf, SpanDays: 3}.Start())
}

func TestQueue_FIFOThenError(t *testing.T) {
	var q Queue
	q.Push(SessionReady{NextID: 1})
	q.Push(Bar{RequestID: 1})
	q.Fail(errors.New("connection reset"))
	q.Fail(errors.New("second failure is ignored"))

	ev, ok, err := q.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SessionReady{NextID: 1}, ev)

	ev, ok, err = q.Pop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.IsType(t, Bar{}, ev)

	_, ok, err = q.Pop()
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestQueue_EmptyIsNotAnError(t *testing.T) {
	var q Queue
	ev, ok, err := q.Pop()
	assert.Nil(t, ev)
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 0, q.Len())
}
