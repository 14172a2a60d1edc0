package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmon/pvmon/internal/pvdata"
)

func TestQueueDropsOldest(t *testing.T) {
	var events []EventKind
	q := NewQueue(2, func(ev EventKind) { events = append(events, ev) }, nil)

	for i := 1; i <= 3; i++ {
		require.True(t, q.Push(pvdata.Scalar(i)))
	}

	assert.Equal(t, uint64(1), q.Dropped())
	assert.Len(t, events, 3)

	first, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, pvdata.Scalar(2), first)
	second, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, pvdata.Scalar(3), second)
	_, ok = q.Poll()
	assert.False(t, ok)
}

func TestQueueCancel(t *testing.T) {
	cancelled := 0
	var events int
	q := NewQueue(0, func(EventKind) { events++ }, func() { cancelled++ })

	q.Push(pvdata.Scalar(1))
	q.Cancel()
	q.Cancel()

	assert.Equal(t, 1, cancelled)
	assert.False(t, q.Push(pvdata.Scalar(2)))
	q.Notify(EventDisconnect)
	assert.Equal(t, 1, events)
	assert.Equal(t, 0, q.Len())
}

func TestLoopbackPutEchoesNestedField(t *testing.T) {
	lb := NewLoopback()
	lb.Publish("MODE", pvdata.EnumOf(0, "Off", "On"))

	ch, err := lb.Channel("MODE")
	require.NoError(t, err)
	mon, err := ch.Monitor(func(EventKind) {})
	require.NoError(t, err)

	initial, ok := mon.Poll()
	require.True(t, ok)
	idx, err := pvdata.Int(initial, "value.index")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	require.NoError(t, ch.Put(context.Background(), "value.index", 1))
	echoed, ok := mon.Poll()
	require.True(t, ok)
	idx, err = pvdata.Int(echoed, "value.index")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	choices, err := pvdata.StringArray(echoed, "value.choices")
	require.NoError(t, err)
	assert.Equal(t, []string{"Off", "On"}, choices)
}

func TestLoopbackConnectionListener(t *testing.T) {
	lb := NewLoopback()
	ch, err := lb.Channel("X")
	require.NoError(t, err)

	var states []bool
	ch.OnConnect(func(c bool) { states = append(states, c) })
	var events []EventKind
	_, err = ch.Monitor(func(ev EventKind) { events = append(events, ev) })
	require.NoError(t, err)

	lb.SetConnected("X", false)
	lb.SetConnected("X", false)
	lb.SetConnected("X", true)

	assert.Equal(t, []bool{true, false, true}, states)
	assert.Equal(t, []EventKind{EventDisconnect}, events)

	_, err = lb.Channel(" ")
	assert.Error(t, err)
}
