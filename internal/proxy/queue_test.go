package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameType(t *testing.T) {
	assert.Equal(t, FrameEvent, frameType([]byte(`["EVENT",{}]`)))
	assert.Equal(t, FrameReq, frameType([]byte(`["REQ","s",{}]`)))
	assert.Equal(t, "", frameType([]byte(`[]`)))
	assert.Equal(t, "", frameType([]byte(`[1,2]`)))
	assert.Equal(t, "", frameType([]byte(`garbage`)))
}

func TestFrameQueue_TakeKeepsOrder(t *testing.T) {
	q := newFrameQueue(10)
	for _, raw := range []string{
		`["EVENT",{"n":1}]`, `["REQ","a"]`, `["EVENT",{"n":2}]`, `["CLOSE","a"]`, `["COUNT","b"]`,
	} {
		require.NoError(t, q.push(newFrame([]byte(raw))))
	}

	exempt := q.take(frame.exempt)
	require.Len(t, exempt, 2)
	assert.Equal(t, `["REQ","a"]`, string(exempt[0].data))
	assert.Equal(t, `["CLOSE","a"]`, string(exempt[1].data))

	rest := q.takeAll()
	require.Len(t, rest, 3)
	assert.Equal(t, `["EVENT",{"n":1}]`, string(rest[0].data))
	assert.Equal(t, `["EVENT",{"n":2}]`, string(rest[1].data))
	assert.Equal(t, `["COUNT","b"]`, string(rest[2].data))
	assert.Zero(t, q.len())
}

func TestFrameQueue_Bounded(t *testing.T) {
	q := newFrameQueue(2)
	require.NoError(t, q.push(newFrame([]byte(`["REQ"]`))))
	require.NoError(t, q.push(newFrame([]byte(`["REQ"]`))))
	assert.ErrorIs(t, q.push(newFrame([]byte(`["REQ"]`))), ErrQueueFull)

	q.take(func(frame) bool { return true })
	assert.NoError(t, q.push(newFrame([]byte(`["REQ"]`))))
}

func TestFrameQueue_RequeueGoesToHead(t *testing.T) {
	q := newFrameQueue(2)
	require.NoError(t, q.push(newFrame([]byte(`["REQ","a"]`))))
	require.NoError(t, q.push(newFrame([]byte(`["REQ","b"]`))))
	taken := q.takeAll()
	require.NoError(t, q.push(newFrame([]byte(`["REQ","c"]`))))

	q.requeue(taken)

	all := q.takeAll()
	require.Len(t, all, 3)
	assert.Equal(t, `["REQ","a"]`, string(all[0].data))
	assert.Equal(t, `["REQ","b"]`, string(all[1].data))
	assert.Equal(t, `["REQ","c"]`, string(all[2].data))
}
