package proxy

import (
	"github.com/Shugur-Network/relay-gate/internal/metrics"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

func (c *Connection) drainLoop(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.drain()
		}
	}
}

// drain moves queued frames one step in both directions.
//
// Upstream only moves once authenticated and while the relay link is open.
// Until funded only REQ and CLOSE frames leave the queue; everything else
// stays queued in order for a later tick. Downstream moves whenever the
// client socket is open. Frames after a failed send go back to the head of
// their queue.
func (c *Connection) drain() {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var up []frame
	if c.authenticated && c.relay.IsOpen() {
		funded := c.funded
		up = c.upstream.take(func(f frame) bool {
			return funded || f.exempt()
		})
	}
	var down []frame
	if c.client.IsOpen() {
		down = c.downstream.takeAll()
	}
	funded := c.funded
	c.mu.Unlock()

	for i, f := range up {
		if err := c.relay.Send(f.data); err != nil {
			c.log().Debug("Upstream send failed", zap.Error(err), zap.Int("requeued", len(up)-i))
			c.requeue(c.upstream, up[i:])
			break
		}
		metrics.IncrementFramesForwarded("upstream")
		if funded && f.typ == FrameEvent {
			c.mgr.maybeClassify(c, f)
		}
	}

	for i, f := range down {
		if err := c.client.WriteFrame(f.data); err != nil {
			c.log().Debug("Client send failed", zap.Error(err), zap.Int("requeued", len(down)-i))
			c.requeue(c.downstream, down[i:])
			break
		}
		metrics.IncrementFramesForwarded("downstream")
	}
}

// requeue returns unsent frames to q for the next tick. A closed connection
// keeps nothing.
func (c *Connection) requeue(q *frameQueue, rest []frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	q.requeue(rest)
}
