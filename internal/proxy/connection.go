package proxy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Shugur-Network/relay-gate/internal/metrics"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Connection is the per-client state machine: one client socket, one
// upstream relay link, and the frames queued between them.
type Connection struct {
	id     uint64
	mgr    *Manager
	client Socket
	relay  *RelayLink

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger atomic.Pointer[zap.Logger]

	// drainMu keeps drain passes from interleaving their sends
	drainMu sync.Mutex

	mu            sync.Mutex
	authenticated bool
	funded        bool
	closed        bool
	closeReason   string
	pubkey        string
	challenge     string
	upstream      *frameQueue
	downstream    *frameQueue
	authTimer     *clock.Timer
	paymentTimer  *clock.Timer
	waiter        *paymentWaiter
}

func (c *Connection) ID() uint64 { return c.id }

// State is a point-in-time view of a connection, for logs and tests.
type State struct {
	Authenticated bool
	Funded        bool
	Closed        bool
	CloseReason   string
	PubKey        string
	Upstream      int
	Downstream    int
	AwaitingPay   bool
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Authenticated: c.authenticated,
		Funded:        c.funded,
		Closed:        c.closed,
		CloseReason:   c.closeReason,
		PubKey:        c.pubkey,
		Upstream:      c.upstream.len(),
		Downstream:    c.downstream.len(),
		AwaitingPay:   c.waiter != nil,
	}
}

// Done is closed once teardown has finished: the registry entry is gone and
// both sockets are closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// readLoop feeds client frames into the connection until the client goes
// away.
func (c *Connection) readLoop() {
	for {
		data, err := c.client.ReadFrame()
		if err != nil {
			c.teardown(ReasonClientClosed)
			return
		}
		metrics.FrameSizeBytes.Observe(float64(len(data)))
		c.handleClientFrame(data)
	}
}

// handleClientFrame consumes AUTH frames until authenticated and queues
// everything else for the drain loop.
func (c *Connection) handleClientFrame(data []byte) {
	f := newFrame(data)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if !c.authenticated && f.typ == FrameAuth {
		challenge := c.challenge
		c.challenge = ""
		c.mu.Unlock()
		c.handleAuth(f.data, challenge)
		return
	}
	err := c.upstream.push(f)
	deferred := !c.funded && !f.exempt()
	c.mu.Unlock()

	if err == nil && deferred {
		metrics.FramesDeferred.Inc()
	}
	if err != nil {
		c.log().Warn("Upstream queue full, closing connection", zap.Int("limit", c.mgr.opts.MaxQueuedFrames))
		c.teardown(ReasonQueueOverflow)
	}
}

// handleRelayFrame queues a frame received from the upstream relay.
func (c *Connection) handleRelayFrame(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	err := c.downstream.push(newFrame(data))
	c.mu.Unlock()

	if err != nil {
		c.log().Warn("Downstream queue full, closing connection", zap.Int("limit", c.mgr.opts.MaxQueuedFrames))
		c.teardown(ReasonQueueOverflow)
	}
}

func (c *Connection) log() *zap.Logger {
	return c.logger.Load()
}

// sendControl writes a gate-originated frame straight to the client.
func (c *Connection) sendControl(data []byte) error {
	return c.client.WriteFrame(data)
}

// teardown closes the connection exactly once: timers are stopped, any
// pending payment waiter is retired, the registry entry is removed and both
// sockets are closed. Close errors are logged, never returned.
func (c *Connection) teardown(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeReason = reason
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	if c.paymentTimer != nil {
		c.paymentTimer.Stop()
		c.paymentTimer = nil
	}
	c.retireWaiterLocked()
	c.cancel()
	c.mu.Unlock()

	logger := c.log()
	c.mgr.unregister(c)

	err := multierr.Combine(c.client.Close(), c.relay.Close())
	if err != nil {
		logger.Debug("Socket close reported errors", zap.Error(err))
	}

	metrics.DecrementActiveConnections()
	metrics.ConnectionsClosed.WithLabelValues(reason).Inc()
	logger.Info("Connection closed", zap.String("reason", reason))
	close(c.done)
}

// retireWaiterLocked withdraws the pending payment waiter, if any.
// Callers hold c.mu.
func (c *Connection) retireWaiterLocked() {
	if c.waiter == nil {
		return
	}
	c.mgr.waiters.remove(c.waiter)
	c.waiter = nil
	metrics.DecrementPendingAdmissions()
}
