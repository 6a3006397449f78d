package proxy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shugur-Network/relay-gate/internal/domain"
	apperrors "github.com/Shugur-Network/relay-gate/internal/errors"
	"github.com/Shugur-Network/relay-gate/internal/logger"
	"github.com/Shugur-Network/relay-gate/internal/metrics"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Options configures a Manager.
type Options struct {
	PublicHost      string
	UpstreamURL     string
	CollateralSats  int64
	AuthTimeout     time.Duration
	InvoiceExpiry   time.Duration
	DrainInterval   time.Duration
	MaxQueuedFrames int
	MaxConnections  int

	// OperatorPubKey authenticates straight to funded.
	OperatorPubKey string
	// SpamKinds are the event kinds handed to Spam once funded.
	SpamKinds map[int]struct{}

	Balance  domain.BalanceLookup
	Prompter domain.PaymentPrompter
	Spam     domain.SpamClassifier // optional
	Dialer   Dialer
	Clock    clock.Clock
}

// Manager owns the connection registry and the payment waiter table.
type Manager struct {
	opts    Options
	clock   clock.Clock
	waiters *WaiterTable
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	nextID atomic.Uint64

	mu           sync.RWMutex
	conns        map[uint64]*Connection
	shuttingDown bool
}

var errShuttingDown = errors.New("gate is shutting down")

func NewManager(opts Options) (*Manager, error) {
	switch {
	case opts.Balance == nil:
		return nil, errors.New("balance lookup is required")
	case opts.Prompter == nil:
		return nil, errors.New("payment prompter is required")
	case opts.Dialer == nil:
		return nil, errors.New("relay dialer is required")
	case opts.UpstreamURL == "":
		return nil, errors.New("upstream relay url is required")
	case opts.PublicHost == "":
		return nil, errors.New("public host is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 100 * time.Millisecond
	}
	opts.OperatorPubKey = strings.ToLower(opts.OperatorPubKey)

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		clock:   opts.Clock,
		waiters: NewWaiterTable(),
		logger:  logger.New("proxy"),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[uint64]*Connection),
	}, nil
}

// Accept registers a new connection for an upgraded client socket: the
// relay link starts dialling, the auth challenge is sent and the drain loop
// starts. The caller then runs ReadLoop, or uses Serve to do both.
func (m *Manager) Accept(client Socket) (*Connection, error) {
	id := m.nextID.Add(1)
	ctx, cancel := context.WithCancel(m.ctx)
	c := &Connection{
		id:         id,
		mgr:        m,
		client:     client,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		upstream:   newFrameQueue(m.opts.MaxQueuedFrames),
		downstream: newFrameQueue(m.opts.MaxQueuedFrames),
	}
	c.logger.Store(m.logger.With(zap.Uint64("conn_id", id)))
	c.relay = newRelayLink(m.opts.UpstreamURL, m.opts.Dialer, c.log().Named("relay_link"),
		c.handleRelayFrame, func() { c.teardown(ReasonRelayClosed) })

	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		cancel()
		_ = client.Close()
		return nil, errShuttingDown
	}
	m.conns[id] = c
	m.mu.Unlock()
	metrics.IncrementActiveConnections()
	c.log().Debug("Connection accepted")

	c.relay.open(ctx)

	if err := c.startHandshake(); err != nil {
		c.log().Debug("Failed to send auth challenge", zap.Error(err))
		c.teardown(ReasonClientClosed)
		return c, err
	}

	go c.drainLoop(m.clock.Ticker(m.opts.DrainInterval))
	return c, nil
}

// Serve accepts client and blocks reading from it until the connection is
// torn down.
func (m *Manager) Serve(client Socket) {
	c, err := m.Accept(client)
	if err != nil {
		return
	}
	c.readLoop()
}

// NotifyPayment resolves the oldest live waiter for pubkey and reports
// whether one existed.
func (m *Manager) NotifyPayment(pubkey string) bool {
	pubkey = strings.ToLower(pubkey)
	for {
		w := m.waiters.pop(pubkey)
		if w == nil {
			return false
		}
		if w.conn.resolvePayment(w) {
			return true
		}
	}
}

// AwaitingPayment reports whether some connection is waiting on a payment
// for pubkey.
func (m *Manager) AwaitingPayment(pubkey string) bool {
	return m.waiters.has(strings.ToLower(pubkey))
}

// Teardown closes the connection with the given id. It reports whether the
// connection was live.
func (m *Manager) Teardown(id uint64, reason string) bool {
	m.mu.RLock()
	c, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	c.teardown(reason)
	return true
}

func (m *Manager) Connection(id uint64) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// PendingPayments returns the number of connections awaiting payment.
func (m *Manager) PendingPayments() int {
	return m.waiters.Len()
}

// AtCapacity reports whether a new connection would exceed MaxConnections.
func (m *Manager) AtCapacity() bool {
	if m.opts.MaxConnections <= 0 {
		return false
	}
	return m.Count() >= m.opts.MaxConnections
}

// Shutdown refuses new connections and tears down every live one.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shuttingDown = true
	live := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		live = append(live, c)
	}
	m.mu.Unlock()

	for _, c := range live {
		c.teardown(ReasonShutdown)
	}
	m.cancel()
	m.logger.Info("All connections closed", zap.Int("count", len(live)))
}

func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	if cur, ok := m.conns[c.id]; ok && cur == c {
		delete(m.conns, c.id)
	}
	m.mu.Unlock()
}

// maybeClassify hands a forwarded EVENT to the spam classifier when its
// kind is filtered. The call never blocks forwarding.
func (m *Manager) maybeClassify(c *Connection, f frame) {
	if m.opts.Spam == nil || len(m.opts.SpamKinds) == 0 {
		return
	}
	evt, err := frameEvent(f.data)
	if err != nil {
		return
	}
	if _, ok := m.opts.SpamKinds[evt.Kind]; !ok {
		return
	}
	log := c.log()
	go func() {
		start := time.Now()
		err := m.opts.Spam.Classify(m.ctx, evt.PubKey, evt.Content, evt.ID)
		metrics.CollaboratorDuration.WithLabelValues("spam").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CollaboratorErrors.WithLabelValues("spam").Inc()
			log.Warn("Spam classification failed",
				zap.String("event_id", evt.ID),
				zap.Error(apperrors.ExternalServiceError("spam", "classify", err)))
		}
	}()
}
