package application

import (
	"context"
	"fmt"

	"github.com/Shugur-Network/relay-gate/internal/config"
	"github.com/Shugur-Network/relay-gate/internal/domain"
	"github.com/Shugur-Network/relay-gate/internal/health"
	"github.com/Shugur-Network/relay-gate/internal/identity"
	"github.com/Shugur-Network/relay-gate/internal/limiter"
	"github.com/Shugur-Network/relay-gate/internal/logger"
	"github.com/Shugur-Network/relay-gate/internal/metrics"
	"github.com/Shugur-Network/relay-gate/internal/payments"
	"github.com/Shugur-Network/relay-gate/internal/proxy"
	"github.com/Shugur-Network/relay-gate/internal/services/balance"
	"github.com/Shugur-Network/relay-gate/internal/services/dm"
	"github.com/Shugur-Network/relay-gate/internal/services/spam"
	"github.com/benbjohnson/clock"

	"go.uber.org/zap"
)

// GatewayBuilder is used to incrementally construct a Gateway instance.
type GatewayBuilder struct {
	ctx      context.Context
	cancel   context.CancelFunc
	config   *config.Config
	operator *identity.Operator
	clock    clock.Clock

	balance  domain.BalanceLookup
	ledger   *balance.LedgerLookup
	prompter *dm.Dispatcher
	spam     *spam.Classifier
	manager  *proxy.Manager
	bus      payments.Bus
	health   *health.HealthChecker
	limiter  *limiter.RateLimiter
}

// NewGatewayBuilder creates a new GatewayBuilder with its own cancelable context.
func NewGatewayBuilder(ctx context.Context, cfg *config.Config, operator *identity.Operator) *GatewayBuilder {
	c, cancel := context.WithCancel(ctx)
	return &GatewayBuilder{
		ctx:      c,
		cancel:   cancel,
		config:   cfg,
		operator: operator,
		clock:    clock.New(),
	}
}

// BuildBalance selects the balance backend.
func (b *GatewayBuilder) BuildBalance() error {
	switch b.config.Balance.Backend {
	case "postgres":
		logger.Info("Connecting to balance ledger", zap.Int32("max_conns", b.config.Database.MaxConns))
		ledger, err := balance.NewLedgerLookup(b.ctx, b.config.Database.URL, b.config.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("failed to connect to balance ledger: %w", err)
		}
		b.ledger = ledger
		b.balance = ledger
	case "http", "":
		logger.Info("Using HTTP balance service", zap.String("url", b.config.Balance.URL))
		b.balance = balance.NewHTTPLookup(b.config.Balance.URL, b.config.Balance.Timeout)
	default:
		return fmt.Errorf("unknown balance backend %q", b.config.Balance.Backend)
	}
	return nil
}

// BuildPrompter sets up the payment prompt dispatcher. Without dedicated
// DM relays the prompt goes to the upstream relay.
func (b *GatewayBuilder) BuildPrompter() error {
	relays := b.config.DM.Relays
	if len(relays) == 0 {
		relays = []string{b.config.Proxy.UpstreamURL}
	}
	d, err := dm.NewDispatcher(dm.Config{
		Relays:         relays,
		Message:        b.config.DM.Message,
		PaymentURL:     b.config.DM.PaymentURL,
		CollateralSats: b.config.Admission.CollateralSats,
		Timeout:        b.config.DM.Timeout,
	}, b.operator)
	if err != nil {
		return fmt.Errorf("failed to set up payment prompts: %w", err)
	}
	b.prompter = d
	return nil
}

// BuildSpam sets up the optional spam classifier.
func (b *GatewayBuilder) BuildSpam() error {
	if !b.config.Spam.Enabled {
		logger.Debug("Spam classification disabled")
		return nil
	}
	c, err := spam.NewClassifier(spam.Config{
		URL:           b.config.Spam.URL,
		Timeout:       b.config.Spam.Timeout,
		RatePerSecond: b.config.Spam.RatePerSecond,
		Burst:         b.config.Spam.Burst,
		Workers:       b.config.Spam.Workers,
		QueueSize:     b.config.Spam.QueueSize,
	})
	if err != nil {
		return err
	}
	b.spam = c
	return nil
}

// BuildManager sets up the connection manager.
func (b *GatewayBuilder) BuildManager() error {
	pc := b.config.Proxy
	opts := proxy.Options{
		PublicHost:      pc.PublicHost,
		UpstreamURL:     pc.UpstreamURL,
		CollateralSats:  b.config.Admission.CollateralSats,
		AuthTimeout:     b.config.Admission.AuthTimeout,
		InvoiceExpiry:   b.config.Admission.InvoiceExpiry,
		DrainInterval:   pc.DrainInterval,
		MaxQueuedFrames: pc.MaxQueuedFrames,
		MaxConnections:  pc.MaxConnections,
		OperatorPubKey:  b.operator.PublicKey,
		Balance:         b.balance,
		Prompter:        b.prompter,
		Dialer: proxy.WSDialer{
			Timeout:      pc.DialTimeout,
			ReadLimit:    pc.MaxFrameBytes,
			WriteTimeout: pc.WriteTimeout,
		},
		Clock: b.clock,
	}
	if b.spam != nil {
		opts.Spam = b.spam
		opts.SpamKinds = b.config.Spam.SpamKindSet()
	}

	m, err := proxy.NewManager(opts)
	if err != nil {
		return err
	}
	b.manager = m
	return nil
}

// BuildPayments selects how webhook notifications reach waiting connections.
func (b *GatewayBuilder) BuildPayments() error {
	if b.config.Payments.RedisURL == "" {
		b.bus = payments.NewLocalBus(b.manager)
		return nil
	}
	bus, err := payments.NewRedisBus(b.ctx, b.config.Payments.RedisURL, b.config.Payments.RedisChannel, b.manager)
	if err != nil {
		return fmt.Errorf("failed to connect payment bus: %w", err)
	}
	b.bus = bus
	return nil
}

// BuildRateLimiter sets up the per-IP connection limiter.
func (b *GatewayBuilder) BuildRateLimiter() {
	pc := b.config.Proxy
	b.limiter = limiter.NewRateLimiter(limiter.RateLimit{
		PerSecond:    pc.ConnectRate,
		BurstSize:    pc.ConnectBurst,
		BanThreshold: pc.BanThreshold,
		BanDuration:  pc.BanDuration,
	}, b.clock)
}

// BuildHealth registers the reachable backends with the health checker.
func (b *GatewayBuilder) BuildHealth() {
	h := health.NewHealthChecker(b.manager, b.config.Proxy.MaxConnections, config.Version, b.clock)
	if b.ledger != nil {
		h.AddBackend("ledger", b.ledger)
	}
	if rb, ok := b.bus.(*payments.RedisBus); ok {
		h.AddBackend("redis", rb)
	}
	b.health = h
}

// Build finalizes the gateway construction.
func (b *GatewayBuilder) Build() (*Gateway, error) {
	if b.balance == nil {
		return nil, fmt.Errorf("balance lookup must be built before calling Build()")
	}
	if b.prompter == nil {
		return nil, fmt.Errorf("payment prompter must be built before calling Build()")
	}
	if b.manager == nil {
		return nil, fmt.Errorf("connection manager must be built before calling Build()")
	}
	if b.bus == nil {
		return nil, fmt.Errorf("payment bus must be built before calling Build()")
	}
	if b.health == nil {
		return nil, fmt.Errorf("health checker must be built before calling Build()")
	}
	if b.limiter == nil {
		return nil, fmt.Errorf("rate limiter must be built before calling Build()")
	}

	g := &Gateway{
		ctx:      b.ctx,
		cancel:   b.cancel,
		config:   b.config,
		operator: b.operator,
		ledger:   b.ledger,
		prompter: b.prompter,
		spam:     b.spam,
		manager:  b.manager,
		bus:      b.bus,
		health:   b.health,
		limiter:  b.limiter,
		server: proxy.NewServer(b.manager, proxy.ServerOptions{
			Addr:          b.config.Proxy.ListenAddr,
			MaxFrameBytes: b.config.Proxy.MaxFrameBytes,
			WriteTimeout:  b.config.Proxy.WriteTimeout,
			WebhookSecret: b.config.Payments.WebhookSecret,
			Payments:      b.bus,
			Health:        b.health,
			Limiter:       b.limiter,
		}),
		errCh:     make(chan error, 2),
		startTime: b.clock.Now(),
	}
	if b.config.Metrics.Enabled {
		g.metrics = metrics.NewServer(b.config.Metrics.Port)
	}

	logger.Debug("Gateway initialized successfully via builder")
	return g, nil
}

// abort releases whatever a failed build already opened.
func (b *GatewayBuilder) abort() {
	if b.bus != nil {
		_ = b.bus.Close()
	}
	if b.spam != nil {
		b.spam.Close()
	}
	if b.prompter != nil {
		_ = b.prompter.Close()
	}
	if b.ledger != nil {
		b.ledger.Close()
	}
	b.cancel()
}
