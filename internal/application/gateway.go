package application

import (
	"context"
	"fmt"
	"time"

	"github.com/Shugur-Network/relay-gate/internal/config"
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
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	shutdownTimeout  = 30 * time.Second
	limiterSweep     = 10 * time.Minute
	limiterIdleAfter = time.Hour
)

// Gateway ties together the components needed to run the payment gate.
type Gateway struct {
	ctx    context.Context
	cancel context.CancelFunc

	config   *config.Config
	operator *identity.Operator
	ledger   *balance.LedgerLookup
	prompter *dm.Dispatcher
	spam     *spam.Classifier
	manager  *proxy.Manager
	bus      payments.Bus
	health   *health.HealthChecker
	limiter  *limiter.RateLimiter
	server   *proxy.Server
	metrics  *metrics.Server

	errCh     chan error
	startTime time.Time
}

// New creates and configures a Gateway using the GatewayBuilder.
func New(ctx context.Context, cfg *config.Config, operator *identity.Operator) (*Gateway, error) {
	builder := NewGatewayBuilder(ctx, cfg, operator)

	steps := []struct {
		name string
		run  func() error
	}{
		{"balance lookup", builder.BuildBalance},
		{"payment prompter", builder.BuildPrompter},
		{"spam classifier", builder.BuildSpam},
		{"connection manager", builder.BuildManager},
		{"payment bus", builder.BuildPayments},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			builder.abort()
			return nil, fmt.Errorf("failed building %s: %w", step.name, err)
		}
	}
	builder.BuildRateLimiter()
	builder.BuildHealth()

	gw, err := builder.Build()
	if err != nil {
		builder.abort()
		return nil, fmt.Errorf("failed to build gateway: %w", err)
	}
	return gw, nil
}

// Start launches the listeners and the payment bus. It does not block;
// fatal serving errors are reported on Errors.
func (g *Gateway) Start() {
	if g.metrics != nil {
		g.metrics.Start()
	}

	go func() {
		if err := g.bus.Run(g.ctx); err != nil {
			logger.Error("Payment bus stopped", zap.Error(err))
		}
	}()

	go g.sweepLimiter()

	go func() {
		if err := g.server.ListenAndServe(); err != nil {
			g.errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()

	logger.Info("Gateway started",
		zap.String("listen", g.config.Proxy.ListenAddr),
		zap.String("upstream", g.config.Proxy.UpstreamURL),
		zap.String("public_host", g.config.Proxy.PublicHost),
		zap.Int64("collateral_sats", g.config.Admission.CollateralSats),
		zap.String("operator", g.operator.PublicKey))
}

// sweepLimiter drops idle per-IP limiter state until the gateway stops.
func (g *Gateway) sweepLimiter() {
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			if n := g.limiter.Cleanup(limiterIdleAfter); n > 0 {
				logger.Debug("Dropped idle rate limiter entries", zap.Int("count", n))
			}
		}
	}
}

// Errors reports fatal serving errors after Start.
func (g *Gateway) Errors() <-chan error {
	return g.errCh
}

// Shutdown stops the listeners, tears down every connection and releases
// the backing services.
func (g *Gateway) Shutdown() {
	logger.Info("Initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error

	// Step 1: stop accepting clients and close live connections
	errs = multierr.Append(errs, g.server.Shutdown(ctx))

	// Step 2: stop the payment bus and background services
	g.cancel()
	errs = multierr.Append(errs, g.bus.Close())
	if g.spam != nil {
		g.spam.Close()
	}
	errs = multierr.Append(errs, g.prompter.Close())

	// Step 3: close the ledger pool
	if g.ledger != nil {
		g.ledger.Close()
	}

	// Step 4: metrics go last so the final counters remain scrapeable
	if g.metrics != nil {
		errs = multierr.Append(errs, g.metrics.Shutdown(ctx))
	}

	if errs != nil {
		logger.Warn("Gateway shutdown completed with errors",
			zap.Errors("errors", multierr.Errors(errs)),
			zap.Duration("shutdown_timeout", shutdownTimeout))
		return
	}
	logger.Info("Gateway shutdown completed",
		zap.Duration("uptime", time.Since(g.startTime)))
}
