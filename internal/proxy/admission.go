package proxy

import (
	"context"
	"time"

	apperrors "github.com/Shugur-Network/relay-gate/internal/errors"
	"github.com/Shugur-Network/relay-gate/internal/metrics"
	"go.uber.org/zap"
)

// admit resolves the funded state of a freshly authenticated, non-operator
// connection. It runs off the read loop; every step after a collaborator
// call re-checks the connection before acting.
func (c *Connection) admit(pubkey string) {
	balance := c.mgr.lookupBalance(c.ctx, pubkey, c.log())

	c.mu.Lock()
	if c.closed || c.funded {
		c.mu.Unlock()
		return
	}
	if balance >= c.mgr.opts.CollateralSats {
		c.funded = true
		c.mu.Unlock()
		metrics.AdmissionOutcomes.WithLabelValues("funded").Inc()
		c.log().Debug("Collateral satisfied", zap.Int64("balance", balance))
		return
	}
	c.mu.Unlock()

	start := time.Now()
	err := c.mgr.opts.Prompter.SendPaymentPrompt(c.ctx, pubkey)
	metrics.CollaboratorDuration.WithLabelValues("dm").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CollaboratorErrors.WithLabelValues("dm").Inc()
		metrics.AdmissionOutcomes.WithLabelValues("prompt_failed").Inc()
		c.log().Warn("Payment prompt failed",
			zap.Error(apperrors.AdmissionError(pubkey, err.Error())))
		c.teardown(ReasonPromptFailed)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.funded {
		return
	}
	c.waiter = c.mgr.waiters.add(pubkey, c)
	c.paymentTimer = c.mgr.clock.AfterFunc(c.mgr.opts.InvoiceExpiry, c.onPaymentExpired)
	metrics.IncrementPendingAdmissions()
	metrics.AdmissionOutcomes.WithLabelValues("prompted").Inc()
	c.log().Info("Awaiting payment",
		zap.Int64("balance", balance),
		zap.Int64("collateral", c.mgr.opts.CollateralSats),
		zap.Duration("expiry", c.mgr.opts.InvoiceExpiry))
}

// resolvePayment consumes w on behalf of a payment notification. It returns
// false when w is stale (connection closed or already funded).
func (c *Connection) resolvePayment(w *paymentWaiter) bool {
	c.mu.Lock()
	if c.closed || c.waiter != w {
		c.mu.Unlock()
		return false
	}
	c.waiter = nil
	c.funded = true
	if c.paymentTimer != nil {
		c.paymentTimer.Stop()
		c.paymentTimer = nil
	}
	c.mu.Unlock()

	metrics.DecrementPendingAdmissions()
	metrics.AdmissionOutcomes.WithLabelValues("paid").Inc()
	c.log().Info("Payment received, connection funded")
	return true
}

// onPaymentExpired re-checks the balance one last time before giving up.
// The waiter stays registered during the re-check so a late notification
// still counts.
func (c *Connection) onPaymentExpired() {
	c.mu.Lock()
	if c.closed || c.funded {
		c.mu.Unlock()
		return
	}
	c.paymentTimer = nil
	pubkey := c.pubkey
	c.mu.Unlock()

	balance := c.mgr.lookupBalance(c.ctx, pubkey, c.log())

	c.mu.Lock()
	if c.closed || c.funded {
		c.mu.Unlock()
		return
	}
	if balance >= c.mgr.opts.CollateralSats {
		c.funded = true
		c.retireWaiterLocked()
		c.mu.Unlock()
		metrics.AdmissionOutcomes.WithLabelValues("recheck_funded").Inc()
		c.log().Info("Collateral found on expiry re-check", zap.Int64("balance", balance))
		return
	}
	c.mu.Unlock()

	metrics.AdmissionOutcomes.WithLabelValues("expired").Inc()
	c.log().Info("Payment window expired without collateral", zap.Int64("balance", balance))
	c.teardown(ReasonPaymentExpiry)
}

// lookupBalance asks the balance collaborator; any failure counts as zero.
func (m *Manager) lookupBalance(ctx context.Context, pubkey string, log *zap.Logger) int64 {
	start := time.Now()
	balance, err := m.opts.Balance.Balance(ctx, pubkey)
	metrics.CollaboratorDuration.WithLabelValues("balance").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CollaboratorErrors.WithLabelValues("balance").Inc()
		log.Warn("Balance lookup failed, treating as zero",
			zap.Error(apperrors.ExternalServiceError("balance", "lookup", err)))
		return 0
	}
	return balance
}
