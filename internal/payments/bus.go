package payments

import (
	"context"

	"github.com/Shugur-Network/relay-gate/internal/domain"
)

// Bus carries "payment settled" notifications from the webhook to the
// connections waiting on them.
type Bus interface {
	// Publish reports whether a waiter on this instance was resolved.
	Publish(ctx context.Context, pubkey string) (bool, error)
	// Run delivers notifications from other instances until ctx ends.
	Run(ctx context.Context) error
	Close() error
}

// LocalBus resolves notifications in-process only.
type LocalBus struct {
	notifier domain.PaymentNotifier
}

func NewLocalBus(notifier domain.PaymentNotifier) *LocalBus {
	return &LocalBus{notifier: notifier}
}

func (b *LocalBus) Publish(_ context.Context, pubkey string) (bool, error) {
	return b.notifier.NotifyPayment(pubkey), nil
}

func (b *LocalBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *LocalBus) Close() error { return nil }
