package domain

import "context"

// BalanceLookup reports the collateral balance, in satoshis, held by a pubkey.
// Callers treat any error as a zero balance.
type BalanceLookup interface {
	Balance(ctx context.Context, pubkey string) (int64, error)
}

// PaymentPrompter asks a pubkey to pay, typically by direct message.
// A returned error means the user could not be reached.
type PaymentPrompter interface {
	SendPaymentPrompt(ctx context.Context, pubkey string) error
}

// SpamClassifier submits a published event for classification.
// It is fire-and-forget: errors are only logged by the caller.
type SpamClassifier interface {
	Classify(ctx context.Context, pubkey, content, eventID string) error
}

// PaymentNotifier delivers "payment settled" notifications for a pubkey.
type PaymentNotifier interface {
	// NotifyPayment resolves the oldest pending waiter for pubkey and
	// reports whether one existed.
	NotifyPayment(pubkey string) bool
	// AwaitingPayment reports whether any waiter is pending for pubkey.
	AwaitingPayment(pubkey string) bool
}
