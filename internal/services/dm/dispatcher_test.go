package dm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Shugur-Network/relay-gate/internal/identity"
	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, relays ...string) (*Dispatcher, *identity.Operator) {
	t.Helper()
	op, err := identity.GenerateOperator()
	require.NoError(t, err)

	d, err := NewDispatcher(Config{
		Relays:         relays,
		Message:        "Collateral %d sats: %s",
		PaymentURL:     "https://pay.example.com/%s",
		CollateralSats: 21,
		Timeout:        time.Second,
	}, op)
	require.NoError(t, err)
	return d, op
}

func TestNewDispatcher_Validation(t *testing.T) {
	op, err := identity.GenerateOperator()
	require.NoError(t, err)

	_, err = NewDispatcher(Config{Relays: []string{" "}}, op)
	assert.Error(t, err)

	_, err = NewDispatcher(Config{Relays: []string{"wss://dm.example.com"}},
		&identity.Operator{PublicKey: op.PublicKey})
	assert.Error(t, err)
}

func TestBuildPrompt_EncryptsForRecipient(t *testing.T) {
	d, op := newTestDispatcher(t, "wss://dm.example.com")

	recipientSK := nostr.GeneratePrivateKey()
	recipientPK, err := nostr.GetPublicKey(recipientSK)
	require.NoError(t, err)

	evt, err := d.BuildPrompt(recipientPK)
	require.NoError(t, err)

	assert.Equal(t, nostr.KindEncryptedDirectMessage, evt.Kind)
	assert.Equal(t, op.PublicKey, evt.PubKey)
	require.Len(t, evt.Tags, 1)
	assert.Equal(t, nostr.Tag{"p", recipientPK}, evt.Tags[0])
	ok, err := evt.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)

	shared, err := nip04.ComputeSharedSecret(op.PublicKey, recipientSK)
	require.NoError(t, err)
	plain, err := nip04.Decrypt(evt.Content, shared)
	require.NoError(t, err)

	npub, err := nip19.EncodePublicKey(recipientPK)
	require.NoError(t, err)
	assert.Equal(t, "Collateral 21 sats: https://pay.example.com/"+npub, plain)
}

func TestSendPaymentPrompt_AnyRelaySucceeds(t *testing.T) {
	d, _ := newTestDispatcher(t, "wss://a.example.com", "wss://b.example.com")

	var mu sync.Mutex
	var seen []string
	d.publish = func(ctx context.Context, url string, evt nostr.Event) error {
		mu.Lock()
		seen = append(seen, url)
		mu.Unlock()
		if url == "wss://a.example.com" {
			return errors.New("blocked")
		}
		return nil
	}

	pk, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	require.NoError(t, d.SendPaymentPrompt(context.Background(), pk))
	assert.ElementsMatch(t, []string{"wss://a.example.com", "wss://b.example.com"}, seen)
}

func TestSendPaymentPrompt_AllRelaysFail(t *testing.T) {
	d, _ := newTestDispatcher(t, "wss://a.example.com", "wss://b.example.com")
	d.publish = func(ctx context.Context, url string, evt nostr.Event) error {
		return errors.New("rejected: " + url)
	}

	pk, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	err = d.SendPaymentPrompt(context.Background(), pk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected: wss://a.example.com")
	assert.Contains(t, err.Error(), "rejected: wss://b.example.com")
}

func TestSendPaymentPrompt_BadPubkey(t *testing.T) {
	d, _ := newTestDispatcher(t, "wss://a.example.com")
	d.publish = func(ctx context.Context, url string, evt nostr.Event) error { return nil }
	assert.Error(t, d.SendPaymentPrompt(context.Background(), "not-hex"))
}
