package dm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Shugur-Network/relay-gate/internal/identity"
	"github.com/Shugur-Network/relay-gate/internal/logger"
	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config holds what a payment prompt says and where it is published.
type Config struct {
	Relays         []string
	Message        string // fmt template: collateral sats, payment URL
	PaymentURL     string // fmt template: recipient npub
	CollateralSats int64
	Timeout        time.Duration
}

// publishFunc delivers a signed event to one relay.
type publishFunc func(ctx context.Context, url string, evt nostr.Event) error

// Dispatcher sends payment prompts as NIP-04 encrypted direct messages
// signed by the operator identity.
type Dispatcher struct {
	cfg      Config
	operator *identity.Operator
	publish  publishFunc
	logger   *zap.Logger

	mu     sync.RWMutex
	relays map[string]*nostr.Relay
}

func NewDispatcher(cfg Config, operator *identity.Operator) (*Dispatcher, error) {
	if !operator.CanSign() {
		return nil, errors.New("payment prompts need the operator private key")
	}
	var urls []string
	for _, u := range cfg.Relays {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, errors.New("no relays configured for payment prompts")
	}
	cfg.Relays = urls

	d := &Dispatcher{
		cfg:      cfg,
		operator: operator,
		logger:   logger.New("dm"),
		relays:   make(map[string]*nostr.Relay),
	}
	d.publish = d.publishToRelay
	return d, nil
}

// BuildPrompt renders and signs the kind-4 prompt for pubkey.
func (d *Dispatcher) BuildPrompt(pubkey string) (nostr.Event, error) {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encode npub: %w", err)
	}
	payURL := d.cfg.PaymentURL
	if strings.Contains(payURL, "%s") {
		payURL = fmt.Sprintf(payURL, npub)
	}
	text := fmt.Sprintf(d.cfg.Message, d.cfg.CollateralSats, payURL)

	shared, err := nip04.ComputeSharedSecret(pubkey, d.operator.PrivateKey)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("compute shared secret: %w", err)
	}
	content, err := nip04.Encrypt(text, shared)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encrypt prompt: %w", err)
	}

	evt := nostr.Event{
		Kind:      nostr.KindEncryptedDirectMessage,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", pubkey}},
		Content:   content,
	}
	if err := evt.Sign(d.operator.PrivateKey); err != nil {
		return nostr.Event{}, fmt.Errorf("sign prompt: %w", err)
	}
	return evt, nil
}

// SendPaymentPrompt publishes the prompt to every configured relay at once.
// It succeeds when at least one relay accepts it.
func (d *Dispatcher) SendPaymentPrompt(ctx context.Context, pubkey string) error {
	evt, err := d.BuildPrompt(pubkey)
	if err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     error
		accepted int
	)
	for _, url := range d.cfg.Relays {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
			defer cancel()

			err := d.publish(cctx, u, evt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", u, err))
				return
			}
			accepted++
		}(url)
	}
	wg.Wait()

	if accepted == 0 {
		return fmt.Errorf("payment prompt rejected by all relays: %w", errs)
	}
	if errs != nil {
		d.logger.Debug("Payment prompt partially delivered",
			zap.String("pubkey", pubkey),
			zap.Int("accepted", accepted),
			zap.Error(errs))
	}
	d.logger.Info("Payment prompt sent",
		zap.String("pubkey", pubkey),
		zap.String("event_id", evt.ID),
		zap.Int("relays", accepted))
	return nil
}

func (d *Dispatcher) publishToRelay(ctx context.Context, url string, evt nostr.Event) error {
	rl, err := d.ensureRelay(ctx, url)
	if err != nil {
		return err
	}
	return rl.Publish(ctx, evt)
}

// ensureRelay reuses a live connection or dials a new one.
func (d *Dispatcher) ensureRelay(ctx context.Context, url string) (*nostr.Relay, error) {
	d.mu.RLock()
	rl, ok := d.relays[url]
	d.mu.RUnlock()
	if ok && rl.IsConnected() {
		return rl, nil
	}

	newrl, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	if old, ok := d.relays[url]; ok && old != newrl {
		_ = old.Close()
	}
	d.relays[url] = newrl
	d.mu.Unlock()
	return newrl, nil
}

// Close drops every cached relay connection.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	for url, rl := range d.relays {
		err = multierr.Append(err, rl.Close())
		delete(d.relays, url)
	}
	return err
}
