package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Shugur-Network/relay-gate/internal/domain"
	"github.com/Shugur-Network/relay-gate/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// claimTTL bounds how long a resolved notification id stays claimed.
const claimTTL = 10 * time.Minute

type notification struct {
	ID     string `json:"id"`
	PubKey string `json:"pubkey"`
	Origin string `json:"origin"`
}

// claimStore lets exactly one instance act on a notification id.
type claimStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type redisClaims struct {
	client *redis.Client
}

func (c redisClaims) Claim(ctx context.Context, key string) (bool, error) {
	return c.client.SetNX(ctx, key, "1", claimTTL).Result()
}

func (c redisClaims) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// RedisBus fans notifications out to every gate instance over a Redis
// pub/sub channel. A notification is resolved locally first and only
// published when no local waiter took it. Peers that hold a waiter race for
// a claim on the notification id; only the winner resolves, so one webhook
// funds one connection across the cluster.
type RedisBus struct {
	client     *redis.Client
	channel    string
	instanceID string
	notifier   domain.PaymentNotifier
	claims     claimStore
	logger     *zap.Logger
}

// NewRedisBus connects to the Redis server at url (redis://...) and checks
// it answers.
func NewRedisBus(ctx context.Context, url, channel string, notifier domain.PaymentNotifier) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisBus(client, channel, notifier), nil
}

func newRedisBus(client *redis.Client, channel string, notifier domain.PaymentNotifier) *RedisBus {
	host, _ := os.Hostname()
	return &RedisBus{
		client:     client,
		channel:    channel,
		instanceID: fmt.Sprintf("relay-gate-%s-%d", host, time.Now().UnixNano()),
		notifier:   notifier,
		claims:     redisClaims{client: client},
		logger:     logger.New("payments"),
	}
}

func (b *RedisBus) Publish(ctx context.Context, pubkey string) (bool, error) {
	if b.notifier.NotifyPayment(pubkey) {
		return true, nil
	}
	id, err := newNotificationID()
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(notification{ID: id, PubKey: pubkey, Origin: b.instanceID})
	if err != nil {
		return false, err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return false, fmt.Errorf("redis publish failed: %w", err)
	}
	return false, nil
}

// Run subscribes to the channel and resolves notifications published by
// other instances.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe failed: %w", err)
	}
	b.logger.Info("Subscribed to payment notifications", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(ctx, msg.Payload)
		}
	}
}

// handle resolves a fanned-out notification. Notifications this instance
// published itself are skipped since they were already tried locally, and
// instances without a waiter stay out of the claim race.
func (b *RedisBus) handle(ctx context.Context, payload string) bool {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		b.logger.Warn("Dropping malformed payment notification", zap.Error(err))
		return false
	}
	if n.Origin == b.instanceID || n.PubKey == "" || n.ID == "" {
		return false
	}
	if !b.notifier.AwaitingPayment(n.PubKey) {
		return false
	}

	key := b.claimKey(n.ID)
	won, err := b.claims.Claim(ctx, key)
	if err != nil {
		b.logger.Warn("Payment notification claim failed",
			zap.String("pubkey", n.PubKey), zap.Error(err))
		return false
	}
	if !won {
		b.logger.Debug("Payment notification claimed by a peer", zap.String("pubkey", n.PubKey))
		return false
	}

	resolved := b.notifier.NotifyPayment(n.PubKey)
	if !resolved {
		// the waiter went away between the check and the claim; the
		// payment still shows up in the balance re-check at expiry
		if err := b.claims.Release(ctx, key); err != nil {
			b.logger.Debug("Releasing payment claim failed", zap.Error(err))
		}
	}
	b.logger.Debug("Payment notification from peer",
		zap.String("pubkey", n.PubKey),
		zap.String("origin", n.Origin),
		zap.Bool("resolved", resolved))
	return resolved
}

func (b *RedisBus) claimKey(id string) string {
	return b.channel + ":claim:" + id
}

func newNotificationID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("notification id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Ping checks the Redis connection, for health reporting.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
