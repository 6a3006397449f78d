package spam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Shugur-Network/relay-gate/internal/logger"
	"github.com/Shugur-Network/relay-gate/internal/metrics"
	"github.com/Shugur-Network/relay-gate/internal/workers"
	"github.com/willf/bloom"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrQueueFull is returned when the submission queue has no room.
var ErrQueueFull = errors.New("spam submission queue full")

const (
	seenCapacity   = 100_000
	seenFPRate     = 0.001
	recentCapacity = 16_384
)

// Config tunes the classifier client.
type Config struct {
	URL           string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Workers       int
	QueueSize     int
}

type submission struct {
	PubKey  string `json:"pubkey"`
	Content string `json:"content"`
	EventID string `json:"event_id"`
}

// Classifier submits published events to an external spam service.
// Submissions are deduplicated by event id, rate limited and sent from a
// bounded worker pool, so Classify returns as soon as the job is queued.
type Classifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	pool    *workers.WorkerPool
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	seenMu    sync.Mutex
	seen      *bloom.BloomFilter
	added     uint
	recent    map[string]struct{}
	recentIDs []string
	recentPos int
}

func NewClassifier(cfg Config) (*Classifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("spam classifier URL is required")
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Classifier{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		pool:    workers.NewWorkerPool(cfg.Workers, cfg.QueueSize),
		logger:  logger.New("spam"),
		ctx:     ctx,
		cancel:  cancel,
		seen:    bloom.NewWithEstimates(seenCapacity, seenFPRate),
		recent:  make(map[string]struct{}, recentCapacity),
	}, nil
}

// Classify queues one event for classification. Duplicates and events over
// the rate limit are skipped; both are counted in SpamJobsDropped.
func (c *Classifier) Classify(ctx context.Context, pubkey, content, eventID string) error {
	if c.alreadySeen(eventID) {
		metrics.SpamJobsDropped.WithLabelValues("duplicate").Inc()
		return nil
	}
	if !c.limiter.Allow() {
		metrics.SpamJobsDropped.WithLabelValues("rate_limited").Inc()
		c.logger.Info("Spam submission rate limited", zap.String("event_id", eventID))
		return nil
	}

	sub := submission{PubKey: pubkey, Content: content, EventID: eventID}
	if !c.pool.AddJob(func() { c.submit(sub) }) {
		metrics.SpamJobsDropped.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
	return nil
}

// alreadySeen reports whether eventID was submitted before and records it.
// A bloom hit only counts once the exact set of recent ids confirms it, so
// false positives are still classified. The filter is cleared once it holds
// its planned capacity.
func (c *Classifier) alreadySeen(eventID string) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if c.seen.TestString(eventID) {
		if _, ok := c.recent[eventID]; ok {
			return true
		}
		c.logger.Debug("Bloom hit not confirmed, classifying", zap.String("event_id", eventID))
	}
	if c.added >= seenCapacity {
		c.seen.ClearAll()
		c.added = 0
	}
	c.seen.AddString(eventID)
	c.added++
	c.remember(eventID)
	return false
}

// remember adds eventID to the bounded recent set, evicting the oldest id.
func (c *Classifier) remember(eventID string) {
	if len(c.recentIDs) < recentCapacity {
		c.recentIDs = append(c.recentIDs, eventID)
	} else {
		delete(c.recent, c.recentIDs[c.recentPos])
		c.recentIDs[c.recentPos] = eventID
		c.recentPos = (c.recentPos + 1) % recentCapacity
	}
	c.recent[eventID] = struct{}{}
}

func (c *Classifier) submit(sub submission) {
	if err := c.post(c.ctx, sub); err != nil {
		metrics.CollaboratorErrors.WithLabelValues("spam").Inc()
		c.logger.Warn("Spam submission failed",
			zap.String("event_id", sub.EventID),
			zap.String("pubkey", sub.PubKey),
			zap.Error(err))
	}
}

func (c *Classifier) post(ctx context.Context, sub submission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("spam service returned %s", resp.Status)
	}
	return nil
}

// Close waits for queued submissions and stops the workers.
func (c *Classifier) Close() {
	c.pool.Stop()
	c.cancel()
}
