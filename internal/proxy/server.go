package proxy

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Shugur-Network/relay-gate/internal/errors"
	"github.com/Shugur-Network/relay-gate/internal/logger"
	"github.com/Shugur-Network/relay-gate/internal/metrics"
	"github.com/Shugur-Network/relay-gate/internal/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebhookSecretHeader carries the shared secret on payment webhooks.
const WebhookSecretHeader = "X-Webhook-Secret"

const maxWebhookBody = 64 * 1024

// PaymentPublisher routes a payment notification to whichever gate
// instance holds the waiter. It reports whether a local waiter resolved.
type PaymentPublisher interface {
	Publish(ctx context.Context, pubkey string) (bool, error)
}

// RequestLimiter throttles requests per client address.
type RequestLimiter interface {
	Allow(key string) bool
}

type ServerOptions struct {
	Addr          string
	MaxFrameBytes int64
	WriteTimeout  time.Duration
	WebhookSecret string
	Payments      PaymentPublisher // defaults to resolving on this instance only
	Health        http.Handler     // optional
	Limiter       RequestLimiter   // optional, keyed by client IP
}

// Server exposes the client upgrade endpoint, the payment webhook and the
// health report on one port.
type Server struct {
	mgr      *Manager
	opts     ServerOptions
	upgrader websocket.Upgrader
	errs     *apperrors.ErrorMiddleware
	logger   *zap.Logger
	srv      *http.Server
}

type webhookResponse struct {
	Received bool `json:"received"`
	Resolved bool `json:"resolved"`
}

type localPublisher struct{ mgr *Manager }

func (p localPublisher) Publish(_ context.Context, pubkey string) (bool, error) {
	return p.mgr.NotifyPayment(pubkey), nil
}

func NewServer(mgr *Manager, opts ServerOptions) *Server {
	if opts.Payments == nil {
		opts.Payments = localPublisher{mgr: mgr}
	}
	s := &Server{
		mgr:  mgr,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024,
			WriteBufferSize:   64 * 1024,
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
		errs:   apperrors.NewErrorMiddleware(),
		logger: logger.New("http"),
	}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, wrapped in panic recovery.
func (s *Server) Handler() http.Handler {
	api := web.SecurityMiddleware(web.APISecurityHeaders())

	mux := http.NewServeMux()
	if s.opts.Health != nil {
		mux.Handle("GET /health", api(s.opts.Health))
	}
	mux.Handle("POST /webhook/{pubkey}",
		web.Chain(s.errs.Handler(s.handleWebhook), api, web.LimitBody(maxWebhookBody)))
	mux.Handle("/", s.errs.Handler(s.handleUpgrade))
	return s.errs.RecoveryMiddleware(mux)
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Gate listening", zap.String("addr", s.opts.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every live connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.mgr.Shutdown()
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) error {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUpgradeRequired)
		_, _ = w.Write([]byte("connect with a nostr websocket client\n"))
		return nil
	}
	if ip := clientIP(r); s.opts.Limiter != nil && !s.opts.Limiter.Allow(ip) {
		metrics.ConnectionsRejected.Inc()
		return apperrors.RateLimitedError(ip)
	}
	if s.mgr.AtCapacity() {
		metrics.ConnectionsRejected.Inc()
		return apperrors.ConnectionLimitError(s.mgr.Count(), s.mgr.opts.MaxConnections)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		return nil
	}
	s.mgr.Serve(NewWSSocket(conn, s.opts.MaxFrameBytes, s.opts.WriteTimeout))
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) error {
	if s.opts.WebhookSecret != "" {
		got := r.Header.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.WebhookSecret)) != 1 {
			return apperrors.UnauthorizedWebhookError()
		}
	}

	pubkey := strings.ToLower(r.PathValue("pubkey"))
	if !isHexPubKey(pubkey) {
		return apperrors.WebhookError("pubkey must be 64 hex characters")
	}

	resolved, err := s.opts.Payments.Publish(r.Context(), pubkey)
	if err != nil {
		return apperrors.ExternalServiceError("payments", "publish", err)
	}
	metrics.PaymentNotifications.WithLabelValues(boolLabel(resolved)).Inc()
	s.logger.Info("Payment notification received",
		zap.String("pubkey", pubkey),
		zap.Bool("resolved", resolved))

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(webhookResponse{Received: true, Resolved: resolved})
}

// clientIP prefers the first X-Forwarded-For hop, as the gate usually runs
// behind a TLS terminating proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isHexPubKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
