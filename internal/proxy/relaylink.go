package proxy

import (
	"context"
	"sync"

	apperrors "github.com/Shugur-Network/relay-gate/internal/errors"
	"go.uber.org/zap"
)

// RelayLink owns the upstream relay socket of one connection. It is dialled
// as soon as the connection exists, independent of client auth state.
type RelayLink struct {
	url    string
	dialer Dialer
	logger *zap.Logger

	onFrame func([]byte)
	onClose func()

	mu     sync.Mutex
	sock   Socket
	closed bool
}

func newRelayLink(url string, dialer Dialer, logger *zap.Logger, onFrame func([]byte), onClose func()) *RelayLink {
	return &RelayLink{
		url:     url,
		dialer:  dialer,
		logger:  logger,
		onFrame: onFrame,
		onClose: onClose,
	}
}

// open dials in the background. A failed dial is reported as a close.
func (l *RelayLink) open(ctx context.Context) {
	go func() {
		sock, err := l.dialer.Dial(ctx, l.url)

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			if sock != nil {
				_ = sock.Close()
			}
			return
		}
		if err != nil {
			l.mu.Unlock()
			l.logger.Warn("Upstream relay dial failed", zap.Error(apperrors.UpstreamError(l.url, err)))
			l.onClose()
			return
		}
		l.sock = sock
		l.mu.Unlock()

		l.logger.Debug("Upstream relay connected", zap.String("relay", l.url))
		l.readLoop(sock)
	}()
}

func (l *RelayLink) readLoop(sock Socket) {
	for {
		data, err := sock.ReadFrame()
		if err != nil {
			if !l.isClosed() {
				l.logger.Debug("Upstream relay read ended", zap.Error(apperrors.WebSocketError("read", err)))
			}
			l.onClose()
			return
		}
		l.onFrame(data)
	}
}

// IsOpen reports whether frames can currently be sent upstream.
func (l *RelayLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && l.sock != nil && l.sock.IsOpen()
}

func (l *RelayLink) Send(data []byte) error {
	l.mu.Lock()
	sock := l.sock
	closed := l.closed
	l.mu.Unlock()
	if closed || sock == nil {
		return ErrRelayNotOpen
	}
	return sock.WriteFrame(data)
}

// Close closes the upstream socket once. Closing a link whose dial is still
// in flight makes the dial discard its socket.
func (l *RelayLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	sock := l.sock
	l.mu.Unlock()

	if sock == nil {
		return nil
	}
	return sock.Close()
}

func (l *RelayLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
