package proxy

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is one side of a proxied link: the client connection or the
// upstream relay connection.
type Socket interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
	IsOpen() bool
}

// Dialer opens the upstream relay socket.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WSSocket adapts a gorilla websocket connection to Socket. Writes are
// serialized; gorilla allows one concurrent reader and one writer.
type WSSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewWSSocket wraps conn. readLimit caps the size of a single inbound frame.
func NewWSSocket(conn *websocket.Conn, readLimit int64, writeTimeout time.Duration) *WSSocket {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &WSSocket{conn: conn, writeTimeout: writeTimeout}
}

func (s *WSSocket) ReadFrame() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		s.closed.Store(true)
		return nil, err
	}
	return data, nil
}

func (s *WSSocket) WriteFrame(data []byte) error {
	if s.closed.Load() {
		return ErrConnectionClosed
	}
	s.writeMu.Lock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	err := s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		// gorilla fails every later write once one has failed; closing
		// unblocks the reader so the owner tears the link down.
		_ = s.Close()
	}
	return err
}

// Close sends a best-effort close frame and releases the connection. Later
// calls return the first result.
func (s *WSSocket) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *WSSocket) IsOpen() bool {
	return !s.closed.Load()
}

// WSDialer dials upstream relays with gorilla/websocket.
type WSDialer struct {
	Timeout      time.Duration
	ReadLimit    int64
	WriteTimeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context, url string) (Socket, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.Timeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWSSocket(conn, d.ReadLimit, d.WriteTimeout), nil
}
