package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testHost = "gate.example.com"

// fakeSocket is an in-memory Socket. Frames pushed with deliver are
// returned by ReadFrame; writes are recorded.
type fakeSocket struct {
	mu         sync.Mutex
	written    [][]byte
	closed     bool
	closeCalls int
	writeErr   error

	incoming chan []byte
	closeCh  chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		incoming: make(chan []byte, 64),
		closeCh:  make(chan struct{}),
	}
}

func (s *fakeSocket) ReadFrame() ([]byte, error) {
	select {
	case data := <-s.incoming:
		return data, nil
	case <-s.closeCh:
		return nil, io.EOF
	}
}

func (s *fakeSocket) WriteFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrConnectionClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}

func (s *fakeSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeSocket) deliver(data []byte) {
	s.incoming <- data
}

func (s *fakeSocket) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

func (s *fakeSocket) types() []string {
	var out []string
	for _, f := range s.frames() {
		out = append(out, frameType(f))
	}
	return out
}

func (s *fakeSocket) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// fakeDialer hands out one fresh relay socket per dial, or fails.
type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	err     error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *fakeDialer) socket(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sockets) {
		return nil
	}
	return d.sockets[i]
}

// fakeBalance returns queued balances in order, repeating the last one.
type fakeBalance struct {
	mu       sync.Mutex
	balances []int64
	err      error
	calls    atomic.Int64
}

func (b *fakeBalance) Balance(ctx context.Context, pubkey string) (int64, error) {
	b.calls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	if len(b.balances) == 0 {
		return 0, nil
	}
	v := b.balances[0]
	if len(b.balances) > 1 {
		b.balances = b.balances[1:]
	}
	return v, nil
}

type fakePrompter struct {
	err   error
	calls atomic.Int64
}

func (p *fakePrompter) SendPaymentPrompt(ctx context.Context, pubkey string) error {
	p.calls.Add(1)
	return p.err
}

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, pubkey, content, eventID string) error {
	args := m.Called(ctx, pubkey, content, eventID)
	return args.Error(0)
}

type harness struct {
	mgr      *Manager
	clock    *clock.Mock
	dialer   *fakeDialer
	balance  *fakeBalance
	prompter *fakePrompter
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.NewMock(),
		dialer:   &fakeDialer{},
		balance:  &fakeBalance{},
		prompter: &fakePrompter{},
	}
	opts := Options{
		PublicHost:      testHost,
		UpstreamURL:     "ws://upstream.test",
		CollateralSats:  10,
		AuthTimeout:     5 * time.Second,
		InvoiceExpiry:   60 * time.Second,
		DrainInterval:   100 * time.Millisecond,
		MaxQueuedFrames: 100,
		Balance:         h.balance,
		Prompter:        h.prompter,
		Dialer:          h.dialer,
		Clock:           h.clock,
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	mgr, err := NewManager(opts)
	require.NoError(t, err)
	h.mgr = mgr
	t.Cleanup(mgr.Shutdown)
	return h
}

// connect accepts a fake client and waits for its relay link to open.
func (h *harness) connect(t *testing.T) (*Connection, *fakeSocket, *fakeSocket) {
	t.Helper()
	client := newFakeSocket()
	idx := h.dialer.count()
	c, err := h.mgr.Accept(client)
	require.NoError(t, err)
	require.Eventually(t, c.relay.IsOpen, time.Second, time.Millisecond)
	return c, client, h.dialer.socket(idx)
}

func challengeOf(t *testing.T, client *fakeSocket) string {
	t.Helper()
	frames := client.frames()
	require.GreaterOrEqual(t, len(frames), 2)
	var arr []string
	require.NoError(t, json.Unmarshal(frames[1], &arr))
	require.Equal(t, FrameAuth, arr[0])
	return arr[1]
}

func authEvent(t *testing.T, sk, challenge, relay string) nostr.Event {
	t.Helper()
	evt := nostr.Event{
		Kind:      nostr.KindClientAuthentication,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"relay", relay},
			{"challenge", challenge},
		},
	}
	require.NoError(t, evt.Sign(sk))
	return evt
}

func marshalFrame(t *testing.T, typ string, evt nostr.Event) []byte {
	t.Helper()
	b, err := json.Marshal([]any{typ, evt})
	require.NoError(t, err)
	return b
}

func authFrameFor(t *testing.T, sk, challenge string) []byte {
	return marshalFrame(t, FrameAuth, authEvent(t, sk, challenge, "wss://"+testHost))
}

func eventFrame(t *testing.T, sk string, kind int, content string) ([]byte, nostr.Event) {
	t.Helper()
	evt := nostr.Event{Kind: kind, CreatedAt: nostr.Now(), Content: content, Tags: nostr.Tags{}}
	require.NoError(t, evt.Sign(sk))
	return marshalFrame(t, FrameEvent, evt), evt
}

func reqFrame(sub string) []byte {
	b, _ := json.Marshal([]any{FrameReq, sub, map[string]any{"kinds": []int{1}}})
	return b
}

func closeFrame(sub string) []byte {
	b, _ := json.Marshal([]string{FrameClose, sub})
	return b
}

// authenticate runs the handshake for sk and waits until admission settles
// on either funded or awaiting payment.
func (h *harness) authenticate(t *testing.T, c *Connection, client *fakeSocket, sk string) {
	t.Helper()
	c.handleClientFrame(authFrameFor(t, sk, challengeOf(t, client)))
	require.Eventually(t, func() bool {
		st := c.State()
		return st.Closed || st.Funded || st.AwaitingPay
	}, time.Second, time.Millisecond)
}

func waitDone(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection was not torn down")
	}
}

var errBoom = errors.New("boom")
