package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRelay is an upstream relay that answers every frame with an OK.
func echoRelay(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			evt, err := frameEvent(data)
			if err != nil {
				continue
			}
			reply, _ := json.Marshal([]any{"OK", evt.ID, true, ""})
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readArray(t *testing.T, conn *websocket.Conn) []json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &arr))
	return arr
}

func arrayString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestServer_EndToEndOperatorPublish(t *testing.T) {
	upstream := echoRelay(t)
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	gate := httptest.NewUnstartedServer(nil)
	host := gate.Listener.Addr().String()

	mgr, err := NewManager(Options{
		PublicHost:      host,
		UpstreamURL:     wsURL(upstream),
		CollateralSats:  10,
		AuthTimeout:     5 * time.Second,
		InvoiceExpiry:   time.Minute,
		DrainInterval:   5 * time.Millisecond,
		MaxQueuedFrames: 100,
		OperatorPubKey:  pk,
		Balance:         &fakeBalance{},
		Prompter:        &fakePrompter{},
		Dialer:          WSDialer{Timeout: time.Second},
	})
	require.NoError(t, err)
	gate.Config.Handler = NewServer(mgr, ServerOptions{MaxFrameBytes: 1 << 20}).Handler()
	gate.Start()
	t.Cleanup(func() {
		mgr.Shutdown()
		gate.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(gate), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, FrameNotice, arrayString(t, readArray(t, conn)[0]))
	auth := readArray(t, conn)
	require.Equal(t, FrameAuth, arrayString(t, auth[0]))
	challenge := arrayString(t, auth[1])

	authEvt := authEvent(t, sk, challenge, "ws://"+host)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, marshalFrame(t, FrameAuth, authEvt)))

	frame, evt := eventFrame(t, sk, 1, "hello upstream")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	ok := readArray(t, conn)
	assert.Equal(t, "OK", arrayString(t, ok[0]))
	assert.Equal(t, evt.ID, arrayString(t, ok[1]))
	assert.Equal(t, 1, mgr.Count())
}

func TestServer_RejectsOverCapacity(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxConnections = 1 })
	h.connect(t)

	srv := httptest.NewServer(NewServer(h.mgr, ServerOptions{}).Handler())
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type denyLimiter struct{ keys []string }

func (d *denyLimiter) Allow(key string) bool {
	d.keys = append(d.keys, key)
	return false
}

func TestServer_RateLimitedBeforeUpgrade(t *testing.T) {
	h := newHarness(t)
	lim := &denyLimiter{}
	handler := NewServer(h.mgr, ServerOptions{Limiter: lim}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, []string{"203.0.113.9"}, lim.keys)
	assert.Equal(t, 0, h.mgr.Count())
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	assert.Equal(t, "198.51.100.7", clientIP(req))
}

func TestServer_PlainHTTPNeedsUpgrade(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(NewServer(h.mgr, ServerOptions{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func postWebhook(t *testing.T, handler http.Handler, pubkey, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+pubkey, nil)
	if secret != "" {
		req.Header.Set(WebhookSecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_ResolvesWaiter(t *testing.T) {
	h := newHarness(t)
	handler := NewServer(h.mgr, ServerOptions{}).Handler()
	c, client, _ := h.connect(t)
	h.authenticate(t, c, client, nostr.GeneratePrivateKey())
	pk := c.State().PubKey

	rec := postWebhook(t, handler, strings.ToUpper(pk), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, webhookResponse{Received: true, Resolved: true}, body)
	assert.True(t, c.State().Funded)

	// acknowledged even with nothing left to resolve
	rec = postWebhook(t, handler, pk, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, webhookResponse{Received: true, Resolved: false}, body)
}

func TestWebhook_RejectsBadPubkey(t *testing.T) {
	h := newHarness(t)
	handler := NewServer(h.mgr, ServerOptions{}).Handler()

	rec := postWebhook(t, handler, "xyz", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_RequiresSecret(t *testing.T) {
	h := newHarness(t)
	handler := NewServer(h.mgr, ServerOptions{WebhookSecret: "s3cret"}).Handler()
	pk := strings.Repeat("ab", 32)

	assert.Equal(t, http.StatusUnauthorized, postWebhook(t, handler, pk, "").Code)
	assert.Equal(t, http.StatusUnauthorized, postWebhook(t, handler, pk, "wrong").Code)
	assert.Equal(t, http.StatusOK, postWebhook(t, handler, pk, "s3cret").Code)
}

func TestWebhook_MethodMismatchFallsThrough(t *testing.T) {
	h := newHarness(t)
	handler := NewServer(h.mgr, ServerOptions{}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/webhook/"+strings.Repeat("ab", 32), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
