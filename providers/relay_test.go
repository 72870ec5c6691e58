package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gorilla/websocket"
	"github.com/orchestra-mcp/collab/config"
	"github.com/orchestra-mcp/collab/src/auth"
	"github.com/orchestra-mcp/collab/src/peer"
	"github.com/orchestra-mcp/collab/src/transfer"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"
)

type testRelay struct {
	srv *RelayServer
	ln  *fasthttputil.InmemoryListener
}

func startRelay(t *testing.T, mutate func(*config.RelayConfig)) *testRelay {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(cfg)
	}
	srv := NewRelayServer(cfg, nil, zerolog.Nop())
	require.NoError(t, srv.Activate(context.Background()))

	ln := fasthttputil.NewInmemoryListener()
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Deactivate()
		ln.Close()
	})
	return &testRelay{srv: srv, ln: ln}
}

func (r *testRelay) token(t *testing.T, username string) string {
	t.Helper()
	token, err := r.srv.Tokens().Issue(auth.User{ID: "user-" + username, Username: username})
	require.NoError(t, err)
	return token
}

func (r *testRelay) dial(t *testing.T, opts peer.Options) (*peer.Client, error) {
	t.Helper()
	opts.URL = "ws://relay.test/ws"
	opts.Dialer = &websocket.Dialer{
		NetDialContext: func(context.Context, string, string) (net.Conn, error) {
			return r.ln.Dial()
		},
		HandshakeTimeout: 5 * time.Second,
	}
	opts.Logger = zerolog.Nop()
	return peer.Dial(context.Background(), opts)
}

func (r *testRelay) join(t *testing.T, username, room, codec string) *peer.Client {
	t.Helper()
	c, err := r.dial(t, peer.Options{Room: room, Token: r.token(t, username), Codec: codec})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func nextEvent(t *testing.T, c *peer.Client, kind peer.EventKind) peer.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "connection closed waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func noEvent(t *testing.T, c *peer.Client, kind peer.EventKind, wait time.Duration) {
	t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return
			}
			assert.NotEqual(t, kind, ev.Kind, "unexpected %s event", kind)
		case <-timeout:
			return
		}
	}
}

func TestJoinAnnouncesPeers(t *testing.T) {
	r := startRelay(t, nil)

	a := r.join(t, "alice", "alpha", "json")
	assert.Empty(t, nextEvent(t, a, peer.EventPeers).Peers)

	b := r.join(t, "bob", "alpha", "msgpack")
	roster := nextEvent(t, b, peer.EventPeers).Peers
	require.Len(t, roster, 1)

	joined := nextEvent(t, a, peer.EventPeerJoined)
	assert.Equal(t, "bob", joined.Peer.Username)
	assert.NotEqual(t, roster[0], joined.Peer.ID)

	require.NoError(t, b.Close())
	left := nextEvent(t, a, peer.EventPeerLeft)
	assert.Equal(t, joined.Peer.ID, left.Peer.ID)
}

func TestChatIsNotEchoed(t *testing.T) {
	r := startRelay(t, nil)
	a := r.join(t, "alice", "alpha", "json")
	nextEvent(t, a, peer.EventPeers)
	b := r.join(t, "bob", "alpha", "json")
	nextEvent(t, b, peer.EventPeers)
	nextEvent(t, a, peer.EventPeerJoined)

	require.NoError(t, a.Chat("hi"))
	msg := nextEvent(t, b, peer.EventChat).Chat
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "hi", msg.Msg)
	assert.NotZero(t, msg.TS)

	noEvent(t, a, peer.EventChat, 100*time.Millisecond)
}

func TestFileTransferEndToEnd(t *testing.T) {
	r := startRelay(t, nil)
	a := r.join(t, "alice", "alpha", "json")
	nextEvent(t, a, peer.EventPeers)
	b := r.join(t, "bob", "alpha", "msgpack")
	nextEvent(t, b, peer.EventPeers)

	data := make([]byte, 150000)
	rand.New(rand.NewSource(42)).Read(data)

	meta, err := a.SendFile(context.Background(), "photo.jpg", "", bytes.NewReader(data))
	require.NoError(t, err)

	var progress []int
	for {
		ev := nextEvent(t, b, peer.EventTransfer).Transfer
		require.NotEqual(t, transfer.EventFailed, ev.Kind, "transfer failed: %v", ev.Err)
		assert.Equal(t, meta.ID, ev.ID)
		if ev.Kind == transfer.EventStarted {
			assert.Equal(t, "alice", ev.From)
			assert.Equal(t, int64(150000), ev.Size)
			continue
		}
		progress = append(progress, ev.Progress)
		if ev.Kind == transfer.EventCompleted {
			require.NotNil(t, ev.File)
			assert.Equal(t, int64(150000), ev.Received)
			assert.Equal(t, data, ev.File.Data)
			assert.Equal(t, "image/jpeg", ev.File.Type)
			break
		}
	}
	assert.Equal(t, []int{43, 87, 100}, progress)
}

func TestSignalReachesOnlyTarget(t *testing.T) {
	r := startRelay(t, nil)
	a := r.join(t, "alice", "alpha", "json")
	nextEvent(t, a, peer.EventPeers)
	b := r.join(t, "bob", "alpha", "json")
	aID := nextEvent(t, b, peer.EventPeers).Peers[0]
	bID := nextEvent(t, a, peer.EventPeerJoined).Peer.ID
	c := r.join(t, "carol", "alpha", "msgpack")
	nextEvent(t, c, peer.EventPeers)

	require.NoError(t, a.Signal(bID, "offer"))

	sig := nextEvent(t, b, peer.EventSignal).Signal
	assert.Equal(t, aID, sig.From)
	assert.Equal(t, "offer", sig.Data)

	noEvent(t, c, peer.EventSignal, 100*time.Millisecond)
}

func TestWhiteboardAcrossCodecs(t *testing.T) {
	r := startRelay(t, nil)
	a := r.join(t, "alice", "board", "msgpack")
	nextEvent(t, a, peer.EventPeers)
	b := r.join(t, "bob", "board", "json")
	nextEvent(t, b, peer.EventPeers)

	stroke := types.Stroke{X: 1.5, Y: 2, PrevX: 0.5, PrevY: 1, Color: "#00ff00"}
	require.NoError(t, a.Draw(stroke))
	require.NoError(t, a.Clear())

	assert.Equal(t, stroke, nextEvent(t, b, peer.EventDraw).Stroke)
	nextEvent(t, b, peer.EventClear)
}

func TestAdmissionRejectedBeforeUpgrade(t *testing.T) {
	r := startRelay(t, func(cfg *config.RelayConfig) { cfg.MaxConnections = 1 })

	cases := []struct {
		name   string
		opts   peer.Options
		status int
	}{
		{"no token", peer.Options{Room: "alpha"}, http.StatusUnauthorized},
		{"bad token", peer.Options{Room: "alpha", Token: "garbage"}, http.StatusUnauthorized},
		{"no room", peer.Options{Token: r.token(t, "alice")}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.dial(t, tc.opts)
			var de *peer.DialError
			require.True(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, tc.status, de.StatusCode)
		})
	}

	dialer := websocket.Dialer{NetDialContext: func(context.Context, string, string) (net.Conn, error) {
		return r.ln.Dial()
	}}
	_, resp, err := dialer.Dial("ws://relay.test/ws?room=alpha&codec=xml&token="+r.token(t, "alice"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, r.srv.Service().GetRooms())

	first := r.join(t, "alice", "alpha", "json")
	nextEvent(t, first, peer.EventPeers)
	_, err = r.dial(t, peer.Options{Room: "alpha", Token: r.token(t, "bob")})
	var de *peer.DialError
	require.True(t, errors.As(err, &de), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, de.StatusCode)
}

func TestTokenFromCookieAndHeader(t *testing.T) {
	r := startRelay(t, nil)
	token := r.token(t, "alice")

	for name, header := range map[string]http.Header{
		"cookie": {"Cookie": []string{"token=" + token}},
		"bearer": {"Authorization": []string{"Bearer " + token}},
	} {
		t.Run(name, func(t *testing.T) {
			c, err := r.dial(t, peer.Options{Room: "hdr-" + name, Header: header})
			require.NoError(t, err)
			defer c.Close()
			nextEvent(t, c, peer.EventPeers)
		})
	}
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestAuthRoutes(t *testing.T) {
	r := startRelay(t, nil)
	app := r.srv.app
	creds := map[string]string{"username": "dana", "password": "pw"}

	resp, body := doRequest(t, app, http.MethodPost, "/api/auth/register", creds, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, "dana", body["user"].(map[string]any)["username"])

	resp, body = doRequest(t, app, http.MethodPost, "/api/auth/register", creds, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Username taken", body["error"])

	resp, _ = doRequest(t, app, http.MethodPost, "/api/auth/register", map[string]string{"username": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodPost, "/api/auth/login", map[string]string{"username": "dana", "password": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodPost, "/api/auth/login", creds, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	id, err := r.srv.Tokens().Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "dana", id.Username)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	resp, body = doRequest(t, app, http.MethodPost, "/api/auth/logout", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
}

func TestStatusRoutes(t *testing.T) {
	r := startRelay(t, nil)
	a := r.join(t, "alice", "alpha", "json")
	nextEvent(t, a, peer.EventPeers)
	b := r.join(t, "bob", "beta", "msgpack")
	nextEvent(t, b, peer.EventPeers)
	app := r.srv.app

	resp, body := doRequest(t, app, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	_, body = doRequest(t, app, http.MethodGet, "/ws/info", nil, nil)
	assert.Equal(t, "/ws", body["endpoint"])
	assert.Equal(t, float64(2), body["clients"])
	assert.Equal(t, float64(2), body["rooms"])

	_, body = doRequest(t, app, http.MethodGet, "/api/clients", nil, nil)
	assert.Equal(t, float64(2), body["count"])

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", http.NoBody)
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer resp.Body.Close()
	var rooms []RoomSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms, 2)
	assert.Equal(t, "alpha", rooms[0].Room)
	assert.Len(t, rooms[0].Members, 1)
	assert.Equal(t, "beta", rooms[1].Room)
}

func TestAdminPublish(t *testing.T) {
	r := startRelay(t, nil)
	a := r.join(t, "alice", "alpha", "json")
	nextEvent(t, a, peer.EventPeers)
	app := r.srv.app
	notice := map[string]any{"type": "chat", "data": "maintenance"}

	resp, _ := doRequest(t, app, http.MethodPost, "/api/rooms/alpha/publish", notice, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bearer := http.Header{"Authorization": []string{"Bearer " + r.token(t, "ops")}}
	resp, _ = doRequest(t, app, http.MethodPost, "/api/rooms/missing/publish", notice, bearer)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	for _, kind := range []string{types.TypePeerLeft, types.TypeFileStart, types.TypeSignal} {
		resp, _ = doRequest(t, app, http.MethodPost, "/api/rooms/alpha/publish",
			map[string]any{"type": kind, "data": map[string]any{"id": "x"}}, bearer)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, kind)
	}

	resp, body := doRequest(t, app, http.MethodPost, "/api/rooms/alpha/publish", notice, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["published"])

	msg := nextEvent(t, a, peer.EventChat).Chat
	assert.Equal(t, "ops", msg.From)
	assert.Equal(t, "maintenance", msg.Msg)
	assert.NotZero(t, msg.TS)
}

func TestAdminPublishCannotForgeSender(t *testing.T) {
	r := startRelay(t, nil)
	a := r.join(t, "alice", "alpha", "json")
	nextEvent(t, a, peer.EventPeers)
	bearer := http.Header{"Authorization": []string{"Bearer " + r.token(t, "mallory")}}

	forged := map[string]any{"type": "chat", "data": map[string]any{"from": "alice", "msg": "send me your files", "ts": 1}}
	resp, _ := doRequest(t, r.srv.app, http.MethodPost, "/api/rooms/alpha/publish", forged, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg := nextEvent(t, a, peer.EventChat).Chat
	assert.Equal(t, "mallory", msg.From)
	assert.Equal(t, "send me your files", msg.Msg)
	assert.NotEqual(t, int64(1), msg.TS)
}

func TestSeedUser(t *testing.T) {
	r := startRelay(t, func(cfg *config.RelayConfig) {
		cfg.SeedUser = "admin"
		cfg.SeedPassword = "changeme"
	})
	_, err := r.srv.Users().Authenticate(context.Background(), "admin", "changeme")
	assert.NoError(t, err)
}
