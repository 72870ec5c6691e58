package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/collab/src/auth"
	"github.com/orchestra-mcp/collab/src/codec"
	"github.com/orchestra-mcp/collab/src/hub"
	"github.com/valyala/fasthttp"
)

const tokenCookie = "token"

// RegisterRoutes registers the REST API via Fiber. The WebSocket upgrade is
// served by FastHTTPHandler since Fiber v3 does not expose *fasthttp.RequestCtx.
func (p *RelayServer) RegisterRoutes(group fiber.Router) {
	group.Get("/health", p.handleHealth)
	group.Get("/ws/info", p.handleInfo)
	group.Post("/api/auth/register", p.handleRegister)
	group.Post("/api/auth/login", p.handleLogin)
	group.Post("/api/auth/logout", p.handleLogout)
	group.Get("/api/rooms", p.handleListRooms)
	group.Get("/api/clients", p.handleListClients)
	group.Post("/api/rooms/:room/publish", p.handlePublish)
}

// Handler routes /ws to the upgrader and everything else to Fiber.
func (p *RelayServer) Handler() fasthttp.RequestHandler {
	ws := p.FastHTTPHandler()
	api := p.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if bytes.Equal(ctx.Path(), []byte("/ws")) {
			ws(ctx)
			return
		}
		api(ctx)
	}
}

func (p *RelayServer) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (p *RelayServer) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  "/ws",
		"clients":   p.hub.ClientCount(),
		"rooms":     len(p.hub.Rooms()),
	})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (p *RelayServer) handleRegister(c fiber.Ctx) error {
	var req credentials
	if err := c.Bind().JSON(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	u, err := p.users.Register(c.Context(), req.Username, req.Password)
	if err != nil {
		return p.authError(c, err)
	}
	p.logger.Info().Str("username", u.Username).Msg("user registered")
	return p.issueSession(c, u)
}

func (p *RelayServer) handleLogin(c fiber.Ctx) error {
	var req credentials
	if err := c.Bind().JSON(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	u, err := p.users.Authenticate(c.Context(), req.Username, req.Password)
	if err != nil {
		return p.authError(c, err)
	}
	return p.issueSession(c, u)
}

func (p *RelayServer) handleLogout(c fiber.Ctx) error {
	c.ClearCookie(tokenCookie)
	return c.JSON(fiber.Map{"ok": true})
}

func (p *RelayServer) issueSession(c fiber.Ctx, u auth.User) error {
	token, err := p.tokens.Issue(u)
	if err != nil {
		p.logger.Error().Err(err).Str("username", u.Username).Msg("token issue failed")
		return errorJSON(c, fiber.StatusInternalServerError, "server error")
	}
	c.Cookie(&fiber.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(p.cfg.TokenTTL),
		HTTPOnly: true,
		Secure:   p.cfg.CookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{
		"user":  fiber.Map{"id": u.ID, "username": u.Username},
		"token": token,
	})
}

func (p *RelayServer) authError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		return errorJSON(c, fiber.StatusBadRequest, "Username & password required")
	case errors.Is(err, auth.ErrUsernameTaken):
		return errorJSON(c, fiber.StatusConflict, "Username taken")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid credentials")
	}
	p.logger.Error().Err(err).Msg("user directory error")
	return errorJSON(c, fiber.StatusInternalServerError, "server error")
}

func errorJSON(c fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
// Admission is decided before the upgrade: no frames are exchanged with a
// rejected connection.
func (p *RelayServer) FastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			reject(ctx, fasthttp.StatusUpgradeRequired, "upgrade_required", "WebSocket upgrade required")
			return
		}

		identity, err := p.tokens.Verify(requestToken(ctx))
		if err != nil {
			p.logger.Debug().Err(err).Msg("websocket rejected: bad token")
			reject(ctx, fasthttp.StatusUnauthorized, "unauthorized", "valid token required")
			return
		}
		room := strings.TrimSpace(string(ctx.QueryArgs().Peek("room")))
		if room == "" {
			reject(ctx, fasthttp.StatusBadRequest, "room_required", "room query parameter required")
			return
		}
		cdc, ok := codec.Lookup(string(ctx.QueryArgs().Peek("codec")))
		if !ok {
			reject(ctx, fasthttp.StatusBadRequest, "unknown_codec", "codec must be json or msgpack")
			return
		}
		if p.cfg.MaxConnections > 0 && p.hub.ClientCount() >= p.cfg.MaxConnections {
			reject(ctx, fasthttp.StatusServiceUnavailable, "capacity", "connection limit reached")
			return
		}

		clientID := uuid.New().String()
		h := p.hub
		cfg := p.cfg
		logger := p.logger

		err = p.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := hub.NewClient(clientID, identity.Username, room,
				newFasthttpConn(conn, cfg.MaxMessageSize, cfg.PingInterval, cfg.WriteTimeout), cdc, h)
			h.Register(client)
			go client.WritePump()
			client.ReadPump()
		})
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// requestToken reads the identity token from the query, a bearer header or
// the session cookie, in that order.
func requestToken(ctx *fasthttp.RequestCtx) string {
	if t := ctx.QueryArgs().Peek("token"); len(t) > 0 {
		return string(t)
	}
	if h := string(ctx.Request.Header.Peek("Authorization")); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return string(ctx.Request.Header.Cookie(tokenCookie))
}

func reject(ctx *fasthttp.RequestCtx, status int, code, msg string) {
	body, _ := json.Marshal(map[string]string{"error": code, "message": msg})
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newFasthttpConn(conn *websocket.Conn, readLimit int64, pingInterval, writeTimeout time.Duration) *fasthttpConn {
	pongWait := pingInterval * 2
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &fasthttpConn{conn: conn, writeTimeout: writeTimeout}
}

// ReadFrame returns the next data message. Text and binary frames are both
// accepted; the codec decides how to parse them.
func (f *fasthttpConn) ReadFrame() ([]byte, error) {
	_, data, err := f.conn.ReadMessage()
	return data, err
}

func (f *fasthttpConn) WriteFrame(data []byte, binary bool) error {
	kind := websocket.TextMessage
	if binary {
		kind = websocket.BinaryMessage
	}
	f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	return f.conn.WriteMessage(kind, data)
}

func (f *fasthttpConn) Ping() error {
	return f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.writeTimeout))
}

func (f *fasthttpConn) Close() error { return f.conn.Close() }
