package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/collab/config"
	"github.com/orchestra-mcp/collab/src/auth"
	"github.com/orchestra-mcp/collab/src/bridge"
	"github.com/orchestra-mcp/collab/src/hub"
	"github.com/orchestra-mcp/collab/src/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// RelayServer wires the hub, relay service, identity gate and optional Redis
// bridge behind one fasthttp handler.
type RelayServer struct {
	active   bool
	cfg      *config.RelayConfig
	redisCfg *bridge.RedisConfig
	logger   zerolog.Logger

	hub     *hub.Hub
	service *service.Service
	bridge  bridge.Bridge
	users   auth.UserDirectory
	tokens  *auth.TokenIssuer
	store   *redis.Client

	app      *fiber.App
	upgrader websocket.FastHTTPUpgrader

	mu     sync.Mutex
	server *fasthttp.Server
}

// NewRelayServer creates a relay. A nil redisCfg runs standalone with an
// in-memory user directory regardless of cfg.UserStore.
func NewRelayServer(cfg *config.RelayConfig, redisCfg *bridge.RedisConfig, logger zerolog.Logger) *RelayServer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &RelayServer{
		cfg:      cfg,
		redisCfg: redisCfg,
		logger:   logger.With().Str("component", "relay-server").Logger(),
	}
}

// Activate initializes the hub, service, and starts the event loop.
func (p *RelayServer) Activate(ctx context.Context) error {
	if p.active {
		return nil
	}
	p.hub = hub.New(p.logger)
	p.hub.SetPingInterval(p.cfg.PingInterval)
	p.service = service.New(p.hub, p.logger, service.Options{EchoChat: p.cfg.EchoChat})
	p.service.RegisterRelayHandlers()
	p.tokens = auth.NewTokenIssuer(p.cfg.JWTSecret, p.cfg.TokenTTL)
	p.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  p.cfg.ReadBufferSize,
		WriteBufferSize: p.cfg.WriteBufferSize,
		CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
	}

	go p.hub.Run()

	if err := p.initUsers(ctx); err != nil {
		p.hub.Stop()
		return err
	}

	// Attempt Redis bridge connection (non-fatal if unavailable).
	p.initBridge()

	p.app = fiber.New(fiber.Config{AppName: "collab relay"})
	p.RegisterRoutes(p.app)

	p.mu.Lock()
	p.server = &fasthttp.Server{
		Handler:            p.Handler(),
		Name:               "collab",
		MaxRequestBodySize: 1 << 20,
		Logger:             fasthttpLogger{p.logger},
	}
	p.mu.Unlock()

	p.active = true
	p.logger.Info().
		Str("user_store", p.cfg.UserStore).
		Bool("bridge", p.bridge != nil).
		Msg("relay activated")
	return nil
}

func (p *RelayServer) initUsers(ctx context.Context) error {
	if p.cfg.UserStore == "redis" && p.redisCfg != nil {
		p.store = p.redisCfg.NewClient()
		if err := p.store.Ping(ctx).Err(); err != nil {
			p.store.Close()
			p.store = nil
			return fmt.Errorf("user store: %w", err)
		}
		p.users = auth.NewRedisDirectory(p.store, p.redisCfg.Prefix, auth.DefaultCost)
	} else {
		p.users = auth.NewMemoryDirectory(auth.DefaultCost)
	}

	if p.cfg.SeedUser == "" {
		return nil
	}
	_, err := p.users.Register(ctx, p.cfg.SeedUser, p.cfg.SeedPassword)
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		p.logger.Debug().Str("username", p.cfg.SeedUser).Msg("seed user exists")
	case err != nil:
		return fmt.Errorf("seed user: %w", err)
	default:
		p.logger.Info().Str("username", p.cfg.SeedUser).Msg("seed user created")
	}
	return nil
}

// initBridge tries to start the Redis pub/sub bridge.
// If Redis is not reachable, the hub runs in standalone mode.
func (p *RelayServer) initBridge() {
	if p.redisCfg == nil {
		return
	}
	rb := bridge.NewRedisBridge(p.redisCfg, p.hub, p.logger)

	if err := rb.Start(); err != nil {
		p.logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		return
	}

	p.bridge = rb
	p.hub.SetBridge(rb)
	p.logger.Info().Str("redis_addr", p.redisCfg.Addr).Msg("redis bridge connected")
}

// Serve accepts connections on ln until Deactivate is called.
func (p *RelayServer) Serve(ln net.Listener) error {
	p.mu.Lock()
	srv := p.server
	p.mu.Unlock()
	if srv == nil {
		return errors.New("relay not activated")
	}
	p.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return srv.Serve(ln)
}

// Deactivate stops the bridge and hub event loop.
func (p *RelayServer) Deactivate() error {
	p.mu.Lock()
	srv := p.server
	p.server = nil
	p.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(); err != nil {
			p.logger.Error().Err(err).Msg("server shutdown error")
		}
	}
	if p.bridge != nil {
		if err := p.bridge.Stop(); err != nil {
			p.logger.Error().Err(err).Msg("bridge stop error")
		}
		p.bridge = nil
	}
	if p.store != nil {
		p.store.Close()
		p.store = nil
	}
	if p.hub != nil {
		p.hub.Stop()
	}
	p.active = false
	return nil
}

// Service exposes the relay service.
func (p *RelayServer) Service() *service.Service { return p.service }

// Tokens exposes the token issuer.
func (p *RelayServer) Tokens() *auth.TokenIssuer { return p.tokens }

// Users exposes the account directory.
func (p *RelayServer) Users() auth.UserDirectory { return p.users }

type fasthttpLogger struct {
	logger zerolog.Logger
}

func (l fasthttpLogger) Printf(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}
