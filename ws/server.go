package ws

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/luciancaetano/upsock"
	"github.com/luciancaetano/upsock/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type ServerConfig = *websocket.ServerConfig
type FileConfig = websocket.FileConfig

// New creates a server that negotiates Hixie-76 and HyBi upgrades on
// handlers wrapped with Accept, Require or Handler.
//
// Example:
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), func(conn upsock.Conn) {
//	    log.Printf("connected: %s (%s)", conn.ID(), conn.Version())
//	}, nil))
//	server.Handle("/ws", server.Require(handler))
func New(cfg ServerConfig) upsock.Server {
	return websocket.New(cfg)
}

func NewConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		RateLimitConfig:    rateLimitConfig,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnClientDisconnect: onDisconnect,
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// DefaultFileConfig returns the values used for keys absent from a config file
func DefaultFileConfig() FileConfig {
	return websocket.DefaultFileConfig()
}

// LoadConfig reads a TOML configuration file
func LoadConfig(path string) (*FileConfig, error) {
	return websocket.LoadConfig(path)
}

// NewLogger builds a console logger at the given level
func NewLogger(level string) (*zap.Logger, error) {
	return websocket.NewLogger(level)
}

// FromContext returns the RequestContext attached by a wrapped handler
func FromContext(ctx context.Context) (*upsock.RequestContext, bool) {
	return upsock.FromContext(ctx)
}
