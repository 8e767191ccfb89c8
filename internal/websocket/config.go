package websocket

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/upsock"
)

const (
	// DefaultMaxMessageSize bounds a single frame or reassembled message.
	DefaultMaxMessageSize = 10 << 20
	// DefaultReadBufferSize is the number of bytes requested per stream read.
	DefaultReadBufferSize = 4096
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is a callback function that is called when a new connection opens.
// It runs after the handshake response is written and before the handler.
// Use it to track connections or send welcome messages.
//
// Note: This function is called synchronously during connection setup.
// Avoid long-running operations that could block the handler.
type OnConnectFn = func(conn upsock.Conn)

// OnClientDisconnectFn is invoked once when a connection closes. voluntary is
// true when the client started the closing handshake, and false for
// unexpected or server-initiated closes.
type OnClientDisconnectFn = func(conn upsock.Conn, voluntary bool)

type ServerConfig struct {
	Addr string
	// AcceptAll makes handlers wrapped with Server.Handler accept upgrades.
	AcceptAll bool
	// MaxMessageSize limits frames and reassembled messages. Zero means DefaultMaxMessageSize.
	MaxMessageSize int64
	// ReadBufferSize is the stream read size. Zero means DefaultReadBufferSize.
	ReadBufferSize     int
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
	Logger             *zap.Logger
}

// normalized returns a copy of the config with defaults filled in. A nil
// receiver yields the default config.
func (c *ServerConfig) normalized() *ServerConfig {
	var out ServerConfig
	if c != nil {
		out = *c
	}
	if out.RateLimitConfig == nil {
		out.RateLimitConfig = DefaultRateLimitConfig()
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = DefaultMaxMessageSize
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = DefaultReadBufferSize
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out
}

// RateLimitConfig defines rate limiting configuration for connections
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// FileConfig is the TOML representation of a server configuration.
//
//	addr = ":8080"
//	path = "/ws"
//	accept_all = true
//	log_level = "debug"
//
//	[rate_limit]
//	enabled = true
//	messages_per_second = 50
//	burst = 100
type FileConfig struct {
	Addr           string            `toml:"addr"`
	Path           string            `toml:"path"`
	AcceptAll      bool              `toml:"accept_all"`
	MaxMessageSize int64             `toml:"max_message_size"`
	ReadBufferSize int               `toml:"read_buffer_size"`
	LogLevel       string            `toml:"log_level"`
	RateLimit      RateLimitConfFile `toml:"rate_limit"`
}

// RateLimitConfFile is the [rate_limit] table. A missing table or a
// missing enabled key selects DefaultRateLimitConfig.
type RateLimitConfFile struct {
	Enabled           *bool   `toml:"enabled"`
	MessagesPerSecond float64 `toml:"messages_per_second"`
	Burst             int     `toml:"burst"`
}

// DefaultFileConfig returns the values used for keys absent from a file.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Addr:     ":8080",
		Path:     "/ws",
		LogLevel: "info",
	}
}

// LoadConfig reads a TOML configuration file. Unknown keys are an error.
func LoadConfig(path string) (*FileConfig, error) {
	cfg := DefaultFileConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return &cfg, nil
}

// RateLimitConfig converts the [rate_limit] table.
func (f *FileConfig) RateLimitConfig() *RateLimitConfig {
	rl := f.RateLimit
	if rl.Enabled == nil {
		return DefaultRateLimitConfig()
	}
	if !*rl.Enabled {
		return NoRateLimit()
	}
	out := DefaultRateLimitConfig()
	if rl.MessagesPerSecond > 0 {
		out.MessagesPerSecond = rate.Limit(rl.MessagesPerSecond)
	}
	if rl.Burst > 0 {
		out.Burst = rl.Burst
	}
	return out
}

// ServerConfig builds a ServerConfig from the file values. Callbacks and
// origin checks are left for the caller to set.
func (f *FileConfig) ServerConfig(logger *zap.Logger) *ServerConfig {
	return &ServerConfig{
		Addr:            f.Addr,
		AcceptAll:       f.AcceptAll,
		MaxMessageSize:  f.MaxMessageSize,
		ReadBufferSize:  f.ReadBufferSize,
		RateLimitConfig: f.RateLimitConfig(),
		Logger:          logger,
	}
}

// NewLogger builds a console logger writing to stdout at the named level
// ("debug", "info", "warn", "error").
func NewLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	atomicLevel := zap.NewAtomicLevelAt(lvl)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		NameKey:     "logger",
		EncodeLevel: zapcore.CapitalColorLevelEncoder,
		EncodeTime:  zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeName:  zapcore.FullNameEncoder,
		LineEnding:  zapcore.DefaultLineEnding,
	}), zapcore.AddSync(os.Stdout), atomicLevel)

	return zap.New(core), nil
}
