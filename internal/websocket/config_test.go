package websocket

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upsock.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadConfig tests decoding of TOML configuration files
func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		wantAddr    string
		wantPath    string
		wantAll     bool
		wantMax     int64
		wantLevel   string
		wantEnabled bool
		wantMPS     rate.Limit
		wantBurst   int
	}{
		{
			name:        "empty file uses defaults",
			body:        "",
			wantAddr:    ":8080",
			wantPath:    "/ws",
			wantLevel:   "info",
			wantEnabled: true,
			wantMPS:     100,
			wantBurst:   200,
		},
		{
			name: "all keys",
			body: `
addr = "127.0.0.1:9000"
path = "/chat"
accept_all = true
max_message_size = 65536
read_buffer_size = 1024
log_level = "debug"

[rate_limit]
enabled = true
messages_per_second = 5
burst = 10
`,
			wantAddr:    "127.0.0.1:9000",
			wantPath:    "/chat",
			wantAll:     true,
			wantMax:     65536,
			wantLevel:   "debug",
			wantEnabled: true,
			wantMPS:     5,
			wantBurst:   10,
		},
		{
			name: "rate limit disabled",
			body: `
[rate_limit]
enabled = false
`,
			wantAddr:  ":8080",
			wantPath:  "/ws",
			wantLevel: "info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := LoadConfig(writeConfig(t, tt.body))
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if cfg.Addr != tt.wantAddr || cfg.Path != tt.wantPath || cfg.LogLevel != tt.wantLevel {
				t.Errorf("LoadConfig() = %+v", cfg)
			}

			sc := cfg.ServerConfig(zap.NewNop())
			if sc.AcceptAll != tt.wantAll {
				t.Errorf("AcceptAll = %v, want %v", sc.AcceptAll, tt.wantAll)
			}
			if sc.MaxMessageSize != tt.wantMax {
				t.Errorf("MaxMessageSize = %v, want %v", sc.MaxMessageSize, tt.wantMax)
			}
			rl := sc.RateLimitConfig
			if rl.Enabled != tt.wantEnabled || rl.MessagesPerSecond != tt.wantMPS || rl.Burst != tt.wantBurst {
				t.Errorf("RateLimitConfig = %+v", rl)
			}
		})
	}
}

// TestLoadConfigErrors tests files that must be rejected
func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.toml") },
			wantErr: "load config",
		},
		{
			name:    "syntax error",
			path:    func(t *testing.T) string { return writeConfig(t, "addr = ") },
			wantErr: "load config",
		},
		{
			name:    "unknown key",
			path:    func(t *testing.T) string { return writeConfig(t, "adr = \":1\"\n") },
			wantErr: "unknown keys adr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadConfig(tt.path(t))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestNewLogger tests log level parsing
func TestNewLogger(t *testing.T) {
	t.Parallel()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := NewLogger(level)
		if err != nil {
			t.Errorf("NewLogger(%q) error = %v", level, err)
			continue
		}
		if logger == nil {
			t.Errorf("NewLogger(%q) returned nil", level)
		}
	}

	if _, err := NewLogger("loud"); err == nil {
		t.Error("NewLogger(loud) succeeded, want error")
	}
}
