package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/upsock"
	"github.com/luciancaetano/upsock/ws"
)

type ChatMessage struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type UserInfo struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Protocol string    `json:"protocol"`
	JoinedAt time.Time `json:"joinedAt"`
}

type ChatServer struct {
	server     upsock.Server
	logger     *zap.Logger
	users      map[string]*UserInfo
	usersMux   sync.RWMutex
	listenPath string
}

func NewChatServer(fc *ws.FileConfig, logger *zap.Logger) *ChatServer {
	cs := &ChatServer{
		logger:     logger,
		users:      make(map[string]*UserInfo),
		listenPath: fc.Path,
	}

	cfg := fc.ServerConfig(logger)
	cfg.CheckOrigin = ws.AllOrigins()
	cfg.OnConnect = cs.onConnect
	cfg.OnClientDisconnect = cs.onDisconnect
	cs.server = ws.New(cfg)

	cs.server.Handle(fc.Path, cs.server.Accept(cs.serve))
	return cs
}

func (cs *ChatServer) onConnect(conn upsock.Conn) {
	cs.usersMux.Lock()
	cs.users[conn.ID()] = &UserInfo{
		ID:       conn.ID(),
		Username: "Guest_" + conn.ID()[:8],
		Protocol: conn.Version().String(),
		JoinedAt: time.Now(),
	}
	cs.usersMux.Unlock()

	cs.logger.Info("client connected",
		zap.String("id", conn.ID()),
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.Stringer("version", conn.Version()))
}

func (cs *ChatServer) onDisconnect(conn upsock.Conn, voluntary bool) {
	cs.usersMux.Lock()
	user := cs.users[conn.ID()]
	delete(cs.users, conn.ID())
	cs.usersMux.Unlock()

	cs.logger.Info("client disconnected", zap.String("id", conn.ID()), zap.Bool("voluntary", voluntary))
	if user != nil {
		cs.announce(user.Username + " left")
	}
}

// serve answers plain requests with a status line and runs the chat loop for
// upgraded ones.
func (cs *ChatServer) serve(w http.ResponseWriter, r *http.Request, rc *upsock.RequestContext) {
	if !rc.IsWebSocket() {
		fmt.Fprintf(w, "upsock chat: %d connected, upgrade %s to join\n", len(cs.server.Connections()), cs.listenPath)
		return
	}

	conn := rc.Conn()
	for msg := range conn.Messages() {
		cs.handle(conn, msg.String())
	}
}

func (cs *ChatServer) handle(conn upsock.Conn, text string) {
	ctx := conn.Context()

	switch {
	case strings.HasPrefix(text, "/nick "):
		name := strings.TrimSpace(strings.TrimPrefix(text, "/nick "))
		if name == "" {
			return
		}
		cs.usersMux.Lock()
		user, ok := cs.users[conn.ID()]
		old := ""
		if ok {
			old = user.Username
			user.Username = name
		}
		cs.usersMux.Unlock()
		if ok {
			cs.announce(old + " is now " + name)
		}

	case text == "/users":
		cs.usersMux.RLock()
		users := make([]UserInfo, 0, len(cs.users))
		for _, u := range cs.users {
			users = append(users, *u)
		}
		cs.usersMux.RUnlock()
		sort.Slice(users, func(i, j int) bool { return users[i].JoinedAt.Before(users[j].JoinedAt) })

		data, err := json.Marshal(users)
		if err != nil {
			cs.logger.Error("failed to marshal users list", zap.Error(err))
			return
		}
		if err := conn.SendText(ctx, string(data)); err != nil {
			cs.logger.Debug("failed to send users list", zap.Error(err))
		}

	case text == "/quit":
		conn.Close(ctx)

	default:
		cs.usersMux.RLock()
		name := conn.ID()
		if u, ok := cs.users[conn.ID()]; ok {
			name = u.Username
		}
		cs.usersMux.RUnlock()

		cs.broadcast(ChatMessage{Username: name, Message: text, Timestamp: time.Now()})
	}
}

func (cs *ChatServer) announce(text string) {
	cs.broadcast(ChatMessage{Username: "*", Message: text, Timestamp: time.Now()})
}

func (cs *ChatServer) broadcast(msg ChatMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		cs.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	if err := cs.server.Broadcast(context.Background(), upsock.Text(string(data))); err != nil {
		cs.logger.Warn("failed to broadcast message", zap.Error(err))
	}
}

func main() {
	configPath := flag.String("c", "", "path to a TOML config file")
	addr := flag.String("addr", "", "listen address, overrides the config file")
	logLevel := flag.String("ll", "", "log level (debug, info, warn, error), overrides the config file")
	flag.Parse()

	fc := ws.DefaultFileConfig()
	if *configPath != "" {
		loaded, err := ws.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fc = *loaded
	}
	if *addr != "" {
		fc.Addr = *addr
	}
	if *logLevel != "" {
		fc.LogLevel = *logLevel
	}

	logger, err := ws.NewLogger(fc.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chat := NewChatServer(&fc, logger)
	if err := chat.server.Start(ctx); err != nil {
		logger.Fatal("failed to start chat server", zap.Error(err))
	}
	logger.Info("chat server started", zap.String("addr", fc.Addr), zap.String("path", fc.Path))

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := chat.server.Stop(stopCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
