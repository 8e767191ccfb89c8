package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/upsock"
	"github.com/luciancaetano/upsock/internal/handshake"
	"github.com/luciancaetano/upsock/internal/protocol"
)

// Stream is the raw bidirectional byte stream a connection runs on.
// Read returning io.EOF (or any error with zero bytes) means the peer is gone.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// State is the lifecycle state of a connection.
type State int32

const (
	StateHandshakePending State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshakePending:
		return "handshake-pending"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn implements upsock.Conn on top of a Stream.
type Conn struct {
	id         string
	remoteAddr string
	stream     Stream
	neg        *handshake.Negotiation
	version    protocol.Version
	logger     *zap.Logger
	limiter    *rate.Limiter
	maxSize    int64

	ctx    context.Context
	cancel context.CancelFunc

	// writeSem is a one-slot semaphore serializing writes to the stream.
	writeSem chan struct{}

	mu          sync.Mutex
	state       State
	closeCode   uint16
	closeReason string
	voluntary   bool
	onClose     func(c *Conn, voluntary bool)
	closeOnce   sync.Once

	// Owned by the reader goroutine.
	chunk      []byte
	buf        []byte
	queue      *queue.Queue
	assembler  protocol.Assembler
	hixie      protocol.Hixie76Decoder
	pendingErr error
}

var _ upsock.Conn = (*Conn)(nil)

// NewConn creates a connection in the handshake-pending state. The stream is
// exclusively owned by the connection from now on.
func NewConn(id string, stream Stream, neg *handshake.Negotiation, cfg *ServerConfig) *Conn {
	cfg = cfg.normalized()
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if cfg.RateLimitConfig.Enabled {
		limiter = rate.NewLimiter(cfg.RateLimitConfig.MessagesPerSecond, cfg.RateLimitConfig.Burst)
	}

	c := &Conn{
		id:       id,
		stream:   stream,
		neg:      neg,
		version:  neg.Version,
		limiter:  limiter,
		maxSize:  cfg.MaxMessageSize,
		ctx:      ctx,
		cancel:   cancel,
		writeSem: make(chan struct{}, 1),
		state:    StateHandshakePending,
		chunk:    make([]byte, cfg.ReadBufferSize),
		queue:    queue.New(),
	}
	c.assembler.MaxSize = cfg.MaxMessageSize
	c.hixie.MaxSize = int(cfg.MaxMessageSize)
	c.logger = cfg.Logger.With(zap.String("conn_id", id), zap.Stringer("version", c.version))
	return c
}

// ID returns a unique identifier for the connection
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer's network address
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Version returns the negotiated protocol generation
func (c *Conn) Version() upsock.Version {
	return c.version
}

// Subprotocol returns the subprotocol echoed in the handshake
func (c *Conn) Subprotocol() string {
	return c.neg.Subprotocol()
}

// Context returns the connection's lifecycle context
func (c *Conn) Context() context.Context {
	return c.ctx
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsAlive returns true while the connection is open
func (c *Conn) IsAlive() bool {
	return c.State() == StateOpen
}

// CloseCode returns the status code of the closing handshake, or zero if
// none was exchanged.
func (c *Conn) CloseCode() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// CloseReason returns the reason sent with the closing handshake.
func (c *Conn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *Conn) setOnClose(fn func(c *Conn, voluntary bool)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Handshake writes the handshake response exactly once and opens the
// connection. For Hixie-76 it first reads the challenge body from the stream.
//
// On failure the connection is marked closed but the stream is left open so
// the caller can still answer with a raw HTTP error.
func (c *Conn) Handshake(ctx context.Context) error {
	if st := c.State(); st != StateHandshakePending {
		return fmt.Errorf("%w: handshake in state %s", protocol.ErrBadOperation, st)
	}

	resp, err := c.neg.Response(c.stream)
	if err == nil {
		err = c.write(ctx, resp)
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.cancel()
		return err
	}

	c.mu.Lock()
	if c.state == StateHandshakePending {
		c.state = StateOpen
	}
	c.mu.Unlock()

	c.logger.Debug("sent opening handshake response")
	return nil
}

// Send encodes msg and writes it as one frame
func (c *Conn) Send(ctx context.Context, msg upsock.Message) error {
	return c.writeOpen(ctx, c.encode(msg))
}

// SendText sends a text message
func (c *Conn) SendText(ctx context.Context, text string) error {
	return c.Send(ctx, protocol.Text(text))
}

// SendBinary sends a binary message
func (c *Conn) SendBinary(ctx context.Context, data []byte) error {
	return c.Send(ctx, protocol.Binary(data))
}

// Close closes the connection with a normal closure status
func (c *Conn) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, protocol.CloseNormalClosure, "")
}

// CloseWithCode sends the closing frame and closes the stream. It is a
// no-op if the closing handshake already started.
func (c *Conn) CloseWithCode(ctx context.Context, code uint16, reason string) error {
	if !c.beginClose(code, reason, false) {
		if c.State() == StateHandshakePending {
			c.finish()
		}
		return nil
	}

	err := c.write(ctx, c.closingFrame(code, reason))
	c.finish()
	return err
}

// Receive returns the oldest decoded message, reading from the stream until
// one is available.
func (c *Conn) Receive() (upsock.Message, error) {
	for {
		if c.queue.Length() > 0 {
			return c.admit(c.queue.Remove().(protocol.Message))
		}
		if err := c.pendingErr; err != nil {
			c.pendingErr = nil
			return upsock.Message{}, err
		}
		if err := c.receivable(); err != nil {
			return upsock.Message{}, err
		}

		c.parse()
		if c.queue.Length() > 0 || c.pendingErr != nil || c.State() != StateOpen {
			continue
		}

		if err := c.fill(); err != nil {
			return upsock.Message{}, err
		}
	}
}

// TryReceive returns a message decoded from already buffered bytes, or
// ErrWouldBlock. It never reads from the stream.
func (c *Conn) TryReceive() (upsock.Message, error) {
	if c.queue.Length() == 0 && c.pendingErr == nil {
		if err := c.receivable(); err != nil {
			return upsock.Message{}, err
		}
		c.parse()
	}

	if c.queue.Length() > 0 {
		return c.admit(c.queue.Remove().(protocol.Message))
	}
	if err := c.pendingErr; err != nil {
		c.pendingErr = nil
		return upsock.Message{}, err
	}
	if err := c.receivable(); err != nil {
		return upsock.Message{}, err
	}
	return upsock.Message{}, protocol.ErrWouldBlock
}

// Messages yields received messages until the connection terminates.
// Unsupported frames are skipped.
func (c *Conn) Messages() iter.Seq[upsock.Message] {
	return func(yield func(upsock.Message) bool) {
		for {
			msg, err := c.Receive()
			if err != nil {
				if errors.Is(err, protocol.ErrUnsupportedFrame) {
					continue
				}
				return
			}
			if !yield(msg) {
				return
			}
		}
	}
}

func (c *Conn) receivable() error {
	switch st := c.State(); st {
	case StateOpen:
		return nil
	case StateHandshakePending:
		return fmt.Errorf("%w: receive before handshake", protocol.ErrBadOperation)
	default:
		return protocol.ErrConnectionTerminated
	}
}

func (c *Conn) sendable() error {
	switch st := c.State(); st {
	case StateOpen:
		return nil
	case StateHandshakePending:
		return fmt.Errorf("%w: send before handshake", protocol.ErrBadOperation)
	case StateClosing:
		return protocol.ErrAlreadyClosing
	default:
		return protocol.ErrAlreadyClosed
	}
}

// admit applies the inbound rate limit to a message leaving the queue.
func (c *Conn) admit(msg upsock.Message) (upsock.Message, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("rate limit exceeded", zap.String("remote_addr", c.remoteAddr))
		c.CloseWithCode(context.Background(), protocol.ClosePolicyViolation, upsock.ErrRateLimitExceeded)
		return upsock.Message{}, fmt.Errorf("%w: %s", protocol.ErrConnectionTerminated, upsock.ErrRateLimitExceeded)
	}
	return msg, nil
}

// fill performs one blocking read and appends the result to the buffer.
func (c *Conn) fill() error {
	n, err := c.stream.Read(c.chunk)
	if n > 0 {
		c.buf = append(c.buf, c.chunk[:n]...)
		return nil
	}
	if err == nil {
		return nil
	}
	c.terminate(err)
	return fmt.Errorf("%w: %w", protocol.ErrConnectionTerminated, err)
}

// consume drops the first n bytes of the buffer.
func (c *Conn) consume(n int) {
	if n <= 0 {
		return
	}
	rest := copy(c.buf, c.buf[n:])
	c.buf = c.buf[:rest]
}

func (c *Conn) parse() {
	switch c.version {
	case protocol.VersionHixie76:
		c.parseHixie76()
	case protocol.VersionHyBi:
		c.parseHyBi()
	}
}

func (c *Conn) parseHixie76() {
	if len(c.buf) == 0 {
		return
	}
	res, err := c.hixie.Decode(c.buf)
	for _, msg := range res.Messages {
		c.queue.Add(msg)
	}
	c.consume(res.Consumed)

	if err != nil {
		c.fail(err)
		return
	}
	if res.Closing {
		c.logger.Debug("received client-initiated closing handshake")
		c.peerClose(0, "")
	}
}

func (c *Conn) parseHyBi() {
	for len(c.buf) > 0 && c.pendingErr == nil && c.State() == StateOpen {
		f, err := protocol.DecodeHyBi(c.buf, c.maxSize)
		if err != nil {
			c.fail(err)
			return
		}
		if f == nil {
			return
		}
		c.consume(len(c.buf) - f.Remaining)

		if !f.Masked {
			c.logger.Warn("received unmasked client frame", zap.Stringer("opcode", f.Opcode))
		}

		if err := c.handleFrame(f); err != nil {
			if errors.Is(err, protocol.ErrUnsupportedFrame) {
				c.logger.Debug("skipping unsupported frame", zap.Error(err))
				c.pendingErr = err
				return
			}
			c.fail(err)
			return
		}
	}
}

func (c *Conn) handleFrame(f *protocol.Frame) error {
	switch {
	case f.Opcode == protocol.OpClose:
		c.logger.Debug("received client-initiated closing handshake",
			zap.Uint16("code", f.CloseCode), zap.String("reason", f.CloseReason))
		c.peerClose(f.CloseCode, f.CloseReason)
		return nil

	case f.Opcode == protocol.OpPing:
		if err := c.writeOpen(context.Background(), protocol.EncodeHyBi(protocol.OpPong, f.Payload)); err != nil {
			c.logger.Debug("failed to answer ping", zap.Error(err))
		}
		return nil

	case f.Opcode == protocol.OpPong:
		return nil

	case f.Opcode.IsData():
		msg, done, err := c.assembler.Push(f)
		if err != nil {
			return err
		}
		if done {
			c.queue.Add(msg)
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnsupportedFrame, f.Opcode)
	}
}

func (c *Conn) encode(msg upsock.Message) []byte {
	if c.version == protocol.VersionHixie76 {
		return protocol.EncodeHixie76(msg.Data)
	}
	op := protocol.OpText
	if msg.Type == protocol.BinaryMessage {
		op = protocol.OpBinary
	}
	return protocol.EncodeHyBi(op, msg.Data)
}

func (c *Conn) closingFrame(code uint16, reason string) []byte {
	if c.version == protocol.VersionHixie76 {
		return protocol.Hixie76Close
	}
	return protocol.EncodeHyBi(protocol.OpClose, protocol.ClosePayload(code, reason))
}

// beginClose moves an open connection to closing. It reports false when the
// connection was not open.
func (c *Conn) beginClose(code uint16, reason string, voluntary bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return false
	}
	c.state = StateClosing
	c.closeCode = code
	c.closeReason = reason
	c.voluntary = voluntary
	return true
}

// peerClose acknowledges a client-initiated closing handshake. A code that is
// not allowed on the wire is answered with 1002.
func (c *Conn) peerClose(code uint16, reason string) {
	if !c.beginClose(code, reason, true) {
		return
	}
	echo := code
	if code != 0 && !protocol.ValidCloseCode(code) {
		echo = protocol.CloseProtocolError
	}
	if err := c.write(context.Background(), c.closingFrame(echo, "")); err != nil {
		c.logger.Debug("failed to acknowledge closing handshake", zap.Error(err))
	} else {
		c.logger.Debug("sent ack for client-initiated closing handshake")
	}
	c.finish()
}

// fail terminates the connection after a protocol violation.
func (c *Conn) fail(err error) {
	c.logger.Warn("terminating connection on invalid input", zap.Error(err))
	c.pendingErr = fmt.Errorf("%w: %w", protocol.ErrConnectionTerminated, err)
	c.assembler.Reset()

	code := protocol.CloseProtocolError
	if errors.Is(err, protocol.ErrMessageTooBig) {
		code = protocol.CloseMessageTooBig
	}
	if c.beginClose(code, "", false) {
		if werr := c.write(context.Background(), c.closingFrame(code, "")); werr != nil {
			c.logger.Debug("failed to send closing frame", zap.Error(werr))
		}
	}
	c.finish()
}

// terminate handles a failed read or write on the stream.
func (c *Conn) terminate(cause error) {
	if c.State() == StateOpen {
		c.logger.Debug("connection terminated unexpectedly", zap.Error(cause))
	}
	c.finish()
}

// finish moves the connection to closed and releases the stream once.
func (c *Conn) finish() {
	c.mu.Lock()
	c.state = StateClosed
	voluntary := c.voluntary
	onClose := c.onClose
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		if err := c.stream.Close(); err != nil {
			c.logger.Debug("failed to close stream", zap.Error(err))
		}
		c.cancel()
		if onClose != nil {
			onClose(c, voluntary)
		}
	})
}

func (c *Conn) lockWrite(ctx context.Context) error {
	select {
	case c.writeSem <- struct{}{}:
		return nil
	default:
	}
	select {
	case c.writeSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) unlockWrite() {
	<-c.writeSem
}

// write writes b under the write lock regardless of state.
func (c *Conn) write(ctx context.Context, b []byte) error {
	if err := c.lockWrite(ctx); err != nil {
		return err
	}
	defer c.unlockWrite()
	_, err := c.stream.Write(b)
	return err
}

// writeOpen writes b under the write lock if the connection is still open.
func (c *Conn) writeOpen(ctx context.Context, b []byte) error {
	if err := c.lockWrite(ctx); err != nil {
		return err
	}
	if err := c.sendable(); err != nil {
		c.unlockWrite()
		return err
	}
	_, err := c.stream.Write(b)
	c.unlockWrite()

	if err != nil {
		c.terminate(err)
		return fmt.Errorf("%w: %w", protocol.ErrConnectionTerminated, err)
	}
	return nil
}
