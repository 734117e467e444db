// Package transport wraps one WebSocket connection to the control plane.
//
// Many goroutines share a Conn: dispatcher handlers write text responses
// while streaming loops write binary frames. Writes are serialized so a
// frame is never interleaved with a response; reads have a single owner
// (the dispatcher receive loop).
//
//	handler-1 ──WriteText──┐
//	handler-2 ──WriteText──┼──→ writeMu ──→ websocket ──→ control plane
//	stream(1) ──WriteBinary┘
//
//	receive loop ←── Read ←── websocket
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// MessageType distinguishes text (RPC) from binary (frame) messages.
type MessageType = websocket.MessageType

const (
	MessageText   = websocket.MessageText
	MessageBinary = websocket.MessageBinary
)

// DefaultReadLimit bounds a single inbound message.
const DefaultReadLimit = 1 << 20

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("transport: connection closed")

// Options tune a Conn. Zero values select defaults.
type Options struct {
	WriteTimeout time.Duration // Per-write deadline (default 10s)
	ReadLimit    int64         // Max inbound message size (default 1 MiB)
	HTTPHeader   http.Header   // Extra handshake headers
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	return o
}

// Conn is a WebSocket connection with serialized writes.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex // Held for the whole of one message write
	logger       *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a connection to url.
func Dial(ctx context.Context, url string, opts Options, logger *zap.Logger) (*Conn, error) {
	opts = opts.withDefaults()
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: opts.HTTPHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return NewConn(ws, opts, logger), nil
}

// NewConn wraps an established websocket connection, client or server side.
func NewConn(ws *websocket.Conn, opts Options, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	ws.SetReadLimit(opts.ReadLimit)
	return &Conn{
		ws:           ws,
		writeTimeout: opts.WriteTimeout,
		logger:       logger.With(zap.String("component", "transport")),
		closed:       make(chan struct{}),
	}
}

// Read blocks for the next message. Only one goroutine may read.
func (c *Conn) Read(ctx context.Context) (MessageType, []byte, error) {
	return c.ws.Read(ctx)
}

// WriteText sends one text message.
func (c *Conn) WriteText(ctx context.Context, data []byte) error {
	return c.write(ctx, MessageText, data)
}

// WriteBinary sends one binary message.
func (c *Conn) WriteBinary(ctx context.Context, data []byte) error {
	return c.write(ctx, MessageBinary, data)
}

func (c *Conn) write(ctx context.Context, typ MessageType, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// KeepAlive pings every interval until ctx is done or a ping fails. Pongs
// are only observed while a Read is in progress.
func (c *Conn) KeepAlive(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("websocket ping: %w", err)
			}
			c.logger.Debug("keepalive pong")
		}
	}
}

// Close performs the closing handshake. Safe to call more than once.
func (c *Conn) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close(websocket.StatusNormalClosure, reason)
	})
	return err
}

// CloseNow drops the connection without a handshake.
func (c *Conn) CloseNow() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.CloseNow()
	})
	return err
}

// Done is closed once Close or CloseNow has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}
