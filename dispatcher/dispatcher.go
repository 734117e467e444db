// Package dispatcher turns inbound RPC messages into capability calls.
//
// Request processing pipeline:
//
//	Serve (single goroutine reads messages)
//	  → for each message: go handleMessage (parallel processing)
//	    → decode → introspection? → resolve → acquire slot
//	      → Middleware Chain → invoke (Bind + Func) → encode → write response
//
// Every message produces exactly one response carrying the request's
// correlation id, except when the connection is already gone.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"remote-agent/codec"
	"remote-agent/message"
	"remote-agent/metrics"
	"remote-agent/middleware"
	"remote-agent/registry"
	"remote-agent/transport"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrencyLimit bounds executing capabilities per connection.
const DefaultConcurrencyLimit = 4

// Conn is the part of the transport the dispatcher needs.
type Conn interface {
	Read(ctx context.Context) (transport.MessageType, []byte, error)
	WriteText(ctx context.Context, data []byte) error
}

// Options configure a Dispatcher.
type Options struct {
	ConcurrencyLimit int                // Admission slots per connection (default 4)
	Codec            codec.Codec        // Default JSONCodec
	Metrics          *metrics.Collector // Optional
}

// Dispatcher serves one connection at a time per Serve call.
type Dispatcher struct {
	registry    *registry.Registry
	codec       codec.Codec
	limit       int64
	middlewares []middleware.Middleware // Applied in order, first is outermost
	wg          sync.WaitGroup          // Tracks in-flight messages for Wait
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// New creates a dispatcher over a capability table.
func New(reg *registry.Registry, opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if opts.Codec == nil {
		opts.Codec = &codec.JSONCodec{}
	}
	return &Dispatcher{
		registry: reg,
		codec:    opts.Codec,
		limit:    int64(opts.ConcurrencyLimit),
		metrics:  opts.Metrics,
		logger:   logger.With(zap.String("component", "dispatcher")),
	}
}

// Use registers a middleware. Call before Serve.
func (d *Dispatcher) Use(mw middleware.Middleware) {
	d.middlewares = append(d.middlewares, mw)
}

// session is the per-connection state shared by the message goroutines.
type session struct {
	conn    Conn
	sem     *semaphore.Weighted
	handler middleware.HandlerFunc
}

// Serve reads messages until the connection fails or ctx is cancelled. The
// returned error is the read failure; it never returns nil while the
// connection is healthy.
func (d *Dispatcher) Serve(ctx context.Context, conn Conn) error {
	// Build the chain once per connection, not per request
	s := &session{
		conn:    conn,
		sem:     semaphore.NewWeighted(d.limit),
		handler: middleware.Chain(d.middlewares...)(d.invoke),
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive: %w", err)
		}

		// Never wait here: a slow capability must not stall the reader
		d.wg.Add(1)
		go d.handleMessage(ctx, s, typ, data)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, s *session, typ transport.MessageType, data []byte) {
	defer d.wg.Done()

	resp := d.process(ctx, s, typ, data)
	if resp == nil {
		return
	}

	out, err := d.codec.EncodeResponse(resp)
	if err != nil {
		d.logger.Error("encode response", zap.String("id", resp.ID), zap.Error(err))
		out, _ = d.codec.EncodeResponse(message.Failure(resp.ID, fmt.Sprintf("result is not serializable: %v", err)))
	}

	if err := s.conn.WriteText(ctx, out); err != nil {
		// The receive loop sees the broken connection and tears the session down
		d.logger.Warn("response dropped", zap.String("id", resp.ID), zap.Error(err))
	}
}

// process walks Received → Parsed → Resolved → Executing. A nil response
// means the connection went away while waiting for a slot.
func (d *Dispatcher) process(ctx context.Context, s *session, typ transport.MessageType, data []byte) *message.Response {
	if typ != transport.MessageText {
		d.metrics.RecordInvalidMessage()
		return message.Failure("", codec.InvalidJSONMessage)
	}

	req, err := d.codec.DecodeRequest(data)
	switch {
	case errors.Is(err, codec.ErrInvalidJSON):
		d.metrics.RecordInvalidMessage()
		d.logger.Warn("invalid json received", zap.Int("bytes", len(data)))
		return message.Failure("", codec.InvalidJSONMessage)
	case err != nil:
		d.metrics.RecordInvalidMessage()
		id := ""
		if req != nil {
			id = req.CorrelationID()
		}
		return message.Failure(id, err.Error())
	}

	id := req.CorrelationID()
	if req.Function == "" {
		d.metrics.RecordInvalidMessage()
		return message.Failure(id, "missing function name")
	}

	// Introspection bypasses admission and middleware
	if req.Function == message.ListMethods {
		return &message.Response{ID: id, Status: message.StatusSuccess, Methods: d.registry.List()}
	}

	if _, err := d.registry.Resolve(req.Function); err != nil {
		d.logger.Warn("function not found", zap.String("function", req.Function), zap.String("id", id))
		return message.Failure(id, "Unknown function: "+req.Function)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		d.logger.Debug("admission abandoned", zap.String("function", req.Function), zap.String("id", id))
		return nil
	}
	slot := &execSlot{sem: s.sem}
	defer slot.abandon()

	// In-flight calls finish even if the connection drops
	return s.handler(withSlot(context.WithoutCancel(ctx), slot), req)
}

const (
	slotIdle int32 = iota
	slotRunning
	slotAbandoned
)

// execSlot is one admission slot. It is released exactly once: by invoke
// when the capability returns, or by process when the chain answered
// without ever reaching invoke. A middleware that answers early (timeout)
// does not free the slot while the capability still runs.
type execSlot struct {
	sem   *semaphore.Weighted
	state atomic.Int32
}

// claim marks the slot as running; false means it was already given back.
func (e *execSlot) claim() bool {
	return e.state.CompareAndSwap(slotIdle, slotRunning)
}

func (e *execSlot) abandon() {
	if e.state.CompareAndSwap(slotIdle, slotAbandoned) {
		e.sem.Release(1)
	}
}

type slotKey struct{}

func withSlot(ctx context.Context, slot *execSlot) context.Context {
	return context.WithValue(ctx, slotKey{}, slot)
}

// invoke is the innermost handler: bind arguments and run the capability.
func (d *Dispatcher) invoke(ctx context.Context, req *message.Request) (resp *message.Response) {
	id := req.CorrelationID()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("capability panicked",
				zap.String("function", req.Function),
				zap.String("id", id),
				zap.Any("panic", r),
				zap.Stack("stack"))
			resp = message.Failure(id, fmt.Sprintf("panic: %v", r))
		}
	}()

	if slot, ok := ctx.Value(slotKey{}).(*execSlot); ok {
		if !slot.claim() {
			return message.Failure(id, "request abandoned before execution")
		}
		d.wg.Add(1)
		defer func() {
			slot.sem.Release(1)
			d.wg.Done()
		}()
	}

	c, err := d.registry.Resolve(req.Function)
	if err != nil {
		return message.Failure(id, "Unknown function: "+req.Function)
	}
	call, err := registry.Bind(c, req)
	if err != nil {
		return message.Failure(id, err.Error())
	}

	result, err := c.Func(ctx, call)
	if err != nil {
		return message.Failure(id, err.Error())
	}
	return message.Success(id, result)
}

// Wait blocks until in-flight messages finish or timeout elapses.
func (d *Dispatcher) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for in-flight calls to finish")
	}
}
