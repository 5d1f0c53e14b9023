// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rpc speaks Content-Length framed JSON-RPC over a TCP socket.
//
// The client never correlates on its own. Callers register a Wait with a
// Predicate and a timeout, send, and await. Every inbound message is offered
// to every pending wait in registration order; a wait leaves the pending set
// the moment it settles, by match, timeout, cancellation, or Close.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/sidecarprobe/pkg/logging"
)

// DefaultTimeout is used by Call and Wait when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// readChunk is the socket read size.
const readChunk = 32 * 1024

// =============================================================================
// CLIENT
// =============================================================================

// Client is a framed JSON-RPC connection.
//
// Thread Safety:
//
//	Safe for concurrent use. Writes are serialized; inbound messages are
//	dispatched from a single read goroutine in reassembly order.
type Client struct {
	conn    net.Conn
	logger  *slog.Logger
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending []*Wait
	closed  bool
	readErr error

	nextID   atomic.Int64
	received atomic.Int64

	trace       io.Writer
	traceMu     sync.Mutex
	onMalformed func(count int)

	readDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout sets the default timeout used by Call and Await helpers.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTrace mirrors every frame body, in and out, to w.
func WithTrace(w io.Writer) Option {
	return func(c *Client) { c.trace = w }
}

// WithMalformedHook is called with the number of frames the decoder just
// discarded. It runs on the read goroutine.
func WithMalformedHook(fn func(count int)) Option {
	return func(c *Client) { c.onMalformed = fn }
}

// Dial connects to addr:port and starts reading.
func Dial(ctx context.Context, addr string, port int, opts ...Option) (*Client, error) {
	var d net.Dialer
	target := net.JoinHostPort(addr, strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection and starts reading from it.
// The client owns conn from here on.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:     conn,
		logger:   logging.Discard(),
		timeout:  DefaultTimeout,
		readDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// NextID returns a fresh request id. Ids start at 1.
func (c *Client) NextID() int64 {
	return c.nextID.Add(1)
}

// Received returns the number of well-formed messages read so far.
func (c *Client) Received() int64 {
	return c.received.Load()
}

// Send writes one framed message.
//
// Inputs:
//
//	msg - Any JSON-marshalable value, usually Request or Notification
//
// Outputs:
//
//	error - ErrClosed after Close, or a marshal/write failure
func (c *Client) Send(msg any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	c.traceFrame("-->", frame[bodyOffset(frame):])
	return nil
}

// Notify sends a notification.
func (c *Client) Notify(method string, params any) error {
	return c.Send(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params})
}

// Expect registers a wait before anything is sent.
//
// Description:
//
//	Registering first means a response that arrives before the caller
//	gets around to awaiting is still captured. The wait's timer starts
//	now. A wait registered on a closed client is already failed with
//	ErrClosed.
//
// Inputs:
//
//	pred - Which message settles the wait
//	timeout - Deadline from now; <= 0 uses the client default
func (c *Client) Expect(pred Predicate, timeout time.Duration) *Wait {
	if timeout <= 0 {
		timeout = c.timeout
	}
	w := &Wait{
		client:  c,
		pred:    pred,
		timeout: timeout,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		w.finish(nil, ErrClosed)
		return w
	}
	c.pending = append(c.pending, w)
	w.timer = time.AfterFunc(timeout, func() {
		c.settle(w, nil, fmt.Errorf("%w after %s", ErrRPCTimeout, timeout))
	})
	c.mu.Unlock()
	return w
}

// WaitFor blocks until a message matching pred arrives, the timeout
// passes, or ctx ends.
func (c *Client) WaitFor(ctx context.Context, pred Predicate, timeout time.Duration) (*Message, error) {
	return c.Expect(pred, timeout).Await(ctx)
}

// Call sends a request with a fresh id and waits for its response.
//
// Description:
//
//	result may be nil to ignore the result. An error object in the
//	response is returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	_, err := c.CallID(ctx, c.NextID(), method, params, result)
	return err
}

// CallID is Call with a caller-chosen id. It returns the raw response.
func (c *Client) CallID(ctx context.Context, id int64, method string, params, result any) (*Message, error) {
	w := c.Expect(ByID(id), c.timeout)
	if err := c.Send(Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		w.Cancel()
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	msg, err := w.Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if err := ErrorFor(method, msg); err != nil {
		return msg, err
	}
	if result != nil && len(msg.Result) > 0 {
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return msg, fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return msg, nil
}

// Pending returns the number of unsettled waits.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails all pending waits with ErrClosed, closes the socket, and
// waits for the read goroutine. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()

		for _, w := range pending {
			w.finish(nil, ErrClosed)
		}
		c.closeErr = c.conn.Close()
		<-c.readDone
	})
	return c.closeErr
}

// ReadErr returns why the read loop stopped, or nil while it runs.
func (c *Client) ReadErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// =============================================================================
// DISPATCH
// =============================================================================

func (c *Client) readLoop() {
	defer close(c.readDone)

	var dec Decoder
	buf := make([]byte, readChunk)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			before := dec.Malformed()
			msgs := dec.Feed(buf[:n])
			if dropped := dec.Malformed() - before; dropped > 0 {
				c.logger.Debug("discarded malformed frames", slog.Int("count", dropped))
				if c.onMalformed != nil {
					c.onMalformed(dropped)
				}
			}
			for _, m := range msgs {
				c.received.Add(1)
				c.traceMessage(m)
				c.dispatch(m)
			}
		}
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			c.logger.Debug("rpc read loop stopped",
				slog.String("error", err.Error()),
				slog.Int("buffered", dec.Buffered()),
			)
			return
		}
	}
}

// dispatch offers m to every pending wait in registration order.
func (c *Client) dispatch(m *Message) {
	c.mu.Lock()
	var matched []*Wait
	kept := c.pending[:0]
	for _, w := range c.pending {
		if w.pred(m) {
			matched = append(matched, w)
		} else {
			kept = append(kept, w)
		}
	}
	for i := len(kept); i < len(c.pending); i++ {
		c.pending[i] = nil
	}
	c.pending = kept
	c.mu.Unlock()

	for _, w := range matched {
		w.finish(m, nil)
	}
}

// settle removes w if it is still pending and finishes it. Whoever removes
// the wait is the only one allowed to finish it.
func (c *Client) settle(w *Wait, m *Message, err error) {
	c.mu.Lock()
	idx := -1
	for i, p := range c.pending {
		if p == w {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	c.mu.Unlock()

	w.finish(m, err)
}

func (c *Client) traceFrame(dir string, body []byte) {
	if c.trace == nil {
		return
	}
	c.traceMu.Lock()
	defer c.traceMu.Unlock()
	_, _ = fmt.Fprintf(c.trace, "%s %s\n", dir, body)
}

func (c *Client) traceMessage(m *Message) {
	if c.trace == nil {
		return
	}
	c.traceFrame("<--", m.Raw)
}

// bodyOffset returns where the body of an encoded frame starts.
func bodyOffset(frame []byte) int {
	if i := bytes.Index(frame, headerTerminator); i >= 0 {
		return i + len(headerTerminator)
	}
	return 0
}

// =============================================================================
// WAIT
// =============================================================================

// Wait is one pending predicate with its own deadline.
//
// Thread Safety:
//
//	Safe for concurrent use. It settles exactly once.
type Wait struct {
	client  *Client
	pred    Predicate
	timeout time.Duration
	timer   *time.Timer

	done chan struct{}
	msg  *Message
	err  error
}

// Await blocks until the wait settles or ctx ends. Cancelling ctx settles
// this wait only.
func (w *Wait) Await(ctx context.Context) (*Message, error) {
	select {
	case <-w.done:
		return w.msg, w.err
	case <-ctx.Done():
		w.client.settle(w, nil, ctx.Err())
		<-w.done
		return w.msg, w.err
	}
}

// Done is closed when the wait has settled.
func (w *Wait) Done() <-chan struct{} {
	return w.done
}

// Cancel withdraws the wait. It reports ErrClosed to any Await.
func (w *Wait) Cancel() {
	w.client.settle(w, nil, ErrClosed)
}

// finish records the outcome. Only the goroutine that removed w from the
// pending set calls it.
func (w *Wait) finish(m *Message, err error) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.msg, w.err = m, err
	close(w.done)
}
