// Package session implements the client side of the strategy<->server
// connection (spec §4.1, §5): a single mutually-authenticated TLS stream
// carrying callback-style requests, one-way requests, and multiplexed
// broadcast streams. Reconnect uses bounded exponential backoff grounded on
// the same pattern as a gRPC client's ExecuteWithReconnect helper elsewhere
// in the retrieval pack: on reconnect the strategy reissues its live
// subscriptions; pending callbacks are failed, not retried (an
// application-level decision per spec §4.1).
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/wire"
)

// StreamHandler is invoked for every StreamData response delivered for a
// live subscription.
type StreamHandler func(sub domain.Subscription, rec domain.DataRecord)

// PushHandler is invoked for OrderEvent/PositionEvent responses, which are
// fanned out immediately and are not keyed to any callback (spec §4.6.2).
type PushHandler func(resp wire.Response)

// Config holds the parameters needed to dial and maintain a Session.
type Config struct {
	Addr          string
	TLS           *tls.Config
	Mode          wire.Mode
	DialTimeout   time.Duration
	CallTimeout   time.Duration // default per-callback deadline (spec §5: default 30s)
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	OnStream      StreamHandler
	OnOrderEvent  PushHandler
	OnPositionEvt PushHandler
	Logger        *slog.Logger
}

func (c *Config) setDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type pendingCallback struct {
	ch chan wire.Response
}

// Session is a long-lived, reconnecting client connection to the data
// server. One Session backs one strategy process.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	conn     net.Conn
	closed   bool
	pending  map[uint64]*pendingCallback
	liveSubs map[string]domain.Subscription // key -> sub, reissued on reconnect

	nextCallback atomic.Uint64
	writeMu      sync.Mutex

	readerDone chan struct{}
}

// Dial establishes the session: connects, performs the TLS handshake, and
// sends Register as the mandated first message (spec §6). Register failure
// closes the connection.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg.setDefaults()
	s := &Session{
		cfg:      cfg,
		logger:   cfg.Logger.With(slog.String("component", "session")),
		pending:  make(map[uint64]*pendingCallback),
		liveSubs: make(map[string]domain.Subscription),
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	raw, err := d.DialContext(dialCtx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("session: dial %s: %w", s.cfg.Addr, err)
	}

	var conn net.Conn = raw
	if s.cfg.TLS != nil {
		tlsConn := tls.Client(raw, s.cfg.TLS)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			_ = raw.Close()
			return fmt.Errorf("session: tls handshake: %w", err)
		}
		conn = tlsConn
	}

	if err := wire.WriteRequest(conn, wire.Request{Kind: wire.ReqRegister, Mode: s.cfg.Mode}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("session: register: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.closed = false
	s.mu.Unlock()

	s.readerDone = make(chan struct{})
	go s.readLoop(conn, s.readerDone)
	return nil
}

// Call sends a callback-style request and blocks until a matching Response
// arrives, ctx is cancelled, or the per-request deadline elapses (spec §4.1,
// §5: "Every callback owns a one-shot completion and a deadline").
func (s *Session) Call(ctx context.Context, req wire.Request) (wire.Response, error) {
	req.CallbackID = s.nextCallback.Add(1)
	ch := make(chan wire.Response, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wire.Response{}, domain.ErrSessionClosed
	}
	s.pending[req.CallbackID] = &pendingCallback{ch: ch}
	s.mu.Unlock()

	if err := s.send(req); err != nil {
		s.mu.Lock()
		delete(s.pending, req.CallbackID)
		s.mu.Unlock()
		return wire.Response{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		return resp, nil
	case <-callCtx.Done():
		s.mu.Lock()
		delete(s.pending, req.CallbackID)
		s.mu.Unlock()
		if ctx.Err() != nil {
			return wire.Response{}, ctx.Err()
		}
		return wire.Response{}, domain.ErrTimeout
	}
}

// Send issues a one-way request (no callback slot).
func (s *Session) Send(req wire.Request) error {
	return s.send(req)
}

func (s *Session) send(req wire.Request) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()
	if closed || conn == nil {
		return domain.ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteRequest(conn, req)
}

// TrackSubscribe remembers a live subscription so it is reissued after a
// reconnect. Backtest subscriptions should not be tracked (there is nothing
// to resubscribe to after a historical replay).
func (s *Session) TrackSubscribe(sub domain.Subscription, streamName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveSubs[sub.Key()+"|"+streamName] = sub
}

func (s *Session) TrackUnsubscribe(sub domain.Subscription, streamName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.liveSubs, sub.Key()+"|"+streamName)
}

func (s *Session) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	for {
		resp, err := wire.ReadResponse(conn)
		if err != nil {
			s.logger.Warn("session read failed, connection considered closed", slog.String("error", err.Error()))
			s.failAllPending()
			return
		}
		s.dispatch(resp)
	}
}

func (s *Session) dispatch(resp wire.Response) {
	switch resp.Kind {
	case wire.RespStreamData:
		if s.cfg.OnStream != nil && resp.StreamSubscription != nil && resp.StreamRecord != nil {
			s.cfg.OnStream(*resp.StreamSubscription, *resp.StreamRecord)
		}
		return
	case wire.RespOrderEvent:
		if s.cfg.OnOrderEvent != nil {
			s.cfg.OnOrderEvent(resp)
		}
		return
	case wire.RespPosEvent:
		if s.cfg.OnPositionEvt != nil {
			s.cfg.OnPositionEvt(resp)
		}
		return
	}

	s.mu.Lock()
	pc, ok := s.pending[resp.CallbackID]
	if ok {
		delete(s.pending, resp.CallbackID) // at-most-once: consumed on first response
	}
	s.mu.Unlock()
	if ok {
		pc.ch <- resp
	}
}

func (s *Session) failAllPending() {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = make(map[uint64]*pendingCallback)
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	for _, pc := range pending {
		pc.ch <- wire.Response{Kind: wire.RespError, Err: domain.NewError(domain.KindSessionClosed, "session closed")}
	}
}

// Run maintains the connection until ctx is cancelled, reconnecting with
// bounded exponential backoff whenever the reader loop exits. On each
// successful reconnect, every tracked live subscription is reissued.
func (s *Session) Run(ctx context.Context) error {
	delay := s.cfg.BackoffBase
	for {
		s.mu.Lock()
		done := s.readerDone
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("session disconnected, reconnecting", slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err := s.connect(ctx); err != nil {
			delay *= 2
			if delay > s.cfg.BackoffMax {
				delay = s.cfg.BackoffMax
			}
			continue
		}
		delay = s.cfg.BackoffBase
		s.resubscribeAll()
	}
}

func (s *Session) resubscribeAll() {
	s.mu.Lock()
	subs := make([]domain.Subscription, 0, len(s.liveSubs))
	for _, sub := range s.liveSubs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := s.Send(wire.Request{Kind: wire.ReqSubscribe, Subscription: &sub}); err != nil {
			s.logger.Error("resubscribe failed", slog.String("subscription", sub.String()), slog.String("error", err.Error()))
		}
	}
}

// Close shuts the session down; pending callbacks resolve with SessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
