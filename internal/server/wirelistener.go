// Package server's WireListener is the server-side counterpart to
// internal/session.Session: it accepts the stream a strategy process dials
// (TLS when Listen is given a tls.Config, plain TCP otherwise), reads the
// Register handshake, and then serves
// callback-style and one-way wire.Request frames via Dispatcher while fanning
// out live events (time slices, order/position updates) to every connected
// strategy as unsolicited wire.Response pushes (spec §4.1, §4.10, §5, §6).
//
// The fan-out follows liveproxy.Hub's broadcast-by-kind pattern rather than
// exact per-subscription filtering: eventbus.TimeSlice batches records
// without tagging which subscription produced each one, so a connection
// receives every time slice and filters client-side, same as the monitoring
// WebSocket clients do today.
package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"

	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/wire"
)

const wireClientSendBuffer = 256

// wireConn is one connected strategy process.
type wireConn struct {
	conn    net.Conn
	send    chan wire.Response
	writeMu sync.Mutex
}

func (c *wireConn) write(resp wire.Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteResponse(c.conn, resp)
}

// WireListener accepts strategy connections and serves them via a Dispatcher,
// mirroring the fan-out registration pattern of liveproxy.Hub but over raw
// wire frames instead of JSON/WebSocket.
type WireListener struct {
	dispatcher *Dispatcher
	logger     *slog.Logger

	events <-chan eventbus.Event

	mu      sync.RWMutex
	clients map[*wireConn]bool

	register   chan *wireConn
	unregister chan *wireConn
}

// NewWireListener creates a WireListener over the given Dispatcher. bus
// supplies the events fanned out to every connected client; it should be the
// same bus passed to NewDispatcher so the Dispatcher's own mutations are
// visible to connections other than the one that caused them.
func NewWireListener(dispatcher *Dispatcher, bus *eventbus.Bus, logger *slog.Logger) *WireListener {
	return &WireListener{
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "wirelistener")),
		events:     bus.Events(),
		clients:    make(map[*wireConn]bool),
		register:   make(chan *wireConn),
		unregister: make(chan *wireConn),
	}
}

// Listen accepts connections on addr until ctx is cancelled. If tlsConfig is
// non-nil, every accepted connection is upgraded to TLS before the Register
// handshake is read; whether the peer must present a client certificate is
// up to tlsConfig. With a nil tlsConfig connections are served as plain TCP.
func (l *WireListener) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go l.fanOut(ctx)

	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("wirelistener: accept failed", slog.String("error", err.Error()))
			continue
		}

		conn := raw
		if tlsConfig != nil {
			conn = tls.Server(raw, tlsConfig)
		}
		go l.handleConn(ctx, conn)
	}
}

func (l *WireListener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	first, err := wire.ReadRequest(conn)
	if err != nil {
		l.logger.Warn("wirelistener: handshake read failed", slog.String("error", err.Error()))
		return
	}
	if first.Kind != wire.ReqRegister {
		l.logger.Warn("wirelistener: first message was not register", slog.String("kind", string(first.Kind)))
		return
	}

	wc := &wireConn{conn: conn, send: make(chan wire.Response, wireClientSendBuffer)}
	l.register <- wc
	defer func() { l.unregister <- wc }()

	done := make(chan struct{})
	go l.writePump(wc, done)
	defer close(done)

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			return // EOF or frame error: connection considered closed, mirrors Session.readLoop
		}
		resp := l.dispatcher.Dispatch(ctx, req)
		if resp == nil {
			continue
		}
		select {
		case wc.send <- *resp:
		default:
			l.logger.Warn("wirelistener: dropping response for slow client", slog.String("kind", string(resp.Kind)))
		}
	}
}

func (l *WireListener) writePump(wc *wireConn, done <-chan struct{}) {
	for {
		select {
		case resp, ok := <-wc.send:
			if !ok {
				return
			}
			if err := wc.write(resp); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// fanOut reads events from the bus and pushes them to every connected
// client, translated into the wire.Response shapes a Session.dispatch
// recognizes as unsolicited pushes (RespStreamData/RespOrderEvent/
// RespPosEvent).
func (l *WireListener) fanOut(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			for c := range l.clients {
				close(c.send)
				delete(l.clients, c)
			}
			l.mu.Unlock()
			return

		case c := <-l.register:
			l.mu.Lock()
			l.clients[c] = true
			l.mu.Unlock()

		case c := <-l.unregister:
			l.mu.Lock()
			if _, ok := l.clients[c]; ok {
				delete(l.clients, c)
				close(c.send)
			}
			l.mu.Unlock()

		case ev, ok := <-l.events:
			if !ok {
				return
			}
			l.broadcast(ev)
		}
	}
}

func (l *WireListener) broadcast(ev eventbus.Event) {
	resps := pushResponsesFor(ev)
	if len(resps) == 0 {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for c := range l.clients {
		for _, resp := range resps {
			select {
			case c.send <- resp:
			default:
				l.logger.Warn("wirelistener: dropping push for slow client", slog.String("kind", string(ev.Kind)))
			}
		}
	}
}

// pushResponsesFor translates a bus event into the unsolicited wire.Response
// frames a Session.dispatch expects, one per record for a time slice batch.
// Event kinds with no wire-push representation (indicator/timer/subscription
// lifecycle events, which only ever exist for the in-process strategy
// façade) return nil.
func pushResponsesFor(ev eventbus.Event) []wire.Response {
	switch ev.Kind {
	case eventbus.KindTimeSlice:
		if ev.TimeSlice == nil {
			return nil
		}
		resps := make([]wire.Response, 0, len(ev.TimeSlice.Records))
		for i := range ev.TimeSlice.Records {
			rec := ev.TimeSlice.Records[i]
			resps = append(resps, wire.Response{Kind: wire.RespStreamData, StreamRecord: &rec})
		}
		return resps
	case eventbus.KindOrder:
		if ev.Order == nil {
			return nil
		}
		return []wire.Response{{Kind: wire.RespOrderEvent, OrderEvt: ev.Order}}
	case eventbus.KindPosition:
		if ev.Position == nil {
			return nil
		}
		return []wire.Response{{Kind: wire.RespPosEvent, PosEvt: ev.Position}}
	default:
		return nil
	}
}
