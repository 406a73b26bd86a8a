package lineconn

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/nabbar/muproxy/internal/xatomic"
)

// EventKind distinguishes what happened on a tracked socket.
type EventKind int

const (
	EventLine EventKind = iota
	EventEOF
	EventAccept
)

// Event is one unit of socket readiness. Instead of the dispatcher
// calling a blocking select/poll itself, every tracked connection has
// its own reader goroutine blocked in Read, and readiness is reported by
// pushing an Event onto a single shared channel. The dispatcher is still
// the only goroutine that ever consumes that channel, so from the
// registry's point of view an Event is only ever observed and acted on
// by one goroutine at a time.
type Event struct {
	Kind EventKind
	Conn *Conn
	Line string
}

// Mux owns the accept loop and the per-connection reader goroutines that
// feed a single event channel. It does not itself hold session state;
// that is the registry's job.
type Mux struct {
	events chan Event
	conns  xatomic.Map[ID, *Conn]
	nextID uint64
	ln     net.Listener
}

func NewMux() *Mux {
	return &Mux{events: make(chan Event, 256)}
}

func (m *Mux) Events() <-chan Event { return m.events }

func (m *Mux) allocID() ID {
	return ID(atomic.AddUint64(&m.nextID, 1))
}

// Listen starts accepting connections on addr and reports each one as an
// EventAccept. The listener itself is tracked under its own ID so the
// introspection surface can report it.
func (m *Mux) Listen(addr string) (*Conn, error) {
	ln, err := listenConfig.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	m.ln = ln

	lc := &Conn{ID: m.allocID(), Role: RoleListener}
	m.conns.Store(lc.ID, lc)

	go m.acceptLoop(ln)
	return lc, nil
}

func (m *Mux) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		tuneConn(conn)
		c := &Conn{ID: m.allocID(), Role: RoleClient, Raw: conn}
		m.conns.Store(c.ID, c)
		m.events <- Event{Kind: EventAccept, Conn: c}
		go m.readLoop(c)
	}
}

// Dial opens a non-blocking-style outbound connection (bounded by a
// short timeout rather than blocking the dispatcher) and registers it
// under the given role.
func (m *Mux) Dial(addr string, role Role, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	tuneConn(conn)
	c := &Conn{ID: m.allocID(), Role: role, Raw: conn}
	m.conns.Store(c.ID, c)
	go m.readLoop(c)
	return c, nil
}

func (m *Mux) readLoop(c *Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := c.Raw.Read(buf)
		if n > 0 {
			for _, line := range c.framer.Feed(buf[:n]) {
				m.events <- Event{Kind: EventLine, Conn: c, Line: line}
			}
		}
		if err != nil {
			m.events <- Event{Kind: EventEOF, Conn: c}
			return
		}
	}
}

// Write appends a line terminator and writes to the connection. A write
// to an already-closed peer is silently dropped; the session state
// machine discovers the loss through that peer's own EventEOF instead.
func (m *Mux) Write(id ID, line string) {
	c, ok := m.conns.Load(id)
	if !ok || c.Raw == nil {
		return
	}
	_, _ = c.Raw.Write([]byte(line + "\n"))
}

// WriteRaw writes data verbatim, with no terminator appended, used for
// multi-line notices that already carry their own newlines.
func (m *Mux) WriteRaw(id ID, data string) {
	c, ok := m.conns.Load(id)
	if !ok || c.Raw == nil {
		return
	}
	_, _ = c.Raw.Write([]byte(data))
}

// Close removes the connection from the multiplexer and closes it. The
// removal happens first so a reused file descriptor cannot be mistaken
// for this connection's future readiness.
func (m *Mux) Close(id ID) {
	c, ok := m.conns.Load(id)
	if !ok {
		return
	}
	m.conns.Delete(id)
	if c.Raw != nil {
		_ = c.Raw.Close()
	}
}

func (m *Mux) CloseListener() {
	if m.ln != nil {
		_ = m.ln.Close()
	}
}

func (m *Mux) Lookup(id ID) (*Conn, bool) {
	return m.conns.Load(id)
}

// Poll waits up to timeout for the first event, then drains whatever
// else has already queued without waiting further, giving the dispatcher
// a batch of ready sockets for one loop iteration.
func (m *Mux) Poll(timeout time.Duration) []Event {
	var batch []Event

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-m.events:
		batch = append(batch, ev)
	case <-timer.C:
		return batch
	}

	for {
		select {
		case ev := <-m.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}
