package engine

import (
	"fmt"
	"strings"

	"github.com/nabbar/muproxy/internal/lineconn"
	"github.com/nabbar/muproxy/internal/session"
)

// writeIntrospection renders the "#?" status dump: one line per tracked
// socket (listener, heartbeat, every client and its backend), each
// carrying role, id and a connected marker, plus the authenticated user
// or "unconnected" for session sockets ("-" for the listener and the
// heartbeat), followed by any registry integrity errors in a section of
// their own. It is written only to the requesting client, never
// broadcast or logged.
func (e *Engine) writeIntrospection(requester *session.Session) {
	var b strings.Builder

	b.WriteString("### session status ###\n")

	if c, ok := e.mux.Lookup(e.listenerID); ok {
		writeSocketLine(&b, c, "-")
	}
	if id, ok := e.hb.ConnID(); ok {
		if c, ok := e.mux.Lookup(id); ok {
			writeSocketLine(&b, c, "-")
		}
	}

	e.reg.Range(func(s *session.Session) bool {
		if c, ok := e.mux.Lookup(s.ClientID); ok {
			writeSocketLine(&b, c, userOrUnconnected(s))
		}
		if s.HasBackend {
			if c, ok := e.mux.Lookup(s.BackendID); ok {
				writeSocketLine(&b, c, userOrUnconnected(s))
			}
		}
		return true
	})

	if errs := e.reg.IntegrityErrors(); len(errs) > 0 {
		b.WriteString("### integrity errors ###\n")
		for _, msg := range errs {
			b.WriteString(msg)
			b.WriteString("\n")
		}
	}

	e.mux.WriteRaw(requester.ClientID, b.String())
}

func writeSocketLine(b *strings.Builder, c *lineconn.Conn, user string) {
	fmt.Fprintf(b, "%-10s id=%-6d connected=%s user=%s\n", c.Role.String(), c.ID, connectedMarker(c), user)
}

func connectedMarker(c *lineconn.Conn) string {
	if c.Raw == nil && c.Role != lineconn.RoleListener {
		return "no"
	}
	return "yes"
}

func userOrUnconnected(s *session.Session) string {
	if s.Authenticated() {
		return s.User
	}
	return "unconnected"
}
