package lineconn

import "net"

// Role identifies what a tracked socket is for, used by the introspection
// surface and by routing decisions in the dispatcher.
type Role int

const (
	RoleListener Role = iota
	RoleClient
	RoleWorld
	RoleHeartbeat
)

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RoleClient:
		return "client"
	case RoleWorld:
		return "world"
	case RoleHeartbeat:
		return "hb"
	default:
		return "unknown"
	}
}

// ID is a stable integer handle allocated at accept/dial time,
// independent of the underlying net.Conn or file descriptor, which may
// be closed and reused by the OS.
type ID uint64

// Conn pairs a role and id with the raw connection and its line framer.
// It is owned by exactly one session, the heartbeat controller, or the
// listener.
type Conn struct {
	ID     ID
	Role   Role
	Raw    net.Conn
	framer Framer
}

func (c *Conn) RemoteIP() string {
	if c.Raw == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(c.Raw.RemoteAddr().String())
	if err != nil {
		return c.Raw.RemoteAddr().String()
	}
	return host
}
