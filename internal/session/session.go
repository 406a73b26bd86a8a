// Package session holds the Session struct, its lifecycle states, and
// the dual-indexed registry that maps client and backend sockets to
// their owning session. The package is deliberately free of any
// heartbeat or dispatcher behavior; it is acted on by the engine
// package, which is the only place that advances a session through its
// state machine.
package session

import (
	"time"

	"github.com/nabbar/muproxy/internal/lineconn"
	"github.com/nabbar/muproxy/internal/queue"
)

// State is one of a session's four lifecycle states.
type State int

const (
	StateNew State = iota
	StateProxying
	StateBackendLost
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateProxying:
		return "proxying"
	case StateBackendLost:
		return "backend_lost"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Session is one accepted client connection, paired with at most one
// backend connection at a time.
type Session struct {
	ClientID lineconn.ID

	HasBackend bool
	BackendID  lineconn.ID

	User     string
	Password string

	CreatedAt time.Time

	// DisconnectAt is set the instant the backend socket drops
	// unexpectedly and cleared on reconnect, on confirmed-intentional
	// disconnect, or when a failover teardown commits to treating the
	// outage as real.
	DisconnectAt time.Time

	ReconnectPending bool
	WasOffline       bool

	// OfflineNotified tracks whether this session has already received
	// its offline notice for the current outage, independent of
	// ReconnectPending (which only tracks "backend currently absent").
	// Reset to false once the session returns to PROXYING.
	OfflineNotified bool

	RemoteHost string

	State State
	Queue queue.Queue
}

func (s *Session) HasDisconnectMark() bool {
	return !s.DisconnectAt.IsZero()
}

func (s *Session) SetDisconnectMark(t time.Time) {
	s.DisconnectAt = t
}

func (s *Session) ClearDisconnectMark() {
	s.DisconnectAt = time.Time{}
}

func (s *Session) Authenticated() bool {
	return s.User != ""
}
