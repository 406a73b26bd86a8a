package session

import (
	"fmt"
	"time"

	"github.com/nabbar/muproxy/internal/lineconn"
	"github.com/nabbar/muproxy/internal/xatomic"
)

// Registry holds the bidirectional client<->backend mapping. It is used
// mainly by the engine dispatcher, which also answers the #? command; a
// config reload that changes the backend address runs a failover
// teardown over it from the reload goroutine. The underlying maps use
// xatomic, so the maps themselves tolerate that concurrent access; the
// Session values they hold are not synchronized.
type Registry struct {
	byClient  xatomic.Map[lineconn.ID, *Session]
	byBackend xatomic.Map[lineconn.ID, *Session]
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Create registers a brand new session for an accepted client socket.
func (r *Registry) Create(clientID lineconn.ID, remoteHost string, now time.Time) *Session {
	s := &Session{
		ClientID:   clientID,
		RemoteHost: remoteHost,
		CreatedAt:  now,
		State:      StateNew,
	}
	r.byClient.Store(clientID, s)
	return s
}

// AttachBackend pairs a newly opened backend socket with a session,
// maintaining the dual-index invariant the registry relies on.
func (r *Registry) AttachBackend(s *Session, backendID lineconn.ID) {
	s.HasBackend = true
	s.BackendID = backendID
	r.byBackend.Store(backendID, s)
}

// DetachBackend removes the backend side of the mapping without
// affecting the client side. The caller is responsible for closing the
// backend socket itself.
func (r *Registry) DetachBackend(s *Session) {
	if s.HasBackend {
		r.byBackend.Delete(s.BackendID)
	}
	s.HasBackend = false
	s.BackendID = 0
}

func (r *Registry) FindByClient(id lineconn.ID) (*Session, bool) {
	return r.byClient.Load(id)
}

func (r *Registry) FindByBackend(id lineconn.ID) (*Session, bool) {
	return r.byBackend.Load(id)
}

// Destroy removes every trace of a session from the registry. Closing
// the underlying sockets is the caller's job (the engine, which also
// owns the multiplexer); Destroy only drops registry and queue state.
func (r *Registry) Destroy(s *Session) {
	r.byClient.Delete(s.ClientID)
	if s.HasBackend {
		r.byBackend.Delete(s.BackendID)
	}
}

func (r *Registry) Range(f func(s *Session) bool) {
	r.byClient.Range(func(_ lineconn.ID, s *Session) bool {
		return f(s)
	})
}

func (r *Registry) Len() int {
	return r.byClient.Len()
}

// IntegrityErrors checks, for every session, that a held backend id maps
// back to that same session in the backend index. Used by the
// introspection surface and the dispatcher's periodic sweep to report
// "orphan backend" / "missing index entry" conditions.
func (r *Registry) IntegrityErrors() []string {
	var errs []string
	r.byClient.Range(func(_ lineconn.ID, s *Session) bool {
		if !s.HasBackend {
			return true
		}
		owner, ok := r.byBackend.Load(s.BackendID)
		if !ok {
			errs = append(errs, fmt.Sprintf("session client=%d: backend %d missing from backend index", s.ClientID, s.BackendID))
		} else if owner != s {
			errs = append(errs, fmt.Sprintf("session client=%d: backend %d points to a different session", s.ClientID, s.BackendID))
		}
		return true
	})
	r.byBackend.Range(func(id lineconn.ID, s *Session) bool {
		if !s.HasBackend || s.BackendID != id {
			errs = append(errs, fmt.Sprintf("backend index %d: orphaned, owner session does not reference it", id))
		}
		return true
	})
	return errs
}
